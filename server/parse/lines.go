package parse

import (
	"bytes"
	"strings"
)

// LineBuffer cuts a byte stream into lines. It keeps an unterminated tail
// until the next write and drops a tail that outgrows maxFrameSize. It is
// not safe for concurrent use.
type LineBuffer struct {
	partial []byte
}

// Write returns the lines completed by p, without line endings.
func (b *LineBuffer) Write(p []byte) []string {
	b.partial = append(b.partial, p...)
	var ret []string
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		ret = append(ret, strings.TrimRight(string(b.partial[:i]), "\r"))
		b.partial = b.partial[i+1:]
	}
	if len(b.partial) > maxFrameSize {
		b.partial = nil
	}
	return ret
}
