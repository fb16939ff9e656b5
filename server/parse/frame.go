package parse

import (
	"bytes"
	"strings"
)

const (
	StartMarker = "---start---"
	DoneMarker  = "---done---"

	maxFrameSize = 1 << 20
)

// FrameBuffer collects chunks of a status stream and cuts them into frame
// bodies delimited by StartMarker and DoneMarker lines. Anything outside a
// frame is discarded. It is not safe for concurrent use.
type FrameBuffer struct {
	partial []byte
	inFrame bool
	body    bytes.Buffer
	frames  [][]byte
}

func (b *FrameBuffer) Write(p []byte) (int, error) {
	b.partial = append(b.partial, p...)
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		b.line(string(b.partial[:i]))
		b.partial = b.partial[i+1:]
	}
	// The done marker is commonly the last thing written, with no newline.
	if b.inFrame && strings.TrimRight(string(b.partial), "\r") == DoneMarker {
		b.line(DoneMarker)
		b.partial = b.partial[:0]
	}
	if len(b.partial) > maxFrameSize {
		b.partial = b.partial[:0]
		b.reset()
	}
	return len(p), nil
}

func (b *FrameBuffer) line(l string) {
	l = strings.TrimRight(l, "\r")
	switch {
	case l == StartMarker:
		b.reset()
		b.inFrame = true
	case !b.inFrame:
	case l == DoneMarker:
		body := make([]byte, b.body.Len())
		copy(body, b.body.Bytes())
		b.frames = append(b.frames, body)
		b.reset()
	default:
		if b.body.Len()+len(l) > maxFrameSize {
			b.reset()
			return
		}
		b.body.WriteString(l)
		b.body.WriteByte('\n')
	}
}

func (b *FrameBuffer) reset() {
	b.inFrame = false
	b.body.Reset()
}

// Frames drains the frames completed so far, oldest first.
func (b *FrameBuffer) Frames() [][]byte {
	f := b.frames
	b.frames = nil
	return f
}

// SplitFrames returns the complete frame bodies found in data.
func SplitFrames(data []byte) [][]byte {
	var b FrameBuffer
	_, _ = b.Write(data)
	return b.Frames()
}

// lines returns the trimmed, non-blank lines of a frame body with invalid
// UTF-8 replaced.
func lines(body []byte) []string {
	s := strings.ToValidUTF8(string(body), "�")
	var ret []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		ret = append(ret, l)
	}
	return ret
}

// fields splits a status line into its verb, positional arguments and
// key=value pairs.
func fields(l string) (verb string, args []string, kv map[string]string) {
	parts := strings.Fields(l)
	if len(parts) == 0 {
		return "", nil, nil
	}
	kv = make(map[string]string)
	for _, p := range parts[1:] {
		if k, v, ok := strings.Cut(p, "="); ok {
			kv[k] = v
			continue
		}
		args = append(args, p)
	}
	return parts[0], args, kv
}
