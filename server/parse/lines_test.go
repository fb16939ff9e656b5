package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBuffer(t *testing.T) {
	var b LineBuffer
	assert.Empty(t, b.Write([]byte("change r0/0 cs:Conn")))
	assert.Equal(t, []string{"change r0/0 cs:Connected"}, b.Write([]byte("ected\r\n")))
	assert.Equal(t, []string{"nm", "", "destroy r1/0"}, b.Write([]byte("nm\n\ndestroy r1/0\n")))

	assert.Empty(t, b.Write(bytes.Repeat([]byte("x"), maxFrameSize+1)))
	assert.Equal(t, []string{"next"}, b.Write([]byte("next\n")))
}
