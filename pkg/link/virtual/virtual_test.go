package virtual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/basebridge/basebridge/pkg/link"
)

func TestOpenRejectsWhenClosed(t *testing.T) {
	p := New()
	assert.NoError(t, p.Close())
	assert.Error(t, p.Open("/dev/null", 9600))
}

func TestWriteRecordsBuffers(t *testing.T) {
	p := New()
	assert.NoError(t, p.Open("/dev/null", 9600))

	_, err := p.Write([]byte{0x01, 0x02})
	assert.NoError(t, err)
	_, err = p.Write([]byte{0x03})
	assert.NoError(t, err)

	assert.Equal(t, [][]byte{{0x01, 0x02}, {0x03}}, p.Writes())
}

func TestScriptReplyDrainsAcrossReadExactCalls(t *testing.T) {
	p := New()
	assert.NoError(t, p.Open("/dev/null", 9600))
	p.ScriptReply([]byte{0xAA, 0xBB, 0xCC, 0xDD})

	first, err := p.ReadExact(2, link.TIMEOUT)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, first)

	second, err := p.ReadExact(2, link.TIMEOUT)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xCC, 0xDD}, second)
}

func TestReadExactReturnsPartialOnTimeout(t *testing.T) {
	p := New()
	assert.NoError(t, p.Open("/dev/null", 9600))
	p.ScriptReply([]byte{0xAA})

	buf, err := p.ReadExact(4, 5*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, buf)
}

func TestWaitAckConsumesAckByte(t *testing.T) {
	p := New()
	assert.NoError(t, p.Open("/dev/null", 9600))
	p.ScriptReply([]byte{0x06})

	assert.NoError(t, p.WaitAck(link.TIMEOUT))
}

func TestRegisteredUnderVirtualName(t *testing.T) {
	p, err := link.Open("virtual", "/dev/null", 9600)
	assert.NoError(t, err)
	assert.NotNil(t, p)
}
