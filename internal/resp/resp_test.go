package resp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCommand(t *testing.T) {
	raw := "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"
	r := NewReader(bytes.NewBufferString(raw))
	argv, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "foo"}, argv)
}

func TestReadCommandRejectsInline(t *testing.T) {
	r := NewReader(bytes.NewBufferString("PING\r\n"))
	_, err := r.ReadCommand()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestWriteValueRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteValue(Arr(BulkStr("a"), Int(1), NullBulk())))
	require.NoError(t, w.Flush())
	assert.Equal(t, "*3\r\n$1\r\na\r\n:1\r\n$-1\r\n", buf.String())
}

func TestEncodeCommandLength(t *testing.T) {
	argv := []string{"SET", "k", "v"}
	enc := EncodeCommand(argv)
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", string(enc))
}

func TestRawPayloadFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payload := []byte("REDIS0011snapshot-bytes")
	require.NoError(t, w.WriteRawPayload(payload))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	got, err := r.ReadRawPayload()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
