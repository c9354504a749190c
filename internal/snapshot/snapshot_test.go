package snapshot

import (
	"bytes"
	"testing"

	"github.com/mnorrsken/redigo/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	s := storage.New(nil, nil)
	_, err := s.Set("str", []byte("hello"), storage.SetOpts{})
	require.NoError(t, err)
	_, err = s.RPush("list", []byte("a"), []byte("b"))
	require.NoError(t, err)
	_, err = s.ZAdd("zset", map[string]float64{"m1": 1.5})
	require.NoError(t, err)
	_, err = s.XAdd("stream", nil, false, []string{"f", "v"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s))

	loaded := storage.New(nil, nil)
	require.NoError(t, Load(&buf, loaded))

	val, ok, err := loaded.Get("str")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), val)

	items, err := loaded.LRange("list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, items)

	score, ok, err := loaded.ZScore("zset", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.5, score)

	n, err := loaded.XLen("stream")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSaveLoadFileMissingIsEmpty(t *testing.T) {
	s := storage.New(nil, nil)
	err := LoadFile("/nonexistent/path/dump.rgo", s)
	assert.NoError(t, err)
	assert.False(t, s.Exists("anything"))
}
