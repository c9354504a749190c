package aof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "appendonly.aof", SyncAlways)
	require.NoError(t, err)

	require.NoError(t, w.Append([]string{"SET", "a", "1"}))
	require.NoError(t, w.Append([]string{"SET", "b", "2"}))
	require.NoError(t, w.Close())

	var got [][]string
	err = Replay(filepath.Join(dir, "appendonly.aof"), func(argv []string) error {
		got = append(got, argv)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"SET", "a", "1"}, {"SET", "b", "2"}}, got)
}

func TestReplayMissingFileIsNoop(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "missing.aof"), func(argv []string) error {
		t.Fatal("should not be called")
		return nil
	})
	assert.NoError(t, err)
}

func TestReplayStopsAtCorruptTailWithoutTruncating(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appendonly.aof")
	require.NoError(t, os.WriteFile(path, []byte("*2\r\n$3\r\nSET\r\n$1\r\na\r\n*2\r\n$3\r\nGA"), 0o644))

	var got [][]string
	err := Replay(path, func(argv []string) error {
		got = append(got, argv)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"SET", "a"}}, got, "the complete leading frame replays before the corrupt tail halts")

	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.NotZero(t, info.Size(), "corrupt file must be left untouched, not truncated")
}

func TestParseSyncPolicy(t *testing.T) {
	p, err := ParseSyncPolicy("everysec")
	require.NoError(t, err)
	assert.Equal(t, SyncEverySec, p)

	_, err = ParseSyncPolicy("bogus")
	assert.Error(t, err)
}
