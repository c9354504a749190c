package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 { return c.ms }

func TestSetGetAndExpiry(t *testing.T) {
	clk := &fakeClock{ms: 1000}
	s := New(clk, nil)

	ok, err := s.Set("k", []byte("v"), SetOpts{})
	require.NoError(t, err)
	assert.True(t, ok)

	val, exists, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []byte("v"), val)

	ok, err = s.Set("k2", []byte("v2"), SetOpts{ExpireAtMs: 1500})
	require.NoError(t, err)
	assert.True(t, ok)

	clk.ms = 2000
	_, exists, err = s.Get("k2")
	require.NoError(t, err)
	assert.False(t, exists, "key should have lazily expired")
}

func TestWrongType(t *testing.T) {
	s := New(nil, nil)
	_, err := s.LPush("k", []byte("a"))
	require.NoError(t, err)
	_, _, err = s.Get("k")
	assert.ErrorAs(t, err, &WrongTypeError{})
}

func TestListPushPopOrder(t *testing.T) {
	s := New(nil, nil)
	_, err := s.RPush("l", []byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, err)
	vals, err := s.LRange("l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, vals)

	popped, err := s.LPop("l", 1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, popped)
}

func TestZSetRankOrdering(t *testing.T) {
	s := New(nil, nil)
	_, err := s.ZAdd("z", map[string]float64{"a": 3, "b": 1, "c": 2})
	require.NoError(t, err)

	rank, ok, err := s.ZRank("z", "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), rank)

	members, err := s.ZRangeByIndex("z", 0, -1, true)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "b", members[0].Member)
	assert.Equal(t, "c", members[1].Member)
	assert.Equal(t, "a", members[2].Member)
}

func TestStreamMonotonicIDs(t *testing.T) {
	clk := &fakeClock{ms: 5000}
	s := New(clk, nil)

	id1, err := s.XAdd("s", nil, false, []string{"field", "1"})
	require.NoError(t, err)
	id2, err := s.XAdd("s", nil, false, []string{"field", "2"})
	require.NoError(t, err)

	assert.True(t, id1.Less(id2))
	assert.Equal(t, id1.Ms, id2.Ms)
	assert.Equal(t, id1.Seq+1, id2.Seq)

	explicit := StreamID{Ms: 6000, Seq: 0}
	id3, err := s.XAdd("s", &explicit, false, []string{"field", "3"})
	require.NoError(t, err)
	assert.Equal(t, explicit, id3)

	_, err = s.XAdd("s", &explicit, false, []string{"field", "4"})
	assert.ErrorIs(t, err, ErrStreamIDTooSmall)
}

func TestStreamZeroIDRejected(t *testing.T) {
	s := New(nil, nil)
	zero := StreamID{Ms: 0, Seq: 0}
	_, err := s.XAdd("s", &zero, false, []string{"field", "1"})
	assert.ErrorIs(t, err, ErrStreamIDZero)
}

func TestKeysGlob(t *testing.T) {
	s := New(nil, nil)
	s.LoadEntry("foo", &Entry{Kind: KindString, Str: []byte("1")})
	s.LoadEntry("foobar", &Entry{Kind: KindString, Str: []byte("1")})
	s.LoadEntry("bar", &Entry{Kind: KindString, Str: []byte("1")})

	matches := s.Keys("foo*")
	assert.ElementsMatch(t, []string{"foo", "foobar"}, matches)

	matches = s.Keys("[fb]ar")
	assert.ElementsMatch(t, []string{"bar"}, matches)
}
