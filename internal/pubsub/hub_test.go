package pubsub

import (
	"testing"

	"github.com/mnorrsken/redigo/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id  uint64
	got []resp.Value
}

func (f *fakeSub) SendPush(v resp.Value) error {
	f.got = append(f.got, v)
	return nil
}
func (f *fakeSub) ID() uint64 { return f.id }

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	s := &fakeSub{id: 1}
	h.Subscribe(s, "news")

	n := h.Publish("news", "hello")
	assert.Equal(t, int64(1), n)
	require.Len(t, s.got, 1)
	assert.Equal(t, resp.BulkStr("hello"), s.got[0].Array[2])
}

func TestPublishDeliversToPatternSubscriber(t *testing.T) {
	h := NewHub()
	s := &fakeSub{id: 2}
	h.PSubscribe(s, "news.*")

	n := h.Publish("news.sports", "goal")
	assert.Equal(t, int64(1), n)
	require.Len(t, s.got, 1)
	assert.Equal(t, []byte("pmessage"), s.got[0].Array[0].Bulk)
}

func TestRemoveSubscriberDropsAll(t *testing.T) {
	h := NewHub()
	s := &fakeSub{id: 3}
	h.Subscribe(s, "a")
	h.PSubscribe(s, "b*")
	h.RemoveSubscriber(s)

	assert.Equal(t, int64(0), h.ChannelSubscriberCount("a"))
	assert.Equal(t, int64(0), h.Publish("a", "x"))
	assert.Equal(t, int64(0), h.Publish("bcd", "y"))
}
