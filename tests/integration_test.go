// Package integration_test drives a real redigod listener with
// go-redis, exercising the wire protocol end to end instead of calling
// dispatcher methods directly. Grounded on the teacher's
// tests/integration_test.go shape (spin up a real server.Server on an
// ephemeral port, drive it with the client library the rest of the
// pack standardizes on).
package integration_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mnorrsken/redigo/internal/blocking"
	"github.com/mnorrsken/redigo/internal/dispatch"
	"github.com/mnorrsken/redigo/internal/logging"
	"github.com/mnorrsken/redigo/internal/pubsub"
	"github.com/mnorrsken/redigo/internal/server"
	"github.com/mnorrsken/redigo/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*server.Server, *redis.Client) {
	t.Helper()
	blockers := blocking.New()
	store := storage.New(nil, blockers)
	d := &dispatch.Dispatcher{
		Store:     store,
		Hub:       pubsub.NewHub(),
		Blockers:  blockers,
		StartedAt: time.Now(),
	}
	srv := server.New("127.0.0.1:0", d, nil, logging.New(slog.LevelError))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr().String()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestStringCommands(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0).Err())
	got, err := c.Get(ctx, "k").Result()
	require.NoError(t, err)
	require.Equal(t, "v", got)

	n, err := c.Incr(ctx, "counter").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = c.Get(ctx, "missing").Result()
	require.ErrorIs(t, err, redis.Nil)
}

func TestWrongType(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.RPush(ctx, "alist", "a", "b").Err())
	err := c.Get(ctx, "alist").Err()
	require.Error(t, err)
	require.Contains(t, err.Error(), "WRONGTYPE")
}

func TestListAndExpire(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.RPush(ctx, "l", "one", "two", "three").Err())
	vals, err := c.LRange(ctx, "l", 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, vals)

	require.NoError(t, c.Expire(ctx, "l", time.Minute).Err())
	ttl, err := c.TTL(ctx, "l").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestSortedSet(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "z",
		redis.Z{Score: 1, Member: "a"},
		redis.Z{Score: 2, Member: "b"},
	).Err())

	members, err := c.ZRange(ctx, "z", 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, members)
}

func TestTransaction(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	pipe := c.TxPipeline()
	pipe.Set(ctx, "a", "1", 0)
	pipe.Incr(ctx, "a")
	_, err := pipe.Exec(ctx)
	require.NoError(t, err)

	got, err := c.Get(ctx, "a").Result()
	require.NoError(t, err)
	require.Equal(t, "2", got)
}

func TestBLPopUnblocksOnPush(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	type result struct {
		vals []string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		vals, err := c.BLPop(ctx, 2*time.Second, "bk").Result()
		done <- result{vals, err}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.RPush(ctx, "bk", "woke").Err())

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Equal(t, []string{"bk", "woke"}, res.vals)
	case <-time.After(3 * time.Second):
		t.Fatal("BLPOP did not unblock")
	}
}

func TestBLPopTimesOut(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	start := time.Now()
	_, err := c.BLPop(ctx, 200*time.Millisecond, "never").Result()
	require.ErrorIs(t, err, redis.Nil)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestGeo(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.GeoAdd(ctx, "geo",
		&redis.GeoLocation{Name: "palermo", Longitude: 13.361389, Latitude: 38.115556},
		&redis.GeoLocation{Name: "catania", Longitude: 15.087269, Latitude: 37.502669},
	).Err())

	dist, err := c.GeoDist(ctx, "geo", "palermo", "catania", "km").Result()
	require.NoError(t, err)
	require.InDelta(t, 166.2, dist, 1.0)
}

func TestStream(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	id, err := c.XAdd(ctx, &redis.XAddArgs{
		Stream: "s",
		ID:     "*",
		Values: map[string]interface{}{"field": "value"},
	}).Result()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := c.XRange(ctx, "s", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "value", entries[0].Values["field"])
}

func TestPubSub(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	sub := c.Subscribe(ctx, "news")
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscribe confirmation
	require.NoError(t, err)

	n, err := c.Publish(ctx, "news", "hello").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Payload)
	require.Equal(t, "news", msg.Channel)
}

func TestDelExistsType(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "x", "1", 0).Err())
	n, err := c.Exists(ctx, "x", "nope").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	typ, err := c.Type(ctx, "x").Result()
	require.NoError(t, err)
	require.Equal(t, "string", typ)

	deleted, err := c.Del(ctx, "x").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
