package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mnorrsken/redigo/internal/blocking"
	"github.com/mnorrsken/redigo/internal/config"
	"github.com/mnorrsken/redigo/internal/conn"
	"github.com/mnorrsken/redigo/internal/pubsub"
	"github.com/mnorrsken/redigo/internal/replication"
	"github.com/mnorrsken/redigo/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Dispatcher, *conn.State) {
	blockers := blocking.New()
	store := storage.New(nil, blockers)
	server, _ := net.Pipe()
	cs := conn.New(server)
	return &Dispatcher{
		Store:     store,
		Hub:       pubsub.NewHub(),
		Blockers:  blockers,
		StartedAt: time.Now(),
	}, cs
}

func TestSetGetViaDispatcher(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	res := d.Execute(ctx, cs, []string{"SET", "k", "v"})
	assert.Equal(t, "OK", res.Reply.Str)

	res = d.Execute(ctx, cs, []string{"GET", "k"})
	assert.Equal(t, []byte("v"), res.Reply.Bulk)
}

func TestWrongTypeReply(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	d.Execute(ctx, cs, []string{"LPUSH", "l", "a"})
	res := d.Execute(ctx, cs, []string{"GET", "l"})
	assert.Contains(t, res.Reply.Str, "WRONGTYPE")
}

func TestMultiExecQueueing(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	res := d.Execute(ctx, cs, []string{"MULTI"})
	require.Equal(t, "OK", res.Reply.Str)
	assert.True(t, cs.InTransaction())

	cs.QueueCommand([]string{"SET", "a", "1"})
	cs.QueueCommand([]string{"INCR", "a"})
	queued := cs.EndTransaction()
	require.Len(t, queued, 2)

	for _, argv := range queued {
		d.Execute(ctx, cs, argv)
	}
	res = d.Execute(ctx, cs, []string{"GET", "a"})
	assert.Equal(t, []byte("2"), res.Reply.Bulk)
}

func TestExecuteBatchRunsQueueAtomically(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	results := d.ExecuteBatch(ctx, cs, [][]string{
		{"SET", "a", "1"},
		{"INCR", "a"},
		{"GET", "a"},
	})
	require.Len(t, results, 3)
	assert.Equal(t, "OK", results[0].Reply.Str)
	assert.Equal(t, int64(2), results[1].Reply.Num)
	assert.Equal(t, []byte("2"), results[2].Reply.Bulk)
}

func TestExecuteBatchDoesNotBlock(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	done := make(chan []Result, 1)
	go func() {
		done <- d.ExecuteBatch(ctx, cs, [][]string{{"BLPOP", "nokey", "0"}})
	}()

	select {
	case results := <-done:
		require.Len(t, results, 1)
		assert.True(t, results[0].Reply.Null)
	case <-time.After(time.Second):
		t.Fatal("BLPOP inside a batch blocked instead of returning immediately")
	}
}

func TestBLPOPUnblocksOnPush(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	done := make(chan Result, 1)
	go func() {
		done <- d.Execute(ctx, cs, []string{"BLPOP", "q", "5"})
	}()

	time.Sleep(20 * time.Millisecond)
	server2, _ := net.Pipe()
	cs2 := conn.New(server2)
	d.Execute(ctx, cs2, []string{"RPUSH", "q", "hello"})

	select {
	case res := <-done:
		require.Len(t, res.Reply.Array, 2)
		assert.Equal(t, []byte("q"), res.Reply.Array[0].Bulk)
		assert.Equal(t, []byte("hello"), res.Reply.Array[1].Bulk)
	case <-time.After(2 * time.Second):
		t.Fatal("BLPOP did not unblock")
	}
}

func TestBLPOPTimesOut(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	start := time.Now()
	res := d.Execute(ctx, cs, []string{"BLPOP", "nokey", "0.1"})
	assert.True(t, res.Reply.Null)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGeoAddAndDist(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	d.Execute(ctx, cs, []string{"GEOADD", "pts", "13.361389", "38.115556", "Palermo"})
	d.Execute(ctx, cs, []string{"GEOADD", "pts", "15.087269", "37.502669", "Catania"})

	res := d.Execute(ctx, cs, []string{"GEODIST", "pts", "Palermo", "Catania", "km"})
	require.NotNil(t, res.Reply.Bulk)
}

func TestGeoSearchByRadius(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	d.Execute(ctx, cs, []string{"GEOADD", "pts", "13.361389", "38.115556", "Palermo"})
	d.Execute(ctx, cs, []string{"GEOADD", "pts", "15.087269", "37.502669", "Catania"})
	d.Execute(ctx, cs, []string{"GEOADD", "pts", "2.349014", "48.864716", "Paris"})

	res := d.Execute(ctx, cs, []string{"GEOSEARCH", "pts", "FROMLONLAT", "15", "37", "BYRADIUS", "200", "km"})
	require.Len(t, res.Reply.Array, 2)
	assert.Equal(t, []byte("Catania"), res.Reply.Array[0].Bulk)
	assert.Equal(t, []byte("Palermo"), res.Reply.Array[1].Bulk)
}

func TestConfigGetReturnsRealValues(t *testing.T) {
	d, cs := newTestDispatcher()
	d.Config = &config.Config{Dir: "/var/lib/redigo", DBFilename: "dump.rgo"}
	ctx := context.Background()

	res := d.Execute(ctx, cs, []string{"CONFIG", "GET", "dir"})
	require.Len(t, res.Reply.Array, 2)
	assert.Equal(t, []byte("dir"), res.Reply.Array[0].Bulk)
	assert.Equal(t, []byte("/var/lib/redigo"), res.Reply.Array[1].Bulk)

	res = d.Execute(ctx, cs, []string{"CONFIG", "GET", "*"})
	assert.Len(t, res.Reply.Array, 4)
}

func TestInfoReportsPrimaryReplicationFields(t *testing.T) {
	d, cs := newTestDispatcher()
	d.Primary = replication.NewPrimary()
	ctx := context.Background()

	res := d.Execute(ctx, cs, []string{"INFO"})
	info := string(res.Reply.Bulk)
	assert.Contains(t, info, "role:master")
	assert.Contains(t, info, "connected_slaves:0")
	assert.Contains(t, info, "master_replid:"+d.Primary.ReplID)
}

func TestXAddAndXRange(t *testing.T) {
	d, cs := newTestDispatcher()
	ctx := context.Background()

	res := d.Execute(ctx, cs, []string{"XADD", "s", "*", "field", "1"})
	require.NotEmpty(t, res.Reply.Bulk)

	res = d.Execute(ctx, cs, []string{"XRANGE", "s", "-", "+"})
	require.Len(t, res.Reply.Array, 1)
}
