// Package conn holds per-connection state: identity, transaction queue,
// pub/sub mode, and replication role. Grounded on the teacher's
// internal/server.ClientState, extended with the subscription and
// replica-sink fields this spec needs.
package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mnorrsken/redigo/internal/resp"
)

var idCounter uint64

// Role distinguishes an ordinary client connection from one that has
// become a replica sink via PSYNC.
type Role int

const (
	RoleClient Role = iota
	RoleReplica
)

type State struct {
	id        uint64
	Conn      net.Conn
	CreatedAt time.Time

	mu            sync.Mutex
	name          string
	role          Role
	inTransaction bool
	txnError      bool
	queued        [][]string
	channels      map[string]bool
	patterns      map[string]bool

	// writeMu guards writer, the one resp.Writer for this socket. Every
	// outbound frame — command replies and out-of-band pub/sub pushes
	// alike — goes through it, so a PUBLISH delivered mid-reply can't
	// interleave bytes with the reply's own frame. Separate from mu so
	// holding it across a write never nests with the state-field lock.
	writeMu sync.Mutex
	writer  *resp.Writer

	// AckOffset is not updated by the PSYNC loop: the acknowledged offset
	// the primary's WAIT implementation reads is replication.ReplicaLink's
	// AckOffset.
	AckOffset int64
}

func New(c net.Conn) *State {
	return &State{
		id:        atomic.AddUint64(&idCounter, 1),
		Conn:      c,
		CreatedAt: time.Now(),
		channels:  make(map[string]bool),
		patterns:  make(map[string]bool),
		writer:    resp.NewWriter(c),
	}
}

func (s *State) ID() uint64 { return s.id }

// SendPush writes an out-of-band value (pub/sub message) directly to the
// connection, used by pubsub.Hub. It shares writeMu with WriteValue/Flush/WriteLocked
// so it can never land in the middle of this connection's own reply.
func (s *State) SendPush(v resp.Value) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.writer.WriteValue(v); err != nil {
		return err
	}
	return s.writer.Flush()
}

// WriteValue and Flush let the connection loop write its own replies
// through the same serialized writer SendPush uses.
func (s *State) WriteValue(v resp.Value) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writer.WriteValue(v)
}

func (s *State) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writer.Flush()
}

// WriteLocked runs fn with exclusive access to this connection's writer,
// for call sites that need to write several frames (or write then flush)
// as one atomic span instead of taking writeMu per call.
func (s *State) WriteLocked(fn func(w *resp.Writer) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(s.writer)
}

// RawWriter returns the connection's writer without taking writeMu, for
// PSYNC's replica-sink handoff: once attached, only the primary's
// propagation goroutine writes to this connection (serialized by
// replication.ReplicaLink's own lock), and this connection's read loop
// never writes again.
func (s *State) RawWriter() *resp.Writer { return s.writer }

func (s *State) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *State) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *State) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *State) SetRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

func (s *State) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction
}

func (s *State) StartTransaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTransaction = true
	s.txnError = false
	s.queued = nil
}

// QueueCommand appends argv to the pending MULTI batch.
func (s *State) QueueCommand(argv []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, argv)
}

// MarkTxnError records that a queued command failed arity/parse checks,
// which makes EXEC fail the whole batch without running any of it.
func (s *State) MarkTxnError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txnError = true
}

func (s *State) TxnHasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txnError
}

// EndTransaction clears MULTI state and returns the queued batch.
func (s *State) EndTransaction() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queued
	s.inTransaction = false
	s.txnError = false
	s.queued = nil
	return q
}

func (s *State) Subscribe(channel string)   { s.mu.Lock(); s.channels[channel] = true; s.mu.Unlock() }
func (s *State) Unsubscribe(channel string) { s.mu.Lock(); delete(s.channels, channel); s.mu.Unlock() }
func (s *State) PSubscribe(pattern string)  { s.mu.Lock(); s.patterns[pattern] = true; s.mu.Unlock() }
func (s *State) PUnsubscribe(pattern string) {
	s.mu.Lock()
	delete(s.patterns, pattern)
	s.mu.Unlock()
}

// InSubscribeMode reports whether this connection holds any channel or
// pattern subscription, which gates which commands it may run next.
func (s *State) InSubscribeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels) > 0 || len(s.patterns) > 0
}

// Channels returns a snapshot of this connection's subscribed channel
// names, used by UNSUBSCRIBE with no arguments (unsubscribe from all).
func (s *State) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// Patterns returns a snapshot of this connection's subscribed pattern
// names, used by PUNSUBSCRIBE with no arguments (unsubscribe from all).
func (s *State) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.patterns))
	for p := range s.patterns {
		out = append(out, p)
	}
	return out
}

func (s *State) SubscriptionCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.channels) + len(s.patterns))
}
