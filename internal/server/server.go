// Package server implements the TCP listener and per-connection command
// loop. Grounded on the teacher's internal/server.Server/handleConnection
// shape (accept loop with a quit channel, one goroutine per connection,
// a big command-routing switch ahead of the generic dispatcher for
// stateful protocol commands), generalized from RESP2+RESP3/auth/pubsub
// gating to this module's command set plus replication's PSYNC/REPLCONF.
package server

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mnorrsken/redigo/internal/aof"
	"github.com/mnorrsken/redigo/internal/conn"
	"github.com/mnorrsken/redigo/internal/dispatch"
	"github.com/mnorrsken/redigo/internal/logging"
	"github.com/mnorrsken/redigo/internal/metrics"
	"github.com/mnorrsken/redigo/internal/pubsub"
	"github.com/mnorrsken/redigo/internal/replication"
	"github.com/mnorrsken/redigo/internal/resp"
	"github.com/mnorrsken/redigo/internal/snapshot"
	"github.com/mnorrsken/redigo/internal/storage"
)

type Server struct {
	addr       string
	dispatcher *dispatch.Dispatcher
	primary    *replication.Primary // nil if replication is disabled
	logger     logging.Logger

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

func New(addr string, d *dispatch.Dispatcher, primary *replication.Primary, logger logging.Logger) *Server {
	return &Server{addr: addr, dispatcher: d, primary: primary, logger: logger, quit: make(chan struct{})}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Error("accept failed", "err", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(c)
		}()
	}
}

func (s *Server) handleConnection(c net.Conn) {
	defer c.Close()
	cs := conn.New(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.quit
		cancel()
	}()

	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	reader := resp.NewReader(c)

	defer s.dispatcher.Hub.RemoveSubscriber(cs)

	for {
		argv, err := reader.ReadCommand()
		if err != nil {
			return
		}
		if len(argv) == 0 {
			continue
		}
		cmd := strings.ToUpper(argv[0])

		switch {
		case cmd == "PSYNC":
			s.handlePSYNC(cs, reader)
			return
		case cmd == "REPLCONF":
			// Handshake preamble from a connecting replica
			// (listening-port/capa); PSYNC upgrades the connection and
			// takes over REPLCONF ACK handling itself from then on.
			cs.WriteLocked(func(w *resp.Writer) error {
				w.WriteValue(resp.OK())
				return w.Flush()
			})
			continue
		case cs.InSubscribeMode() && !isAllowedDuringSubscribe(cmd):
			cs.WriteLocked(func(w *resp.Writer) error {
				w.WriteValue(resp.Err("ERR Can't execute '" + strings.ToLower(cmd) + "': only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context"))
				return w.Flush()
			})
			continue
		case cmd == "SUBSCRIBE", cmd == "UNSUBSCRIBE", cmd == "PSUBSCRIBE", cmd == "PUNSUBSCRIBE", cmd == "PUBLISH":
			s.handlePubSub(cs, cmd, argv[1:])
			continue
		case cmd == "MULTI":
			reply := s.dispatcher.Execute(ctx, cs, argv).Reply
			cs.WriteLocked(func(w *resp.Writer) error {
				w.WriteValue(reply)
				return w.Flush()
			})
			continue
		case cmd == "DISCARD":
			reply := s.dispatcher.Execute(ctx, cs, argv).Reply
			cs.WriteLocked(func(w *resp.Writer) error {
				w.WriteValue(reply)
				return w.Flush()
			})
			continue
		case cmd == "EXEC":
			s.handleExec(ctx, cs)
			continue
		case cmd == "WAIT":
			s.handleWait(cs, argv[1:])
			continue
		case cs.InTransaction():
			cs.QueueCommand(argv)
			cs.WriteLocked(func(w *resp.Writer) error {
				w.WriteValue(resp.Value{Type: resp.SimpleString, Str: "QUEUED"})
				return w.Flush()
			})
			continue
		}

		start := time.Now()
		res := s.dispatcher.Execute(ctx, cs, argv)
		metrics.RecordCommand(cmd, time.Since(start), res.Reply.Type == resp.Error)
		if s.primary != nil && res.Mutated {
			metrics.ReplicationOffset.Set(float64(s.primary.Offset()))
		}
		cs.WriteLocked(func(w *resp.Writer) error {
			w.WriteValue(res.Reply)
			return w.Flush()
		})
	}
}

func isAllowedDuringSubscribe(cmd string) bool {
	switch cmd {
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT", "RESET":
		return true
	default:
		return false
	}
}

// handleExec runs a queued MULTI batch atomically: the whole batch is
// executed while the dispatcher's execMu is held once, so no other
// connection's command can interleave, matching spec.md's EXEC
// invariant. Results are collected into one reply array.
func (s *Server) handleExec(ctx context.Context, cs *conn.State) {
	if !cs.InTransaction() {
		cs.WriteLocked(func(w *resp.Writer) error {
			w.WriteValue(resp.Err("ERR EXEC without MULTI"))
			return w.Flush()
		})
		return
	}
	if cs.TxnHasError() {
		cs.EndTransaction()
		cs.WriteLocked(func(w *resp.Writer) error {
			w.WriteValue(resp.Err("EXECABORT Transaction discarded because of previous errors."))
			return w.Flush()
		})
		return
	}
	queued := cs.EndTransaction()
	batch := s.dispatcher.ExecuteBatch(ctx, cs, queued)
	results := make([]resp.Value, len(batch))
	for i, res := range batch {
		results[i] = res.Reply
	}
	cs.WriteLocked(func(w *resp.Writer) error {
		w.WriteValue(resp.ArrOf(results))
		return w.Flush()
	})
}

// handleWait implements WAIT numreplicas timeout_ms: it blocks the
// calling connection (and only that connection) until numreplicas
// replicas have acknowledged the primary's current offset, or
// timeout_ms elapses.
func (s *Server) handleWait(cs *conn.State, args []string) {
	reply := func() resp.Value {
		if s.primary == nil {
			return resp.Int(0)
		}
		if len(args) != 2 {
			return resp.ErrWrongArgs("WAIT")
		}
		numReplicas, err1 := strconv.Atoi(args[0])
		timeoutMs, err2 := strconv.Atoi(args[1])
		if err1 != nil || err2 != nil {
			return resp.ErrNotInteger()
		}
		if numReplicas == 0 {
			return resp.Int(0)
		}
		n := s.primary.Wait(numReplicas, time.Duration(timeoutMs)*time.Millisecond)
		return resp.Int(int64(n))
	}()
	cs.WriteLocked(func(w *resp.Writer) error {
		w.WriteValue(reply)
		return w.Flush()
	})
}

func (s *Server) handlePubSub(cs *conn.State, cmd string, args []string) {
	hub := s.dispatcher.Hub

	// PUBLISH runs outside WriteLocked: Hub.Publish calls SendPush
	// synchronously on every subscriber, including cs itself if it
	// happens to be subscribed to the channel it's publishing on, and
	// SendPush takes the same writeMu WriteLocked would already be
	// holding — non-reentrant, so that combination deadlocks.
	if cmd == "PUBLISH" {
		var reply resp.Value
		if len(args) != 2 {
			reply = resp.ErrWrongArgs("PUBLISH")
		} else {
			reply = resp.Int(hub.Publish(args[0], args[1]))
		}
		cs.WriteLocked(func(w *resp.Writer) error {
			w.WriteValue(reply)
			return w.Flush()
		})
		return
	}

	cs.WriteLocked(func(w *resp.Writer) error {
		switch cmd {
		case "SUBSCRIBE":
			for _, ch := range args {
				cs.Subscribe(ch)
				hub.Subscribe(cs, ch)
				w.WriteValue(pubsub.BuildSubscribeResponse(ch, cs.SubscriptionCount()))
			}
		case "UNSUBSCRIBE":
			channels := args
			if len(channels) == 0 {
				channels = cs.Channels()
			}
			for _, ch := range channels {
				cs.Unsubscribe(ch)
				hub.Unsubscribe(cs, ch)
				w.WriteValue(pubsub.BuildUnsubscribeResponse(ch, cs.SubscriptionCount()))
			}
		case "PSUBSCRIBE":
			for _, p := range args {
				cs.PSubscribe(p)
				hub.PSubscribe(cs, p)
				w.WriteValue(pubsub.BuildPSubscribeResponse(p, cs.SubscriptionCount()))
			}
		case "PUNSUBSCRIBE":
			patterns := args
			if len(patterns) == 0 {
				patterns = cs.Patterns()
			}
			for _, p := range patterns {
				cs.PUnsubscribe(p)
				hub.PUnsubscribe(cs, p)
				w.WriteValue(pubsub.BuildPUnsubscribeResponse(p, cs.SubscriptionCount()))
			}
		}
		return w.Flush()
	})
}

// handlePSYNC upgrades this connection into a replica sink: sends
// +FULLRESYNC <replid> <offset>, a full snapshot as a raw payload frame,
// then attaches a ReplicaLink so future Propagate calls stream to it.
func (s *Server) handlePSYNC(cs *conn.State, reader *resp.Reader) {
	if s.primary == nil {
		cs.WriteLocked(func(w *resp.Writer) error {
			w.WriteValue(resp.Err("ERR this instance has no replication role"))
			return w.Flush()
		})
		return
	}
	cs.SetRole(conn.RoleReplica)
	offset := s.primary.Offset()
	err := cs.WriteLocked(func(w *resp.Writer) error {
		if err := w.WriteInline("FULLRESYNC " + s.primary.ReplID + " " + strconv.FormatInt(offset, 10)); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		payload := s.snapshotPayload()
		if err := w.WriteRawPayload(payload); err != nil {
			return err
		}
		return w.Flush()
	})
	if err != nil {
		return
	}

	// From here on, only the primary's propagation goroutine writes to
	// this connection (serialized by ReplicaLink's own mu), so the link
	// takes the raw writer rather than going through writeMu again.
	link := replication.NewReplicaLink(cs.Conn.RemoteAddr().String(), cs.RawWriter())
	s.primary.Attach(link)
	metrics.ReplicaConnected.Set(1)
	defer func() {
		s.primary.Detach(link)
		if s.primary.ReplicaCount() == 0 {
			metrics.ReplicaConnected.Set(0)
		}
	}()

	// From here on this connection only receives REPLCONF ACK from the
	// replica; writes are pushed by Propagate on the primary's own
	// goroutine, not by this loop.
	for {
		argv, err := reader.ReadCommand()
		if err != nil {
			return
		}
		if len(argv) >= 2 && strings.EqualFold(argv[0], "REPLCONF") && strings.EqualFold(argv[1], "ACK") {
			if len(argv) == 3 {
				if n, err := strconv.ParseInt(argv[2], 10, 64); err == nil {
					link.SetAckOffset(n)
				}
			}
			continue
		}
	}
}

func (s *Server) snapshotPayload() []byte {
	return snapshotBytes(s.dispatcher.Store)
}

func snapshotBytes(store *storage.Store) []byte {
	var sb bytes.Buffer
	_ = snapshot.Write(&sb, store)
	return sb.Bytes()
}

// AttachAOF registers w as a propagation target so every successful
// write command is appended to the AOF as well as streamed to replicas.
func AttachAOF(d *dispatch.Dispatcher, w *aof.Writer) {
	d.Propagate = append(d.Propagate, aofPropagator{w})
}

type aofPropagator struct{ w *aof.Writer }

func (a aofPropagator) Propagate(argv []string) { a.w.Append(argv) }
