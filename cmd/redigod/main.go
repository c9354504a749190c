// Command redigod is the server entrypoint: flag parsing, snapshot/AOF
// recovery, listener startup, optional replica handshake, and graceful
// shutdown. Grounded on the teacher's cmd/server/main.go lifecycle
// (config.Load → storage.New → handler.New → server.Start →
// signal.Notify → ordered Stop sequence with a shutdown timeout and a
// forced-exit path on a second signal).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mnorrsken/redigo/internal/aof"
	"github.com/mnorrsken/redigo/internal/blocking"
	"github.com/mnorrsken/redigo/internal/config"
	"github.com/mnorrsken/redigo/internal/conn"
	"github.com/mnorrsken/redigo/internal/dispatch"
	"github.com/mnorrsken/redigo/internal/logging"
	"github.com/mnorrsken/redigo/internal/metrics"
	"github.com/mnorrsken/redigo/internal/pubsub"
	"github.com/mnorrsken/redigo/internal/replication"
	"github.com/mnorrsken/redigo/internal/server"
	"github.com/mnorrsken/redigo/internal/snapshot"
	"github.com/mnorrsken/redigo/internal/storage"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var cfg config.Config
	app := &cli.App{
		Name:  "redigod",
		Usage: "a RESP-compatible in-memory data store",
		Flags: config.Flags(&cfg),
		Action: func(*cli.Context) error {
			return run(cfg)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger := logging.New(slog.LevelInfo)

	blockers := blocking.New()
	store := storage.New(nil, blockers)

	dbPath := filepath.Join(cfg.Dir, cfg.DBFilename)
	if err := snapshot.LoadFile(dbPath, store); err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	d := &dispatch.Dispatcher{
		Store:     store,
		Hub:       pubsub.NewHub(),
		Blockers:  blockers,
		StartedAt: time.Now(),
		Config:    &cfg,
	}

	loopback, _ := net.Pipe()
	replayState := conn.New(loopback)
	if err := aof.Replay(filepath.Join(cfg.EffectiveAOFDir(), cfg.AppendFile), func(argv []string) error {
		dispatch.ReplicaApplier{D: d, CS: replayState}.Apply(argv)
		return nil
	}); err != nil {
		return fmt.Errorf("replaying AOF: %w", err)
	}

	var aofWriter *aof.Writer
	if cfg.AppendOnly {
		policy, err := aof.ParseSyncPolicy(cfg.AppendFsync)
		if err != nil {
			return err
		}
		aofWriter, err = aof.Open(cfg.EffectiveAOFDir(), cfg.AppendFile, policy)
		if err != nil {
			return fmt.Errorf("opening AOF: %w", err)
		}
		server.AttachAOF(d, aofWriter)
	}

	var primary *replication.Primary
	isReplica := cfg.ReplicaOf != ""
	if !isReplica {
		primary = replication.NewPrimary()
		d.Propagate = append(d.Propagate, primary)
		d.Primary = primary
	}

	srv := server.New(fmt.Sprintf(":%d", cfg.Port), d, primary, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}
	logger.Info("listening", "port", cfg.Port)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	metricsSrv.Start()

	var replicaCancel context.CancelFunc
	if isReplica {
		addr, err := cfg.ReplicaAddr()
		if err != nil {
			return err
		}
		d.ReadOnly = func() bool { return true }
		replicaLoopback, _ := net.Pipe()
		applierState := conn.New(replicaLoopback)
		applier := dispatch.ReplicaApplier{D: d, CS: applierState}
		replica := replication.NewReplica(addr, cfg.Port, store, applier)
		d.Replica = replica

		ctx, cancel := context.WithCancel(context.Background())
		replicaCancel = cancel
		go runReplicaWithReconnect(ctx, replica, logger)
		go reportReplicaOffset(ctx, replica)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	forceExit := make(chan os.Signal, 1)
	signal.Notify(forceExit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-forceExit
		logger.Warn("second signal received, forcing exit")
		os.Exit(1)
	}()

	done := make(chan struct{})
	go func() {
		if replicaCancel != nil {
			replicaCancel()
		}
		srv.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		metricsSrv.Stop(shutdownCtx)
		if aofWriter != nil {
			aofWriter.Close()
		}
		if err := snapshot.SaveFile(dbPath, store); err != nil {
			logger.Error("failed to save snapshot on shutdown", "err", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out")
	}
	return nil
}

// reportReplicaOffset periodically publishes a replica's applied offset
// to the replication_offset gauge so it reads the same metric name a
// primary reports, distinguished by role in the scrape's source label.
func reportReplicaOffset(ctx context.Context, r *replication.Replica) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReplicationOffset.Set(float64(r.AppliedOffset()))
		}
	}
}

// runReplicaWithReconnect keeps retrying the handshake with a fixed
// backoff if the primary is unreachable or the connection drops,
// matching a replica's expected behavior across a primary restart.
func runReplicaWithReconnect(ctx context.Context, r *replication.Replica, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := r.Run(ctx); err != nil {
			logger.Warn("replication link dropped", "state", r.State().String(), "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
