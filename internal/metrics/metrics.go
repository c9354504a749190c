// Package metrics exposes Prometheus counters/histograms for command
// throughput, connection counts, and replication health over an HTTP
// /metrics endpoint. Grounded on the teacher's internal/metrics package
// (same promauto/promhttp shape), with the cache-hit/miss counters
// dropped (no cache layer in this module) and replica-lag gauges added.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redigo_commands_total",
		Help: "Total number of commands processed, by command name.",
	}, []string{"command"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redigo_command_duration_seconds",
		Help:    "Command execution latency in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"command"})

	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redigo_command_errors_total",
		Help: "Total number of commands that returned an error reply.",
	}, []string{"command"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redigo_active_connections",
		Help: "Number of currently open client connections.",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redigo_connections_total",
		Help: "Total number of connections accepted.",
	})

	ReplicaConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redigo_replica_connected",
		Help: "1 if at least one replica is attached to this primary, 0 otherwise.",
	})

	ReplicationOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redigo_replication_offset",
		Help: "Current replication offset (primary: global_offset, replica: applied_offset).",
	})
)

// RecordCommand updates the per-command counters/histogram after a
// command finishes, mirroring the teacher's RecordCommand helper.
func RecordCommand(command string, duration time.Duration, isError bool) {
	CommandsTotal.WithLabelValues(command).Inc()
	CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
	if isError {
		CommandErrors.WithLabelValues(command).Inc()
	}
}

// Server serves /metrics and /healthz on its own address, independent of
// the RESP listener.
type Server struct {
	server *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

func (s *Server) Start() {
	go s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
