// Package config parses process startup flags with urfave/cli/v2,
// replacing the teacher's env-var internal/config.Load with the flag
// table spec.md's external-interfaces section specifies directly.
package config

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

type Config struct {
	Port         int
	ReplicaOf    string // "" if not a replica; otherwise "<host> <port>"
	Dir          string
	DBFilename   string
	AppendOnly   bool
	AppendFsync  string
	AppendFile   string
	AOFDir       string
	MetricsAddr  string
}

// Flags returns the urfave/cli flag set for cmd/redigod's single command.
func Flags(cfg *Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "port", Value: 6379, Usage: "TCP port to listen on", Destination: &cfg.Port},
		&cli.StringFlag{Name: "replicaof", Usage: "\"<host> <port>\" of a primary to replicate from", Destination: &cfg.ReplicaOf},
		&cli.StringFlag{Name: "dir", Value: ".", Usage: "working directory for the snapshot file", Destination: &cfg.Dir},
		&cli.StringFlag{Name: "dbfilename", Value: "dump.rgo", Usage: "snapshot filename within dir", Destination: &cfg.DBFilename},
		&cli.BoolFlag{Name: "appendonly", Value: false, Usage: "enable AOF durability", Destination: &cfg.AppendOnly},
		&cli.StringFlag{Name: "appendfsync", Value: "everysec", Usage: "always|everysec|no", Destination: &cfg.AppendFsync},
		&cli.StringFlag{Name: "appendfilename", Value: "appendonly.aof", Usage: "AOF filename within aof-dir", Destination: &cfg.AppendFile},
		&cli.StringFlag{Name: "aof-dir", Value: "", Usage: "directory for the AOF file (defaults to dir)", Destination: &cfg.AOFDir},
		&cli.StringFlag{Name: "metrics-addr", Value: ":9121", Usage: "address for the Prometheus /metrics endpoint", Destination: &cfg.MetricsAddr},
	}
}

// ReplicaAddr parses ReplicaOf into a dialable "host:port" string.
func (c Config) ReplicaAddr() (string, error) {
	var host, port string
	n, err := fmt.Sscanf(c.ReplicaOf, "%s %s", &host, &port)
	if err != nil || n != 2 {
		return "", fmt.Errorf("config: malformed --replicaof %q, want \"<host> <port>\"", c.ReplicaOf)
	}
	return host + ":" + port, nil
}

// EffectiveAOFDir returns AOFDir if set, else Dir.
func (c Config) EffectiveAOFDir() string {
	if c.AOFDir != "" {
		return c.AOFDir
	}
	return c.Dir
}
