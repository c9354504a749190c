package dispatch

import (
	"context"

	"github.com/mnorrsken/redigo/internal/conn"
)

// ReplicaApplier adapts a Dispatcher to replication.Applier so commands
// streamed from a primary can be applied without a real client
// connection: a loopback conn.State is enough since nothing it does
// (transactions, pub/sub, blocking keys) depends on net.Conn identity.
type ReplicaApplier struct {
	D  *Dispatcher
	CS *conn.State
}

func (a ReplicaApplier) Apply(argv []string) error {
	a.D.execMu.Lock()
	defer a.D.execMu.Unlock()
	a.D.dispatchCmd(context.Background(), a.CS, argv, true)
	return nil
}
