package dispatch

import (
	"context"
	"time"

	"github.com/mnorrsken/redigo/internal/resp"
	"github.com/mnorrsken/redigo/internal/storage"
)

func (d *Dispatcher) cmdPush(args []string, push func(key string, vals ...[]byte) (int64, error)) Result {
	if len(args) < 2 {
		return Result{Reply: resp.ErrWrongArgs("LPUSH")}
	}
	vals := make([][]byte, len(args)-1)
	for i, a := range args[1:] {
		vals[i] = []byte(a)
	}
	n, err := push(args[0], vals...)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: resp.Int(n), Mutated: true}
}

func (d *Dispatcher) cmdPop(args []string, pop func(key string, count int) ([][]byte, error)) Result {
	if len(args) < 1 || len(args) > 2 {
		return Result{Reply: resp.ErrWrongArgs("LPOP")}
	}
	count := 1
	multi := false
	if len(args) == 2 {
		n, ok := parseInt(args[1])
		if !ok {
			return Result{Reply: resp.ErrNotInteger()}
		}
		count = int(n)
		multi = true
	}
	vals, err := pop(args[0], count)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	if vals == nil {
		if multi {
			return Result{Reply: resp.NullArray()}
		}
		return Result{Reply: resp.NullBulk()}
	}
	if multi {
		out := make([]resp.Value, len(vals))
		for i, v := range vals {
			out[i] = resp.Bulk(v)
		}
		return Result{Reply: resp.ArrOf(out), Mutated: true}
	}
	return Result{Reply: resp.Bulk(vals[0]), Mutated: true}
}

func (d *Dispatcher) cmdLRange(args []string) Result {
	if len(args) != 3 {
		return Result{Reply: resp.ErrWrongArgs("LRANGE")}
	}
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return Result{Reply: resp.ErrNotInteger()}
	}
	vals, err := d.Store.LRange(args[0], start, stop)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	out := make([]resp.Value, len(vals))
	for i, v := range vals {
		out[i] = resp.Bulk(v)
	}
	return Result{Reply: resp.ArrOf(out)}
}

func (d *Dispatcher) cmdLIndex(args []string) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("LINDEX")}
	}
	idx, ok := parseInt(args[1])
	if !ok {
		return Result{Reply: resp.ErrNotInteger()}
	}
	v, exists, err := d.Store.LIndex(args[0], idx)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	if !exists {
		return Result{Reply: resp.NullBulk()}
	}
	return Result{Reply: resp.Bulk(v)}
}

func (d *Dispatcher) cmdLSet(args []string) Result {
	if len(args) != 3 {
		return Result{Reply: resp.ErrWrongArgs("LSET")}
	}
	idx, ok := parseInt(args[1])
	if !ok {
		return Result{Reply: resp.ErrNotInteger()}
	}
	err := d.Store.LSet(args[0], idx, []byte(args[2]))
	switch {
	case err == nil:
		return Result{Reply: resp.OK(), Mutated: true}
	case storage.IsNoSuchKey(err):
		return Result{Reply: resp.Err("ERR no such key")}
	case storage.IsIndexOutOfRange(err):
		return Result{Reply: resp.Err("ERR index out of range")}
	default:
		return Result{Reply: typeErr(err)}
	}
}

// cmdBPop implements BLPOP/BRPOP: try immediately, then block on the
// given keys (FIFO per internal/blocking) until one yields an element,
// the timeout elapses, or the connection disconnects. Inside a queued
// MULTI/EXEC batch (noBlock) it never actually blocks, matching real
// Redis: a single failed attempt returns a null array immediately.
func (d *Dispatcher) cmdBPop(ctx context.Context, args []string, pop func(key string, count int) ([][]byte, error), noBlock bool) Result {
	if len(args) < 2 {
		return Result{Reply: resp.ErrWrongArgs("BLPOP")}
	}
	keys := args[:len(args)-1]
	timeoutSecs, ok := parseFloat(args[len(args)-1])
	if !ok || timeoutSecs < 0 {
		return Result{Reply: resp.Err("ERR timeout is not a float or negative")}
	}

	for {
		for _, k := range keys {
			vals, err := pop(k, 1)
			if err != nil {
				return Result{Reply: typeErr(err)}
			}
			if vals != nil {
				return Result{Reply: resp.Arr(resp.BulkStr(k), resp.Bulk(vals[0])), Mutated: true}
			}
		}
		if noBlock {
			return Result{Reply: resp.NullArray()}
		}

		ticket := d.Blockers.Register(keys)
		var timeoutCh <-chan time.Time
		if timeoutSecs > 0 {
			timer := time.NewTimer(time.Duration(timeoutSecs * float64(time.Second)))
			defer timer.Stop()
			timeoutCh = timer.C
		}
		// Drop execMu for the wait itself, or a push from another
		// connection that would satisfy us could never acquire it to run.
		d.execMu.Unlock()
		select {
		case <-ticket.Wake():
			ticket.Cancel()
			d.execMu.Lock()
		case <-timeoutCh:
			ticket.Cancel()
			d.execMu.Lock()
			return Result{Reply: resp.NullArray()}
		case <-ctx.Done():
			ticket.Cancel()
			d.execMu.Lock()
			return Result{Reply: resp.NullArray()}
		}
	}
}

