package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/mnorrsken/redigo/internal/resp"
	"github.com/mnorrsken/redigo/internal/storage"
)

func (d *Dispatcher) cmdXAdd(args []string) Result {
	if len(args) < 4 || len(args)%2 != 0 {
		return Result{Reply: resp.ErrWrongArgs("XADD")}
	}
	key, idSpec := args[0], args[1]
	fields := args[2:]

	var id *storage.StreamID
	autoSeq := false
	switch {
	case idSpec == "*":
		id = nil
	case strings.HasSuffix(idSpec, "-*"):
		parsed, err := storage.ParseStreamID(idSpec[:len(idSpec)-2], 0)
		if err != nil {
			return Result{Reply: resp.Err("ERR " + err.Error())}
		}
		id = &parsed
		autoSeq = true
	default:
		parsed, err := storage.ParseStreamID(idSpec, 0)
		if err != nil {
			return Result{Reply: resp.Err("ERR " + err.Error())}
		}
		id = &parsed
	}

	newID, err := d.Store.XAdd(key, id, autoSeq, fields)
	if err != nil {
		if err == storage.ErrStreamIDTooSmall || err == storage.ErrInvalidStreamID || err == storage.ErrStreamIDZero {
			return Result{Reply: resp.Err("ERR " + err.Error())}
		}
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: resp.BulkStr(newID.String()), Mutated: true}
}

func (d *Dispatcher) cmdXRange(args []string, reverse bool) Result {
	if len(args) < 3 {
		return Result{Reply: resp.ErrWrongArgs("XRANGE")}
	}
	key, startSpec, endSpec := args[0], args[1], args[2]
	if reverse {
		startSpec, endSpec = endSpec, startSpec
	}
	start, err := parseRangeBound(startSpec, 0)
	if err != nil {
		return Result{Reply: resp.Err("ERR " + err.Error())}
	}
	end, err := parseRangeBound(endSpec, int64(^uint64(0)>>1))
	if err != nil {
		return Result{Reply: resp.Err("ERR " + err.Error())}
	}
	count := 0
	if len(args) >= 5 && strings.ToUpper(args[3]) == "COUNT" {
		n, ok := parseInt(args[4])
		if !ok {
			return Result{Reply: resp.ErrNotInteger()}
		}
		count = int(n)
	}

	var entries []storage.StreamEntry
	if reverse {
		entries, err = d.Store.XRangeRev(key, start, end, count)
	} else {
		entries, err = d.Store.XRange(key, start, end, count)
	}
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: encodeStreamEntries(entries)}
}

func parseRangeBound(spec string, seqDefault int64) (storage.StreamID, error) {
	switch spec {
	case "-":
		return storage.StreamID{Ms: 0, Seq: 0}, nil
	case "+":
		return storage.StreamID{Ms: int64(^uint64(0) >> 1), Seq: int64(^uint64(0) >> 1)}, nil
	default:
		return storage.ParseStreamID(spec, seqDefault)
	}
}

func encodeStreamEntries(entries []storage.StreamEntry) resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		fields := make([]resp.Value, len(e.Fields))
		for j, f := range e.Fields {
			fields[j] = resp.BulkStr(f)
		}
		out[i] = resp.Arr(resp.BulkStr(e.ID.String()), resp.ArrOf(fields))
	}
	return resp.ArrOf(out)
}

// cmdXRead implements XREAD [BLOCK ms] [COUNT n] STREAMS key... id...
// blocking on '$' freezes the read point at the stream's current last ID
// when the command is registered, not when it wakes, matching the
// freeze-at-registration requirement. Inside a queued MULTI/EXEC batch
// (noBlock) BLOCK is ignored and a miss returns a null array immediately.
func (d *Dispatcher) cmdXRead(ctx context.Context, args []string, noBlock bool) Result {
	var blockMs int64 = -1
	count := 0
	i := 0
	for i < len(args) {
		switch strings.ToUpper(args[i]) {
		case "BLOCK":
			n, ok := parseInt(args[i+1])
			if !ok {
				return Result{Reply: resp.ErrNotInteger()}
			}
			blockMs = n
			i += 2
		case "COUNT":
			n, ok := parseInt(args[i+1])
			if !ok {
				return Result{Reply: resp.ErrNotInteger()}
			}
			count = int(n)
			i += 2
		case "STREAMS":
			i++
			goto streams
		default:
			return resultSyntaxErr()
		}
	}
	return resultSyntaxErr()

streams:
	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return Result{Reply: resp.ErrWrongArgs("XREAD")}
	}
	n := len(rest) / 2
	keys := rest[:n]
	idSpecs := rest[n:]

	after := make([]storage.StreamID, n)
	for k, spec := range idSpecs {
		if spec == "$" {
			id, err := d.Store.XLastID(keys[k])
			if err != nil {
				return Result{Reply: typeErr(err)}
			}
			after[k] = id
			continue
		}
		id, err := storage.ParseStreamID(spec, int64(^uint64(0)>>1))
		if err != nil {
			return Result{Reply: resp.Err("ERR " + err.Error())}
		}
		after[k] = id
	}

	for {
		reply, any, err := d.tryXRead(keys, after, count)
		if err != nil {
			return Result{Reply: typeErr(err)}
		}
		if any {
			return Result{Reply: reply}
		}
		if blockMs < 0 || noBlock {
			return Result{Reply: resp.NullArray()}
		}

		ticket := d.Blockers.Register(keys)
		var timeoutCh <-chan time.Time
		if blockMs > 0 {
			timer := time.NewTimer(time.Duration(blockMs) * time.Millisecond)
			defer timer.Stop()
			timeoutCh = timer.C
		}
		// Drop execMu for the wait itself, or an XADD from another
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

func (d *Dispatcher) tryXRead(keys []string, after []storage.StreamID, count int) (resp.Value, bool, error) {
	var out []resp.Value
	for i, k := range keys {
		entries, err := d.Store.XReadAfter(k, after[i], count)
		if err != nil {
			return resp.Value{}, false, err
		}
		if len(entries) == 0 {
			continue
		}
		out = append(out, resp.Arr(resp.BulkStr(k), encodeStreamEntries(entries)))
	}
	if len(out) == 0 {
		return resp.Value{}, false, nil
	}
	return resp.ArrOf(out), true, nil
}
