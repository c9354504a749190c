package dispatch

import (
	"strconv"
	"strings"
	"time"

	"github.com/mnorrsken/redigo/internal/resp"
	"github.com/mnorrsken/redigo/internal/storage"
)

func (d *Dispatcher) cmdSet(args []string) Result {
	if len(args) < 2 {
		return Result{Reply: resp.ErrWrongArgs("SET")}
	}
	key, val := args[0], []byte(args[1])
	var opts storage.SetOpts
	now := time.Now().UnixMilli()
	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "KEEPTTL":
			opts.KeepTTL = true
		case "EX":
			i++
			if i >= len(args) {
				return Result{Reply: resp.ErrWrongArgs("SET")}
			}
			secs, ok := parseInt(args[i])
			if !ok {
				return Result{Reply: resp.ErrNotInteger()}
			}
			opts.ExpireAtMs = now + secs*1000
		case "PX":
			i++
			if i >= len(args) {
				return Result{Reply: resp.ErrWrongArgs("SET")}
			}
			ms, ok := parseInt(args[i])
			if !ok {
				return Result{Reply: resp.ErrNotInteger()}
			}
			opts.ExpireAtMs = now + ms
		case "EXAT":
			i++
			if i >= len(args) {
				return Result{Reply: resp.ErrWrongArgs("SET")}
			}
			secs, ok := parseInt(args[i])
			if !ok {
				return Result{Reply: resp.ErrNotInteger()}
			}
			opts.ExpireAtMs = secs * 1000
		case "PXAT":
			i++
			if i >= len(args) {
				return Result{Reply: resp.ErrWrongArgs("SET")}
			}
			ms, ok := parseInt(args[i])
			if !ok {
				return Result{Reply: resp.ErrNotInteger()}
			}
			opts.ExpireAtMs = ms
		default:
			return resultSyntaxErr()
		}
	}
	ok, err := d.Store.Set(key, val, opts)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	if !ok {
		return Result{Reply: resp.NullBulk()}
	}
	return Result{Reply: resp.OK(), Mutated: true}
}

func resultSyntaxErr() Result {
	return Result{Reply: resp.Err("ERR syntax error")}
}

func (d *Dispatcher) cmdGet(args []string) Result {
	if len(args) != 1 {
		return Result{Reply: resp.ErrWrongArgs("GET")}
	}
	v, ok, err := d.Store.Get(args[0])
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	if !ok {
		return Result{Reply: resp.NullBulk()}
	}
	return Result{Reply: resp.Bulk(v)}
}

func (d *Dispatcher) cmdGetSet(args []string) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("GETSET")}
	}
	prev, err := d.Store.GetSet(args[0], []byte(args[1]))
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	if prev == nil {
		return Result{Reply: resp.NullBulk(), Mutated: true}
	}
	return Result{Reply: resp.Bulk(prev), Mutated: true}
}

func (d *Dispatcher) cmdAppend(args []string) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("APPEND")}
	}
	n, err := d.Store.Append(args[0], []byte(args[1]))
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: resp.Int(n), Mutated: true}
}

func (d *Dispatcher) cmdStrLen(args []string) Result {
	if len(args) != 1 {
		return Result{Reply: resp.ErrWrongArgs("STRLEN")}
	}
	n, err := d.Store.StrLen(args[0])
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: resp.Int(n)}
}

func (d *Dispatcher) cmdIncrBy(args []string, delta int64, exactArity bool) Result {
	if len(args) != 1 {
		return Result{Reply: resp.ErrWrongArgs("INCR")}
	}
	n, err := d.Store.IncrBy(args[0], delta)
	if err != nil {
		return Result{Reply: numErr(err)}
	}
	return Result{Reply: resp.Int(n), Mutated: true}
}

func (d *Dispatcher) cmdIncrByArg(args []string, sign int64) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("INCRBY")}
	}
	delta, ok := parseInt(args[1])
	if !ok {
		return Result{Reply: resp.ErrNotInteger()}
	}
	n, err := d.Store.IncrBy(args[0], sign*delta)
	if err != nil {
		return Result{Reply: numErr(err)}
	}
	return Result{Reply: resp.Int(n), Mutated: true}
}

func (d *Dispatcher) cmdIncrByFloat(args []string) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("INCRBYFLOAT")}
	}
	delta, ok := parseFloat(args[1])
	if !ok {
		return Result{Reply: resp.ErrNotFloat()}
	}
	f, err := d.Store.IncrByFloat(args[0], delta)
	if err != nil {
		return Result{Reply: numErr(err)}
	}
	return Result{Reply: resp.BulkStr(strconv.FormatFloat(f, 'f', -1, 64)), Mutated: true}
}

func (d *Dispatcher) cmdMGet(args []string) Result {
	if len(args) == 0 {
		return Result{Reply: resp.ErrWrongArgs("MGET")}
	}
	vals, err := d.Store.MGet(args)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	out := make([]resp.Value, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = resp.NullBulk()
		} else {
			out[i] = resp.Bulk(v)
		}
	}
	return Result{Reply: resp.ArrOf(out)}
}

func (d *Dispatcher) cmdMSet(args []string) Result {
	if len(args) == 0 || len(args)%2 != 0 {
		return Result{Reply: resp.ErrWrongArgs("MSET")}
	}
	pairs := make(map[string][]byte, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs[args[i]] = []byte(args[i+1])
	}
	d.Store.MSet(pairs)
	return Result{Reply: resp.OK(), Mutated: true}
}

func (d *Dispatcher) cmdExpire(args []string) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("EXPIRE")}
	}
	secs, ok := parseInt(args[1])
	if !ok {
		return Result{Reply: resp.ErrNotInteger()}
	}
	ok = d.Store.Expire(args[0], secs)
	return Result{Reply: resp.Int(boolInt(ok)), Mutated: ok}
}

func (d *Dispatcher) cmdPExpireAt(args []string) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("PEXPIREAT")}
	}
	ms, ok := parseInt(args[1])
	if !ok {
		return Result{Reply: resp.ErrNotInteger()}
	}
	ok = d.Store.PExpireAt(args[0], ms)
	return Result{Reply: resp.Int(boolInt(ok)), Mutated: ok}
}

func numErr(err error) resp.Value {
	if err == storage.ErrNotInteger {
		return resp.ErrNotInteger()
	}
	if err == storage.ErrNotFloat {
		return resp.ErrNotFloat()
	}
	return typeErr(err)
}
