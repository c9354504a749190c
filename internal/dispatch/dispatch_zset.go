package dispatch

import (
	"strconv"
	"strings"

	"github.com/mnorrsken/redigo/internal/resp"
)

func (d *Dispatcher) cmdZAdd(args []string) Result {
	if len(args) < 3 || len(args)%2 != 1 {
		return Result{Reply: resp.ErrWrongArgs("ZADD")}
	}
	members := make(map[string]float64, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		score, ok := parseFloat(args[i])
		if !ok {
			return Result{Reply: resp.ErrNotFloat()}
		}
		members[args[i+1]] = score
	}
	n, err := d.Store.ZAdd(args[0], members)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: resp.Int(n), Mutated: true}
}

func (d *Dispatcher) cmdZScore(args []string) Result {
	if len(args) != 2 {
		return Result{Reply: resp.ErrWrongArgs("ZSCORE")}
	}
	score, ok, err := d.Store.ZScore(args[0], args[1])
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	if !ok {
		return Result{Reply: resp.NullBulk()}
	}
	return Result{Reply: resp.BulkStr(formatFloat(score))}
}

func (d *Dispatcher) cmdZRange(args []string) Result {
	if len(args) < 3 {
		return Result{Reply: resp.ErrWrongArgs("ZRANGE")}
	}
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return Result{Reply: resp.ErrNotInteger()}
	}
	withScores := false
	for _, a := range args[3:] {
		if strings.ToUpper(a) == "WITHSCORES" {
			withScores = true
		}
	}
	members, err := d.Store.ZRangeByIndex(args[0], start, stop, withScores)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	var out []resp.Value
	for _, m := range members {
		out = append(out, resp.BulkStr(m.Member))
		if withScores {
			out = append(out, resp.BulkStr(formatFloat(m.Score)))
		}
	}
	return Result{Reply: resp.ArrOf(out)}
}

func (d *Dispatcher) cmdZIncrBy(args []string) Result {
	if len(args) != 3 {
		return Result{Reply: resp.ErrWrongArgs("ZINCRBY")}
	}
	delta, ok := parseFloat(args[1])
	if !ok {
		return Result{Reply: resp.ErrNotFloat()}
	}
	score, err := d.Store.ZIncrBy(args[0], args[2], delta)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: resp.BulkStr(formatFloat(score)), Mutated: true}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
