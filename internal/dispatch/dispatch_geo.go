package dispatch

import (
	"math"
	"sort"
	"strings"

	"github.com/mnorrsken/redigo/internal/geo"
	"github.com/mnorrsken/redigo/internal/resp"
)

// Geo commands ride on top of the sorted-set type: a member's score is
// the 52-bit interleaved geohash of its coordinates, so GEOADD is just
// ZADD with a computed score and GEOPOS/GEODIST decode the score back
// into coordinates (see internal/geo).

func (d *Dispatcher) cmdGeoAdd(args []string) Result {
	if len(args) < 4 || len(args[1:])%3 != 0 {
		return Result{Reply: resp.ErrWrongArgs("GEOADD")}
	}
	key := args[0]
	members := make(map[string]float64)
	rest := args[1:]
	for i := 0; i < len(rest); i += 3 {
		lon, ok1 := parseFloat(rest[i])
		lat, ok2 := parseFloat(rest[i+1])
		member := rest[i+2]
		if !ok1 || !ok2 {
			return Result{Reply: resp.ErrNotFloat()}
		}
		lonOK, latOK := geo.ValidCoordinate(lon, lat)
		if !lonOK {
			return Result{Reply: resp.Err("ERR invalid longitude")}
		}
		if !latOK {
			return Result{Reply: resp.Err("ERR invalid latitude")}
		}
		members[member] = float64(geo.Encode(lon, lat))
	}
	n, err := d.Store.ZAdd(key, members)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	return Result{Reply: resp.Int(n), Mutated: true}
}

func (d *Dispatcher) cmdGeoPos(args []string) Result {
	if len(args) < 1 {
		return Result{Reply: resp.ErrWrongArgs("GEOPOS")}
	}
	key := args[0]
	out := make([]resp.Value, len(args)-1)
	for i, member := range args[1:] {
		score, ok, err := d.Store.ZScore(key, member)
		if err != nil {
			return Result{Reply: typeErr(err)}
		}
		if !ok {
			out[i] = resp.NullArray()
			continue
		}
		lon, lat := geo.Decode(uint64(score))
		out[i] = resp.Arr(
			resp.BulkStr(formatFloat(lon)),
			resp.BulkStr(formatFloat(lat)),
		)
	}
	return Result{Reply: resp.ArrOf(out)}
}

func (d *Dispatcher) cmdGeoDist(args []string) Result {
	if len(args) < 3 || len(args) > 4 {
		return Result{Reply: resp.ErrWrongArgs("GEODIST")}
	}
	key, m1, m2 := args[0], args[1], args[2]
	unit := geo.Meters
	if len(args) == 4 {
		unit = geo.Unit(args[3])
	}
	s1, ok1, err := d.Store.ZScore(key, m1)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	s2, ok2, err := d.Store.ZScore(key, m2)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}
	if !ok1 || !ok2 {
		return Result{Reply: resp.NullBulk()}
	}
	lon1, lat1 := geo.Decode(uint64(s1))
	lon2, lat2 := geo.Decode(uint64(s2))
	meters := geo.HaversineMeters(lon1, lat1, lon2, lat2)
	converted, ok := geo.ToUnit(meters, unit)
	if !ok {
		return Result{Reply: resp.Err("ERR unsupported unit provided. please use m, km, mi, or ft")}
	}
	return Result{Reply: resp.BulkStr(formatFloat(roundTo(converted, 4)))}
}

// cmdGeoSearch implements GEOSEARCH key FROMLONLAT lon lat BYRADIUS radius
// unit [ASC|DESC]: a full scan of the zset backing key, filtering by
// great-circle distance from the given center and returning members in
// ascending distance order (or descending with DESC).
func (d *Dispatcher) cmdGeoSearch(args []string) Result {
	if len(args) < 6 {
		return Result{Reply: resp.ErrWrongArgs("GEOSEARCH")}
	}
	key := args[0]
	if strings.ToUpper(args[1]) != "FROMLONLAT" {
		return resultSyntaxErr()
	}
	lon, ok1 := parseFloat(args[2])
	lat, ok2 := parseFloat(args[3])
	if !ok1 || !ok2 {
		return Result{Reply: resp.ErrNotFloat()}
	}
	if strings.ToUpper(args[4]) != "BYRADIUS" {
		return resultSyntaxErr()
	}
	radius, ok := parseFloat(args[5])
	if !ok {
		return Result{Reply: resp.ErrNotFloat()}
	}
	if len(args) < 7 {
		return Result{Reply: resp.ErrWrongArgs("GEOSEARCH")}
	}
	unit := geo.Unit(args[6])
	radiusMeters, ok := geo.FromUnit(radius, unit)
	if !ok {
		return Result{Reply: resp.Err("ERR unsupported unit provided. please use m, km, mi, or ft")}
	}

	desc := false
	if len(args) >= 8 && strings.ToUpper(args[7]) == "DESC" {
		desc = true
	}

	members, err := d.Store.ZRangeByIndex(key, 0, -1, true)
	if err != nil {
		return Result{Reply: typeErr(err)}
	}

	type hit struct {
		member string
		meters float64
	}
	var hits []hit
	for _, m := range members {
		mlon, mlat := geo.Decode(uint64(m.Score))
		dist := geo.HaversineMeters(lon, lat, mlon, mlat)
		if dist <= radiusMeters {
			hits = append(hits, hit{m.Member, dist})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if desc {
			return hits[i].meters > hits[j].meters
		}
		return hits[i].meters < hits[j].meters
	})

	out := make([]resp.Value, len(hits))
	for i, h := range hits {
		out[i] = resp.BulkStr(h.member)
	}
	return Result{Reply: resp.ArrOf(out)}
}

func roundTo(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}
