package storage

import "sort"

// zsetMember pairs a member name with its score. zsetValue keeps members
// sorted by (score, member) so range and rank queries are a binary
// search; inserts/removals shift the backing slice, an O(n) cost this
// module accepts in exchange for a simple, dependency-free structure (see
// DESIGN.md's Open Question on "O(log n) or equivalent").
type zsetMember struct {
	Member string
	Score  float64
}

type zsetValue struct {
	byScore  []zsetMember    // sorted by (Score, Member)
	byMember map[string]float64
}

func newZSet() *zsetValue {
	return &zsetValue{byMember: make(map[string]float64)}
}

func lessMember(a, b zsetMember) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

func (z *zsetValue) search(m zsetMember) int {
	return sort.Search(len(z.byScore), func(i int) bool {
		return !lessMember(z.byScore[i], m)
	})
}

// add inserts or updates member, returning true if it was newly added.
func (z *zsetValue) add(member string, score float64) bool {
	if old, exists := z.byMember[member]; exists {
		if old == score {
			return false
		}
		i := z.search(zsetMember{member, old})
		for i < len(z.byScore) && z.byScore[i].Member != member {
			i++
		}
		z.byScore = append(z.byScore[:i], z.byScore[i+1:]...)
		z.byMember[member] = score
		z.insertSorted(zsetMember{member, score})
		return false
	}
	z.byMember[member] = score
	z.insertSorted(zsetMember{member, score})
	return true
}

func (z *zsetValue) insertSorted(m zsetMember) {
	i := z.search(m)
	z.byScore = append(z.byScore, zsetMember{})
	copy(z.byScore[i+1:], z.byScore[i:])
	z.byScore[i] = m
}

func (z *zsetValue) remove(member string) bool {
	score, exists := z.byMember[member]
	if !exists {
		return false
	}
	delete(z.byMember, member)
	i := z.search(zsetMember{member, score})
	for i < len(z.byScore) && z.byScore[i].Member != member {
		i++
	}
	z.byScore = append(z.byScore[:i], z.byScore[i+1:]...)
	return true
}

// rank returns member's 0-based index in ascending score order.
func (z *zsetValue) rank(member string) (int64, bool) {
	score, exists := z.byMember[member]
	if !exists {
		return 0, false
	}
	i := z.search(zsetMember{member, score})
	for i < len(z.byScore) && z.byScore[i].Member != member {
		i++
	}
	return int64(i), true
}

// NewZSetFromMembers builds a zsetValue from a decoded member->score map,
// used only by the snapshot loader.
func NewZSetFromMembers(members map[string]float64) *zsetValue {
	z := newZSet()
	for m, sc := range members {
		z.add(m, sc)
	}
	return z
}

// Members exposes the sorted member slice for the snapshot writer.
// Callers must not mutate it.
func (z *zsetValue) Members() []zsetMember { return z.byScore }

func (s *Store) getOrCreateZSet(key string) (*zsetValue, error) {
	e, exists := s.lockedGet(key)
	if !exists {
		e = &Entry{Kind: KindZSet, ZSet: newZSet()}
		s.lockedSet(key, e)
		return e.ZSet, nil
	}
	if e.Kind != KindZSet {
		return nil, WrongTypeError{}
	}
	return e.ZSet, nil
}

// ZAdd adds or updates members, returning the number of newly added
// members (not counting score updates), matching ZADD's default reply.
func (s *Store) ZAdd(key string, members map[string]float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, err := s.getOrCreateZSet(key)
	if err != nil {
		return 0, err
	}
	var added int64
	for member, score := range members {
		if z.add(member, score) {
			added++
		}
	}
	s.notify(key)
	return added, nil
}

func (s *Store) ZScore(key, member string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return 0, false, nil
	}
	if e.Kind != KindZSet {
		return 0, false, WrongTypeError{}
	}
	score, exists := e.ZSet.byMember[member]
	return score, exists, nil
}

func (s *Store) ZRem(key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return 0, nil
	}
	if e.Kind != KindZSet {
		return 0, WrongTypeError{}
	}
	var n int64
	for _, m := range members {
		if e.ZSet.remove(m) {
			n++
		}
	}
	if len(e.ZSet.byMember) == 0 {
		s.lockedDelete(key)
	}
	return n, nil
}

func (s *Store) ZRank(key, member string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return 0, false, nil
	}
	if e.Kind != KindZSet {
		return 0, false, WrongTypeError{}
	}
	rank, ok := e.ZSet.rank(member)
	return rank, ok, nil
}

func (s *Store) ZCard(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return 0, nil
	}
	if e.Kind != KindZSet {
		return 0, WrongTypeError{}
	}
	return int64(len(e.ZSet.byScore)), nil
}

// ZRangeByIndex returns members (with scores) whose rank falls in
// [start,stop]; Redis-style negative indices and out-of-range bounds are
// resolved here via normalizeRange.
func (s *Store) ZRangeByIndex(key string, start, stop int64, withScores bool) ([]zsetMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return nil, nil
	}
	if e.Kind != KindZSet {
		return nil, WrongTypeError{}
	}
	n := int64(len(e.ZSet.byScore))
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return nil, nil
	}
	out := make([]zsetMember, stop-start+1)
	copy(out, e.ZSet.byScore[start:stop+1])
	return out, nil
}

// ZIncrBy adjusts member's score by delta, creating the member/key if
// absent, and returns the new score.
func (s *Store) ZIncrBy(key, member string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, err := s.getOrCreateZSet(key)
	if err != nil {
		return 0, err
	}
	cur := z.byMember[member]
	cur += delta
	z.add(member, cur)
	s.notify(key)
	return cur, nil
}
