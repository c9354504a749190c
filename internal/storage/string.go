package storage

import (
	"errors"
	"strconv"
)

// WrongTypeError is returned by typed accessors when key holds a
// different Kind than requested; the dispatcher translates it to
// resp.ErrWrongType().
type WrongTypeError struct{}

func (WrongTypeError) Error() string { return "WRONGTYPE" }

// ErrNotInteger and ErrNotFloat are returned when a string command
// expects a numeric value that does not parse; the dispatcher translates
// them to the matching resp error reply.
var (
	ErrNotInteger = errors.New("value is not an integer or out of range")
	ErrNotFloat   = errors.New("value is not a valid float")
)

func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return nil, false, nil
	}
	if e.Kind != KindString {
		return nil, false, WrongTypeError{}
	}
	return e.Str, true, nil
}

// SetOpts carries the optional arguments of SET (EX/PX/EXAT/PXAT/NX/XX/KEEPTTL).
type SetOpts struct {
	ExpireAtMs int64 // 0 = unspecified
	KeepTTL    bool
	NX         bool
	XX         bool
}

// Set stores key=val honoring opts. ok is false when NX/XX preconditions
// fail.
func (s *Store) Set(key string, val []byte, opts SetOpts) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.lockedGet(key)
	if opts.NX && exists {
		return false, nil
	}
	if opts.XX && !exists {
		return false, nil
	}
	var expiresAt int64
	if opts.KeepTTL && exists {
		expiresAt = e.ExpiresAt
	} else {
		expiresAt = opts.ExpireAtMs
	}
	s.lockedSet(key, &Entry{Kind: KindString, Str: val, ExpiresAt: expiresAt})
	s.notify(key)
	return true, nil
}

func (s *Store) GetSet(key string, val []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.lockedGet(key)
	var prev []byte
	if exists {
		if e.Kind != KindString {
			return nil, WrongTypeError{}
		}
		prev = e.Str
	}
	s.lockedSet(key, &Entry{Kind: KindString, Str: val})
	s.notify(key)
	return prev, nil
}

func (s *Store) Append(key string, val []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.lockedGet(key)
	if !exists {
		e = &Entry{Kind: KindString}
		s.lockedSet(key, e)
	} else if e.Kind != KindString {
		return 0, WrongTypeError{}
	}
	e.Str = append(e.Str, val...)
	s.notify(key)
	return int64(len(e.Str)), nil
}

func (s *Store) StrLen(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return 0, nil
	}
	if e.Kind != KindString {
		return 0, WrongTypeError{}
	}
	return int64(len(e.Str)), nil
}

func (s *Store) IncrBy(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.lockedGet(key)
	var cur int64
	if exists {
		if e.Kind != KindString {
			return 0, WrongTypeError{}
		}
		n, err := strconv.ParseInt(string(e.Str), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		cur = n
	}
	next, ok := addOverflows(cur, delta)
	if !ok {
		return 0, ErrNotInteger
	}
	if !exists {
		e = &Entry{Kind: KindString}
		s.lockedSet(key, e)
	}
	e.Str = []byte(strconv.FormatInt(next, 10))
	s.notify(key)
	return next, nil
}

// addOverflows returns a+b and true, or 0 and false if the sum would
// overflow int64. Spec: INCR/INCRBY/DECR/DECRBY fail rather than wrap.
func addOverflows(a, b int64) (int64, bool) {
	sum := a + b
	if b > 0 && sum < a {
		return 0, false
	}
	if b < 0 && sum > a {
		return 0, false
	}
	return sum, true
}

func (s *Store) IncrByFloat(key string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.lockedGet(key)
	var cur float64
	if exists {
		if e.Kind != KindString {
			return 0, WrongTypeError{}
		}
		f, err := strconv.ParseFloat(string(e.Str), 64)
		if err != nil {
			return 0, ErrNotFloat
		}
		cur = f
	} else {
		e = &Entry{Kind: KindString}
		s.lockedSet(key, e)
	}
	cur += delta
	e.Str = []byte(strconv.FormatFloat(cur, 'f', -1, 64))
	s.notify(key)
	return cur, nil
}

func (s *Store) MGet(keys []string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		e, ok := s.lockedGet(k)
		if !ok || e.Kind != KindString {
			continue
		}
		out[i] = e.Str
	}
	return out, nil
}

func (s *Store) MSet(pairs map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range pairs {
		s.lockedSet(k, &Entry{Kind: KindString, Str: v})
		s.notify(k)
	}
}
