package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StreamID is the (milliseconds, sequence) pair identifying a stream
// entry. IDs are strictly increasing within a stream.
type StreamID struct {
	Ms  int64
	Seq int64
}

func (id StreamID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

func (id StreamID) Less(o StreamID) bool {
	if id.Ms != o.Ms {
		return id.Ms < o.Ms
	}
	return id.Seq < o.Seq
}

var ErrInvalidStreamID = errors.New("Invalid stream ID specified as stream command argument")
var ErrStreamIDTooSmall = errors.New("The ID specified in XADD is equal or smaller than the target stream top item")
var ErrStreamIDZero = errors.New("The ID specified in XADD must be greater than 0-0")

// ParseStreamID parses "<ms>-<seq>" or "<ms>" (seq defaults per
// defaultSeq). The "-"/"+" range sentinels are not accepted here; the
// dispatcher's parseRangeBound handles them before calling it.
func ParseStreamID(s string, defaultSeq int64) (StreamID, error) {
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if len(parts) == 1 {
		return StreamID{Ms: ms, Seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

type StreamEntry struct {
	ID     StreamID
	Fields []string // flat field,value,field,value...
}

type streamValue struct {
	entries []StreamEntry
	lastID  StreamID
}

// NewStreamFromEntries builds a streamValue from decoded entries, used
// only by the snapshot loader. entries must already be ID-sorted.
func NewStreamFromEntries(entries []StreamEntry) *streamValue {
	sv := &streamValue{entries: entries}
	if len(entries) > 0 {
		sv.lastID = entries[len(entries)-1].ID
	}
	return sv
}

// Entries exposes the backing slice for the snapshot writer. Callers
// must not mutate it.
func (sv *streamValue) Entries() []StreamEntry { return sv.entries }

func (s *Store) getOrCreateStream(key string) (*streamValue, error) {
	e, exists := s.lockedGet(key)
	if !exists {
		e = &Entry{Kind: KindStream, Stream: &streamValue{}}
		s.lockedSet(key, e)
		return e.Stream, nil
	}
	if e.Kind != KindStream {
		return nil, WrongTypeError{}
	}
	return e.Stream, nil
}

// XAdd appends fields under id. If id is nil, an ID is auto-generated
// from nowMs (ms part from the clock, seq auto-incremented within the
// same millisecond). If autoSeq is set ("<ms>-*" form), id.Seq is ignored
// and the sequence part is generated: the last seq + 1 when id.Ms equals
// the last entry's ms (so 0-* on an empty stream yields 0-1), else 0.
func (s *Store) XAdd(key string, id *StreamID, autoSeq bool, fields []string) (StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.getOrCreateStream(key)
	if err != nil {
		return StreamID{}, err
	}
	var newID StreamID
	switch {
	case id == nil:
		ms := s.clock.NowMs()
		if ms <= st.lastID.Ms {
			ms = st.lastID.Ms
			newID = StreamID{Ms: ms, Seq: st.lastID.Seq + 1}
		} else {
			newID = StreamID{Ms: ms, Seq: 0}
		}
	case autoSeq:
		if id.Ms == st.lastID.Ms {
			newID = StreamID{Ms: id.Ms, Seq: st.lastID.Seq + 1}
		} else {
			newID = StreamID{Ms: id.Ms, Seq: 0}
		}
	default:
		newID = *id
	}
	if newID == (StreamID{}) {
		return StreamID{}, ErrStreamIDZero
	}
	if !st.lastID.Less(newID) && len(st.entries) > 0 {
		return StreamID{}, ErrStreamIDTooSmall
	}
	st.entries = append(st.entries, StreamEntry{ID: newID, Fields: fields})
	st.lastID = newID
	s.notify(key)
	return newID, nil
}

func (s *Store) XLen(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return 0, nil
	}
	if e.Kind != KindStream {
		return 0, WrongTypeError{}
	}
	return int64(len(e.Stream.entries)), nil
}

// XRange returns entries with start <= ID <= end, in ascending order,
// up to count entries (0 = unlimited).
func (s *Store) XRange(key string, start, end StreamID, count int) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return nil, nil
	}
	if e.Kind != KindStream {
		return nil, WrongTypeError{}
	}
	var out []StreamEntry
	for _, ent := range e.Stream.entries {
		if ent.ID.Less(start) || end.Less(ent.ID) {
			continue
		}
		out = append(out, ent)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// XRangeRev is XREVRANGE: same bounds, descending order.
func (s *Store) XRangeRev(key string, start, end StreamID, count int) ([]StreamEntry, error) {
	fwd, err := s.XRange(key, start, end, 0)
	if err != nil {
		return nil, err
	}
	out := make([]StreamEntry, len(fwd))
	for i, e := range fwd {
		out[len(fwd)-1-i] = e
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// XLastID returns the stream's current last ID, used by XREAD BLOCK $ to
// freeze the read point at registration time.
func (s *Store) XLastID(key string) (StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return StreamID{}, nil
	}
	if e.Kind != KindStream {
		return StreamID{}, WrongTypeError{}
	}
	return e.Stream.lastID, nil
}

// XReadAfter returns entries with ID strictly greater than after, up to
// count (0 = unlimited). Used by XREAD, including its re-poll after a
// blocking wakeup.
func (s *Store) XReadAfter(key string, after StreamID, count int) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockedGet(key)
	if !ok {
		return nil, nil
	}
	if e.Kind != KindStream {
		return nil, WrongTypeError{}
	}
	var out []StreamEntry
	for _, ent := range e.Stream.entries {
		if !after.Less(ent.ID) {
			continue
		}
		out = append(out, ent)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}
