// Package snapshot implements the point-in-time dump file: a compact,
// versioned encoding of every live key used both for --dbfilename at
// startup and for the payload a primary sends a replica during full
// resync. The on-disk shape is custom to this module (no pack example
// ships an RDB-compatible loader); the length-prefixed record framing
// follows the same style as internal/resp's wire codec.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mnorrsken/redigo/internal/storage"
)

func floatToBits(f float64) uint64 { return math.Float64bits(f) }
func bitsToFloat(b uint64) float64 { return math.Float64frombits(b) }

var magic = [8]byte{'R', 'E', 'D', 'I', 'G', 'O', '0', '1'}

// Write serializes every live entry in s to w.
func Write(w io.Writer, s *storage.Store) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	var writeErr error
	s.Snapshot(func(key string, e *storage.Entry) {
		if writeErr != nil {
			return
		}
		writeErr = writeEntry(bw, key, e)
	})
	if writeErr != nil {
		return writeErr
	}
	if err := writeUvarint(bw, 0xFFFFFFFF); err != nil { // end-of-stream marker
		return err
	}
	return bw.Flush()
}

// Load reads a snapshot produced by Write and installs every entry into s.
func Load(r io.Reader, s *storage.Store) error {
	br := bufio.NewReader(r)
	var got [8]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if got != magic {
		return fmt.Errorf("snapshot: bad magic header")
	}
	for {
		kind, err := binary.ReadUvarint(br)
		if err != nil {
			return err
		}
		if kind == 0xFFFFFFFF {
			return nil
		}
		key, e, err := readEntry(br, storage.Kind(kind))
		if err != nil {
			return err
		}
		s.LoadEntry(key, e)
	}
}

func writeUvarint(w io.Writer, v uint64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	_, err := w.Write(buf[:n])
	return err
}

func writeString(w io.Writer, s string) error {
	if err := writeUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeEntry(w io.Writer, key string, e *storage.Entry) error {
	if err := writeUvarint(w, uint64(e.Kind)); err != nil {
		return err
	}
	if err := writeString(w, key); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(e.ExpiresAt)); err != nil {
		return err
	}
	switch e.Kind {
	case storage.KindString:
		return writeString(w, string(e.Str))
	case storage.KindList:
		items := e.List.Items()
		if err := writeUvarint(w, uint64(len(items))); err != nil {
			return err
		}
		for _, it := range items {
			if err := writeString(w, string(it)); err != nil {
				return err
			}
		}
		return nil
	case storage.KindZSet:
		members := e.ZSet.Members()
		if err := writeUvarint(w, uint64(len(members))); err != nil {
			return err
		}
		for _, m := range members {
			if err := writeString(w, m.Member); err != nil {
				return err
			}
			bits := make([]byte, 8)
			binary.BigEndian.PutUint64(bits, floatToBits(m.Score))
			if _, err := w.Write(bits); err != nil {
				return err
			}
		}
		return nil
	case storage.KindStream:
		entries := e.Stream.Entries()
		if err := writeUvarint(w, uint64(len(entries))); err != nil {
			return err
		}
		for _, ent := range entries {
			if err := writeUvarint(w, uint64(ent.ID.Ms)); err != nil {
				return err
			}
			if err := writeUvarint(w, uint64(ent.ID.Seq)); err != nil {
				return err
			}
			if err := writeUvarint(w, uint64(len(ent.Fields))); err != nil {
				return err
			}
			for _, f := range ent.Fields {
				if err := writeString(w, f); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("snapshot: unknown kind %d", e.Kind)
	}
}

func readEntry(r *bufio.Reader, kind storage.Kind) (string, *storage.Entry, error) {
	key, err := readString(r)
	if err != nil {
		return "", nil, err
	}
	expires, err := binary.ReadUvarint(r)
	if err != nil {
		return "", nil, err
	}
	e := &storage.Entry{Kind: kind, ExpiresAt: int64(expires)}
	switch kind {
	case storage.KindString:
		s, err := readString(r)
		if err != nil {
			return "", nil, err
		}
		e.Str = []byte(s)
	case storage.KindList:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return "", nil, err
		}
		items := make([][]byte, n)
		for i := range items {
			s, err := readString(r)
			if err != nil {
				return "", nil, err
			}
			items[i] = []byte(s)
		}
		e.List = storage.NewListFromItems(items)
	case storage.KindZSet:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return "", nil, err
		}
		members := make(map[string]float64, n)
		for i := uint64(0); i < n; i++ {
			m, err := readString(r)
			if err != nil {
				return "", nil, err
			}
			bits := make([]byte, 8)
			if _, err := io.ReadFull(r, bits); err != nil {
				return "", nil, err
			}
			members[m] = bitsToFloat(binary.BigEndian.Uint64(bits))
		}
		e.ZSet = storage.NewZSetFromMembers(members)
	case storage.KindStream:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return "", nil, err
		}
		entries := make([]storage.StreamEntry, n)
		for i := range entries {
			ms, err := binary.ReadUvarint(r)
			if err != nil {
				return "", nil, err
			}
			seq, err := binary.ReadUvarint(r)
			if err != nil {
				return "", nil, err
			}
			fn, err := binary.ReadUvarint(r)
			if err != nil {
				return "", nil, err
			}
			fields := make([]string, fn)
			for j := range fields {
				fields[j], err = readString(r)
				if err != nil {
					return "", nil, err
				}
			}
			entries[i] = storage.StreamEntry{ID: storage.StreamID{Ms: int64(ms), Seq: int64(seq)}, Fields: fields}
		}
		e.Stream = storage.NewStreamFromEntries(entries)
	default:
		return "", nil, fmt.Errorf("snapshot: unknown kind %d", kind)
	}
	return key, e, nil
}

// SaveFile writes s to path atomically (write to a temp file, then rename).
func SaveFile(path string, s *storage.Store) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Write(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFile loads path into s, treating a missing file as an empty store.
func LoadFile(path string, s *storage.Store) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return Load(f, s)
}
