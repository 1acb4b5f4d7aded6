package thread

import (
	"sync"

	"github.com/ThomasPf/Clonos/pkg/common"
)

// logStore is the byte-level backing of a thread causal log. Offsets are
// logical total-bytes-written counters, monotone for the lifetime of the
// log; the two implementations map them to physical storage differently.
type logStore interface {
	Append(p []byte) error
	// WriteAt places p at logical offset off, extending the store as
	// needed. Rewriting an already written range is allowed; the upstream
	// catch-up protocol rewrites identical bytes.
	WriteAt(off int64, p []byte) error
	// Read copies the logical range [from, to) out of the store.
	Read(from, to int64) []byte
	// ReleaseBefore allows the store to reclaim everything below off.
	ReleaseBefore(off int64)
	Size() int64
	WriteOffset() int64
	Close()
}

// segmentedStore backs the log with fixed-size segments from a shared
// pool. Growth never relocates bytes, it only requests another segment.
type segmentedStore struct {
	mu          sync.Mutex
	pool        *common.SegmentPool
	segSize     int64
	segs        []*common.Segment
	firstSegOff int64
	headOff     int64
	writeOff    int64
	closed      bool
}

func newSegmentedStore(pool *common.SegmentPool) *segmentedStore {
	return &segmentedStore{
		pool:    pool,
		segSize: int64(pool.SegmentSize()),
	}
}

func (s *segmentedStore) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtLocked(s.writeOff, p)
}

func (s *segmentedStore) WriteAt(off int64, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtLocked(off, p)
}

func (s *segmentedStore) writeAtLocked(off int64, p []byte) error {
	if s.closed || len(p) == 0 {
		return nil
	}
	if off < s.firstSegOff {
		skip := s.firstSegOff - off
		if skip >= int64(len(p)) {
			return nil
		}
		p = p[skip:]
		off = s.firstSegOff
	}
	end := off + int64(len(p))
	for s.firstSegOff+int64(len(s.segs))*s.segSize < end {
		seg, err := s.pool.Request()
		if err != nil {
			return err
		}
		s.segs = append(s.segs, seg)
	}
	for len(p) > 0 {
		idx := (off - s.firstSegOff) / s.segSize
		segOff := off - (s.firstSegOff + idx*s.segSize)
		n := copy(s.segs[idx].Bytes()[segOff:], p)
		off += int64(n)
		p = p[n:]
	}
	if end > s.writeOff {
		s.writeOff = end
	}
	return nil
}

func (s *segmentedStore) Read(from, to int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || to <= from {
		return nil
	}
	if from < s.firstSegOff {
		from = s.firstSegOff
	}
	if to > s.writeOff {
		to = s.writeOff
	}
	out := make([]byte, 0, to-from)
	for off := from; off < to; {
		idx := (off - s.firstSegOff) / s.segSize
		segOff := off - (s.firstSegOff + idx*s.segSize)
		n := s.segSize - segOff
		if off+n > to {
			n = to - off
		}
		out = append(out, s.segs[idx].Bytes()[segOff:segOff+n]...)
		off += n
	}
	return out
}

func (s *segmentedStore) ReleaseBefore(off int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if off > s.headOff {
		s.headOff = off
	}
	for len(s.segs) > 0 && s.firstSegOff+s.segSize <= s.headOff {
		s.segs[0].Release()
		s.segs = s.segs[1:]
		s.firstSegOff += s.segSize
	}
}

func (s *segmentedStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.writeOff - s.headOff
}

func (s *segmentedStore) WriteOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOff
}

func (s *segmentedStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, seg := range s.segs {
		seg.Release()
	}
	s.segs = nil
}

// circularStore backs the log with one growable circular byte array.
// Growth doubles the array and compacts live bytes to physical index 0;
// logical offsets are unaffected, only the internal physical mapping
// shifts.
type circularStore struct {
	buf       []byte
	physStart int
	headOff   int64
	writeOff  int64
	closed    bool
}

const defaultCircularStartSize = 65536

func newCircularStore(startSize int) *circularStore {
	if startSize <= 0 {
		startSize = defaultCircularStartSize
	}
	return &circularStore{buf: make([]byte, startSize)}
}

func (s *circularStore) size() int64 { return s.writeOff - s.headOff }

func (s *circularStore) physical(off int64) int {
	return int((int64(s.physStart) + (off - s.headOff)) % int64(len(s.buf)))
}

func (s *circularStore) Append(p []byte) error {
	return s.WriteAt(s.writeOff, p)
}

func (s *circularStore) WriteAt(off int64, p []byte) error {
	if s.closed || len(p) == 0 {
		return nil
	}
	if off < s.headOff {
		skip := s.headOff - off
		if skip >= int64(len(p)) {
			return nil
		}
		p = p[skip:]
		off = s.headOff
	}
	end := off + int64(len(p))
	for end > s.writeOff && int64(len(s.buf)) < end-s.headOff {
		s.grow()
	}
	start := s.physical(off)
	n := copy(s.buf[start:], p)
	if n < len(p) {
		copy(s.buf, p[n:])
	}
	if end > s.writeOff {
		s.writeOff = end
	}
	return nil
}

func (s *circularStore) grow() {
	newBuf := make([]byte, len(s.buf)*2)
	size := s.size()
	first := copy(newBuf, s.buf[s.physStart:])
	if int64(first) < size {
		copy(newBuf[first:], s.buf[:int(size)-first])
	}
	s.physStart = 0
	s.buf = newBuf
}

func (s *circularStore) Read(from, to int64) []byte {
	if s.closed || to <= from {
		return nil
	}
	if from < s.headOff {
		from = s.headOff
	}
	if to > s.writeOff {
		to = s.writeOff
	}
	out := make([]byte, to-from)
	start := s.physical(from)
	n := copy(out, s.buf[start:])
	if int64(n) < to-from {
		copy(out[n:], s.buf)
	}
	return out
}

func (s *circularStore) ReleaseBefore(off int64) {
	if s.closed || off <= s.headOff {
		return
	}
	if off > s.writeOff {
		off = s.writeOff
	}
	s.physStart = s.physical(off)
	s.headOff = off
}

func (s *circularStore) Size() int64 {
	if s.closed {
		return 0
	}
	return s.size()
}
func (s *circularStore) WriteOffset() int64 { return s.writeOff }

func (s *circularStore) Close() {
	s.closed = true
	s.buf = nil
}
