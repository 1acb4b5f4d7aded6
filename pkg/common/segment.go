package common

import (
	"errors"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	ErrCapacity      = errors.New("clonos: segment pool exhausted")
	ErrPoolDestroyed = errors.New("clonos: segment pool destroyed")
)

const DefaultSegmentSize = 32 * 1024

// Segment is a fixed-size byte buffer handed out by a SegmentPool. It is
// reference counted: the pool holds one reference on request, readers that
// keep the bytes alive past the owner's reclamation must Retain their own.
type Segment struct {
	buf  []byte
	pool *SegmentPool
	refs *atomic.Int32
}

func (s *Segment) Bytes() []byte { return s.buf }

func (s *Segment) Retain() {
	s.refs.Add(1)
}

func (s *Segment) Release() {
	if left := s.refs.Sub(1); left == 0 {
		s.pool.recycle(s)
	} else if left < 0 {
		panic("not expected")
	}
}

// SegmentPool is a task-scoped pool of equally sized segments. Request
// fails with ErrCapacity once maxSegments are outstanding. LazyDestroy
// marks the pool dead but lets outstanding segments drain: they are
// dropped instead of recycled once released.
type SegmentPool struct {
	segmentSize int
	maxSegments int
	free        chan *Segment
	outstanding *atomic.Int32
	destroyed   *atomic.Bool
}

func NewSegmentPool(segmentSize, maxSegments int) *SegmentPool {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if maxSegments <= 0 {
		maxSegments = 128
	}
	return &SegmentPool{
		segmentSize: segmentSize,
		maxSegments: maxSegments,
		free:        make(chan *Segment, maxSegments),
		outstanding: atomic.NewInt32(0),
		destroyed:   atomic.NewBool(false),
	}
}

func (p *SegmentPool) SegmentSize() int { return p.segmentSize }

func (p *SegmentPool) Request() (*Segment, error) {
	if p.destroyed.Load() {
		return nil, ErrPoolDestroyed
	}
	select {
	case seg := <-p.free:
		seg.refs.Store(1)
		p.outstanding.Add(1)
		return seg, nil
	default:
	}
	for {
		curr := p.outstanding.Load()
		if int(curr) >= p.maxSegments {
			return nil, ErrCapacity
		}
		if p.outstanding.CAS(curr, curr+1) {
			break
		}
	}
	return &Segment{
		buf:  make([]byte, p.segmentSize),
		pool: p,
		refs: atomic.NewInt32(1),
	}, nil
}

func (p *SegmentPool) recycle(s *Segment) {
	p.outstanding.Sub(1)
	if p.destroyed.Load() {
		return
	}
	select {
	case p.free <- s:
	default:
	}
}

// Availability is the fraction of the pool still requestable, in [0, 1].
func (p *SegmentPool) Availability() float64 {
	out := int(p.outstanding.Load())
	if out >= p.maxSegments {
		return 0
	}
	return float64(p.maxSegments-out) / float64(p.maxSegments)
}

func (p *SegmentPool) LazyDestroy() {
	if !p.destroyed.CAS(false, true) {
		return
	}
	logrus.Debugf("Lazily destroying segment pool, %d segments outstanding", p.outstanding.Load())
	for {
		select {
		case <-p.free:
		default:
			return
		}
	}
}
