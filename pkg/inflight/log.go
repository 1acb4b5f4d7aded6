package inflight

import (
	"sync"

	"github.com/ThomasPf/Clonos/pkg/common"
)

// InFlightLog keeps the records sent downstream within each open epoch so
// a recovering standby can be resent exactly what the failed task sent.
// Replay consumption is the recovery manager's concern, not this one's.
type InFlightLog interface {
	Append(epoch uint64, record []byte) error
	NotifyCheckpointComplete(checkpointID uint64)
	EpochRecords(epoch uint64) int
	Close() error
}

// New selects the variant configured under inflight.type. The spillable
// variant writes records to a write-ahead store under dir as its spill
// policy decides.
func New(cfg Config, pool *common.SegmentPool, dir, name string) (InFlightLog, error) {
	if cfg.Type() == TypeInMemory {
		return NewInMemoryLog(), nil
	}
	return NewSpillableLog(cfg, pool, dir, name)
}

type inMemoryLog struct {
	mu     sync.Mutex
	epochs map[uint64][][]byte
	closed bool
}

func NewInMemoryLog() InFlightLog {
	return &inMemoryLog{epochs: make(map[uint64][][]byte)}
}

func (l *inMemoryLog) Append(epoch uint64, record []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.epochs[epoch] = append(l.epochs[epoch], record)
	return nil
}

// NotifyCheckpointComplete drops every epoch below the completed one,
// mirroring the causal log's retention boundary.
func (l *inMemoryLog) NotifyCheckpointComplete(checkpointID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for epoch := range l.epochs {
		if epoch < checkpointID {
			delete(l.epochs, epoch)
		}
	}
}

func (l *inMemoryLog) EpochRecords(epoch uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.epochs[epoch])
}

func (l *inMemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.epochs = make(map[uint64][][]byte)
	return nil
}
