package thread

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/determinant"
	"github.com/ThomasPf/Clonos/pkg/common"
)

// LocalCausalLog is the single-producer flavor backing this replica's own
// thread. Append ordering comes from the vertex-wide producer lock held
// by the caller; the internal lock only fences appends against concurrent
// delta reads and reclamation.
type LocalCausalLog interface {
	CausalLog
	AppendDeterminant(d determinant.Determinant, epoch uint64) error
}

type localLog struct {
	mu      sync.RWMutex
	base    logBase
	encoder determinant.Encoder
}

// NewLocalLog builds a local thread log on pooled segments.
func NewLocalLog(pool *common.SegmentPool, encoder determinant.Encoder) LocalCausalLog {
	return &localLog{
		base:    newLogBase(newSegmentedStore(pool)),
		encoder: encoder,
	}
}

// NewLocalLogWithCircularStorage builds a local thread log on a growable
// circular array, for hosts without a segment pool.
func NewLocalLogWithCircularStorage(startSize int, encoder determinant.Encoder) LocalCausalLog {
	return &localLog{
		base:    newLogBase(newCircularStore(startSize)),
		encoder: encoder,
	}
}

func (l *localLog) AppendDeterminant(d determinant.Determinant, epoch uint64) error {
	buf, err := l.encoder.Encode(d)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.base.closed {
		return nil
	}
	l.base.openSliceLocked(epoch)
	return l.base.store.Append(buf)
}

func (l *localLog) GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) *ThreadLogDelta {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.base.nextDeltaLocked(consumer, epoch)
}

func (l *localLog) NotifyCheckpointComplete(checkpointID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base.reclaimLocked(checkpointID)
}

func (l *localLog) NotifyDownstreamFailure(consumer causal.ConsumerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	logrus.Debugf("Resetting cursor of consumer %s after downstream failure", consumer)
	l.base.resetCursorLocked(consumer)
}

func (l *localLog) Unregister(consumer causal.ConsumerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.base.cursors, consumer)
}

func (l *localLog) LogLength() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base.store.Size()
}

func (l *localLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base.closeLocked()
}
