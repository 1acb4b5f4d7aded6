package thread

import (
	"sync"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/metrics"
	"github.com/ThomasPf/Clonos/pkg/common"
)

// UpstreamCausalLog accumulates deltas that arrive concurrently from peer
// replicas of one upstream thread. Writers serialize on the write side of
// the lock; delta reads share the read side and only contend on the
// cursor table.
type UpstreamCausalLog interface {
	CausalLog
	ProcessUpstreamCausalLogDelta(d *ThreadLogDelta, epoch uint64)
	GetDeterminants(startEpoch uint64) *ThreadLogDelta
}

type upstreamLog struct {
	mu        sync.RWMutex
	cursorsMu sync.Mutex
	base      logBase
}

func NewUpstreamLog(pool *common.SegmentPool) UpstreamCausalLog {
	return &upstreamLog{base: newLogBase(newSegmentedStore(pool))}
}

func NewUpstreamLogWithCircularStorage(startSize int) UpstreamCausalLog {
	return &upstreamLog{base: newLogBase(newCircularStore(startSize))}
}

// ProcessUpstreamCausalLogDelta applies an idempotent catch-up. A delta
// for an epoch older than the latest slice that holds no slice, and a
// delta that would extend a closed slice, are dropped. A delta fully
// below the epoch tip that fills no hole carries nothing new and is
// discarded; anything else is written at its logical position, since
// every replica derives the same byte sequence the rewrite of an already
// held range is a no-op. The post-state depends only on the set of
// ranges seen, not on arrival order.
func (u *upstreamLog) ProcessUpstreamCausalLogDelta(d *ThreadLogDelta, epoch uint64) {
	if d.Size() == 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.base.closed {
		return
	}
	latest := u.base.latestSliceLocked()
	s := u.base.sliceLocked(epoch)
	if s == nil {
		if latest != nil && epoch < latest.id {
			// The receiver has advanced past this epoch.
			metrics.StaleDeltasDiscarded.Inc()
			logrus.Debugf("Discarding delta for already reclaimed epoch %d", epoch)
			return
		}
		s = u.base.openSliceLocked(epoch)
		latest = s
	}
	tip := s.start + u.base.epochLenLocked(s)
	from := s.start + d.OffsetFromEpoch
	to := from + int64(len(d.Data))
	if to <= tip && !s.overlapsHole(from, to) {
		metrics.StaleDeltasDiscarded.Inc()
		logrus.Debugf("Discarding stale delta for epoch %d ending at %d", epoch, to-s.start)
		return
	}
	if s != latest && to > tip {
		// Extending a closed slice would overlap the next epoch's bytes.
		logrus.Warnf("Delta claims %d bytes for closed epoch %d holding %d, dropping", to-s.start, epoch, tip-s.start)
		metrics.StaleDeltasDiscarded.Inc()
		return
	}
	// Positioned write: replays of already held ranges rewrite identical
	// bytes, so the post-state depends only on the set of ranges seen,
	// whatever the arrival order.
	if err := u.base.store.WriteAt(from, d.Data); err != nil {
		logrus.Errorf("Failed to append upstream delta for epoch %d: %v", epoch, err)
		return
	}
	if from > tip {
		s.addHole(tip, from)
	}
	s.fillHoles(from, to)
}

func (u *upstreamLog) GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) *ThreadLogDelta {
	u.mu.RLock()
	defer u.mu.RUnlock()
	u.cursorsMu.Lock()
	defer u.cursorsMu.Unlock()
	return u.base.nextDeltaLocked(consumer, epoch)
}

// GetDeterminants serves bulk recovery: every byte from startEpoch to the
// current tip, as one delta anchored at the earliest retained slice not
// older than startEpoch.
func (u *upstreamLog) GetDeterminants(startEpoch uint64) *ThreadLogDelta {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.base.closed {
		return emptyDelta(startEpoch)
	}
	var s *epochSlice
	u.base.slices.AscendGreaterOrEqual(&epochSlice{id: startEpoch}, func(item btree.Item) bool {
		s = item.(*epochSlice)
		return false
	})
	if s == nil {
		return emptyDelta(startEpoch)
	}
	return &ThreadLogDelta{
		EpochID: s.id,
		Data:    u.base.store.Read(s.start, u.base.store.WriteOffset()),
	}
}

func (u *upstreamLog) NotifyCheckpointComplete(checkpointID uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cursorsMu.Lock()
	defer u.cursorsMu.Unlock()
	u.base.reclaimLocked(checkpointID)
}

func (u *upstreamLog) NotifyDownstreamFailure(consumer causal.ConsumerID) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	u.cursorsMu.Lock()
	defer u.cursorsMu.Unlock()
	u.base.resetCursorLocked(consumer)
}

func (u *upstreamLog) Unregister(consumer causal.ConsumerID) {
	u.cursorsMu.Lock()
	defer u.cursorsMu.Unlock()
	delete(u.base.cursors, consumer)
}

func (u *upstreamLog) LogLength() int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.base.store.Size()
}

func (u *upstreamLog) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cursorsMu.Lock()
	defer u.cursorsMu.Unlock()
	u.base.closeLocked()
}
