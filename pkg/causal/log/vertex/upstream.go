package vertex

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/log/thread"
	"github.com/ThomasPf/Clonos/pkg/common"
)

// UpstreamCausalLog mirrors one upstream vertex's log out of the deltas
// its replicas send us. Determinants arrive pre-flattened, so unlike the
// local log there is no consumer-to-subpartition routing: every consumer
// receives everything this log holds.
type UpstreamCausalLog interface {
	ProcessUpstreamCausalLogDelta(d *VertexLogDelta, epoch uint64)
	GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) *VertexLogDelta
	GetDeterminants(startEpoch uint64) *VertexLogDelta
	RegisterDownstreamConsumer(consumer causal.ConsumerID, partition causal.PartitionID, sub int)
	UnregisterDownstreamConsumer(consumer causal.ConsumerID)
	NotifyCheckpointComplete(checkpointID uint64)
	NotifyDownstreamFailure(consumer causal.ConsumerID)
	Close()
}

type upstreamVertexLog struct {
	vertexID      causal.VertexID
	pool          *common.SegmentPool
	mainThreadLog thread.UpstreamCausalLog

	mu               sync.RWMutex
	subpartitionLogs map[causal.PartitionKey]thread.UpstreamCausalLog
	closed           bool
}

func NewUpstreamLog(vertexID causal.VertexID, pool *common.SegmentPool) UpstreamCausalLog {
	return &upstreamVertexLog{
		vertexID:         vertexID,
		pool:             pool,
		mainThreadLog:    thread.NewUpstreamLog(pool),
		subpartitionLogs: make(map[causal.PartitionKey]thread.UpstreamCausalLog),
	}
}

func (u *upstreamVertexLog) subpartitionLog(key causal.PartitionKey) thread.UpstreamCausalLog {
	u.mu.RLock()
	log, ok := u.subpartitionLogs[key]
	u.mu.RUnlock()
	if ok {
		return log
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if log, ok = u.subpartitionLogs[key]; ok {
		return log
	}
	if u.closed {
		return nil
	}
	log = thread.NewUpstreamLog(u.pool)
	u.subpartitionLogs[key] = log
	return log
}

// ProcessUpstreamCausalLogDelta routes each thread delta to its upstream
// thread log. Each thread delta is self-describing: its embedded epoch id
// wins over the message epoch, which matters for bulk recovery payloads
// anchored at older epochs.
func (u *upstreamVertexLog) ProcessUpstreamCausalLogDelta(d *VertexLogDelta, epoch uint64) {
	if d.MainThread.Size() > 0 {
		u.mainThreadLog.ProcessUpstreamCausalLogDelta(d.MainThread, d.MainThread.EpochID)
	}
	for partition, subs := range d.Partitions {
		for sub, t := range subs {
			if t.Size() == 0 {
				continue
			}
			key := causal.PartitionKey{Partition: partition, Subpartition: sub}
			if log := u.subpartitionLog(key); log != nil {
				log.ProcessUpstreamCausalLogDelta(t, t.EpochID)
			}
		}
	}
}

func (u *upstreamVertexLog) GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) *VertexLogDelta {
	delta := NewVertexLogDelta(u.vertexID)
	if main := u.mainThreadLog.GetNextDeterminantsForDownstream(consumer, epoch); main.Size() > 0 {
		delta.MainThread = main
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	for key, log := range u.subpartitionLogs {
		if t := log.GetNextDeterminantsForDownstream(consumer, epoch); t.Size() > 0 {
			delta.AddSubpartitionDelta(key.Partition, key.Subpartition, t)
		}
	}
	return delta
}

// GetDeterminants returns everything from startEpoch to the tip across
// all owned thread logs, preserving structure.
func (u *upstreamVertexLog) GetDeterminants(startEpoch uint64) *VertexLogDelta {
	delta := NewVertexLogDelta(u.vertexID)
	if main := u.mainThreadLog.GetDeterminants(startEpoch); main.Size() > 0 {
		delta.MainThread = main
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	for key, log := range u.subpartitionLogs {
		if t := log.GetDeterminants(startEpoch); t.Size() > 0 {
			delta.AddSubpartitionDelta(key.Partition, key.Subpartition, t)
		}
	}
	return delta
}

// Registration is a no-op here: cursors are created lazily on first read
// and every consumer reads the whole upstream log.
func (u *upstreamVertexLog) RegisterDownstreamConsumer(consumer causal.ConsumerID, partition causal.PartitionID, sub int) {
	logrus.Debugf("Registering consumer %s on upstream log of vertex %s", consumer, u.vertexID)
}

func (u *upstreamVertexLog) UnregisterDownstreamConsumer(consumer causal.ConsumerID) {
	u.mainThreadLog.Unregister(consumer)
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, log := range u.subpartitionLogs {
		log.Unregister(consumer)
	}
}

// Reclamation on upstream logs lags the local one by construction: the
// remote producer's completion clock may trail ours, which is safe, the
// cursor discipline never drops undelivered bytes.
func (u *upstreamVertexLog) NotifyCheckpointComplete(checkpointID uint64) {
	u.mainThreadLog.NotifyCheckpointComplete(checkpointID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, log := range u.subpartitionLogs {
		log.NotifyCheckpointComplete(checkpointID)
	}
}

func (u *upstreamVertexLog) NotifyDownstreamFailure(consumer causal.ConsumerID) {
	u.mainThreadLog.NotifyDownstreamFailure(consumer)
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, log := range u.subpartitionLogs {
		log.NotifyDownstreamFailure(consumer)
	}
}

func (u *upstreamVertexLog) Close() {
	u.mainThreadLog.Close()
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	for _, log := range u.subpartitionLogs {
		log.Close()
	}
}
