package vertex

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/determinant"
	"github.com/ThomasPf/Clonos/pkg/causal/log/thread"
	"github.com/ThomasPf/Clonos/pkg/common"
)

var ErrUnknownPartition = errors.New("clonos: unknown output partition")

// Partition describes one intermediate result partition this vertex
// produces and how many subpartitions it fans out to.
type Partition struct {
	ID            causal.PartitionID
	Subpartitions int
}

// LocalCausalLog owns the thread logs of the locally running vertex: the
// main-thread log plus one log per produced subpartition.
type LocalCausalLog interface {
	AppendDeterminant(d determinant.Determinant, epoch uint64) error
	AppendSubpartitionDeterminant(d determinant.Determinant, epoch uint64, partition causal.PartitionID, sub int) error
	RegisterDownstreamConsumer(consumer causal.ConsumerID, partition causal.PartitionID, sub int)
	UnregisterDownstreamConsumer(consumer causal.ConsumerID)
	GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) *VertexLogDelta
	NotifyCheckpointComplete(checkpointID uint64)
	NotifyDownstreamFailure(consumer causal.ConsumerID)
	MainThreadLogLength() int64
	SubpartitionLogLength(partition causal.PartitionID, sub int) int64
	Close()
}

type localVertexLog struct {
	vertexID         causal.VertexID
	mainThreadLog    thread.LocalCausalLog
	subpartitionLogs map[causal.PartitionKey]thread.LocalCausalLog

	mu                 sync.RWMutex
	consumerPartitions map[causal.ConsumerID]causal.PartitionKey
}

// NewLocalLog builds the local vertex log. The subpartition log set is
// fixed here; consumers attach to it at registration time.
func NewLocalLog(vertexID causal.VertexID, partitions []Partition, pool *common.SegmentPool, encoder determinant.Encoder) LocalCausalLog {
	subLogs := make(map[causal.PartitionKey]thread.LocalCausalLog)
	for _, p := range partitions {
		for sub := 0; sub < p.Subpartitions; sub++ {
			key := causal.PartitionKey{Partition: p.ID, Subpartition: sub}
			subLogs[key] = thread.NewLocalLog(pool, encoder)
		}
	}
	return &localVertexLog{
		vertexID:           vertexID,
		mainThreadLog:      thread.NewLocalLog(pool, encoder),
		subpartitionLogs:   subLogs,
		consumerPartitions: make(map[causal.ConsumerID]causal.PartitionKey),
	}
}

func (l *localVertexLog) AppendDeterminant(d determinant.Determinant, epoch uint64) error {
	return l.mainThreadLog.AppendDeterminant(d, epoch)
}

func (l *localVertexLog) AppendSubpartitionDeterminant(d determinant.Determinant, epoch uint64, partition causal.PartitionID, sub int) error {
	log, ok := l.subpartitionLogs[causal.PartitionKey{Partition: partition, Subpartition: sub}]
	if !ok {
		return ErrUnknownPartition
	}
	return log.AppendDeterminant(d, epoch)
}

// RegisterDownstreamConsumer records which subpartition the consumer
// reads. A consumer is causally affected only by that subpartition plus
// the main thread; cursor creation is deferred to the first read.
func (l *localVertexLog) RegisterDownstreamConsumer(consumer causal.ConsumerID, partition causal.PartitionID, sub int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	logrus.Debugf("Registering consumer %s on partition %s subpartition %d", consumer, partition, sub)
	l.consumerPartitions[consumer] = causal.PartitionKey{Partition: partition, Subpartition: sub}
}

func (l *localVertexLog) UnregisterDownstreamConsumer(consumer causal.ConsumerID) {
	l.mu.Lock()
	delete(l.consumerPartitions, consumer)
	l.mu.Unlock()
	l.mainThreadLog.Unregister(consumer)
	for _, log := range l.subpartitionLogs {
		log.Unregister(consumer)
	}
}

func (l *localVertexLog) GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) *VertexLogDelta {
	delta := NewVertexLogDelta(l.vertexID)
	if main := l.mainThreadLog.GetNextDeterminantsForDownstream(consumer, epoch); main.Size() > 0 {
		delta.MainThread = main
	}
	l.mu.RLock()
	key, ok := l.consumerPartitions[consumer]
	l.mu.RUnlock()
	if log, held := l.subpartitionLogs[key]; ok && held {
		sub := log.GetNextDeterminantsForDownstream(consumer, epoch)
		if sub.Size() > 0 {
			delta.AddSubpartitionDelta(key.Partition, key.Subpartition, sub)
		}
	}
	return delta
}

func (l *localVertexLog) NotifyCheckpointComplete(checkpointID uint64) {
	l.mainThreadLog.NotifyCheckpointComplete(checkpointID)
	for _, log := range l.subpartitionLogs {
		log.NotifyCheckpointComplete(checkpointID)
	}
}

func (l *localVertexLog) NotifyDownstreamFailure(consumer causal.ConsumerID) {
	l.mainThreadLog.NotifyDownstreamFailure(consumer)
	l.mu.RLock()
	key, ok := l.consumerPartitions[consumer]
	l.mu.RUnlock()
	if log, held := l.subpartitionLogs[key]; ok && held {
		log.NotifyDownstreamFailure(consumer)
	}
}

func (l *localVertexLog) MainThreadLogLength() int64 {
	return l.mainThreadLog.LogLength()
}

func (l *localVertexLog) SubpartitionLogLength(partition causal.PartitionID, sub int) int64 {
	log, ok := l.subpartitionLogs[causal.PartitionKey{Partition: partition, Subpartition: sub}]
	if !ok {
		return 0
	}
	return log.LogLength()
}

func (l *localVertexLog) Close() {
	l.mainThreadLog.Close()
	for _, log := range l.subpartitionLogs {
		log.Close()
	}
}
