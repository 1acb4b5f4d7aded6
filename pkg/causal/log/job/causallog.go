package job

import (
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/determinant"
	"github.com/ThomasPf/Clonos/pkg/causal/log/vertex"
	"github.com/ThomasPf/Clonos/pkg/common"
)

// CausalLog is the causal log of this task: the local vertex log plus a
// mirror of every upstream vertex log, built out of the deltas peer
// replicas send. It applies the sharing depth filter when handing deltas
// downstream and when answering recovery requests.
type CausalLog interface {
	AppendDeterminant(d determinant.Determinant, epoch uint64) error
	AppendSubpartitionDeterminant(d determinant.Determinant, epoch uint64, partition causal.PartitionID, sub int) error
	ProcessUpstreamVertexCausalLogDelta(d *vertex.VertexLogDelta, epoch uint64)
	RegisterDownstreamConsumer(consumer causal.ConsumerID, partition causal.PartitionID, sub int)
	UnregisterDownstreamConsumer(consumer causal.ConsumerID)
	GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) []*vertex.VertexLogDelta
	RespondToDeterminantRequest(vertexID causal.VertexID, startEpoch uint64) *DeterminantResponse
	NotifyCheckpointComplete(checkpointID uint64)
	NotifyDownstreamFailure(consumer causal.ConsumerID)
	Encoder() determinant.Encoder
	// ProducerLock is the vertex-wide lock owned by the operator runtime.
	// Callers of the append operations must hold it.
	ProducerLock() *sync.Mutex
	MainThreadLogLength() int64
	SubpartitionLogLength(partition causal.PartitionID, sub int) int64
	Close()
}

type jobCausalLog struct {
	graph        *causal.GraphInfo
	sharingDepth int
	encoder      determinant.Encoder
	pool         *common.SegmentPool
	localLog     vertex.LocalCausalLog

	// The vertex-wide producer lock is owned by the operator runtime and
	// shared by reference; appends must run under it. This component adds
	// no second lock on that critical section.
	lock *sync.Mutex

	mu           sync.RWMutex
	upstreamLogs map[causal.VertexID]vertex.UpstreamCausalLog
	closed       *atomic.Bool
}

// NewCausalLog wires the job level log for one task. Upstream logs are
// created lazily on first delta or first recovery request, avoiding a
// reachability analysis up front.
func NewCausalLog(graph *causal.GraphInfo, partitions []vertex.Partition, sharingDepth int, pool *common.SegmentPool, lock *sync.Mutex) CausalLog {
	encoder := determinant.NewEncoder()
	logrus.Infof("Creating job causal log for vertex %s with sharing depth %d and %d upstream vertexes",
		graph.VertexID, sharingDepth, len(graph.UpstreamVertexes()))
	return &jobCausalLog{
		graph:        graph,
		sharingDepth: sharingDepth,
		encoder:      encoder,
		pool:         pool,
		localLog:     vertex.NewLocalLog(graph.VertexID, partitions, pool, encoder),
		lock:         lock,
		upstreamLogs: make(map[causal.VertexID]vertex.UpstreamCausalLog),
		closed:       atomic.NewBool(false),
	}
}

func (j *jobCausalLog) Encoder() determinant.Encoder { return j.encoder }

func (j *jobCausalLog) ProducerLock() *sync.Mutex { return j.lock }

func (j *jobCausalLog) AppendDeterminant(d determinant.Determinant, epoch uint64) error {
	if j.closed.Load() {
		return nil
	}
	return j.localLog.AppendDeterminant(d, epoch)
}

func (j *jobCausalLog) AppendSubpartitionDeterminant(d determinant.Determinant, epoch uint64, partition causal.PartitionID, sub int) error {
	if j.closed.Load() {
		return nil
	}
	return j.localLog.AppendSubpartitionDeterminant(d, epoch, partition, sub)
}

func (j *jobCausalLog) upstreamLog(vertexID causal.VertexID) vertex.UpstreamCausalLog {
	j.mu.RLock()
	log, ok := j.upstreamLogs[vertexID]
	j.mu.RUnlock()
	if ok {
		return log
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if log, ok = j.upstreamLogs[vertexID]; ok {
		return log
	}
	log = vertex.NewUpstreamLog(vertexID, j.pool)
	j.upstreamLogs[vertexID] = log
	return log
}

func (j *jobCausalLog) ProcessUpstreamVertexCausalLogDelta(d *vertex.VertexLogDelta, epoch uint64) {
	if j.closed.Load() {
		return
	}
	j.upstreamLog(d.VertexID).ProcessUpstreamCausalLogDelta(d, epoch)
}

func (j *jobCausalLog) RegisterDownstreamConsumer(consumer causal.ConsumerID, partition causal.PartitionID, sub int) {
	logrus.Debugf("Registering consumer %s at job level", consumer)
	j.localLog.RegisterDownstreamConsumer(consumer, partition, sub)
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, log := range j.upstreamLogs {
		log.RegisterDownstreamConsumer(consumer, partition, sub)
	}
}

func (j *jobCausalLog) UnregisterDownstreamConsumer(consumer causal.ConsumerID) {
	j.localLog.UnregisterDownstreamConsumer(consumer)
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, log := range j.upstreamLogs {
		log.UnregisterDownstreamConsumer(consumer)
	}
}

// RespondToDeterminantRequest serves bulk recovery of an entire upstream
// log. Outside the sharing depth it answers found=false, telling the
// requester to try another replica. An empty upstream log is created if
// none exists so later streaming deltas have somewhere to land.
func (j *jobCausalLog) RespondToDeterminantRequest(vertexID causal.VertexID, startEpoch uint64) *DeterminantResponse {
	logrus.Debugf("Got determinant request for vertex %s from epoch %d", vertexID, startEpoch)
	if j.sharingDepth != causal.SharingDepthUnbounded {
		distance, ok := j.graph.DistanceTo(vertexID)
		if !ok || abs(distance) > j.sharingDepth {
			return &DeterminantResponse{VertexID: vertexID}
		}
	}
	delta := j.upstreamLog(vertexID).GetDeterminants(startEpoch)
	return &DeterminantResponse{Found: true, VertexID: vertexID, Delta: delta}
}

// GetNextDeterminantsForDownstream assembles the delta stream for one
// consumer: every upstream vertex within sharing depth of this vertex
// plus, unless the depth is zero, the local vertex. Empty deltas are
// elided; each delta is self-describing by vertex id so relative order
// is immaterial.
func (j *jobCausalLog) GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) []*vertex.VertexLogDelta {
	if j.closed.Load() {
		return nil
	}
	var results []*vertex.VertexLogDelta
	j.mu.RLock()
	logs := make(map[causal.VertexID]vertex.UpstreamCausalLog, len(j.upstreamLogs))
	for id, log := range j.upstreamLogs {
		logs[id] = log
	}
	j.mu.RUnlock()
	for id, log := range logs {
		if j.sharingDepth != causal.SharingDepthUnbounded {
			distance, ok := j.graph.DistanceTo(id)
			if !ok || abs(distance) > j.sharingDepth {
				continue
			}
		}
		if delta := log.GetNextDeterminantsForDownstream(consumer, epoch); delta.HasUpdates() {
			results = append(results, delta)
		}
	}
	if j.sharingDepth != 0 {
		if delta := j.localLog.GetNextDeterminantsForDownstream(consumer, epoch); delta.HasUpdates() {
			results = append(results, delta)
		}
	}
	return results
}

func (j *jobCausalLog) NotifyCheckpointComplete(checkpointID uint64) {
	logrus.Debugf("Processing checkpoint complete notification for id %d", checkpointID)
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, log := range j.upstreamLogs {
		log.NotifyCheckpointComplete(checkpointID)
	}
	j.localLog.NotifyCheckpointComplete(checkpointID)
}

func (j *jobCausalLog) NotifyDownstreamFailure(consumer causal.ConsumerID) {
	logrus.Infof("Notified of downstream failure of consumer %s", consumer)
	j.localLog.NotifyDownstreamFailure(consumer)
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, log := range j.upstreamLogs {
		log.NotifyDownstreamFailure(consumer)
	}
}

func (j *jobCausalLog) MainThreadLogLength() int64 {
	return j.localLog.MainThreadLogLength()
}

func (j *jobCausalLog) SubpartitionLogLength(partition causal.PartitionID, sub int) int64 {
	return j.localLog.SubpartitionLogLength(partition, sub)
}

// Close is idempotent. The pool is destroyed lazily so in-flight network
// sends still referencing segments may complete.
func (j *jobCausalLog) Close() {
	if !j.closed.CAS(false, true) {
		return
	}
	j.localLog.Close()
	j.mu.Lock()
	for _, log := range j.upstreamLogs {
		log.Close()
	}
	j.mu.Unlock()
	j.pool.LazyDestroy()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
