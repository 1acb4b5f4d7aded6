package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/determinant"
	"github.com/ThomasPf/Clonos/pkg/causal/log/job"
	"github.com/ThomasPf/Clonos/pkg/causal/log/vertex"
	"github.com/ThomasPf/Clonos/pkg/common"
)

type captureSink struct {
	mu        sync.Mutex
	delivered []deliveredBatch
}

type deliveredBatch struct {
	consumer causal.ConsumerID
	epoch    uint64
	deltas   []*vertex.VertexLogDelta
}

func (s *captureSink) Deliver(consumer causal.ConsumerID, epoch uint64, deltas []*vertex.VertexLogDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, deliveredBatch{consumer: consumer, epoch: epoch, deltas: deltas})
	return nil
}

func (s *captureSink) batches() []deliveredBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]deliveredBatch, len(s.delivered))
	copy(out, s.delivered)
	return out
}

func newDispatchJob(t *testing.T) (job.CausalLog, causal.PartitionID) {
	t.Helper()
	graph := causal.NewGraphInfo(causal.NewVertexID(), nil)
	partition := causal.NewPartitionID()
	pool := common.NewSegmentPool(64, 256)
	return job.NewCausalLog(graph, []vertex.Partition{{ID: partition, Subpartitions: 1}}, 1, pool, new(sync.Mutex)), partition
}

func TestDispatcherDeliversAssembledDeltas(t *testing.T) {
	defer goleak.VerifyNone(t)

	causalLog, partition := newDispatchJob(t)
	defer causalLog.Close()
	sink := new(captureSink)
	dispatcher, err := NewDispatcher(causalLog, sink, 128, 2)
	assert.Nil(t, err)
	dispatcher.Start()

	consumer := causal.NewConsumerID()
	causalLog.RegisterDownstreamConsumer(consumer, partition, 0)
	assert.Nil(t, causalLog.AppendDeterminant(determinant.NewRNGDeterminant(7), 1))
	assert.Nil(t, dispatcher.Dispatch(consumer, 1))

	assert.Eventually(t, func() bool {
		return len(sink.batches()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	batch := sink.batches()[0]
	assert.Equal(t, consumer, batch.consumer)
	assert.Equal(t, uint64(1), batch.epoch)
	assert.Equal(t, 1, len(batch.deltas))
	assert.True(t, batch.deltas[0].HasUpdates())

	dispatcher.Stop()
	dispatcher.Stop()
}

func TestDispatcherSkipsEmptyDeltaSets(t *testing.T) {
	defer goleak.VerifyNone(t)

	causalLog, _ := newDispatchJob(t)
	defer causalLog.Close()
	sink := new(captureSink)
	dispatcher, err := NewDispatcher(causalLog, sink, 16, 1)
	assert.Nil(t, err)
	dispatcher.Start()

	assert.Nil(t, dispatcher.Dispatch(causal.NewConsumerID(), 1))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, len(sink.batches()))

	dispatcher.Stop()
}

func TestDispatchOnFullQueueFails(t *testing.T) {
	causalLog, _ := newDispatchJob(t)
	defer causalLog.Close()
	dispatcher, err := NewDispatcher(causalLog, new(captureSink), 2, 1)
	assert.Nil(t, err)
	// Never started: the queue only fills.
	consumer := causal.NewConsumerID()
	for i := 0; ; i++ {
		if err := dispatcher.Dispatch(consumer, 1); err != nil {
			assert.Equal(t, ErrQueueFull, err)
			break
		}
		assert.Less(t, i, 16)
	}
	dispatcher.Stop()
}
