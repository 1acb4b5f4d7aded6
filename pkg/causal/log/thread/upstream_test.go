package thread

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/common"
)

func newTestUpstreamLog() UpstreamCausalLog {
	return NewUpstreamLog(common.NewSegmentPool(64, 1024))
}

func TestIdempotentCatchUp(t *testing.T) {
	deltaA := &ThreadLogDelta{EpochID: 5, OffsetFromEpoch: 0, Data: []byte{0x00, 0x01, 0x02, 0x03}}
	deltaB := &ThreadLogDelta{EpochID: 5, OffsetFromEpoch: 2, Data: []byte{0x02, 0x03, 0x04, 0x05}}
	want := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}

	for _, order := range [][]*ThreadLogDelta{{deltaA, deltaB}, {deltaB, deltaA}} {
		log := newTestUpstreamLog()
		for _, d := range order {
			log.ProcessUpstreamCausalLogDelta(d, 5)
		}
		consumer := causal.NewConsumerID()
		assert.Equal(t, want, log.GetNextDeterminantsForDownstream(consumer, 5).Data)
		assert.Equal(t, int64(6), log.LogLength())
		log.Close()
	}
}

func TestFullyContainedDeltaIsDiscarded(t *testing.T) {
	log := newTestUpstreamLog()
	defer log.Close()

	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 3, Data: []byte{1, 2, 3, 4}}, 3)
	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 3, OffsetFromEpoch: 1, Data: []byte{2, 3}}, 3)
	assert.Equal(t, int64(4), log.LogLength())
}

func TestDeltaForReclaimedEpochIsDiscarded(t *testing.T) {
	log := newTestUpstreamLog()
	defer log.Close()

	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 1, Data: []byte{1, 2}}, 1)
	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 2, Data: []byte{3, 4}}, 2)
	log.NotifyCheckpointComplete(2)

	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 1, Data: []byte{1, 2}}, 1)
	assert.Equal(t, int64(2), log.LogLength())
}

func TestConcurrentProducersConverge(t *testing.T) {
	log := newTestUpstreamLog()
	defer log.Close()

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for end := 16; end <= len(payload); end += 16 {
				start := end - 16
				log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{
					EpochID:         1,
					OffsetFromEpoch: int64(start),
					Data:            payload[start:end],
				}, 1)
			}
		}()
	}
	wg.Wait()

	consumer := causal.NewConsumerID()
	assert.Equal(t, payload, log.GetNextDeterminantsForDownstream(consumer, 1).Data)
}

func TestGetDeterminantsReturnsFromStartEpoch(t *testing.T) {
	log := newTestUpstreamLog()
	defer log.Close()

	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 1, Data: []byte{1}}, 1)
	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 2, Data: []byte{2, 2}}, 2)
	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 3, Data: []byte{3, 3, 3}}, 3)

	all := log.GetDeterminants(2)
	assert.Equal(t, uint64(2), all.EpochID)
	assert.Equal(t, int64(0), all.OffsetFromEpoch)
	assert.Equal(t, []byte{2, 2, 3, 3, 3}, all.Data)

	assert.Equal(t, 0, log.GetDeterminants(9).Size())
}

func TestUpstreamCursorsTrackTheTip(t *testing.T) {
	log := newTestUpstreamLog()
	defer log.Close()
	consumer := causal.NewConsumerID()

	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 1, Data: []byte{1, 2}}, 1)
	assert.Equal(t, []byte{1, 2}, log.GetNextDeterminantsForDownstream(consumer, 1).Data)

	log.ProcessUpstreamCausalLogDelta(&ThreadLogDelta{EpochID: 1, Data: []byte{1, 2, 3}}, 1)
	next := log.GetNextDeterminantsForDownstream(consumer, 1)
	assert.Equal(t, int64(2), next.OffsetFromEpoch)
	assert.Equal(t, []byte{3}, next.Data)
}
