package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/determinant"
	"github.com/ThomasPf/Clonos/pkg/common"
)

func rngBytes(t *testing.T, numbers ...uint32) []byte {
	t.Helper()
	encoder := determinant.NewEncoder()
	var out []byte
	for _, n := range numbers {
		buf, err := encoder.Encode(determinant.NewRNGDeterminant(n))
		assert.Nil(t, err)
		out = append(out, buf...)
	}
	return out
}

func newTestLocalLog() LocalCausalLog {
	pool := common.NewSegmentPool(64, 1024)
	return NewLocalLog(pool, determinant.NewEncoder())
}

func TestSingleProducerSingleConsumerOneEpoch(t *testing.T) {
	log := newTestLocalLog()
	defer log.Close()
	consumer := causal.NewConsumerID()

	for _, n := range []uint32{7, 11, 13} {
		assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(n), 42))
	}

	delta := log.GetNextDeterminantsForDownstream(consumer, 42)
	assert.Equal(t, uint64(42), delta.EpochID)
	assert.Equal(t, int64(0), delta.OffsetFromEpoch)
	assert.Equal(t, 15, delta.Size())
	assert.Equal(t, rngBytes(t, 7, 11, 13), delta.Data)

	again := log.GetNextDeterminantsForDownstream(consumer, 42)
	assert.Equal(t, 0, again.Size())
}

func TestDeltasAreStrictContinuations(t *testing.T) {
	log := newTestLocalLog()
	defer log.Close()
	consumer := causal.NewConsumerID()

	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(1), 9))
	first := log.GetNextDeterminantsForDownstream(consumer, 9)
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(2), 9))
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(3), 9))
	second := log.GetNextDeterminantsForDownstream(consumer, 9)

	assert.Equal(t, int64(0), first.OffsetFromEpoch)
	assert.Equal(t, int64(5), second.OffsetFromEpoch)
	assert.Equal(t, rngBytes(t, 1, 2, 3), append(first.Data, second.Data...))
}

func TestEpochRolloverAndReclamation(t *testing.T) {
	log := newTestLocalLog()
	defer log.Close()
	consumer := causal.NewConsumerID()

	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(1), 1))
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(2), 2))
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(3), 3))
	assert.Equal(t, int64(15), log.LogLength())

	log.NotifyCheckpointComplete(2)
	assert.Equal(t, int64(10), log.LogLength())

	delta := log.GetNextDeterminantsForDownstream(consumer, 3)
	assert.Equal(t, rngBytes(t, 3), delta.Data)

	// Completion below the oldest retained epoch is a no-op, as is a
	// repeated notification.
	log.NotifyCheckpointComplete(2)
	log.NotifyCheckpointComplete(1)
	assert.Equal(t, int64(10), log.LogLength())
}

func TestReadsOlderThanRetainedAreEmpty(t *testing.T) {
	log := newTestLocalLog()
	defer log.Close()
	consumer := causal.NewConsumerID()

	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(1), 1))
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(2), 2))
	log.NotifyCheckpointComplete(2)

	delta := log.GetNextDeterminantsForDownstream(consumer, 1)
	assert.Equal(t, 0, delta.Size())
}

func TestDownstreamFailureReplaysFromEarliestRetained(t *testing.T) {
	log := newTestLocalLog()
	defer log.Close()
	consumer := causal.NewConsumerID()

	for epoch := uint64(5); epoch <= 7; epoch++ {
		assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(uint32(epoch)), epoch))
		delta := log.GetNextDeterminantsForDownstream(consumer, epoch)
		assert.Equal(t, 5, delta.Size())
	}
	assert.Equal(t, 0, log.GetNextDeterminantsForDownstream(consumer, 7).Size())

	log.NotifyDownstreamFailure(consumer)

	var replayed []byte
	for epoch := uint64(5); epoch <= 7; epoch++ {
		replayed = append(replayed, log.GetNextDeterminantsForDownstream(consumer, epoch).Data...)
	}
	assert.Equal(t, rngBytes(t, 5, 6, 7), replayed)
}

func TestCursorRebaseAfterReclamation(t *testing.T) {
	log := newTestLocalLog()
	defer log.Close()
	consumer := causal.NewConsumerID()

	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(1), 1))
	assert.Equal(t, 5, log.GetNextDeterminantsForDownstream(consumer, 1).Size())
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(2), 2))
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(3), 3))
	log.NotifyCheckpointComplete(3)

	// The cursor sat in epoch 1, which is gone; it must resume at the
	// earliest retained slice without loss.
	delta := log.GetNextDeterminantsForDownstream(consumer, 3)
	assert.Equal(t, rngBytes(t, 3), delta.Data)
}

func TestClosedLogIsInert(t *testing.T) {
	log := newTestLocalLog()
	consumer := causal.NewConsumerID()
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(1), 1))
	log.Close()
	log.Close()

	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(2), 1))
	assert.Equal(t, 0, log.GetNextDeterminantsForDownstream(consumer, 1).Size())
	assert.Equal(t, int64(0), log.LogLength())
}

func TestCircularStorageGrowthPreservesBytes(t *testing.T) {
	log := NewLocalLogWithCircularStorage(16, determinant.NewEncoder())
	defer log.Close()
	consumer := causal.NewConsumerID()

	var want []byte
	for i := uint32(0); i < 20; i++ {
		assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(i), 1))
		want = append(want, rngBytes(t, i)...)
	}
	delta := log.GetNextDeterminantsForDownstream(consumer, 1)
	assert.Equal(t, want, delta.Data)
}

func TestCircularStorageWrapAround(t *testing.T) {
	log := NewLocalLogWithCircularStorage(32, determinant.NewEncoder())
	defer log.Close()
	consumer := causal.NewConsumerID()

	// Fill, reclaim the head, then append past the physical end so the
	// live region straddles the wrap point.
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(1), 1))
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(2), 1))
	assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(3), 2))
	log.NotifyCheckpointComplete(2)

	for i := uint32(4); i < 8; i++ {
		assert.Nil(t, log.AppendDeterminant(determinant.NewRNGDeterminant(i), 2))
	}
	delta := log.GetNextDeterminantsForDownstream(consumer, 2)
	assert.Equal(t, rngBytes(t, 3, 4, 5, 6, 7), delta.Data)
}
