package thread

import (
	"github.com/google/btree"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/metrics"
)

// CausalLog is the consumer-facing contract shared by the local and
// upstream thread log flavors.
type CausalLog interface {
	GetNextDeterminantsForDownstream(consumer causal.ConsumerID, epoch uint64) *ThreadLogDelta
	NotifyCheckpointComplete(checkpointID uint64)
	NotifyDownstreamFailure(consumer causal.ConsumerID)
	Unregister(consumer causal.ConsumerID)
	LogLength() int64
	Close()
}

// epochSlice pins the byte range of one epoch: it starts at start and
// ends where the next slice starts, or at the writer position while the
// epoch is still open. Out-of-order upstream deltas may leave holes
// below the tip; they are tracked so a late delta that fills one is not
// mistaken for a stale replay.
type epochSlice struct {
	id    uint64
	start int64
	holes [][2]int64
}

func (s *epochSlice) Less(than btree.Item) bool {
	return s.id < than.(*epochSlice).id
}

func (s *epochSlice) addHole(from, to int64) {
	if to > from {
		s.holes = append(s.holes, [2]int64{from, to})
	}
}

func (s *epochSlice) overlapsHole(from, to int64) bool {
	for _, h := range s.holes {
		if from < h[1] && h[0] < to {
			return true
		}
	}
	return false
}

func (s *epochSlice) fillHoles(from, to int64) {
	if len(s.holes) == 0 {
		return
	}
	kept := make([][2]int64, 0, len(s.holes))
	for _, h := range s.holes {
		if from < h[1] && h[0] < to {
			if h[0] < from {
				kept = append(kept, [2]int64{h[0], from})
			}
			if to < h[1] {
				kept = append(kept, [2]int64{to, h[1]})
			}
			continue
		}
		kept = append(kept, h)
	}
	s.holes = kept
}

// consumerCursor marks the next byte a downstream consumer will receive,
// as (epoch, logical offset within that epoch).
type consumerCursor struct {
	epochID uint64
	offset  int64
}

// logBase holds the storage, the epoch slice index and the per-consumer
// cursors. Callers synchronize; every method assumes the owner's lock.
type logBase struct {
	store   logStore
	slices  *btree.BTree
	cursors map[causal.ConsumerID]*consumerCursor
	closed  bool
}

func newLogBase(store logStore) logBase {
	return logBase{
		store:   store,
		slices:  btree.New(2),
		cursors: make(map[causal.ConsumerID]*consumerCursor),
	}
}

func (b *logBase) earliestSliceLocked() *epochSlice {
	if item := b.slices.Min(); item != nil {
		return item.(*epochSlice)
	}
	return nil
}

func (b *logBase) latestSliceLocked() *epochSlice {
	if item := b.slices.Max(); item != nil {
		return item.(*epochSlice)
	}
	return nil
}

func (b *logBase) sliceLocked(epoch uint64) *epochSlice {
	if item := b.slices.Get(&epochSlice{id: epoch}); item != nil {
		return item.(*epochSlice)
	}
	return nil
}

// openSliceLocked returns the slice for epoch, opening a new one pinned
// at the writer position on the first write of the epoch. Epochs only
// move forward: the producer drives them off checkpoint barriers.
func (b *logBase) openSliceLocked(epoch uint64) *epochSlice {
	if latest := b.latestSliceLocked(); latest != nil {
		if latest.id == epoch {
			return latest
		}
		if epoch < latest.id {
			panic("not expected")
		}
	}
	s := &epochSlice{id: epoch, start: b.store.WriteOffset()}
	b.slices.ReplaceOrInsert(s)
	return s
}

// epochLenLocked is the current logical length of the slice's epoch.
func (b *logBase) epochLenLocked(s *epochSlice) int64 {
	end := b.store.WriteOffset()
	b.slices.AscendGreaterOrEqual(&epochSlice{id: s.id + 1}, func(item btree.Item) bool {
		end = item.(*epochSlice).start
		return false
	})
	return end - s.start
}

func (b *logBase) cursorLocked(consumer causal.ConsumerID, epoch uint64) *consumerCursor {
	cur, ok := b.cursors[consumer]
	if !ok {
		cur = &consumerCursor{epochID: epoch}
		b.cursors[consumer] = cur
		metrics.ConsumersLazilyCreated.Inc()
	}
	return cur
}

// nextDeltaLocked implements the consumer-cursor algorithm: emit the
// bytes between the cursor and the writer position within epoch, then
// advance the cursor to the writer position.
func (b *logBase) nextDeltaLocked(consumer causal.ConsumerID, epoch uint64) *ThreadLogDelta {
	if b.closed {
		return emptyDelta(epoch)
	}
	cur := b.cursorLocked(consumer, epoch)
	earliest := b.earliestSliceLocked()
	if earliest == nil || epoch < earliest.id {
		// Epoch is older than anything retained, or nothing was written yet.
		return emptyDelta(epoch)
	}
	if cur.epochID != epoch {
		if epoch < cur.epochID {
			return emptyDelta(epoch)
		}
		cur.epochID = epoch
		cur.offset = 0
	}
	s := b.sliceLocked(epoch)
	if s == nil {
		return emptyDelta(epoch)
	}
	length := b.epochLenLocked(s)
	if cur.offset > length {
		panic("not expected")
	}
	if cur.offset == length {
		return emptyDelta(epoch)
	}
	d := &ThreadLogDelta{
		EpochID:         epoch,
		OffsetFromEpoch: cur.offset,
		Data:            b.store.Read(s.start+cur.offset, s.start+length),
	}
	cur.offset = length
	return d
}

// reclaimLocked drops every slice with id < checkpointID, keeping the
// just-completed slice and the open one. Cursors left pointing into a
// reclaimed slice are rebased to the new earliest slice at offset 0.
// Repeated notifications for the same checkpoint are no-ops.
func (b *logBase) reclaimLocked(checkpointID uint64) {
	if b.closed {
		return
	}
	latest := b.latestSliceLocked()
	var victims []*epochSlice
	b.slices.Ascend(func(item btree.Item) bool {
		s := item.(*epochSlice)
		if s.id >= checkpointID || s == latest {
			return false
		}
		victims = append(victims, s)
		return true
	})
	if len(victims) == 0 {
		return
	}
	for _, s := range victims {
		b.slices.Delete(s)
	}
	earliest := b.earliestSliceLocked()
	b.store.ReleaseBefore(earliest.start)
	for _, cur := range b.cursors {
		if cur.epochID < earliest.id {
			cur.epochID = earliest.id
			cur.offset = 0
		}
	}
}

// resetCursorLocked rewinds a consumer to the earliest retained epoch so
// a replacement replica replays from the oldest in-scope determinant.
func (b *logBase) resetCursorLocked(consumer causal.ConsumerID) {
	cur := &consumerCursor{}
	if earliest := b.earliestSliceLocked(); earliest != nil {
		cur.epochID = earliest.id
	}
	b.cursors[consumer] = cur
}

func (b *logBase) closeLocked() {
	if b.closed {
		return
	}
	b.closed = true
	b.store.Close()
	b.slices = btree.New(2)
	b.cursors = make(map[causal.ConsumerID]*consumerCursor)
}
