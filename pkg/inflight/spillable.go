package inflight

import (
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/jiangxinmeng1/logstore/pkg/store"
	"github.com/sirupsen/logrus"

	"github.com/ThomasPf/Clonos/pkg/common"
)

const etInFlightRecord = 1000

// SpillableLog keeps epochs in memory and writes their records to a
// write-ahead store according to the configured policy. Spilled records
// stay in memory until their epoch is dropped on checkpoint completion.
type SpillableLog struct {
	mu        sync.Mutex
	epochs    map[uint64][][]byte
	unflushed map[uint64][][]byte
	latest    uint64
	spilled   *roaring64.Bitmap
	seq       uint64

	driver store.Store
	policy Policy
	sleep  time.Duration
	eager  bool

	closeCh chan struct{}
	doneCh  chan struct{}
	closed  bool
}

func NewSpillableLog(cfg Config, pool *common.SegmentPool, dir, name string) (*SpillableLog, error) {
	driver, err := store.NewBaseStore(dir, name, nil)
	if err != nil {
		return nil, err
	}
	l := &SpillableLog{
		epochs:    make(map[uint64][][]byte),
		unflushed: make(map[uint64][][]byte),
		spilled:   roaring64.NewBitmap(),
		driver:    driver,
		policy:    PolicyFor(cfg, pool),
		sleep:     cfg.SleepInterval(),
		eager:     cfg.PolicyIsSynchronous(),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if !l.eager {
		go l.poll()
	} else {
		close(l.doneCh)
	}
	return l, nil
}

func (l *SpillableLog) Append(epoch uint64, record []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.epochs[epoch] = append(l.epochs[epoch], record)
	l.unflushed[epoch] = append(l.unflushed[epoch], record)
	if epoch > l.latest {
		l.latest = epoch
	}
	if l.eager {
		return l.flushEpochLocked(epoch)
	}
	return nil
}

func (l *SpillableLog) flushEpochLocked(epoch uint64) error {
	records := l.unflushed[epoch]
	if len(records) == 0 {
		return nil
	}
	for _, record := range records {
		e := entry.GetBase()
		e.SetType(etInFlightRecord)
		if err := e.Unmarshal(record); err != nil {
			return err
		}
		e.SetInfo(&entry.Info{CommitId: l.seq})
		l.seq++
		if _, err := l.driver.AppendEntry(entry.GTCustomizedStart, e); err != nil {
			return err
		}
		e.WaitDone()
		e.Free()
	}
	delete(l.unflushed, epoch)
	l.spilled.Add(epoch)
	return nil
}

// FlushAllUnflushed writes out every pending record. Used by the eager
// and availability policies.
func (l *SpillableLog) FlushAllUnflushed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for epoch := range l.unflushed {
		if err := l.flushEpochLocked(epoch); err != nil {
			logrus.Errorf("Failed to spill in-flight epoch %d: %v", epoch, err)
			return
		}
	}
}

// FlushClosedEpochs writes out pending records of every epoch except the
// latest open one. Used by the epoch policy.
func (l *SpillableLog) FlushClosedEpochs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for epoch := range l.unflushed {
		if epoch >= l.latest {
			continue
		}
		if err := l.flushEpochLocked(epoch); err != nil {
			logrus.Errorf("Failed to spill in-flight epoch %d: %v", epoch, err)
			return
		}
	}
}

func (l *SpillableLog) HasSpilled(epoch uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spilled.Contains(epoch)
}

func (l *SpillableLog) NotifyCheckpointComplete(checkpointID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for epoch := range l.epochs {
		if epoch < checkpointID {
			delete(l.epochs, epoch)
			delete(l.unflushed, epoch)
		}
	}
	if checkpointID > 0 {
		l.spilled.RemoveRange(0, checkpointID)
	}
}

func (l *SpillableLog) EpochRecords(epoch uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.epochs[epoch])
}

func (l *SpillableLog) poll() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.closeCh:
			return
		case <-time.After(l.sleep):
			l.policy(l)
		}
	}
}

func (l *SpillableLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.epochs = make(map[uint64][][]byte)
	l.unflushed = make(map[uint64][][]byte)
	l.mu.Unlock()
	if !l.eager {
		close(l.closeCh)
	}
	<-l.doneCh
	return l.driver.Close()
}
