package dispatch

import (
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"github.com/yireyun/go-queue"
	"go.uber.org/atomic"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/log/job"
	"github.com/ThomasPf/Clonos/pkg/causal/log/vertex"
)

var ErrQueueFull = errors.New("clonos: dispatch queue full")

// Sink receives assembled delta lists; the runtime's implementation
// piggybacks them on outgoing data messages.
type Sink interface {
	Deliver(consumer causal.ConsumerID, epoch uint64, deltas []*vertex.VertexLogDelta) error
}

type request struct {
	consumer causal.ConsumerID
	epoch    uint64
}

// Dispatcher decouples delta assembly from the producer: dispatch
// requests go through a lock-free queue and are served by a worker pool,
// so neither the producer thread nor the network threads block on each
// other.
type Dispatcher struct {
	causalLog job.CausalLog
	sink      Sink
	pending   *queue.EsQueue
	workers   *ants.Pool
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   *atomic.Bool
	stopped   *atomic.Bool
}

func NewDispatcher(causalLog job.CausalLog, sink Sink, queueSize uint32, workerCount int) (*Dispatcher, error) {
	workers, err := ants.NewPool(workerCount)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		causalLog: causalLog,
		sink:      sink,
		pending:   queue.NewQueue(queueSize),
		workers:   workers,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		started:   atomic.NewBool(false),
		stopped:   atomic.NewBool(false),
	}, nil
}

func (d *Dispatcher) Start() {
	if !d.started.CAS(false, true) {
		return
	}
	go d.drain()
}

// Dispatch enqueues a delta send for one consumer. The queue is bounded;
// a full queue pushes back on the caller instead of buffering unboundedly.
func (d *Dispatcher) Dispatch(consumer causal.ConsumerID, epoch uint64) error {
	ok, _ := d.pending.Put(&request{consumer: consumer, epoch: epoch})
	if !ok {
		return ErrQueueFull
	}
	return nil
}

func (d *Dispatcher) drain() {
	defer close(d.doneCh)
	for {
		req, ok, _ := d.pending.Get()
		if !ok {
			select {
			case <-d.stopCh:
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		r := req.(*request)
		if err := d.workers.Submit(func() { d.serve(r) }); err != nil {
			logrus.Errorf("Failed to submit dispatch for consumer %s: %v", r.consumer, err)
		}
	}
}

func (d *Dispatcher) serve(r *request) {
	deltas := d.causalLog.GetNextDeterminantsForDownstream(r.consumer, r.epoch)
	if len(deltas) == 0 {
		return
	}
	if err := d.sink.Deliver(r.consumer, r.epoch, deltas); err != nil {
		logrus.Errorf("Failed to deliver deltas to consumer %s: %v", r.consumer, err)
	}
}

// Stop drains nothing further; queued but unserved requests are dropped.
// Idempotent.
func (d *Dispatcher) Stop() {
	if !d.stopped.CAS(false, true) {
		return
	}
	if d.started.Load() {
		close(d.stopCh)
		<-d.doneCh
	}
	d.workers.Release()
}
