package inflight

import (
	"github.com/ThomasPf/Clonos/pkg/common"
)

// Policy decides when the spillable log writes pending records out. The
// poller invokes it every sleep interval; the eager policy instead runs
// on the write path.
type Policy func(*SpillableLog)

func EagerPolicy(l *SpillableLog) {
	l.FlushAllUnflushed()
}

// AvailabilityPolicy flushes once the buffer pool availability drops to
// or below the configured trigger.
func AvailabilityPolicy(pool *common.SegmentPool, trigger float64) Policy {
	return func(l *SpillableLog) {
		if pool.Availability() <= trigger {
			l.FlushAllUnflushed()
		}
	}
}

// EpochPolicy flushes an epoch once a later one has opened.
func EpochPolicy(l *SpillableLog) {
	l.FlushClosedEpochs()
}

func PolicyFor(cfg Config, pool *common.SegmentPool) Policy {
	switch cfg.SpillPolicyName() {
	case "availability":
		return AvailabilityPolicy(pool, cfg.AvailabilityTrigger())
	case "epoch":
		return EpochPolicy
	default:
		return EagerPolicy
	}
}
