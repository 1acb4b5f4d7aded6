package inflight

import (
	"time"

	"github.com/ThomasPf/Clonos/pkg/config"
)

type Type int

const (
	TypeInMemory Type = iota
	TypeSpillable
)

// Config is the in-flight logging view over the task configuration.
type Config struct {
	cfg *config.Configuration
}

func NewConfig(cfg *config.Configuration) Config {
	return Config{cfg: cfg}
}

func (c Config) Type() Type {
	switch c.cfg.GetString(config.InFlightLogTypeKey, config.DefaultInFlightLogType) {
	case "in_memory":
		return TypeInMemory
	default:
		return TypeSpillable
	}
}

func (c Config) SpillPolicyName() string {
	return c.cfg.GetString(config.InFlightSpillPolicyKey, config.DefaultSpillPolicy)
}

// PolicyIsSynchronous reports whether spilling happens on the write path
// instead of the policy poller.
func (c Config) PolicyIsSynchronous() bool {
	return c.SpillPolicyName() == "eager"
}

func (c Config) AvailabilityTrigger() float64 {
	return c.cfg.GetFloat(config.AvailabilityTriggerKey, config.DefaultAvailabilityTrigger)
}

func (c Config) NumRecoveryBuffers() int {
	return c.cfg.GetInt(config.NumRecoveryBuffersKey, config.DefaultNumRecoveryBuffers)
}

func (c Config) SleepInterval() time.Duration {
	return time.Duration(c.cfg.GetInt(config.SpillSleepKey, config.DefaultSpillSleepMs)) * time.Millisecond
}
