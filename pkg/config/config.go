package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Recognized option keys. Values come from the runtime as a flat
// key/value map; a TOML file with the same flat keys is also accepted.
const (
	InFlightLogTypeKey         = "inflight.type"
	InFlightSpillPolicyKey     = "inflight.spill.policy"
	AvailabilityTriggerKey     = "inflight.spill.availability_trigger"
	NumRecoveryBuffersKey      = "inflight.spill.num_recovery_buffers"
	SpillSleepKey              = "inflight.spill.sleep_ms"
	DeterminantSharingDepthKey = "causal.sharing_depth"
)

const (
	DefaultInFlightLogType     = "spillable"
	DefaultSpillPolicy         = "eager"
	DefaultAvailabilityTrigger = 0.3
	DefaultNumRecoveryBuffers  = 50
	DefaultSpillSleepMs        = 50
	DefaultSharingDepth        = 1
)

type Configuration struct {
	values map[string]interface{}
}

func New() *Configuration {
	return &Configuration{values: make(map[string]interface{})}
}

func FromMap(values map[string]interface{}) *Configuration {
	cfg := New()
	for k, v := range values {
		cfg.values[k] = v
	}
	return cfg
}

// LoadFile reads a TOML file of flat keys. Unknown keys are kept but
// never read; they are not an error.
func LoadFile(path string) (*Configuration, error) {
	values := make(map[string]interface{})
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return nil, err
	}
	return FromMap(flatten("", values)), nil
}

func flatten(prefix string, in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func (c *Configuration) Set(key string, value interface{}) {
	c.values[key] = value
}

func (c *Configuration) GetString(key, fallback string) string {
	if v, ok := c.values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func (c *Configuration) GetInt(key string, fallback int) int {
	switch v := c.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func (c *Configuration) GetFloat(key string, fallback float64) float64 {
	switch v := c.values[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// SharingDepth returns the determinant sharing depth d: 0 means local
// only, -1 means no limit.
func (c *Configuration) SharingDepth() int {
	return c.GetInt(DeterminantSharingDepthKey, DefaultSharingDepth)
}

// Validate rejects type mismatches and out-of-range values for the
// recognized keys.
func (c *Configuration) Validate() error {
	for key, v := range c.values {
		switch key {
		case InFlightLogTypeKey, InFlightSpillPolicyKey:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("clonos: %s must be a string, got %T", key, v)
			}
		case AvailabilityTriggerKey, NumRecoveryBuffersKey, SpillSleepKey, DeterminantSharingDepthKey:
			switch v.(type) {
			case int, int64, float64:
			default:
				return fmt.Errorf("clonos: %s must be a number, got %T", key, v)
			}
		}
	}
	switch c.GetString(InFlightLogTypeKey, DefaultInFlightLogType) {
	case "in_memory", "spillable":
	default:
		return fmt.Errorf("clonos: invalid %s: %v", InFlightLogTypeKey, c.values[InFlightLogTypeKey])
	}
	switch c.GetString(InFlightSpillPolicyKey, DefaultSpillPolicy) {
	case "eager", "availability", "epoch":
	default:
		return fmt.Errorf("clonos: invalid %s: %v", InFlightSpillPolicyKey, c.values[InFlightSpillPolicyKey])
	}
	if trigger := c.GetFloat(AvailabilityTriggerKey, DefaultAvailabilityTrigger); trigger < 0 || trigger > 1 {
		return fmt.Errorf("clonos: %s must be in [0,1], got %v", AvailabilityTriggerKey, trigger)
	}
	if buffers := c.GetInt(NumRecoveryBuffersKey, DefaultNumRecoveryBuffers); buffers < 1 {
		return fmt.Errorf("clonos: %s must be >= 1, got %d", NumRecoveryBuffersKey, buffers)
	}
	if sleep := c.GetInt(SpillSleepKey, DefaultSpillSleepMs); sleep < 0 {
		return fmt.Errorf("clonos: %s must be >= 0, got %d", SpillSleepKey, sleep)
	}
	if depth := c.SharingDepth(); depth < -1 {
		return fmt.Errorf("clonos: %s must be >= -1, got %d", DeterminantSharingDepthKey, depth)
	}
	return nil
}
