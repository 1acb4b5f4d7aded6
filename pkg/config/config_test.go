package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, "spillable", cfg.GetString(InFlightLogTypeKey, DefaultInFlightLogType))
	assert.Equal(t, "eager", cfg.GetString(InFlightSpillPolicyKey, DefaultSpillPolicy))
	assert.Equal(t, 0.3, cfg.GetFloat(AvailabilityTriggerKey, DefaultAvailabilityTrigger))
	assert.Equal(t, 50, cfg.GetInt(NumRecoveryBuffersKey, DefaultNumRecoveryBuffers))
	assert.Equal(t, 1, cfg.SharingDepth())
	assert.Nil(t, cfg.Validate())
}

func TestFromMapOverrides(t *testing.T) {
	cfg := FromMap(map[string]interface{}{
		InFlightLogTypeKey:         "in_memory",
		DeterminantSharingDepthKey: -1,
		AvailabilityTriggerKey:     0.5,
	})
	assert.Equal(t, "in_memory", cfg.GetString(InFlightLogTypeKey, DefaultInFlightLogType))
	assert.Equal(t, -1, cfg.SharingDepth())
	assert.Equal(t, 0.5, cfg.GetFloat(AvailabilityTriggerKey, DefaultAvailabilityTrigger))
	assert.Nil(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	for _, values := range []map[string]interface{}{
		{InFlightLogTypeKey: "on_tape"},
		{InFlightSpillPolicyKey: "never"},
		{AvailabilityTriggerKey: 1.5},
		{NumRecoveryBuffersKey: 0},
		{SpillSleepKey: -1},
		{DeterminantSharingDepthKey: -2},
	} {
		assert.NotNil(t, FromMap(values).Validate())
	}
}

func TestLoadFileFlattensTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.toml")
	content := "[inflight]\ntype = \"in_memory\"\n\n[inflight.spill]\npolicy = \"epoch\"\nsleep_ms = 10\n\n[causal]\nsharing_depth = 2\n"
	assert.Nil(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, "in_memory", cfg.GetString(InFlightLogTypeKey, DefaultInFlightLogType))
	assert.Equal(t, "epoch", cfg.GetString(InFlightSpillPolicyKey, DefaultSpillPolicy))
	assert.Equal(t, 10, cfg.GetInt(SpillSleepKey, DefaultSpillSleepMs))
	assert.Equal(t, 2, cfg.SharingDepth())
	assert.Nil(t, cfg.Validate())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.NotNil(t, err)
}
