package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mortise.sock", cfg.ControlSocketPath)
	assert.Equal(t, "/tmp/mortise-py.sock", cfg.SidecarSocketPath)
	assert.Equal(t, uint32(1), cfg.DefaultObjectID)
	assert.Equal(t, int64(1024), cfg.MemlockLimitMB)
	assert.Equal(t, uint64(8192), cfg.NofileLimit)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("MORTISE_SOCK_PATH", "/tmp/other.sock")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.sock", cfg.ControlSocketPath)
}

func TestDefaultConnectOptionMatchesMortiseCopa(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	opt := cfg.DefaultConnectOption()
	require.Len(t, opt.SkArrayMaps, 2)
	assert.Equal(t, "mim_rtt", opt.SkArrayMaps[0].Mim)
	assert.Equal(t, uint32(16), opt.SkArrayMaps[0].ValueSize)
	assert.Equal(t, uint32(100000), opt.SkArrayMaps[0].MaxEntries)
	assert.Equal(t, "mim_increase", opt.SkArrayMaps[1].Mim)
	assert.Equal(t, uint32(8), opt.SkArrayMaps[1].ValueSize)
	assert.Equal(t, uint32(100000), opt.SkArrayMaps[1].MaxEntries)
}
