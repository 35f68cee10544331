package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadOverrides(t *testing.T) {
	t.Run("viper", func(t *testing.T) {
		v := viper.New()
		v.Set(keyAggregateCapacity, 1024)
		v.Set(keySIMD, false)
		c, err := Load(v)
		require.NoError(t, err)
		assert.Equal(t, 1024, c.AggregateCapacity)
		assert.False(t, c.SIMD)
		assert.Equal(t, Default().JoinCapacity, c.JoinCapacity)
	})
	t.Run("env", func(t *testing.T) {
		t.Setenv("GROUPHASH_JOIN_CAPACITY", "64")
		t.Setenv("GROUPHASH_LOG_LEVEL", "debug")
		c, err := Load(nil)
		require.NoError(t, err)
		assert.Equal(t, 64, c.JoinCapacity)
		assert.Equal(t, "debug", c.LogLevel)
	})
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "grouphash.yaml")
		require.NoError(t, os.WriteFile(path, []byte("aggregate_capacity: 256\nsimd: false\n"), 0o600))
		c, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 256, c.AggregateCapacity)
		assert.False(t, c.SIMD)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.AggregateCapacity = 0 },
		func(c *Config) { c.AggregateCapacity = 12 },
		func(c *Config) { c.JoinCapacity = 1 },
		func(c *Config) { c.LogLevel = "loud" },
	}
	for i, mutate := range bad {
		c := Default()
		mutate(&c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
	v := viper.New()
	v.Set(keyJoinCapacity, 3)
	_, err := Load(v)
	assert.Error(t, err)
}

func TestApplyLogLevel(t *testing.T) {
	saved := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(saved)
	c := Default()
	c.LogLevel = "warn"
	c.ApplyLogLevel()
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
