// Package config holds the tunables of the executor-facing operators.
package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "GROUPHASH"

const (
	keyAggregateCapacity = "aggregate_capacity"
	keyJoinCapacity      = "join_capacity"
	keySIMD              = "simd"
	keyLogLevel          = "log_level"
)

// Config sizes operator hash tables and selects the pre-hash path.
type Config struct {
	// AggregateCapacity is the initial slot count of aggregation tables.
	AggregateCapacity int `mapstructure:"aggregate_capacity"`
	// JoinCapacity is the initial slot count of join build tables.
	JoinCapacity int `mapstructure:"join_capacity"`
	// SIMD enables blocked pre-hashing of int32 key columns.
	SIMD bool `mapstructure:"simd"`
	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		AggregateCapacity: 4,
		JoinCapacity:      4,
		SIMD:              true,
		LogLevel:          zerolog.InfoLevel.String(),
	}
}

// Load reads a Config from |v|. Unset keys fall back to Default, and every
// key can be overridden by a GROUPHASH_ prefixed environment variable. A
// nil |v| uses a fresh viper instance.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	d := Default()
	v.SetDefault(keyAggregateCapacity, d.AggregateCapacity)
	v.SetDefault(keyJoinCapacity, d.JoinCapacity)
	v.SetDefault(keySIMD, d.SIMD)
	v.SetDefault(keyLogLevel, d.LogLevel)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	log.Debug().Interface("config", c).Msg("grouphash: loaded config")
	return c, nil
}

// LoadFile reads a Config from the file at |path|, in any format viper
// understands, with environment overrides applied on top.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	return Load(v)
}

// Validate checks capacities and the log level.
func (c Config) Validate() error {
	if !isPow2(c.AggregateCapacity) {
		return errors.Newf("aggregate_capacity must be a power of two greater than one, got %d", c.AggregateCapacity)
	}
	if !isPow2(c.JoinCapacity) {
		return errors.Newf("join_capacity must be a power of two greater than one, got %d", c.JoinCapacity)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log_level")
	}
	return nil
}

// ApplyLogLevel sets the global zerolog level from |c|.
func (c Config) ApplyLogLevel() {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		log.Warn().Str("level", c.LogLevel).Msg("grouphash: ignoring unknown log level")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

func isPow2(n int) bool {
	return n > 1 && n&(n-1) == 0
}
