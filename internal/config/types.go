package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration accepts Go duration strings ("30s", "5m") as well as plain seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue returns the underlying time.Duration.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config is the demo service configuration, one flat table.
type Config struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// Upstream APIs the fetchers call.
	PokemonAPI      string   `mapstructure:"PokemonAPI"`
	PostsAPI        string   `mapstructure:"PostsAPI"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`

	// SimulateDelay holds every fetch back this long; SimulateError makes
	// every fetch fail with "Test error".
	SimulateDelay Duration `mapstructure:"SimulateDelay"`
	SimulateError bool     `mapstructure:"SimulateError"`

	// Query defaults and client limits.
	StaleTime            Duration `mapstructure:"StaleTime"`
	CacheTime            Duration `mapstructure:"CacheTime"`
	RefetchOnRefocus     bool     `mapstructure:"RefetchOnRefocus"`
	MaxEntries           int      `mapstructure:"MaxEntries"`
	Shards               int      `mapstructure:"Shards"`
	MaxConcurrentFetches int64    `mapstructure:"MaxConcurrentFetches"`
	EvictionPolicy       string   `mapstructure:"EvictionPolicy"`
}
