package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/krisalay/query-cache/eviction"
)

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "must be within 1-65535")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", "unknown level "+c.LogLevel)
	}
	if c.LogMaxSize < 0 {
		return newFieldError("LogMaxSize", "must not be negative")
	}
	if c.LogMaxBackups < 0 {
		return newFieldError("LogMaxBackups", "must not be negative")
	}
	if err := validateURL("PokemonAPI", c.PokemonAPI); err != nil {
		return err
	}
	if err := validateURL("PostsAPI", c.PostsAPI); err != nil {
		return err
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "must be greater than 0")
	}
	if c.SimulateDelay.DurationValue() < 0 {
		return newFieldError("SimulateDelay", "must not be negative")
	}
	if c.StaleTime.DurationValue() < 0 {
		return newFieldError("StaleTime", "must not be negative")
	}
	if c.CacheTime.DurationValue() < 0 {
		return newFieldError("CacheTime", "must not be negative")
	}
	if c.MaxEntries < 0 {
		return newFieldError("MaxEntries", "must not be negative")
	}
	if c.Shards <= 0 {
		return newFieldError("Shards", "must be greater than 0")
	}
	if c.MaxConcurrentFetches < 0 {
		return newFieldError("MaxConcurrentFetches", "must not be negative")
	}
	if _, err := eviction.ParsePolicyType(c.EvictionPolicy); err != nil {
		return newFieldError("EvictionPolicy", "must be one of lru|lfu|fifo")
	}
	return nil
}

func validateURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return newFieldError(field, "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return newFieldError(field, "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return newFieldError(field, "only http and https are supported")
	}
	return nil
}
