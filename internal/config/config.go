// Package config supplies the process-wide defaults an Inflow builder
// falls back to when the caller doesn't override them explicitly (spec
// §6: keep_cache_subscribed_timeout, retry_time, verbose). Grounded on
// config/env.go's viper.AutomaticEnv pattern, but relocated from an
// app-level fatal-on-error reader to a library-safe best-effort one: a
// missing or malformed environment/file never panics, it just leaves the
// hard-coded defaults below in place.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "INFLOW"

// Defaults are the builder fallbacks of spec §6.
type Defaults struct {
	KeepSubscribedTimeout time.Duration
	RetryTime             time.Duration
	Verbose               bool
}

var current = load()

// Current returns the process-wide defaults, computed once at package
// init from INFLOW_* environment variables.
func Current() Defaults { return current }

func load() Defaults {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("keep_subscribed_timeout_ms", int64(1000))
	v.SetDefault("retry_time_ms", int64(60000))
	v.SetDefault("verbose", false)

	millis := func(key string, fallback int64) time.Duration {
		n, err := strconv.ParseInt(v.GetString(key), 10, 64)
		if err != nil {
			n = fallback
		}
		return time.Duration(n) * time.Millisecond
	}

	return Defaults{
		KeepSubscribedTimeout: millis("keep_subscribed_timeout_ms", 1000),
		RetryTime:             millis("retry_time_ms", 60000),
		Verbose:               v.GetBool("verbose"),
	}
}
