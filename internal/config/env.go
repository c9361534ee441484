// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/tvscribe/internal/log"
)

// sensitiveMarkers keep values of matching keys out of the debug log.
var sensitiveMarkers = []string{"token", "password", "secret"}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, m := range sensitiveMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

// fromEnv returns the parsed value of key, or def when the variable is unset,
// empty or malformed. A malformed value is logged and ignored.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	logger := log.WithComponent("config")
	v, err := parse(raw)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Interface("default", def).Msg("invalid environment value, using default")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", raw)
	}
	ev.Msg("using environment variable")
	return v
}

// ParseString reads key or returns def.
func ParseString(key, def string) string {
	return fromEnv(key, def, func(s string) (string, error) { return s, nil })
}

func ParseInt(key string, def int) int {
	return fromEnv(key, def, strconv.Atoi)
}

func ParseFloat(key string, def float64) float64 {
	return fromEnv(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func ParseBool(key string, def bool) bool {
	return fromEnv(key, def, strconv.ParseBool)
}

// ParseDuration accepts Go duration syntax such as "90s" or "5m".
func ParseDuration(key string, def time.Duration) time.Duration {
	return fromEnv(key, def, time.ParseDuration)
}

// ParseList splits a comma separated value and drops empty items.
func ParseList(key string, def []string) []string {
	return fromEnv(key, def, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	})
}
