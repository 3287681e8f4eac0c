package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// lookup reads key and reports whether it was set to a non-empty value.
func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func warnInvalid(key string, err error) {
	log.Printf("config: ignoring invalid %s: %v", key, err)
}

// GetString returns the env value for key, or fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

// GetInt returns key parsed as an integer, or fallback when unset or
// unparseable. A bad value is logged, never fatal.
func GetInt(key string, fallback int) int {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		warnInvalid(key, err)
		return fallback
	}
	return parsed
}

// GetBool returns key parsed as a boolean, or fallback.
func GetBool(key string, fallback bool) bool {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		warnInvalid(key, err)
		return fallback
	}
	return parsed
}

// GetDuration returns key parsed with time.ParseDuration ("30s", "5m"),
// or fallback.
func GetDuration(key string, fallback time.Duration) time.Duration {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		warnInvalid(key, err)
		return fallback
	}
	return parsed
}
