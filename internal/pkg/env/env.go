// Package env provides utilities for working with environment variables.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Get returns the value of the environment variable or the default if not set.
func Get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetInt returns the variable parsed as an int, or the default if unset or malformed.
func GetInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(Get(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// GetUint64 returns the variable parsed as a uint64, or the default if unset or malformed.
func GetUint64(key string, defaultValue uint64) uint64 {
	v, err := strconv.ParseUint(Get(key, ""), 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetFloat returns the variable parsed as a float64, or the default if unset or malformed.
func GetFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(Get(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetDuration returns the variable parsed with time.ParseDuration ("200ms", "10s"),
// or the default if unset or malformed.
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(Get(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// GetList splits a comma-separated variable, trimming blanks.
func GetList(key string, defaultValue []string) []string {
	raw := Get(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
