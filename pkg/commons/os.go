package commons

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetenvOrDefault returns the value of the environment variable, or def when
// it is unset or blank.
func GetenvOrDefault(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	return def
}

// GetenvBoolOrDefault parses the environment variable as a boolean, falling
// back to def when unset or unparsable.
func GetenvBoolOrDefault(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}

	return parsed
}

// GetenvIntOrDefault parses the environment variable as an int, falling back
// to def when unset or unparsable.
func GetenvIntOrDefault(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}

	return parsed
}

// GetenvDurationOrDefault parses the environment variable as a
// time.Duration, falling back to def when unset or unparsable.
func GetenvDurationOrDefault(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}

	return parsed
}
