package env

import (
	"os"
	"strings"
)

const prefix = "CONTENTSTUDIO_"

// Get returns CONTENTSTUDIO_<key> when set, then the bare key, then fallback.
// It serves settings read before config.Load, such as the log format.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(prefix + key)); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
