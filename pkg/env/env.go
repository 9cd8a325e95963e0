package env

import (
	"os"
	"strings"
)

// Prefix matches the envconfig prefix used by pkg/config.
const Prefix = "PREPMARKET_"

// Get reads key for settings needed before config is loaded, such as the log
// format. PREPMARKET_<key> wins over the bare key; blank values fall back.
func Get(key, fallback string) string {
	for _, name := range []string{Prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}
