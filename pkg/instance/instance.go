package instance

import (
	"os"
	"strings"
)

const fallbackID = "heal-worker-0"

// idSources are consulted in order; the first non-empty value wins.
var idSources = []string{"WORKER_ID", "DYNO", "HOSTNAME"}

var hostname = os.Hostname

// GetID identifies this process when it competes for the scheduler lease.
func GetID() string {
	for _, key := range idSources {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if host, err := hostname(); err == nil && strings.TrimSpace(host) != "" {
		return strings.TrimSpace(host)
	}
	return fallbackID
}
