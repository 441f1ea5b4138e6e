package instance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearSources(t *testing.T) {
	t.Helper()
	for _, key := range idSources {
		t.Setenv(key, "")
	}
}

func TestGetIDPrefersWorkerID(t *testing.T) {
	clearSources(t)
	t.Setenv("DYNO", "worker.1")
	t.Setenv("WORKER_ID", " heal-a ")

	assert.Equal(t, "heal-a", GetID())
}

func TestGetIDFallsBackToDyno(t *testing.T) {
	clearSources(t)
	t.Setenv("DYNO", "worker.2")

	assert.Equal(t, "worker.2", GetID())
}

func TestGetIDUsesHostnameThenDefault(t *testing.T) {
	clearSources(t)
	orig := hostname
	t.Cleanup(func() { hostname = orig })

	hostname = func() (string, error) { return "box-7", nil }
	assert.Equal(t, "box-7", GetID())

	hostname = func() (string, error) { return "", errors.New("no host") }
	assert.Equal(t, fallbackID, GetID())
}
