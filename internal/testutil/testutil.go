package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/d-hoffmann/labrange/internal/config"
	"github.com/d-hoffmann/labrange/internal/store"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig() *config.Config {
	return &config.Config{
		Listen:                "127.0.0.1:0",
		APIKey:                "test-api-key",
		DBPath:                ":memory:",
		Network:               "test-net",
		MaxInstancesPerUser:   3,
		SessionTimeoutSeconds: 3600,
		ReaperIntervalSeconds: 30,
		Limits: config.Limits{
			CPULimit:   0.5,
			MemLimitMB: 512,
			PidsLimit:  256,
		},
	}
}

// TestInstance returns a running container-backed instance record.
func TestInstance(id, ownerID, labID string) *store.Instance {
	now := time.Now().UTC()
	return &store.Instance{
		ID:          id,
		OwnerID:     ownerID,
		LabID:       labID,
		BackingRef:  "container-" + id,
		BackingKind: store.BackingContainer,
		Status:      store.StatusRunning,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

// NewTestStore creates a file-backed SQLite store in a test temp dir.
// Not :memory:, because the connection pool would hand each pooled
// connection its own empty database.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
