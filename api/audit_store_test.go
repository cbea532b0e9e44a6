package api

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	store, err := NewAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuditStoreRoundTrip(t *testing.T) {
	store := newTestAuditStore(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(AuditEntry{
			Event:     AuditCertIssued,
			Identity:  "alice@example.com",
			CreatedAt: base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		}))
	}

	entries, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, base.Add(4*time.Second).Format(time.RFC3339), entries[0].CreatedAt)
	assert.Equal(t, base.Add(2*time.Second).Format(time.RFC3339), entries[2].CreatedAt)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "alice@example.com", e.Identity)
	}
}

func TestAuditStoreEmpty(t *testing.T) {
	store := newTestAuditStore(t)

	entries, err := store.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
