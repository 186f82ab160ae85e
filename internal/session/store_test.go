package session

import (
	"testing"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/stretchr/testify/require"
)

func baseConfig(tenantID string) model.MigrationConfig {
	return model.MigrationConfig{
		Name:        "test-migration",
		Source:      model.SystemConfig{Host: "src.example.com", Paths: model.PathConfig{RootPath: "/var/www"}},
		Destination: model.SystemConfig{Host: "dst.example.com"},
		TenantID:    tenantID,
	}
}

func TestCreateAssignsIDAndSteps(t *testing.T) {
	store := New()
	sess, err := store.Create(baseConfig("tenant-a"))
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, model.SessionPending, sess.Status)
	require.NotEmpty(t, sess.Steps)
}

func TestGetReturnsCloneNotLivePointer(t *testing.T) {
	store := New()
	sess, err := store.Create(baseConfig("tenant-a"))
	require.NoError(t, err)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	got.Status = model.SessionRunning

	again, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionPending, again.Status)
}

func TestGetMissingSessionReturnsNotFound(t *testing.T) {
	store := New()
	_, err := store.Get("nonexistent")
	var notFound *migerr.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestMutableSharesUnderlyingSession(t *testing.T) {
	store := New()
	sess, err := store.Create(baseConfig("tenant-a"))
	require.NoError(t, err)

	live, err := store.Mutable(sess.ID)
	require.NoError(t, err)
	live.Status = model.SessionRunning

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionRunning, got.Status)
}

func TestListFiltersByTenant(t *testing.T) {
	store := New()
	_, err := store.Create(baseConfig("tenant-a"))
	require.NoError(t, err)
	_, err = store.Create(baseConfig("tenant-b"))
	require.NoError(t, err)

	require.Len(t, store.List("tenant-a"), 1)
	require.Len(t, store.List("tenant-b"), 1)
	require.Len(t, store.List(""), 2)
}

func TestLockGuardsMutationAgainstConcurrentClone(t *testing.T) {
	store := New()
	sess, err := store.Create(baseConfig("tenant-a"))
	require.NoError(t, err)

	live, err := store.Mutable(sess.ID)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Lock()
		live.Status = model.SessionRunning
		live.Log = append(live.Log, model.LogEntry{Message: "running"})
		store.Unlock()
	}()
	<-done

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionRunning, got.Status)
	require.Len(t, got.Log, 1)
}

func TestDeleteRemovesSession(t *testing.T) {
	store := New()
	sess, err := store.Create(baseConfig("tenant-a"))
	require.NoError(t, err)

	store.Delete(sess.ID)
	_, err = store.Get(sess.ID)
	require.Error(t, err)
}
