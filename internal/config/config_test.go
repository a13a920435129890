package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerionmail/mailcore/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "config_test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestResolveWithNoOverridesReturnsDefaults(t *testing.T) {
	store := newTestStore(t)
	resolved := store.Resolve(DefaultConfig())
	assert.Equal(t, DefaultConfig(), resolved)
}

func TestResolveAppliesOverride(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(KeySendRetryMax, "7"))

	resolved := store.Resolve(DefaultConfig())
	assert.Equal(t, 7, resolved.SendRetryMax)

	// Everything else stays at its default.
	assert.Equal(t, DefaultConfig().AccountConnectionLimit, resolved.AccountConnectionLimit)
}

func TestResolveIgnoresInvalidOverride(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(KeyFetchBatchSize, "not-a-number"))

	resolved := store.Resolve(DefaultConfig())
	assert.Equal(t, DefaultConfig().FetchBatchSize, resolved.FetchBatchSize)
}

func TestResolveIgnoresZeroOrNegativeOverride(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(KeyStageCTotalCap, "0"))
	require.NoError(t, store.Set(KeyStageCFloor, "-5"))

	resolved := store.Resolve(DefaultConfig())
	assert.Equal(t, DefaultConfig().StageCTotalCap, resolved.StageCTotalCap)
	assert.Equal(t, DefaultConfig().StageCFloor, resolved.StageCFloor)
}

func TestSetOverwritesExistingKey(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(KeyGlobalConnectionLimit, "10"))
	require.NoError(t, store.Set(KeyGlobalConnectionLimit, "20"))

	v, err := store.Get(KeyGlobalConnectionLimit)
	require.NoError(t, err)
	assert.Equal(t, "20", v)
}

func TestGetUnsetKeyReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	v, err := store.Get("never_set")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}
