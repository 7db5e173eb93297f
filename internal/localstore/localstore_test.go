package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nested", "store.db"))
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set("k", []byte("v1")))
	value, found, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), value)

	// Overwrite replaces the value.
	require.NoError(t, store.Set("k", []byte("v2")))
	value, _, err = store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	require.NoError(t, store.Delete("k"))
	_, found, err = store.Get("k")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing key is fine.
	require.NoError(t, store.Delete("k"))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("history", []byte(`[{"id":"msg_1"}]`)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err := reopened.Get("history")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `[{"id":"msg_1"}]`, string(value))
}
