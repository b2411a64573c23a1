package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func mustSetValue(t *testing.T, store *Store, key, value string) {
	t.Helper()
	require.NoErrorf(t, store.SetValue(key, value), "set %q", key)
}
