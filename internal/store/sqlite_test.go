// ABOUTME: Tests for SQLite and memory backends
// ABOUTME: Runs one conformance suite against both implementations plus SQLite file handling

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"sqlite": newTestSQLiteStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "shared.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
	assert.Equal(t, dbPath, s.Path())
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "layout", []byte(`[1,2,3]`)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "layout")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(got))
}

func TestBackend_GetMissing(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackend_SetGetReplace(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Set(ctx, "prefs", []byte(`{"a":"x"}`)))
			require.NoError(t, b.Set(ctx, "prefs", []byte(`{"a":"y"}`)))

			got, err := b.Get(ctx, "prefs")
			require.NoError(t, err)
			assert.Equal(t, `{"a":"y"}`, string(got))
		})
	}
}

func TestBackend_RemoveIsIdempotent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Set(ctx, "goals", []byte(`[]`)))
			require.NoError(t, b.Remove(ctx, "goals"))
			require.NoError(t, b.Remove(ctx, "goals"))

			_, err := b.Get(ctx, "goals")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackend_KeysSorted(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"synonyms", "events", "layout"} {
				require.NoError(t, b.Set(ctx, k, []byte(`null`)))
			}

			keys, err := b.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"events", "layout", "synonyms"}, keys)
		})
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	value := []byte(`"abc"`)
	require.NoError(t, m.Set(ctx, "k", value))
	value[1] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(got))

	got[1] = 'q'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, `"abc"`, string(again))
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStore_Closed(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Close())

	_, err := m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Set(context.Background(), "k", nil), ErrClosed)
}
