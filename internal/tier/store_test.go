// ABOUTME: Tests for the tier adapter
// ABOUTME: Covers quota boundary, error taxonomy, tier routing and serialized size

package tier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-storage/internal/store"
)

// failingBackend fails every call with the configured error.
type failingBackend struct {
	store.Backend
	err error
}

func (f *failingBackend) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f *failingBackend) Set(context.Context, string, []byte) error  { return f.err }
func (f *failingBackend) Remove(context.Context, string) error       { return f.err }

func TestSerializedSize(t *testing.T) {
	// {"prefs":{"a":"y"}}
	assert.Equal(t, len(`{"prefs":{"a":"y"}}`), SerializedSize("prefs", []byte(`{"a":"y"}`)))
	// Whitespace in the raw value does not count
	assert.Equal(t, len(`{"prefs":{"a":"y"}}`), SerializedSize("prefs", []byte("{ \"a\" : \"y\" }")))
	assert.Equal(t, len(`{"k":null}`), SerializedSize("k", nil))
}

func TestMarshal_KeepsHTMLCharacters(t *testing.T) {
	raw, err := Marshal(map[string]string{"note": "a < b && c > d"})
	require.NoError(t, err)
	assert.Equal(t, `{"note":"a < b && c > d"}`, string(raw))

	// Each of <, > and & counts as one byte against the quota
	assert.Equal(t, len(`{"a&b":"<>"}`), SerializedSize("a&b", []byte(`"<>"`)))
}

func TestTier_Other(t *testing.T) {
	assert.Equal(t, Local, Shared.Other())
	assert.Equal(t, Shared, Local.Other())
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Tier{"shared": Shared, "sync": Shared, "Local": Local} {
		got, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := Parse("cloud")
	assert.Error(t, err)
	assert.Equal(t, "local", Local.String())
}

func TestStore_ReadAbsent(t *testing.T) {
	s := New(store.NewMemoryStore(), store.NewMemoryStore(), 100, nil)

	raw, ok, err := s.Read(context.Background(), Shared, "prefs")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, raw)
}

func TestStore_RoutesByTier(t *testing.T) {
	shared, local := store.NewMemoryStore(), store.NewMemoryStore()
	s := New(shared, local, 100, nil)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, Local, "events", []byte(`{}`)))
	assert.Equal(t, 0, shared.Len())
	assert.Equal(t, 1, local.Len())

	_, ok, err := s.Read(ctx, Shared, "events")
	require.NoError(t, err)
	assert.False(t, ok)

	raw, ok, err := s.Read(ctx, Local, "events")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{}`, string(raw))
}

func TestStore_QuotaBoundary(t *testing.T) {
	ctx := context.Background()
	// {"k":"..."} is 8 bytes plus the string body
	exact := []byte(`"` + strings.Repeat("x", 92) + `"`)
	require.Equal(t, 100, SerializedSize("k", exact))

	s := New(store.NewMemoryStore(), store.NewMemoryStore(), 100, nil)
	assert.True(t, s.Fits(100))
	assert.False(t, s.Fits(101))
	require.NoError(t, s.Write(ctx, Shared, "k", exact), "size equal to quota fits")

	over := []byte(`"` + strings.Repeat("x", 93) + `"`)
	err := s.Write(ctx, Shared, "k", over)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, Shared, we.Tier)
	assert.Equal(t, "write", we.Op)

	// The rejected write never reached the backend
	raw, _, _ := s.Read(ctx, Shared, "k")
	assert.Equal(t, string(exact), string(raw))

	// Local has no quota
	assert.NoError(t, s.Write(ctx, Local, "k", over))
}

func TestStore_BackendFailuresAreUnavailable(t *testing.T) {
	cause := errors.New("disk on fire")
	s := New(&failingBackend{err: cause}, store.NewMemoryStore(), 100, nil)
	ctx := context.Background()

	_, _, err := s.Read(ctx, Shared, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)

	assert.ErrorIs(t, s.Write(ctx, Shared, "k", []byte(`1`)), ErrUnavailable)
	assert.ErrorIs(t, s.RemoveIfPresent(ctx, Shared, "k"), ErrUnavailable)
	assert.NoError(t, s.RemoveIfPresent(ctx, Local, "k"))
}

func TestNew_DefaultQuota(t *testing.T) {
	s := New(store.NewMemoryStore(), store.NewMemoryStore(), 0, nil)
	assert.Equal(t, DefaultQuota, s.Quota())
}
