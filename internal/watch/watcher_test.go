package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresPaths(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestWatcher_Relevant(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{Paths: []string{filepath.Join(dir, "shared.db")}}, nil)
	require.NoError(t, err)
	defer w.Close()

	tests := []struct {
		name string
		op   fsnotify.Op
		want bool
	}{
		{"shared.db", fsnotify.Write, true},
		{"shared.db-wal", fsnotify.Write, true},
		{"shared.db-shm", fsnotify.Create, true},
		{"shared.db", fsnotify.Chmod, false},
		{"local.db", fsnotify.Write, false},
		{"shared.dbx", fsnotify.Write, false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.op.String(), func(t *testing.T) {
			event := fsnotify.Event{Name: filepath.Join(dir, tt.name), Op: tt.op}
			assert.Equal(t, tt.want, w.relevant(event))
		})
	}
}

func TestWatcher_Run_TriggersOnChange(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "local.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("v1"), 0644))

	w, err := New(Config{Paths: []string{dbPath}, Debounce: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	// Give Run time to register the directory
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.running
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// A burst of writes collapses into one reload
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(dbPath, []byte("v2"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_Run_AlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{Paths: []string{filepath.Join(dir, "a.db")}}, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx, func(context.Context) error { return nil }) }()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.running
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, w.Run(ctx, func(context.Context) error { return nil }), ErrRunning)
}

func TestDebouncer_CoalescesAndStops(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var first, last atomic.Int32
	d.Trigger(func() { first.Add(1) })
	d.Trigger(func() { last.Add(1) })

	require.Eventually(t, func() bool { return last.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "replaced callback never runs")

	d.Trigger(func() { last.Add(1) })
	d.Stop()
	d.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), last.Load())

	d.Trigger(func() { last.Add(1) })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), last.Load(), "trigger after stop is ignored")
}
