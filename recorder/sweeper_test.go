package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSweeperRemovesReleasedFiles(t *testing.T) {
	dir := t.TempDir()

	sweeper, err := NewSweeper(dir, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	// Give the watcher a moment to come up before creating the file.
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "capture_test.wav")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	sweeper.Release(Handle{ID: uuid.New(), Path: path})

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeperRemovesOrphansFromPreviousRun(t *testing.T) {
	dir := t.TempDir()

	// A file left behind by a crashed session, present before the sweeper
	// starts.
	orphan := filepath.Join(dir, "capture_orphan.wav")
	require.NoError(t, os.WriteFile(orphan, []byte("data"), 0644))

	sweeper, err := NewSweeper(dir, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	require.Eventually(t, func() bool {
		_, err := os.Stat(orphan)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeperIgnoresUnreleasedFiles(t *testing.T) {
	dir := t.TempDir()

	sweeper, err := NewSweeper(dir, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "capture_live.wav")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	// Never released: the file must survive several sweep cycles.
	time.Sleep(100 * time.Millisecond)
	_, err = os.Stat(path)
	require.NoError(t, err)
}
