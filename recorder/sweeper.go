package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Sweeper keeps the recordings directory from accumulating capture files.
// It watches for new captures and deletes released ones after a grace
// period, plus any orphans left behind by sessions that never settled
// (crashed process, cancelled mid-write). All deletion is best effort.
type Sweeper struct {
	dir     string
	grace   time.Duration
	watcher *fsnotify.Watcher
	clock   func() time.Time

	mu       sync.Mutex
	seen     map[string]time.Time // path -> first seen
	released map[string]time.Time // path -> release time
}

// NewSweeper creates a sweeper over dir. Files are removed no earlier than
// grace after being released (or after being orphaned).
func NewSweeper(dir string, grace time.Duration) (*Sweeper, error) {
	if grace <= 0 {
		grace = time.Minute
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Sweeper{
		dir:      dir,
		grace:    grace,
		watcher:  watcher,
		clock:    time.Now,
		seen:     make(map[string]time.Time),
		released: make(map[string]time.Time),
	}, nil
}

// Release marks a capture file as no longer needed. It is deleted on the
// next sweep after the grace period.
func (s *Sweeper) Release(handle Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[handle.Path] = s.clock()
}

// Run watches the recordings directory until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	defer s.watcher.Close()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}
	if err := s.watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch recordings directory: %w", err)
	}

	// Track whatever survived a previous run so it ages out too.
	s.scanExisting()

	slog.Info("Started watching recordings directory", "path", s.dir)

	ticker := time.NewTicker(s.grace)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.handleFSEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Recordings watcher error", "error", err)

		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) handleFSEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".wav") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case event.Op.Has(fsnotify.Create):
		if _, ok := s.seen[event.Name]; !ok {
			s.seen[event.Name] = s.clock()
			slog.Debug("Tracking new capture file", "path", event.Name)
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		delete(s.seen, event.Name)
		delete(s.released, event.Name)
	}
}

func (s *Sweeper) scanExisting() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Error("Failed to scan recordings directory", "error", err, "path", s.dir)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		s.seen[path] = s.clock()
		// Nothing holds a handle to files from a previous process.
		s.released[path] = s.clock()
	}
}

func (s *Sweeper) sweep() {
	now := s.clock()

	s.mu.Lock()
	var expired []string
	for path, releasedAt := range s.released {
		if now.Sub(releasedAt) >= s.grace {
			expired = append(expired, path)
		}
	}
	for _, path := range expired {
		delete(s.released, path)
		delete(s.seen, path)
	}
	s.mu.Unlock()

	for _, path := range expired {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Error("Failed to remove expired capture file", "error", err, "path", path)
			continue
		}
		slog.Debug("Removed expired capture file", "path", path)
	}
}
