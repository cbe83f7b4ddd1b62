package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
)

// StateWatcher monitors the desired-state document and triggers a
// reconciliation run shortly after it changes.
type StateWatcher struct {
	statePath string
	runFn     func(trigger string)
	watcher   *fsnotify.Watcher
	mu        sync.RWMutex
	stopChan  chan struct{}
	kickChan  chan struct{}
	debounce  time.Duration
}

// NewStateWatcher creates a watcher for the desired-state document. The web
// service replaces the file via rename, so the watch is on the directory and
// filtered to the document's name.
func NewStateWatcher(statePath string, debounce time.Duration, runFn func(trigger string)) (*StateWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Resolve absolute path for consistent watching
	absPath, err := filepath.Abs(statePath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve state document path: %w", err)
	}

	return &StateWatcher{
		statePath: absPath,
		runFn:     runFn,
		watcher:   watcher,
		stopChan:  make(chan struct{}),
		kickChan:  make(chan struct{}, 1),
		debounce:  debounce,
	}, nil
}

// Start begins monitoring the state document's directory.
func (sw *StateWatcher) Start(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	stateDir := filepath.Dir(sw.statePath)
	if err := sw.watcher.Add(stateDir); err != nil {
		return fmt.Errorf("failed to watch state directory %s: %w", stateDir, err)
	}

	slog.Info("Starting state document watcher", "state_path", sw.statePath)

	go sw.watchLoop(ctx)
	go sw.runLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (sw *StateWatcher) Stop(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	slog.Info("Stopping state document watcher")

	close(sw.stopChan)

	if sw.watcher != nil {
		if err := sw.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", "error", err)
		}
	}

	return nil
}

// watchLoop monitors file system events.
func (sw *StateWatcher) watchLoop(ctx context.Context) {
	stateFile := filepath.Base(sw.statePath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopChan:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			// Only process events for the state document itself
			if filepath.Base(event.Name) != stateFile {
				continue
			}

			switch {
			case event.Op&fsnotify.Write == fsnotify.Write:
				slog.Debug("State document write detected", "file", event.Name)
				sw.trigger()
			case event.Op&fsnotify.Create == fsnotify.Create:
				// Atomic replace lands as create-over-rename
				slog.Debug("State document create detected", "file", event.Name)
				sw.trigger()
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				slog.Debug("State document rename detected", "file", event.Name)
				sw.trigger()
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				// A missing document aborts the next run; say so now.
				slog.Warn("State document removed", "file", event.Name)
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("State watcher error", "error", err)
		}
	}
}

// runLoop coalesces bursts of events into one debounced run.
func (sw *StateWatcher) runLoop(ctx context.Context) {
	var runTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if runTimer != nil {
				runTimer.Stop()
			}
			return
		case <-sw.stopChan:
			if runTimer != nil {
				runTimer.Stop()
			}
			return
		case <-sw.kickChan:
			if runTimer != nil {
				runTimer.Stop()
			}
			runTimer = time.AfterFunc(sw.debounce, func() {
				sw.runFn(reconcile.TriggerWatch)
			})
		}
	}
}

// trigger requests a debounced run.
func (sw *StateWatcher) trigger() {
	select {
	case sw.kickChan <- struct{}{}:
		// Run scheduled
	default:
		// Run already pending
	}
}
