package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ManifestWatcher monitors the manifest file and triggers a re-sync when it
// changes on disk.
type ManifestWatcher struct {
	manifestPath string
	onChange     func()
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	changeChan   chan struct{}
	debounceTime time.Duration
}

// NewManifestWatcher creates a watcher that calls onChange (debounced) when
// the manifest file is written, created, or renamed.
func NewManifestWatcher(manifestPath string, onChange func()) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Resolve absolute path for consistent watching.
	absPath, err := filepath.Abs(manifestPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	return &ManifestWatcher{
		manifestPath: absPath,
		onChange:     onChange,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		changeChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second, // editors produce bursts of writes
	}, nil
}

// Start begins monitoring the manifest file.
func (mw *ManifestWatcher) Start(ctx context.Context) error {
	// Watch the containing directory; watching the file directly breaks on
	// editors that replace it via rename.
	dir := filepath.Dir(mw.manifestPath)
	if err := mw.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch manifest directory %s: %w", dir, err)
	}

	slog.Info("Starting manifest watcher", "manifest", mw.manifestPath)
	go mw.watchLoop(ctx)
	go mw.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (mw *ManifestWatcher) Stop() {
	close(mw.stopChan)
	if mw.watcher != nil {
		if err := mw.watcher.Close(); err != nil {
			slog.Error("Error closing manifest watcher", "error", err)
		}
	}
}

func (mw *ManifestWatcher) watchLoop(ctx context.Context) {
	manifestFile := filepath.Base(mw.manifestPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-mw.stopChan:
			return
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != manifestFile {
				continue
			}
			switch {
			case event.Op&fsnotify.Write == fsnotify.Write,
				event.Op&fsnotify.Create == fsnotify.Create,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				slog.Debug("Manifest change detected", "file", event.Name, "op", event.Op.String())
				mw.trigger()
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				slog.Warn("Manifest file removed", "file", event.Name)
			}
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Manifest watcher error", "error", err)
		}
	}
}

func (mw *ManifestWatcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-mw.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-mw.changeChan:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(mw.debounceTime, mw.onChange)
		}
	}
}

func (mw *ManifestWatcher) trigger() {
	select {
	case mw.changeChan <- struct{}{}:
	default:
		// Change already pending.
	}
}
