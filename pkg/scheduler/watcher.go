package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// File event names passed to OnFileChange handlers.
const (
	FileEventAdd    = "add"
	FileEventChange = "change"
	FileEventDelete = "delete"
)

// Watcher monitors directories and forwards debounced file events to the
// scheduler. Rapid successive writes to the same file collapse into one
// event once the file has been stable for the threshold.
type Watcher struct {
	watcher            *fsnotify.Watcher
	scheduler          *Scheduler
	stabilityThreshold time.Duration
	logger             zerolog.Logger
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	Paths              []string
	StabilityThreshold time.Duration
}

// NewWatcher creates a watcher delivering events to sched.
func NewWatcher(sched *Scheduler, logger zerolog.Logger, config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 100 * time.Millisecond
	}

	w := &Watcher{
		watcher:            fsw,
		scheduler:          sched,
		stabilityThreshold: config.StabilityThreshold,
		logger:             logger.With().Str("component", "watcher").Logger(),
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}

	for _, path := range config.Paths {
		if err := w.addRecursive(path); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	return w, nil
}

// Start launches the event loop.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info().Msg("File watcher started")
}

// Stop halts the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	clear(w.debounceTimers)
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.logger.Info().Msg("File watcher stopped")
	return nil
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			w.debounce(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) debounce(ctx context.Context, event fsnotify.Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[event.Name]; exists {
		timer.Stop()
	}

	eventCopy := event
	w.debounceTimers[event.Name] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, eventCopy.Name)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.process(ctx, eventCopy)
		}
	})
}

func (w *Watcher) process(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		// A new directory needs to be watched too.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
		w.scheduler.HandleFileEvent(ctx, event.Name, FileEventAdd)

	case event.Op&fsnotify.Write == fsnotify.Write:
		w.scheduler.HandleFileEvent(ctx, event.Name, FileEventChange)

	case event.Op&fsnotify.Remove == fsnotify.Remove:
		w.scheduler.HandleFileEvent(ctx, event.Name, FileEventDelete)

	case event.Op&fsnotify.Rename == fsnotify.Rename:
		// The new name arrives as a separate create event.
		w.scheduler.HandleFileEvent(ctx, event.Name, FileEventDelete)
	}
}

func (w *Watcher) addRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if w.shouldIgnore(walkPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.watcher.Add(walkPath); err != nil {
			w.logger.Warn().Err(err).Str("path", walkPath).Msg("Failed to watch path")
		}
		return nil
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	for _, part := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		if len(part) > 1 && part[0] == '.' {
			return true
		}
	}
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, "~")
}
