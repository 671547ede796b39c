// Package watch picks up contact record files dropped into a folder and
// hands each one to a handler once it has stopped changing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("contacts-watch")

const (
	// DoneDir receives files the handler accepted.
	DoneDir = "done"
	// FailedDir receives files the handler rejected.
	FailedDir = "failed"
	// DefaultSettle is how long a file must be unchanged before processing.
	DefaultSettle = 5 * time.Second
	// DefaultPattern selects the files that are processed.
	DefaultPattern = "*.yaml"
)

// Handler processes one settled file. A nil error moves the file to
// DoneDir, anything else to FailedDir.
type Handler func(ctx context.Context, path string) error

// Options tune a FolderWatcher. Zero values select the defaults.
type Options struct {
	Settle  time.Duration
	Pattern string
	// OpenTimeout bounds the retries for a file that cannot be opened yet.
	OpenTimeout time.Duration
}

// FolderWatcher watches one directory.
type FolderWatcher struct {
	dir         string
	handle      Handler
	settle      time.Duration
	pattern     string
	openTimeout time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewFolderWatcher creates a watcher over dir.
func NewFolderWatcher(dir string, handle Handler, opts Options) *FolderWatcher {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	return &FolderWatcher{
		dir:         dir,
		handle:      handle,
		settle:      opts.Settle,
		pattern:     opts.Pattern,
		openTimeout: opts.OpenTimeout,
		pending:     make(map[string]time.Time),
	}
}

// Run processes files until ctx is cancelled. Files already in the folder
// are queued on start.
func (fw *FolderWatcher) Run(ctx context.Context) error {
	for _, sub := range []string{DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(fw.dir, sub), 0700); err != nil {
			return fmt.Errorf("failed to create %s folder: %w", sub, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(fw.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", fw.dir, err)
	}
	if err := fw.scan(); err != nil {
		return err
	}
	log.Infof("Watching %s for %s", fw.dir, fw.pattern)

	tick := fw.settle / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			fw.onEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("Watcher error: %v", err)
		case <-ticker.C:
			fw.processReady(ctx, time.Now())
		case <-ctx.Done():
			return nil
		}
	}
}

func (fw *FolderWatcher) matches(path string) bool {
	ok, err := filepath.Match(fw.pattern, filepath.Base(path))
	return err == nil && ok
}

func (fw *FolderWatcher) onEvent(ev fsnotify.Event) {
	if !fw.matches(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		fw.touch(ev.Name, time.Now())
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		fw.mu.Lock()
		delete(fw.pending, ev.Name)
		fw.mu.Unlock()
	}
}

// scan queues the matching files already present.
func (fw *FolderWatcher) scan() error {
	entries, err := os.ReadDir(fw.dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(fw.dir, entry.Name())
		if fw.matches(path) {
			fw.touch(path, info.ModTime())
		}
	}
	return nil
}

// touch records that path changed at t.
func (fw *FolderWatcher) touch(path string, t time.Time) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if last, ok := fw.pending[path]; !ok || t.After(last) {
		fw.pending[path] = t
	}
}

// ready removes and returns the files unchanged for the settle period,
// oldest first.
func (fw *FolderWatcher) ready(now time.Time) []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	var out []string
	for path, last := range fw.pending {
		if now.Sub(last) >= fw.settle {
			out = append(out, path)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return fw.pending[out[i]].Before(fw.pending[out[j]])
	})
	for _, path := range out {
		delete(fw.pending, path)
	}
	return out
}

func (fw *FolderWatcher) processReady(ctx context.Context, now time.Time) {
	for _, path := range fw.ready(now) {
		if ctx.Err() != nil {
			return
		}
		if err := fw.process(ctx, path); err != nil {
			log.Warnf("Failed to process %s: %v", filepath.Base(path), err)
		}
	}
}

// process waits until path can be opened, runs the handler and files the
// result away.
func (fw *FolderWatcher) process(ctx context.Context, path string) error {
	if err := fw.waitReadable(ctx, path); err != nil {
		return err
	}

	handleErr := fw.handle(ctx, path)
	dest := DoneDir
	if handleErr != nil {
		dest = FailedDir
	}
	if err := os.Rename(path, filepath.Join(fw.dir, dest, filepath.Base(path))); err != nil {
		return errors.Join(handleErr, fmt.Errorf("failed to move file to %s: %w", dest, err))
	}

	if handleErr == nil {
		log.Infof("Processed %s", filepath.Base(path))
	}
	return handleErr
}

func (fw *FolderWatcher) waitReadable(ctx context.Context, path string) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 100 * time.Millisecond
	expBackoff.MaxInterval = 2 * time.Second
	expBackoff.MaxElapsedTime = fw.openTimeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(fmt.Errorf("file %s does not exist", filepath.Base(path)))
			}
			log.Debugf("Attempt %d: error opening %s: %v", attempt, filepath.Base(path), err)
			return err
		}
		return f.Close()
	}, backoff.WithContext(expBackoff, ctx))
}
