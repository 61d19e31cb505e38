// Package watch runs a handler for every table file dropped into a folder.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/table"
)

// Handler processes one settled file.
type Handler func(ctx context.Context, path string) error

// Watcher monitors a directory and calls OnFile once a table file stops
// changing for the debounce interval.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	files    map[string]*fileState
	mu       sync.Mutex
	debounce time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup

	OnFile  Handler
	OnError func(path string, err error)
}

type fileState struct {
	lastModified time.Time
	size         int64
	processing   bool
	timer        *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, onFile Handler, opts ...Option) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, svcerr.Wrap(err, svcerr.CodeInvalidParams, "failed to resolve path")
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, svcerr.FileNotFound(absDir)
	}
	if !info.IsDir() {
		return nil, svcerr.InvalidParams("watch path is not a directory").WithContext("path", absDir)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, svcerr.Wrap(err, svcerr.CodeUnknown, "failed to create watcher")
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, svcerr.Wrap(err, svcerr.CodeFilePermission, "failed to watch directory").
			WithContext("path", absDir)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		dir:      absDir,
		files:    make(map[string]*fileState),
		debounce: 2 * time.Second,
		logger:   zap.NewNop(),
		OnFile:   onFile,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Eligible reports whether a file name looks like an input table. Office
// lock files and hidden files are skipped.
func Eligible(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	return table.DetectFormat(base) != table.FormatUnknown
}

// Scan schedules every eligible file already in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return svcerr.Wrap(err, svcerr.CodeFilePermission, "failed to read directory").
			WithContext("path", w.dir)
	}
	for _, e := range entries {
		if !e.IsDir() && Eligible(e.Name()) {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// Run starts the watch loop. Blocks until context is cancelled, then waits
// for running handlers.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.wg.Wait()
	defer w.stopTimers()

	w.logger.Info("watching", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !Eligible(event.Name) {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.schedule(ctx, absPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.report("", err)
		}
	}
}

// schedule (re)starts the debounce timer of a file.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(w.debounce, func() {
		w.handleChange(ctx, path, state)
	})
}

func (w *Watcher) handleChange(ctx context.Context, path string, state *fileState) {
	w.mu.Lock()
	// Run waits for handlers only after stopping timers under mu
	if ctx.Err() != nil || state.processing {
		w.mu.Unlock()
		return
	}

	stat, err := os.Stat(path)
	if err != nil {
		// Renamed away or deleted before it settled
		w.mu.Unlock()
		return
	}

	// Compare with last handled state
	if stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size {
		w.mu.Unlock()
		return
	}
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	state.processing = true
	w.wg.Add(1)
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
		w.wg.Done()
	}()

	start := time.Now()
	w.logger.Info("processing file", zap.String("path", path), zap.Int64("bytes", stat.Size()))
	if w.OnFile == nil {
		return
	}
	if err := w.OnFile(ctx, path); err != nil {
		w.report(path, err)
		return
	}
	w.logger.Info("file processed", zap.String("path", path), zap.Duration("duration", time.Since(start)))
}

func (w *Watcher) report(path string, err error) {
	w.logger.Error("watch error", zap.String("path", path), zap.Error(err))
	if w.OnError != nil {
		w.OnError(path, err)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.files {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
