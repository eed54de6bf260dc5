// Package watcher processes images as they appear in a directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"roundicon/internal/processor"
	"roundicon/pkg/logger"
	"roundicon/pkg/metrics"
)

const DefaultDebounce = 500 * time.Millisecond

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true, ".avif": true, ".ico": true, ".svg": true,
}

// FileProcessor is satisfied by *processor.Processor.
type FileProcessor interface {
	ProcessFile(inputPath, outputDir string) (processor.Result, error)
	IsOutputName(name string) bool
}

type Options struct {
	Dir       string
	OutputDir string // defaults to Dir
	Debounce  time.Duration
}

// Watcher monitors one directory, non-recursively.
type Watcher struct {
	opts Options
	proc FileProcessor
	fs   *fsnotify.Watcher
	log  *logger.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup

	// OnProcessed, when set, is called after every pipeline run.
	OnProcessed func(path string, res processor.Result, err error)
}

func New(proc FileProcessor, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = opts.Dir
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(opts.Dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch folder %s: %w", opts.Dir, err)
	}

	return &Watcher{
		opts:    opts,
		proc:    proc,
		fs:      fsWatcher,
		log:     logger.Default().With("watch:"),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run handles events until ctx is cancelled. Pending debounced files are
// dropped on shutdown, a run already in progress is waited for.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("Watching folder: %s", w.opts.Dir)
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.wants(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error: %v", err)
		}
	}
}

// wants reports whether name is an input image rather than one of our own
// outputs, a hidden file or an editor temp file.
func (w *Watcher) wants(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if !imageExts[strings.ToLower(filepath.Ext(base))] {
		return false
	}
	return !w.proc.IsOutputName(base)
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[name]; ok && t.Stop() {
		w.wg.Done()
	}

	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[name] == t {
			delete(w.pending, name)
		}
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.process(name)
	})
	w.pending[name] = t
}

func (w *Watcher) process(name string) {
	metrics.Get().IncWatchEvent()

	res, err := w.proc.ProcessFile(name, w.opts.OutputDir)
	switch {
	case errors.Is(err, processor.ErrInputNotFound):
		w.log.Debug("File disappeared before processing: %s", name)
	case err != nil:
		w.log.Error("Failed to process %s: %v", name, err)
	default:
		w.log.Info("Processed %s -> %s, %s", name, res.PNGPath, res.ICOPath)
	}

	if w.OnProcessed != nil {
		w.OnProcessed(name, res, err)
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	for name, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, name)
	}
	w.mu.Unlock()

	w.wg.Wait()
	if err := w.fs.Close(); err != nil {
		w.log.Warn("Failed to close watcher: %v", err)
	}
}
