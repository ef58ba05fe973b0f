// Package watcher observes a vault directory, coalesces raw filesystem
// notifications into debounced FileEvents, and replays a startup
// reconciliation before live events begin.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/atomicobject/vaultweaver/internal/vaultpath"
)

// EventType is the kind of change a FileEvent reports.
type EventType string

const (
	Add    EventType = "ADD"
	Change EventType = "CHANGE"
	Delete EventType = "DELETE"
	Rename EventType = "RENAME"
)

// FileEvent is a debounced, normalized change notification.
type FileEvent struct {
	Type      EventType
	Path      string
	OldPath   string // set for RENAME
	Timestamp time.Time
	Sequence  uint64
}

// Diagnostic is emitted on permanent per-path failures so the pipeline
// continues instead of halting.
type Diagnostic struct {
	Path string
	Err  error
}

// Snapshot is implemented by the shadow cache so the watcher can compute a
// startup reconciliation diff without depending on the cache package.
type Snapshot interface {
	// KnownPaths returns vault-relative paths with their last known
	// content hash, as of the cache's last successful sync.
	KnownPaths() map[string]string
}

// Options configures a Watcher.
type Options struct {
	DebounceWindow time.Duration
	Ignore         []string
	QueueHighWater int // capacity of the Events channel; 0 or less means 1024
}

// Watcher emits debounced FileEvents for a vault directory.
type Watcher struct {
	root    string
	opts    Options
	events  chan FileEvent
	diags   chan Diagnostic
	seq     uint64
	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*pendingChange
	dirSet  map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type pendingChange struct {
	kind  EventType
	timer *time.Timer
}

// New creates a Watcher rooted at root. Call Start to begin emitting.
func New(root string, opts Options) (*Watcher, error) {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = time.Second
	}
	if opts.QueueHighWater <= 0 {
		opts.QueueHighWater = 1024
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		root:    root,
		opts:    opts,
		events:  make(chan FileEvent, opts.QueueHighWater),
		diags:   make(chan Diagnostic, 64),
		fsw:     fsw,
		pending: make(map[string]*pendingChange),
		dirSet:  make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Events returns the channel of debounced, sequence-ordered events.
func (w *Watcher) Events() <-chan FileEvent { return w.events }

// Diagnostics returns the channel of non-fatal per-path failures.
func (w *Watcher) Diagnostics() <-chan Diagnostic { return w.diags }

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// Start performs the startup reconciliation against snap (if non-nil), then
// begins watching directories recursively and translating fsnotify events
// into debounced FileEvents.
func (w *Watcher) Start(snap Snapshot) error {
	if err := w.watchTree(w.root); err != nil {
		return err
	}

	if snap != nil {
		w.reconcile(snap)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// watchTree recursively registers fsnotify watches on every non-ignored
// directory under root, including empty ones, so files created inside them
// are caught.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.emitDiag(p, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr == nil && rel != "." && w.isIgnored(rel) {
			return filepath.SkipDir
		}
		w.addWatch(p)
		return nil
	})
}

func (w *Watcher) addWatch(absDir string) {
	w.mu.Lock()
	if _, ok := w.dirSet[absDir]; ok {
		w.mu.Unlock()
		return
	}
	w.dirSet[absDir] = struct{}{}
	w.mu.Unlock()
	_ = w.fsw.Add(absDir)
}

func (w *Watcher) isIgnored(rel string) bool {
	name := filepath.Base(rel)
	if strings.HasPrefix(name, ".") {
		return true
	}
	return vaultpath.HasIgnoredPrefix(rel, w.opts.Ignore)
}

// reconcile diffs the vault's current state against the cache's snapshot
// and synthesizes ADD/CHANGE/DELETE events so the cache converges after a
// restart.
func (w *Watcher) reconcile(snap Snapshot) {
	known := snap.KnownPaths()
	seen := make(map[string]struct{}, len(known))

	_ = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.emitDiag(p, err)
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}
		rel = vaultpath.Normalize(rel)
		if d.IsDir() {
			if rel != "" && w.isIgnored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.isIgnored(rel) || filepath.Ext(rel) != ".md" {
			return nil
		}
		seen[rel] = struct{}{}
		if _, existed := known[rel]; !existed {
			w.emit(FileEvent{Type: Add, Path: rel})
		} else {
			w.emit(FileEvent{Type: Change, Path: rel})
		}
		return nil
	})

	// Paths the cache knew about but no longer exist on disk.
	missing := make([]string, 0)
	for rel := range known {
		if _, ok := seen[rel]; !ok {
			missing = append(missing, rel)
		}
	}
	sort.Strings(missing)
	for _, rel := range missing {
		w.emit(FileEvent{Type: Delete, Path: rel})
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	// renameDeletes tracks recent DELETE basenames awaiting a matching
	// CREATE within the debounce window, to synthesize RENAME events.
	renameDeletes := make(map[string]renameCandidate)
	var rmMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel, relErr := filepath.Rel(w.root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = vaultpath.Normalize(rel)
			if rel == "" || w.isIgnored(rel) {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create == fsnotify.Create:
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addWatch(ev.Name)
					_ = w.watchTree(ev.Name)
					continue
				}
				if filepath.Ext(rel) != ".md" {
					continue
				}
				rmMu.Lock()
				if cand, found := renameDeletes[filepath.Base(rel)]; found && time.Since(cand.at) <= w.opts.DebounceWindow {
					delete(renameDeletes, filepath.Base(rel))
					rmMu.Unlock()
					w.scheduleRename(cand.path, rel)
					continue
				}
				rmMu.Unlock()
				w.schedule(rel, Add)
			case ev.Op&fsnotify.Write == fsnotify.Write:
				if filepath.Ext(rel) != ".md" {
					continue
				}
				w.schedule(rel, Change)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if filepath.Ext(rel) != ".md" {
					continue
				}
				rmMu.Lock()
				renameDeletes[filepath.Base(rel)] = renameCandidate{path: rel, at: time.Now()}
				rmMu.Unlock()
				w.schedule(rel, Delete)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

type renameCandidate struct {
	path string
	at   time.Time
}

// schedule debounces a single path: multiple raw events within the window
// collapse to one terminal FileEvent, preferring DELETE over later events
// so a rapid create-then-delete never surfaces a stale ADD.
func (w *Watcher) schedule(rel string, kind EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[rel]; ok {
		existing.timer.Stop()
		if existing.kind == Delete {
			kind = Delete
		}
	}

	w.pending[rel] = &pendingChange{
		kind: kind,
		timer: time.AfterFunc(w.opts.DebounceWindow, func() {
			w.fireDebounced(rel)
		}),
	}
}

func (w *Watcher) scheduleRename(oldPath, newPath string) {
	w.mu.Lock()
	if existing, ok := w.pending[oldPath]; ok {
		existing.timer.Stop()
		delete(w.pending, oldPath)
	}
	if existing, ok := w.pending[newPath]; ok {
		existing.timer.Stop()
		delete(w.pending, newPath)
	}
	w.mu.Unlock()
	w.emit(FileEvent{Type: Rename, Path: newPath, OldPath: oldPath})
}

func (w *Watcher) fireDebounced(rel string) {
	w.mu.Lock()
	change, ok := w.pending[rel]
	if ok {
		delete(w.pending, rel)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	w.emit(FileEvent{Type: change.kind, Path: rel})
}

func (w *Watcher) emit(ev FileEvent) {
	ev.Timestamp = time.Now()
	ev.Sequence = atomic.AddUint64(&w.seq, 1)
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

func (w *Watcher) emitDiag(path string, err error) {
	select {
	case w.diags <- Diagnostic{Path: path, Err: err}:
	default:
	}
}
