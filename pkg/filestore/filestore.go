// Package filestore shares session records between processes on one host
// through a directory: one file per key, replaced atomically on every
// write, with fsnotify reporting other processes' writes.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/queue"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/types"
)

const (
	fileExt   = ".json"
	tmpPrefix = ".tmp-"
)

// on-disk form of one key
// a removal leaves a tombstone so watchers learn who removed the key
type entry struct {
	Writer  string `json:"writer"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

func (e entry) value() types.Value {
	if e.Removed {
		return types.Absent()
	}
	return types.Present(e.Value)
}

// Dir is a store backend rooted at a directory.
type Dir struct {
	path   string
	logger hclog.Logger

	mu sync.Mutex //serializes this process's writes
}

var _ store.Backend = (*Dir)(nil)

func Open(path string, logger hclog.Logger) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dir{path: path, logger: logger.Named("filestore").With("dir", path)}, nil
}

func (d *Dir) Attach(contextID string) store.Store {
	return &dirHandle{dir: d, id: contextID}
}

func (d *Dir) file(key string) string {
	return filepath.Join(d.path, url.PathEscape(key)+fileExt)
}

// maps a file name back to its key, ok is false for foreign files
func keyOf(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, fileExt))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

func (d *Dir) read(key string) (entry, bool, error) {
	raw, err := os.ReadFile(d.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("read %q: %w: %w", key, types.ErrStoreUnavailable, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, false, fmt.Errorf("decode %q: %w: %w", key, types.ErrStoreUnavailable, err)
	}
	return e, true, nil
}

// replaces the file for key in one rename
func (d *Dir) write(key string, e entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(d.path, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("write %q: %w: %w", key, types.ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %q: %w: %w", key, types.ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %q: %w: %w", key, types.ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), d.file(key)); err != nil {
		return fmt.Errorf("write %q: %w: %w", key, types.ErrStoreUnavailable, err)
	}
	return nil
}

// current value of every key, used to seed a watcher
func (d *Dir) scan() (map[string]types.Value, error) {
	names, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("scan: %w: %w", types.ErrStoreUnavailable, err)
	}

	out := make(map[string]types.Value, len(names))
	for _, n := range names {
		key, ok := keyOf(n.Name())
		if !ok {
			continue
		}
		e, found, err := d.read(key)
		if err != nil {
			d.logger.Debug("skipping unreadable entry", "key", key, "error", err)
			continue
		}
		if found && !e.Removed {
			out[key] = e.value()
		}
	}
	return out, nil
}

type dirHandle struct {
	dir *Dir
	id  string
}

func (h *dirHandle) Get(key string) (types.Value, error) {
	if key == "" {
		return types.Absent(), types.ErrKeyRequired
	}
	e, found, err := h.dir.read(key)
	if err != nil || !found {
		return types.Absent(), err
	}
	return e.value(), nil
}

func (h *dirHandle) Set(key, value string) error {
	if key == "" {
		return types.ErrKeyRequired
	}
	d := h.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, found, err := d.read(key)
	if err != nil {
		return err
	}
	if found && !cur.Removed && cur.Value == value {
		//rewriting the same value is not a change
		return nil
	}
	return d.write(key, entry{Writer: h.id, Value: value})
}

func (h *dirHandle) Remove(key string) error {
	if key == "" {
		return types.ErrKeyRequired
	}
	d := h.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, found, err := d.read(key)
	if err != nil {
		return err
	}
	if !found || cur.Removed {
		return nil
	}
	return d.write(key, entry{Writer: h.id, Removed: true})
}

func (h *dirHandle) Subscribe(handler store.Handler) (store.Subscription, error) {
	d := h.dir
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w: %w", types.ErrStoreUnavailable, err)
	}
	//watch before scanning so nothing written in between is missed
	if err := fw.Add(d.path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("subscribe: %w: %w", types.ErrStoreUnavailable, err)
	}
	seen, err := d.scan()
	if err != nil {
		fw.Close()
		return nil, err
	}

	w := &dirWatch{
		dir:    d,
		owner:  h.id,
		fw:     fw,
		seen:   seen,
		q:      queue.New(func(c types.Change) { handler(c) }),
		done:   make(chan struct{}),
		logger: d.logger.With("context", h.id),
	}
	go w.run()

	var once sync.Once
	return store.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			err = fw.Close()
			<-w.done
			w.q.Close()
		})
		return err
	}), nil
}

type dirWatch struct {
	dir    *Dir
	owner  string
	fw     *fsnotify.Watcher
	seen   map[string]types.Value //last value this watcher knows per key
	q      *queue.Queue[types.Change]
	done   chan struct{}
	logger hclog.Logger
}

func (w *dirWatch) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			//an overflowed inotify queue drops events, the next read resyncs
			w.logger.Warn("directory watch error", "error", err)
		}
	}
}

func (w *dirWatch) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	key, ok := keyOf(event.Name)
	if !ok {
		return
	}

	e, found, err := w.dir.read(key)
	if err != nil {
		//half visible file from a foreign writer, the rename that follows reports it
		w.logger.Debug("skipping unreadable entry", "key", key, "error", err)
		return
	}
	if !found {
		//deleted by hand rather than through a handle
		e = entry{Removed: true}
	}

	old := w.seen[key]
	next := e.value()
	if next.Set {
		w.seen[key] = next
	} else {
		delete(w.seen, key)
	}

	if e.Writer == w.owner || old == next {
		return
	}
	w.q.Push(types.Change{Key: key, Writer: e.Writer, Old: old, New: next})
}
