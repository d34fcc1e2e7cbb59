// Package watcher implements C8: the server-side filesystem watcher that
// observes mutations under the served root and turns them into WebSocket
// change events, attributed via the recent-mods map of spec.md §4.8.
//
// fsnotify is not natively recursive, so the watcher walks the tree at
// startup to Add every directory, and re-Adds newly created directories as
// they are observed.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftfs/driftfs/internal/server/recentmods"
	"github.com/driftfs/driftfs/internal/wire"
	"github.com/fsnotify/fsnotify"
)

// AttributionTTL bounds how long a Recent-Modification Record stays
// Pending before a watcher fire can no longer claim it (spec.md §4.8).
const AttributionTTL = 2 * time.Second

// Watcher recursively watches root and publishes change events to b.
type Watcher struct {
	root  string
	fsw   *fsnotify.Watcher
	mods  *recentmods.Map
	bcast *Broadcaster
	log   *slog.Logger
	sweep time.Duration
}

// New creates a watcher rooted at root. mods is the recent-mods map that
// HTTP handlers Mark on every mutating request; bcast is where observed
// changes are published as wire.FormatChangeEvent frames.
func New(root string, mods *recentmods.Map, bcast *Broadcaster, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: root, fsw: fsw, mods: mods, bcast: bcast, log: log, sweep: AttributionTTL}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Run consumes fsnotify events until stop is closed. It is meant to run in
// its own goroutine for the lifetime of the server.
func (w *Watcher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(w.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "err", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case now := <-ticker.C:
			w.mods.Sweep(now)
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("watch new directory", "path", ev.Name, "err", err)
			}
		}
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
		return
	}

	path := w.relPath(ev.Name)
	by := w.mods.ConsumeOnFire(path, time.Now())
	w.bcast.Publish(wire.FormatChangeEvent(path, by))
}

func (w *Watcher) relPath(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return strings.ReplaceAll(rel, string(filepath.Separator), "/")
}
