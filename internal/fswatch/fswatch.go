// Package fswatch debounces filesystem change notifications into a
// single Reload trigger, supplementing the explicit /admin/reload
// endpoint so a filesystem-backed provider picks up new albums
// without an operator remembering to poke the API.
package fswatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is how long to wait after the last observed filesystem
// event before actually triggering a reload — a directory copy
// produces many events in quick succession and should collapse to one
// reload, not one per file.
const debounce = 2 * time.Second

// Watch watches root (recursively, to the depth fsnotify's watch list
// allows) and calls reload, at most once per debounce window, whenever
// a change is observed. It runs until ctx is canceled.
func Watch(ctx context.Context, root string, reload func(context.Context) error, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addRecursive(w, root); err != nil {
		return err
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("fswatch: watcher error", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				// New directories need their own watch, or nested
				// album trees created after startup go unnoticed.
				_ = w.Add(ev.Name)
			}
			timer.Reset(debounce)
		case <-timer.C:
			if err := reload(ctx); err != nil {
				log.Error("fswatch: reload failed", "err", err)
			}
		}
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return walkDirs(root, func(dir string) error {
		return w.Add(dir)
	})
}
