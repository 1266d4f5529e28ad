package app

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/hcl"
)

// watchDebounce collapses the burst of events an editor save produces.
var watchDebounce = 200 * time.Millisecond

// watch calls reload whenever one of scripts changes or a new script appears
// next to them, until ctx is done.
// reload returns the script set to watch from then on. A failed reload is
// logged and the previous graph stays in place.
func (a *App) watch(ctx context.Context, scripts []string, reload func(context.Context) ([]string, error)) error {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch build scripts: %w", err)
	}
	defer w.Close()

	// Directories are watched so that editors replacing files by rename
	// are still seen.
	watched := map[string]bool{}
	tracked := map[string]bool{}
	track := func(files []string) {
		clear(tracked)
		for _, f := range files {
			tracked[f] = true
			dir := filepath.Dir(f)
			if watched[dir] {
				continue
			}
			if err := w.Add(dir); err != nil {
				logger.Warn("Cannot watch directory.", "dir", dir, "error", err)
				continue
			}
			watched[dir] = true
		}
	}
	track(scripts)
	logger.Info("👀 Watching build scripts.", "scripts", len(scripts))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			added := ev.Has(fsnotify.Create) && filepath.Ext(ev.Name) == hcl.Extension
			if !tracked[ev.Name] && !added || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			logger.Debug("Build script changed.", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error.", "error", err)
		case <-fire:
			fire = nil
			next, err := reload(ctx)
			if err != nil {
				logger.Error("Reload failed; keeping the previous graph.", "error", err)
				continue
			}
			if !slices.Equal(next, scripts) {
				scripts = next
				track(scripts)
			}
		}
	}
}
