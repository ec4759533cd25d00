package generate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch writes t once, then rewrites it whenever one of its source files
// changes. Events are coalesced over debounce. onResult, if set, is called
// after every attempt. Watch returns when ctx is cancelled.
func (g *Generator) Watch(ctx context.Context, t Target, debounce time.Duration, onResult func(Result, error)) error {
	if len(t.Sources) == 0 {
		return fmt.Errorf("target %s has no source files to watch", t.label())
	}
	report := func(r Result, err error) {
		if onResult != nil {
			onResult(r, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Directories, not files: a file replaced by rename loses its watch.
	watched := make(map[string]bool)
	sources := make(map[string]bool)
	for _, s := range t.Sources {
		abs, err := filepath.Abs(s)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", s, err)
		}
		sources[abs] = true
		dir := filepath.Dir(abs)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched[dir] = true
	}

	logger := g.logger.With().Str("target", t.label()).Logger()
	logger.Info().
		Str("event", "watch.started").
		Int("sources", len(sources)).
		Msg("watching sources for changes")

	report(g.Write(ctx, t))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info().Str("event", "watch.stopped").Msg("stopped watching sources")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !sources[abs] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug().
				Str("event", "watch.change").
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("source changed")
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			r, err := g.Write(ctx, t)
			if err != nil {
				logger.Error().Err(err).Str("event", "watch.regenerate_failed").Msg("regenerating prefs failed")
			}
			report(r, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("event", "watch.error").Msg("watcher error")
		}
	}
}
