package orchestrate

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch runs Index once, then re-runs an incremental Index() every time
// a debounced burst of filesystem changes settles, until ctx is
// cancelled. Grounded on the teacher's internal/watcher.fileWatcher
// (recursive directory watching, a single debounce timer reset on
// every event, a callback fired once the quiet period elapses).
func (o *Orchestrator) Watch(ctx context.Context, opts Options, onReport func(Report, error)) error {
	report, err := o.Index(ctx, opts)
	onReport(report, err)
	return o.watchLoop(ctx, opts, onReport)
}

func (o *Orchestrator) watchLoop(ctx context.Context, opts Options, onReport func(Report, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	roots := make([]string, 0, len(o.cfg.Repos))
	for _, repo := range o.cfg.Repos {
		roots = append(roots, repo.Root)
	}
	for _, root := range roots {
		if err := addDirsRecursively(w, root); err != nil {
			return err
		}
	}

	var (
		mu        sync.Mutex
		timer     *time.Timer
		reindexCh = make(chan struct{}, 1)
	)
	resetTimer := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			select {
			case reindexCh <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = addDirsRecursively(w, event.Name)
				}
			}
			if shouldTriggerReindex(event) {
				resetTimer()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("coderag: watch error: %v", err)

		case <-reindexCh:
			report, err := o.Index(ctx, opts)
			onReport(report, err)
		}
	}
}

func shouldTriggerReindex(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

// skipWatchDirs names directories never worth recursing into, same list
// as the deny list applied during scanning (spec.md §4.A).
var skipWatchDirs = map[string]bool{
	".git": true, "node_modules": true, ".coderag": true, "dist": true, "build": true,
}

func addDirsRecursively(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if skipWatchDirs[filepath.Base(path)] {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
