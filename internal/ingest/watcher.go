package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	processedDir = "processed"
	failedDir    = "failed"

	defaultSettle = 2 * time.Second
)

// Importer ingests one roster export.
type Importer interface {
	Upload(ctx context.Context, data []byte) (*UploadResult, error)
}

// Watcher imports every CSV file that lands in an inbox directory, one file
// at a time, then moves it to processed/ or failed/.
type Watcher struct {
	dir      string
	importer Importer
	settle   time.Duration
	onResult func(path string, res *UploadResult, err error)
}

// NewWatcher watches dir and hands each settled CSV file to imp.
func NewWatcher(dir string, imp Importer) *Watcher {
	return &Watcher{dir: dir, importer: imp, settle: defaultSettle}
}

// SetSettleDelay sets how long a file must go without writes before import.
func (w *Watcher) SetSettleDelay(d time.Duration) {
	if d > 0 {
		w.settle = d
	}
}

// OnResult registers a callback invoked after every import attempt.
func (w *Watcher) OnResult(fn func(path string, res *UploadResult, err error)) {
	w.onResult = fn
}

// Run imports files already present in the inbox, then blocks handling new
// files until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create inbox %s dir: %w", sub, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch inbox %s: %w", w.dir, err)
	}
	log.Info().Str("dir", w.dir).Msg("Watching roster inbox")

	existing, err := w.pendingFiles()
	if err != nil {
		return err
	}
	for _, path := range existing {
		w.process(ctx, path)
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(max(w.settle/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isRosterFile(event.Name) || filepath.Dir(event.Name) != filepath.Clean(w.dir) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending[event.Name] = time.Now()
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Roster inbox watcher error")

		case <-ticker.C:
			for _, path := range settled(pending, w.settle) {
				delete(pending, path)
				w.process(ctx, path)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) pendingFiles() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox %s: %w", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && isRosterFile(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *Watcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Error().Err(err).Str("file", path).Msg("Failed to read roster file")
		return
	}

	res, err := w.importer.Upload(ctx, data)
	dest := processedDir
	if err != nil {
		dest = failedDir
		log.Warn().Err(err).Str("file", path).Msg("Roster file import failed")
	} else {
		log.Info().Str("file", path).Str("batch", res.Batch).Msg("Roster file imported")
	}

	if moveErr := moveInto(path, filepath.Join(w.dir, dest)); moveErr != nil {
		log.Error().Err(moveErr).Str("file", path).Str("dest", dest).Msg("Failed to move roster file")
	}
	if w.onResult != nil {
		w.onResult(path, res, err)
	}
}

func settled(pending map[string]time.Time, settle time.Duration) []string {
	cutoff := time.Now().Add(-settle)
	var ready []string
	for path, last := range pending {
		if last.Before(cutoff) {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func moveInto(path, dir string) error {
	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(target, ext), time.Now().Format("20060102_150405.000000000"), ext)
	}
	return os.Rename(path, target)
}

func isRosterFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
