package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type FileState int

const (
	StateArchived FileState = iota
	StateBad
)

type WatcherConfig struct {
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	MonitoringTime time.Duration
	PollInterval   time.Duration
}

type seenFile struct {
	firstSeen time.Time
	size      int64
	modTime   time.Time
}

// FileWatcher polls SourceDir and hands out files that have not changed for
// MonitoringTime. A file is handed out once until Done is called for it.
type FileWatcher struct {
	cfg    WatcherConfig
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	seen       map[string]seenFile
	processing map[string]bool
}

func NewFileWatcher(cfg WatcherConfig, logger *slog.Logger) (*FileWatcher, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		seen:       make(map[string]seenFile),
		processing: make(map[string]bool),
	}, nil
}

// WatchFile blocks until ctx is cancelled, sending ready files to fileChan.
func (w *FileWatcher) WatchFile(ctx context.Context, fileChan chan<- string) {
	w.logger.Info("[LOADER] start monitoring folder", "dir", w.cfg.SourceDir)
	defer w.logger.Info("[LOADER] file watcher stopped")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range w.Scan() {
				select {
				case fileChan <- path:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Scan runs one polling pass and returns the files that became ready.
func (w *FileWatcher) Scan() []string {
	entries, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		w.logger.Error("[LOADER] error while reading source directory", "error", err)
		return nil
	}

	now := w.now()
	current := make(map[string]bool, len(entries))
	var ready []string

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.cfg.SourceDir, entry.Name())
		current[path] = true

		if w.processing[path] {
			continue
		}

		prev, ok := w.seen[path]
		if !ok || prev.size != info.Size() || !prev.modTime.Equal(info.ModTime()) {
			if !ok {
				w.logger.Info("[LOADER] new file detected", "file", path)
			}
			w.seen[path] = seenFile{firstSeen: now, size: info.Size(), modTime: info.ModTime()}
			continue
		}

		if now.Sub(prev.firstSeen) >= w.cfg.MonitoringTime {
			w.processing[path] = true
			ready = append(ready, path)
		}
	}

	for path := range w.seen {
		if !current[path] {
			delete(w.seen, path)
			delete(w.processing, path)
		}
	}
	return ready
}

// Done releases a file handed out by Scan. If the file is still in the
// source directory it will be picked up again once it is stable.
func (w *FileWatcher) Done(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.processing, path)
	delete(w.seen, path)
}

// MoveToArchive moves the file into a dated folder of the archive or bad
// directory and returns its new path. Name clashes get a numeric suffix.
func (w *FileWatcher) MoveToArchive(filePath string, state FileState) (string, error) {
	root := w.cfg.ArchiveDir
	if state == StateBad {
		root = w.cfg.BadDir
	}

	destDir := filepath.Join(root, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))
	ext := filepath.Ext(destPath)
	baseName := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(filePath, destPath); err != nil {
		// rename fails across devices
		if err := copyFile(filePath, destPath); err != nil {
			return "", fmt.Errorf("error moving file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", err
		}
	}
	w.logger.Info("[LOADER] file moved", "from", filePath, "to", destPath)
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
