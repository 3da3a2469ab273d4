package internal

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWatcher(t *testing.T) (*FileWatcher, *fakeClock) {
	t.Helper()
	root := t.TempDir()
	w, err := NewFileWatcher(WatcherConfig{
		SourceDir:      filepath.Join(root, "inbox"),
		ArchiveDir:     filepath.Join(root, "archive"),
		BadDir:         filepath.Join(root, "bad"),
		MonitoringTime: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	w.now = clock.now
	return w, clock
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewFileWatcherCreatesDirectories(t *testing.T) {
	w, _ := newTestWatcher(t)
	for _, dir := range []string{w.cfg.SourceDir, w.cfg.ArchiveDir, w.cfg.BadDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestScanWaitsForStableFiles(t *testing.T) {
	w, clock := newTestWatcher(t)
	path := filepath.Join(w.cfg.SourceDir, "sleep.txt")
	writeFile(t, path, "sleep tips")
	writeFile(t, filepath.Join(w.cfg.SourceDir, ".partial"), "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(w.cfg.SourceDir, "nested"), 0o755))

	assert.Empty(t, w.Scan(), "first sighting")
	clock.advance(4 * time.Second)
	assert.Empty(t, w.Scan(), "not stable long enough")
	clock.advance(time.Second)
	assert.Equal(t, []string{path}, w.Scan())

	clock.advance(time.Minute)
	assert.Empty(t, w.Scan(), "handed out once")

	w.Done(path)
	assert.Empty(t, w.Scan(), "seen again from scratch")
	clock.advance(5 * time.Second)
	assert.Equal(t, []string{path}, w.Scan())
}

func TestScanRestartsTimerOnChange(t *testing.T) {
	w, clock := newTestWatcher(t)
	path := filepath.Join(w.cfg.SourceDir, "stress.md")
	writeFile(t, path, "# Stress")

	assert.Empty(t, w.Scan())
	clock.advance(4 * time.Second)
	writeFile(t, path, "# Stress\n\nstill being written")
	assert.Empty(t, w.Scan())
	clock.advance(4 * time.Second)
	assert.Empty(t, w.Scan())
	clock.advance(time.Second)
	assert.Equal(t, []string{path}, w.Scan())
}

func TestMoveToArchive(t *testing.T) {
	w, _ := newTestWatcher(t)
	day := "2026-03-14"

	first := filepath.Join(w.cfg.SourceDir, "sleep.txt")
	writeFile(t, first, "one")
	dest, err := w.MoveToArchive(first, StateArchived)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.cfg.ArchiveDir, day, "sleep.txt"), dest)
	assert.NoFileExists(t, first)

	writeFile(t, first, "two")
	dest, err = w.MoveToArchive(first, StateArchived)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.cfg.ArchiveDir, day, "sleep_1.txt"), dest)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	bad := filepath.Join(w.cfg.SourceDir, "broken.pdf")
	writeFile(t, bad, "%PDF-")
	dest, err = w.MoveToArchive(bad, StateBad)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.cfg.BadDir, day, "broken.pdf"), dest)
}
