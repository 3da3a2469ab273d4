package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"wellbot/loader/internal"
	"wellbot/rag"
	"wellbot/types"
)

// Ingester stores one document and its chunks.
type Ingester interface {
	Ingest(ctx context.Context, name string, fileType types.FileType, data []byte) (*types.IngestSummary, error)
}

// Service feeds files dropped into the inbox folder through the ingestion
// pipeline and files them away into the archive or bad folder.
type Service struct {
	logger   *slog.Logger
	ingester Ingester
	watcher  *internal.FileWatcher
}

// Config describes the folders the loader works with.
type Config struct {
	SourceDir  string
	ArchiveDir string
	BadDir     string
	// MonitoringTime is how long a file must stay unchanged before it is read.
	MonitoringTime time.Duration
	PollInterval   time.Duration
}

func New(ingester Ingester, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := internal.NewFileWatcher(internal.WatcherConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Service{logger: logger, ingester: ingester, watcher: watcher}, nil
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	fileChan := make(chan string, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.watcher.WatchFile(ctx, fileChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range fileChan {
			if err := s.ProcessFile(ctx, path); err != nil {
				s.logger.Error("[LOADER] process file", "file", path, "error", err)
			}
		}
	}()

	<-ctx.Done()
	s.logger.Info("[LOADER] shutting down gracefully...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("[LOADER] all goroutines stopped")
	case <-time.After(5 * time.Second):
		s.logger.Warn("[LOADER] timeout waiting for goroutines to stop")
	}
}

// ProcessFile ingests a single file. Unsupported or unreadable documents go to
// the bad folder. Other failures leave the file in place to be retried.
func (s *Service) ProcessFile(ctx context.Context, path string) error {
	defer s.watcher.Done(path)

	name := filepath.Base(path)
	fileType, ok := types.ParseFileType(strings.ToLower(filepath.Ext(path)))
	if !ok {
		s.logger.Warn("[LOADER] unsupported file type", "file", name)
		_, mvErr := s.watcher.MoveToArchive(path, internal.StateBad)
		return mvErr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	summary, err := s.ingester.Ingest(ctx, name, fileType, data)
	switch {
	case errors.Is(err, rag.ErrUnsupportedOrCorruptDocument):
		s.logger.Warn("[LOADER] rejected document", "file", name, "error", err)
		_, mvErr := s.watcher.MoveToArchive(path, internal.StateBad)
		return mvErr
	case ctx.Err() != nil:
		// interrupted ingests are retried on the next start
		return fmt.Errorf("ingest %s interrupted: %w", name, ctx.Err())
	case err != nil:
		return fmt.Errorf("ingest %s: %w", name, err)
	}

	state := internal.StateArchived
	if summary.Total > 0 && summary.Processed == 0 {
		state = internal.StateBad
	}
	s.logger.Info("[LOADER] document ingested",
		"file", name,
		"document_id", summary.DocumentID,
		"processed", summary.Processed,
		"total", summary.Total,
	)
	_, err = s.watcher.MoveToArchive(path, state)
	return err
}
