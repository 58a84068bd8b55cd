package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"homecal/internal/calfile"
	"homecal/internal/store"
	"homecal/internal/store/memory"
	"homecal/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case FileBackend:
		return f.createFileBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{Backend: repo, Cleanup: repo.Close}, nil
}

// createMemoryBackend seeds a memory store from the calendar file when one
// exists. Writes are not persisted.
func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	snap, path, err := f.readSeed(config.CalendarFile)
	if err != nil {
		return nil, err
	}

	s := memory.NewFromSnapshot(snap)
	f.logger.Info("Initialized memory backend",
		"seed_file", path,
		"categories", len(snap.Categories),
		"events", len(snap.Events))
	return &BackendResult{Backend: s, Cleanup: s.Close}, nil
}

// createFileBackend is a memory store that rewrites the calendar file after
// every write.
func (f *DefaultFactory) createFileBackend(config Config) (*BackendResult, error) {
	path, err := calfile.VerifyWritePath(config.CalendarFile, calfile.DefaultFileName)
	if err != nil {
		return nil, fmt.Errorf("calendar file not writable: %w", err)
	}
	snap, _, err := f.readSeed(path)
	if err != nil {
		return nil, err
	}

	s := memory.NewFromSnapshot(snap).WithPersist(calfile.Saver(path))
	f.logger.Info("Initialized file backend",
		"path", path,
		"categories", len(snap.Categories),
		"events", len(snap.Events))
	return &BackendResult{Backend: s, Cleanup: s.Close}, nil
}

func (f *DefaultFactory) readSeed(path string) (store.Snapshot, string, error) {
	resolved, err := calfile.VerifyReadPath(path, calfile.DefaultFileName)
	if errors.Is(err, calfile.ErrFileNotFound) {
		f.logger.Info("No calendar file, starting empty", "error", err)
		return store.Snapshot{}, "", nil
	}
	if err != nil {
		return store.Snapshot{}, "", err
	}
	snap, err := calfile.LoadSnapshot(resolved)
	if err != nil {
		return store.Snapshot{}, "", fmt.Errorf("load calendar file: %w", err)
	}
	return snap, resolved, nil
}
