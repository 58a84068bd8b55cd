// Package calfile reads and writes the YAML calendar document used by the
// memory and file backends.
package calfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"homecal/internal/core"
	"homecal/internal/store"
)

// DefaultFileName is the calendar document name inside the default directory.
const DefaultFileName = "calendar.yaml"

const appDirName = "homecal"

var (
	ErrFileNotFound = errors.New("calendar file does not exist")
	ErrDirNotFound  = errors.New("calendar directory does not exist")
	ErrReadOnly     = errors.New("calendar file is read only")
)

// Document is the on-disk calendar.
type Document struct {
	Categories []CategoryRecord `yaml:"categories"`
	Events     []EventRecord    `yaml:"events"`
}

type CategoryRecord struct {
	ID          int               `yaml:"id"`
	Description string            `yaml:"description"`
	Type        core.CategoryType `yaml:"type"`
}

type EventRecord struct {
	ID                int       `yaml:"id"`
	Start             time.Time `yaml:"start"`
	CategoryID        int       `yaml:"category_id"`
	DurationInMinutes float64   `yaml:"duration_minutes"`
	Details           string    `yaml:"details,omitempty"`
	Source            string    `yaml:"source,omitempty"`
}

// DefaultDir is <user config dir>/homecal.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// VerifyReadPath resolves the calendar file to read. An empty path selects
// defaultName in the default directory. The file must exist.
func VerifyReadPath(path, defaultName string) (string, error) {
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, defaultName)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return path, nil
}

// VerifyWritePath resolves the calendar file to write. An empty path selects
// defaultName in the default directory, which is created if needed. The parent
// directory of an explicit path must already exist, and an existing file must
// be writable.
func VerifyWritePath(path, defaultName string) (string, error) {
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
		path = filepath.Join(dir, defaultName)
	}

	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrDirNotFound, dir)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return path, nil
	case err != nil:
		return "", err
	case info.Mode().Perm()&0o200 == 0:
		return "", fmt.Errorf("%w: %s", ErrReadOnly, path)
	}
	return path, nil
}

// Load reads the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &doc, nil
}

// Save writes doc atomically through a temp file in the same directory and
// leaves the file with 0600 permissions.
func Save(path string, doc *Document) error {
	if path == "" {
		return errors.New("calendar path is empty")
	}
	if doc == nil {
		return errors.New("calendar document is nil")
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".homecal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// FromSnapshot builds a document from a store snapshot, ordered by id.
func FromSnapshot(snap store.Snapshot) *Document {
	doc := &Document{
		Categories: make([]CategoryRecord, 0, len(snap.Categories)),
		Events:     make([]EventRecord, 0, len(snap.Events)),
	}
	for _, c := range snap.Categories {
		doc.Categories = append(doc.Categories, CategoryRecord{ID: c.ID(), Description: c.Description(), Type: c.Type()})
	}
	for _, e := range snap.Events {
		doc.Events = append(doc.Events, EventRecord{
			ID:                e.ID(),
			Start:             e.StartDateTime(),
			CategoryID:        e.CategoryID(),
			DurationInMinutes: e.DurationInMinutes(),
			Details:           e.Details(),
			Source:            snap.Sources[e.ID()],
		})
	}
	slices.SortFunc(doc.Categories, func(a, b CategoryRecord) int { return a.ID - b.ID })
	slices.SortFunc(doc.Events, func(a, b EventRecord) int { return a.ID - b.ID })
	return doc
}

// Snapshot converts the document into core values. Duplicate ids are rejected.
func (d *Document) Snapshot() (store.Snapshot, error) {
	snap := store.Snapshot{
		Categories: make([]core.Category, 0, len(d.Categories)),
		Events:     make([]core.Event, 0, len(d.Events)),
		Sources:    make(map[int]string),
	}

	seen := make(map[int]bool, len(d.Categories))
	for _, c := range d.Categories {
		if seen[c.ID] {
			return store.Snapshot{}, fmt.Errorf("duplicate category id %d", c.ID)
		}
		seen[c.ID] = true
		snap.Categories = append(snap.Categories, core.NewCategory(c.ID, c.Description, c.Type))
	}

	clear(seen)
	for _, r := range d.Events {
		if seen[r.ID] {
			return store.Snapshot{}, fmt.Errorf("duplicate event id %d", r.ID)
		}
		seen[r.ID] = true
		ev, err := core.NewEvent(r.ID, r.Start, r.CategoryID, r.DurationInMinutes, r.Details)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("event %d: %w", r.ID, err)
		}
		snap.Events = append(snap.Events, ev)
		if r.Source != "" {
			snap.Sources[r.ID] = r.Source
		}
	}
	return snap, nil
}

// LoadSnapshot reads path and converts it in one step.
func LoadSnapshot(path string) (store.Snapshot, error) {
	doc, err := Load(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	return doc.Snapshot()
}

// Saver returns a function that writes snapshots to path, suitable as a
// memory store persist hook.
func Saver(path string) func(store.Snapshot) error {
	return func(snap store.Snapshot) error {
		return Save(path, FromSnapshot(snap))
	}
}
