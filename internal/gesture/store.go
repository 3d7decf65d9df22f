package gesture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no sequence file exists for a name
	ErrNotFound = errors.New("gesture not found")
	// ErrEmptySequence is returned for a sequence file without events
	ErrEmptySequence = errors.New("gesture has no events")
)

// Store reads and writes sequence files in one directory
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the gesture directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing name; ".json" is appended when absent
func (s *Store) Path(name string) string {
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		name += ".json"
	}
	return filepath.Join(s.dir, name)
}

// Load reads a sequence. Missing, unreadable, unparsable and empty files all fail.
func (s *Store) Load(name string) (Sequence, error) {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read gesture %s: %w", path, err)
	}

	var seq Sequence
	if err := json.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("failed to parse gesture %s: %w", path, err)
	}
	if len(seq) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySequence, path)
	}
	if err := seq.Validate(); err != nil {
		return nil, fmt.Errorf("gesture %s: %w", path, err)
	}
	return seq, nil
}

// Save writes a sequence, replacing any existing file
func (s *Store) Save(name string, seq Sequence) error {
	if len(seq) == 0 {
		return ErrEmptySequence
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create gesture directory: %w", err)
	}
	data, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal gesture: %w", err)
	}
	if err := os.WriteFile(s.Path(name), data, 0644); err != nil {
		return fmt.Errorf("failed to write gesture: %w", err)
	}
	return nil
}

// List returns the stored gesture names without extension, sorted
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list gestures: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	return names, nil
}
