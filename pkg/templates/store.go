package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"jordanella.com/garden-go/internal/logging"
)

// MetadataFileName is the authoritative list of ROI definitions
const MetadataFileName = "roi_metadata.json"

// ErrMetadataCorrupt is returned when the metadata file cannot be parsed
var ErrMetadataCorrupt = errors.New("roi metadata is corrupt")

// RoiDefinition is one authored crop inside a state
type RoiDefinition struct {
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Box returns the authored bounding box
func (d RoiDefinition) Box() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
}

// Metadata maps state names to their ROI definitions
type Metadata struct {
	States map[string][]RoiDefinition `json:"states"`
}

// NewMetadata returns empty metadata
func NewMetadata() *Metadata {
	return &Metadata{States: make(map[string][]RoiDefinition)}
}

// StateNames returns the state names in sorted order
func (m *Metadata) StateNames() []string {
	names := make([]string, 0, len(m.States))
	for name := range m.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Keys returns every declared template key in sorted order
func (m *Metadata) Keys() []Key {
	var keys []Key
	for state, rois := range m.States {
		for _, roi := range rois {
			keys = append(keys, Key{State: state, Name: roi.Name})
		}
	}
	SortKeys(keys)
	return keys
}

// Template is a loaded reference crop
type Template struct {
	Key   Key
	Box   image.Rectangle // As authored, in capture coordinates
	Image *image.RGBA
}

// Set is the result of one full load
type Set struct {
	Templates []Template          // Sorted by key
	Declared  map[string][]string // state -> every template name the metadata declares
}

// HousekeepingReport lists what a load cleaned up
type HousekeepingReport struct {
	Pruned         []Key    // Metadata entries whose image was missing
	OrphansRemoved []string // Image files no entry referenced
}

// Store reads and writes the ROI directory:
//
//	<dir>/roi_metadata.json
//	<dir>/<state>/<name>.png
type Store struct {
	dir   string
	arena *Arena
	log   *logging.Logger
	mu    sync.Mutex // Serializes metadata writes
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		arena: NewArena(),
		log:   logging.NewLogger("TemplateStore"),
	}
}

// Dir returns the ROI root directory
func (s *Store) Dir() string {
	return s.dir
}

// Arena exposes the image arena
func (s *Store) Arena() *Arena {
	return s.arena
}

// MetadataPath returns the metadata file location
func (s *Store) MetadataPath() string {
	return filepath.Join(s.dir, MetadataFileName)
}

// ImageFile maps a template name to its file name
func ImageFile(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".png") {
		return name
	}
	return name + ".png"
}

// ImagePath returns the crop location for a template
func (s *Store) ImagePath(state, name string) string {
	return filepath.Join(s.dir, state, ImageFile(name))
}

// Load parses the metadata file. A missing file yields empty metadata
// and os.ErrNotExist; an unparsable one yields empty metadata and ErrMetadataCorrupt.
func (s *Store) Load() (*Metadata, error) {
	data, err := os.ReadFile(s.MetadataPath())
	if err != nil {
		return NewMetadata(), fmt.Errorf("failed to read %s: %w", s.MetadataPath(), err)
	}

	meta, err := parseMetadata(data)
	if err != nil {
		return NewMetadata(), fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
	}
	return meta, nil
}

// parseMetadata accepts both {"states": {...}} and a bare state map
func parseMetadata(data []byte) (*Metadata, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}

	meta := NewMetadata()
	if raw, ok := top["states"]; ok {
		if err := json.Unmarshal(raw, &meta.States); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(data, &meta.States); err != nil {
		return nil, err
	}
	if meta.States == nil {
		meta.States = make(map[string][]RoiDefinition)
	}
	return meta, nil
}

// Save writes the metadata atomically
func (s *Store) Save(meta *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(meta)
}

func (s *Store) saveLocked(meta *Metadata) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create roi directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal roi metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".roi_metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.MetadataPath()); err != nil {
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	return nil
}

// Housekeep reads the metadata, prunes entries whose image is missing
// (persisting the result) and deletes state-folder images nothing references.
// The read happens under the write lock so a concurrent AddRoi is never
// mistaken for an orphan.
func (s *Store) Housekeep() (HousekeepingReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.Load()
	if err != nil {
		return HousekeepingReport{}, err
	}
	return s.housekeepLocked(meta)
}

func (s *Store) housekeepLocked(meta *Metadata) (HousekeepingReport, error) {
	var report HousekeepingReport

	for state, rois := range meta.States {
		kept := rois[:0]
		for _, roi := range rois {
			if _, err := os.Stat(s.ImagePath(state, roi.Name)); errors.Is(err, os.ErrNotExist) {
				report.Pruned = append(report.Pruned, Key{State: state, Name: roi.Name})
				continue
			}
			kept = append(kept, roi)
		}
		if len(kept) == 0 {
			delete(meta.States, state)
		} else {
			meta.States[state] = kept
		}
	}
	SortKeys(report.Pruned)

	if len(report.Pruned) > 0 {
		if err := s.saveLocked(meta); err != nil {
			return report, err
		}
	}

	referenced := make(map[string]struct{})
	for state, rois := range meta.States {
		for _, roi := range rois {
			referenced[filepath.Clean(s.ImagePath(state, roi.Name))] = struct{}{}
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return report, fmt.Errorf("failed to read roi directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stateDir := filepath.Join(s.dir, entry.Name())
		files, err := os.ReadDir(stateDir)
		if err != nil {
			return report, fmt.Errorf("failed to read state directory %s: %w", stateDir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".png") {
				continue
			}
			path := filepath.Join(stateDir, f.Name())
			if _, ok := referenced[filepath.Clean(path)]; ok {
				continue
			}
			if err := os.Remove(path); err != nil {
				return report, fmt.Errorf("failed to remove orphan %s: %w", path, err)
			}
			report.OrphansRemoved = append(report.OrphansRemoved, path)
		}
	}
	sort.Strings(report.OrphansRemoved)

	return report, nil
}

// LoadSet reads the metadata, housekeeps the directory and decodes every
// template through the arena. Images that fail to decode are skipped with a
// diagnostic; their names stay in Declared so the owning state cannot match.
func (s *Store) LoadSet() (*Set, error) {
	s.mu.Lock()
	meta, err := s.Load()
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, os.ErrNotExist) {
			s.log.Warn(fmt.Sprintf("ROI metadata file not found: %s", s.MetadataPath()))
			s.arena.Retain(nil)
			return &Set{Declared: map[string][]string{}}, nil
		}
		s.log.Error("Error loading ROI metadata", err)
		s.arena.Retain(nil)
		return &Set{Declared: map[string][]string{}}, err
	}

	report, err := s.housekeepLocked(meta)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("ROI housekeeping failed", err)
	}
	for _, k := range report.Pruned {
		s.log.WarnWithContext("Pruned ROI with missing image", map[string]interface{}{"template": k.String()})
	}
	for _, path := range report.OrphansRemoved {
		s.log.InfoWithContext("Removed orphaned ROI image", map[string]interface{}{"path": path})
	}

	set := &Set{Declared: make(map[string][]string, len(meta.States))}
	keys := meta.Keys()
	for _, state := range meta.StateNames() {
		for _, roi := range meta.States[state] {
			set.Declared[state] = append(set.Declared[state], roi.Name)

			key := Key{State: state, Name: roi.Name}
			img, err := s.arena.Get(key, s.ImagePath(state, roi.Name))
			if err != nil {
				s.log.ErrorWithContext("Template not loaded", err, map[string]interface{}{"template": key.String()})
				continue
			}
			set.Templates = append(set.Templates, Template{Key: key, Box: roi.Box(), Image: img})
		}
	}
	sort.Slice(set.Templates, func(i, j int) bool { return set.Templates[i].Key.Less(set.Templates[j].Key) })

	if evicted := s.arena.Retain(keys); len(evicted) > 0 {
		s.log.DebugWithContext("Evicted template images", map[string]interface{}{"count": len(evicted)})
	}

	s.log.InfoWithContext("Loaded ROI metadata", map[string]interface{}{
		"states":    len(meta.States),
		"templates": len(set.Templates),
	})
	return set, nil
}

// AddRoi stores a freshly authored crop and appends (or replaces) its
// definition under state.
func (s *Store) AddRoi(state, name string, box image.Rectangle, crop image.Image) error {
	if state == "" || name == "" {
		return fmt.Errorf("state and name cannot be empty")
	}
	if strings.ContainsAny(state+name, `/\`) {
		return fmt.Errorf("state and name cannot contain path separators")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return fmt.Errorf("failed to encode crop: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.ImagePath(state, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write crop: %w", err)
	}

	meta, err := s.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	def := RoiDefinition{Name: name, X: box.Min.X, Y: box.Min.Y, Width: box.Dx(), Height: box.Dy()}
	rois := meta.States[state]
	replaced := false
	for i := range rois {
		if rois[i].Name == name {
			rois[i] = def
			replaced = true
		}
	}
	if !replaced {
		rois = append(rois, def)
	}
	meta.States[state] = rois

	return s.saveLocked(meta)
}
