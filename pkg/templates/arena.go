package templates

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"sort"
	"sync"
	"time"

	"jordanella.com/garden-go/internal/cv"
)

// Key identifies a template inside its owning state
type Key struct {
	State string
	Name  string
}

// String renders the key as "state/name"
func (k Key) String() string {
	return k.State + "/" + k.Name
}

// Less orders keys by state then name
func (k Key) Less(o Key) bool {
	if k.State != o.State {
		return k.State < o.State
	}
	return k.Name < o.Name
}

// SortKeys sorts keys in place by state then name
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

type arenaEntry struct {
	path    string
	modTime time.Time
	size    int64
	image   *image.RGBA
}

// Arena holds decoded template images keyed by (state, name).
// Entries live until Retain or Evict drops them; nothing is reclaimed implicitly.
type Arena struct {
	mu      sync.Mutex
	entries map[Key]*arenaEntry
	stats   ArenaStats
}

// ArenaStats tracks arena activity
type ArenaStats struct {
	Hits      int64 // Served from memory
	Misses    int64 // Had to decode
	Loads     int64 // Successful decodes
	Evictions int64 // Entries dropped
	Failures  int64 // Decode or stat failures
}

// NewArena creates an empty arena
func NewArena() *Arena {
	return &Arena{entries: make(map[Key]*arenaEntry)}
}

// Get returns the decoded image for key, decoding path when the entry is
// missing or the file changed on disk since it was cached.
func (a *Arena) Get(key Key, path string) (*image.RGBA, error) {
	info, err := os.Stat(path)
	if err != nil {
		a.mu.Lock()
		a.stats.Failures++
		a.mu.Unlock()
		return nil, fmt.Errorf("template image %s: %w", key, err)
	}

	a.mu.Lock()
	if e, ok := a.entries[key]; ok && e.path == path && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		a.stats.Hits++
		a.mu.Unlock()
		return e.image, nil
	}
	a.stats.Misses++
	a.mu.Unlock()

	img, err := decodePNG(path)
	if err != nil {
		a.mu.Lock()
		a.stats.Failures++
		a.mu.Unlock()
		return nil, fmt.Errorf("template image %s: %w", key, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[key] = &arenaEntry{
		path:    path,
		modTime: info.ModTime(),
		size:    info.Size(),
		image:   img,
	}
	a.stats.Loads++
	return img, nil
}

// Evict drops a single entry
func (a *Arena) Evict(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[key]; !ok {
		return false
	}
	delete(a.entries, key)
	a.stats.Evictions++
	return true
}

// Retain evicts every entry whose key is not in keep and returns the evicted keys
func (a *Arena) Retain(keep []Key) []Key {
	wanted := make(map[Key]struct{}, len(keep))
	for _, k := range keep {
		wanted[k] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var evicted []Key
	for k := range a.entries {
		if _, ok := wanted[k]; !ok {
			delete(a.entries, k)
			a.stats.Evictions++
			evicted = append(evicted, k)
		}
	}
	SortKeys(evicted)
	return evicted
}

// Len returns the number of resident images
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Stats returns arena statistics
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func decodePNG(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	return cv.ToRGBA(img), nil
}
