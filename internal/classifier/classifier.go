package classifier

import (
	"image"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"jordanella.com/garden-go/internal/cv"
	"jordanella.com/garden-go/internal/logging"
	"jordanella.com/garden-go/pkg/templates"
)

// DefaultThreshold is the highest aggregate score still accepted as a match
const DefaultThreshold = 0.01

// TemplateSource supplies the full template set on load and reload
type TemplateSource interface {
	LoadSet() (*templates.Set, error)
}

// RoiMatch is the best location found for one template this cycle
type RoiMatch struct {
	Key      templates.Key
	Center   image.Point
	Size     image.Point
	Score    float64
	Computed bool // False when the template could not be evaluated against the frame
}

// Bounds returns the matched box
func (m RoiMatch) Bounds() image.Rectangle {
	min := m.Center.Sub(image.Point{X: m.Size.X / 2, Y: m.Size.Y / 2})
	return image.Rectangle{Min: min, Max: min.Add(m.Size)}
}

// Result is the outcome of one classification
type Result struct {
	State   string // Empty when unknown
	Score   float64
	Matches []RoiMatch
}

// Known reports whether a state was accepted
func (r Result) Known() bool {
	return r.State != ""
}

type entry struct {
	tmpl   templates.Template
	needle *cv.Needle
}

// snapshot is immutable once published
type snapshot struct {
	entries  []entry
	declared map[string][]string
	states   []string
	byKey    map[templates.Key]int
}

// Classifier decides which named state the current frame shows
type Classifier struct {
	source    TemplateSource
	threshold float64
	geometry  bool
	match     *cv.MatchConfig

	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
	requests chan struct{}

	log *logging.Logger
}

// Option configures a Classifier
type Option func(*Classifier)

// WithThreshold overrides the acceptance threshold
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithGeometryCheck requires candidates to keep the authored left/right and
// above/below ordering between every pair of their templates.
func WithGeometryCheck(enabled bool) Option {
	return func(c *Classifier) { c.geometry = enabled }
}

// WithMatchConfig sets the matcher configuration
func WithMatchConfig(cfg *cv.MatchConfig) Option {
	return func(c *Classifier) { c.match = cfg }
}

// New loads every template from source. A load error is logged and leaves the
// classifier with whatever set the source returned (possibly empty).
func New(source TemplateSource, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		source:    source,
		threshold: DefaultThreshold,
		match:     cv.DefaultMatchConfig(),
		requests:  make(chan struct{}, 1),
		log:       logging.NewLogger("StateClassifier"),
	}
	for _, opt := range opts {
		opt(c)
	}

	err := c.Reload()
	return c, err
}

// Reload rereads the source and swaps in the new template set
func (c *Classifier) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	set, err := c.source.LoadSet()
	if set == nil {
		set = &templates.Set{}
	}
	snap := buildSnapshot(set)
	c.current.Store(snap)

	if err != nil {
		c.log.Error("Template load failed, using partial set", err)
	}
	c.log.InfoWithContext("Templates loaded", map[string]interface{}{
		"templates": len(snap.entries),
		"states":    len(snap.states),
	})
	return err
}

// RequestReload asks for a reload on the next ApplyPendingReload. Never blocks.
func (c *Classifier) RequestReload() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// ApplyPendingReload performs a requested reload, if any
func (c *Classifier) ApplyPendingReload() bool {
	select {
	case <-c.requests:
		_ = c.Reload()
		return true
	default:
		return false
	}
}

func buildSnapshot(set *templates.Set) *snapshot {
	snap := &snapshot{
		declared: make(map[string][]string, len(set.Declared)),
		byKey:    make(map[templates.Key]int, len(set.Templates)),
	}
	for state, names := range set.Declared {
		snap.declared[state] = append([]string(nil), names...)
		snap.states = append(snap.states, state)
	}
	sort.Strings(snap.states)

	for _, t := range set.Templates {
		if _, ok := snap.byKey[t.Key]; ok {
			continue
		}
		snap.byKey[t.Key] = len(snap.entries)
		snap.entries = append(snap.entries, entry{tmpl: t, needle: cv.PrepareNeedle(t.Image)})
	}
	return snap
}

// Count returns the number of loaded templates
func (c *Classifier) Count() int {
	return len(c.current.Load().entries)
}

// StateCount returns the number of declared states
func (c *Classifier) StateCount() int {
	return len(c.current.Load().states)
}

// DetectState classifies frame against the current snapshot
func (c *Classifier) DetectState(frame *image.RGBA) Result {
	snap := c.current.Load()
	result := Result{Score: math.Inf(1), Matches: make([]RoiMatch, len(snap.entries))}
	if frame == nil {
		return result
	}

	prepared := cv.PrepareFrame(frame)
	for i, e := range snap.entries {
		m := RoiMatch{Key: e.tmpl.Key, Size: e.needle.Size(), Score: math.Inf(1)}
		res, err := prepared.FindBest(e.needle, c.match)
		if err != nil {
			c.log.DebugWithContext("Template not computed", map[string]interface{}{
				"template": e.tmpl.Key.String(),
				"error":    err.Error(),
			})
		} else {
			m.Center = res.Center()
			m.Score = res.Score
			m.Computed = true
		}
		result.Matches[i] = m
	}

	best := ""
	bestScore := math.Inf(1)
	for _, state := range snap.states {
		scores, ok := snap.candidateScores(state, result.Matches)
		if !ok {
			continue
		}
		if c.geometry && !snap.consistent(state, result.Matches) {
			continue
		}
		// States are visited in name order, so ties keep the lower name.
		if agg := stat.Mean(scores, nil); agg < bestScore {
			best, bestScore = state, agg
		}
	}

	result.Score = bestScore
	if best != "" && bestScore <= c.threshold {
		result.State = best
	}
	return result
}

// candidateScores returns the state's template scores when every declared
// template was loaded and computed.
func (s *snapshot) candidateScores(state string, matches []RoiMatch) ([]float64, bool) {
	names := s.declared[state]
	if len(names) == 0 {
		return nil, false
	}
	scores := make([]float64, 0, len(names))
	for _, name := range names {
		i, ok := s.byKey[templates.Key{State: state, Name: name}]
		if !ok || !matches[i].Computed {
			return nil, false
		}
		scores = append(scores, matches[i].Score)
	}
	return scores, true
}

func (s *snapshot) consistent(state string, matches []RoiMatch) bool {
	names := s.declared[state]
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a := s.byKey[templates.Key{State: state, Name: names[i]}]
			b := s.byKey[templates.Key{State: state, Name: names[j]}]

			ea, eb := center(s.entries[a].tmpl.Box), center(s.entries[b].tmpl.Box)
			fa, fb := matches[a].Center, matches[b].Center

			if (ea.X < eb.X) != (fa.X < fb.X) || (ea.Y < eb.Y) != (fa.Y < fb.Y) {
				return false
			}
		}
	}
	return true
}

func center(r image.Rectangle) image.Point {
	return image.Point{X: r.Min.X + r.Dx()/2, Y: r.Min.Y + r.Dy()/2}
}
