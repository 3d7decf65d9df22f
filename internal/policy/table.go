package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"jordanella.com/garden-go/internal/logging"
)

// Rule schedules one gesture. Without an anchor the gesture replays where it
// was recorded; at_roi moves it onto a matched template, x/y onto a fixed point.
type Rule struct {
	Replay string `yaml:"replay"`
	AtRoi  string `yaml:"at_roi,omitempty"`
	X      *int   `yaml:"x,omitempty"`
	Y      *int   `yaml:"y,omitempty"`
}

// Validate checks the rule is complete and unambiguous
func (r Rule) Validate() error {
	if r.Replay == "" {
		return fmt.Errorf("replay is required")
	}
	if (r.X == nil) != (r.Y == nil) {
		return fmt.Errorf("x and y must be given together")
	}
	if r.AtRoi != "" && r.X != nil {
		return fmt.Errorf("at_roi and x/y are mutually exclusive")
	}
	return nil
}

// tableFile is the YAML layout:
//
//	states:
//	  lockscreen:
//	    - replay: unlock
//	      at_roi: lock
type tableFile struct {
	States map[string][]Rule `yaml:"states"`
}

// Table maps state names to the gestures to schedule
type Table struct {
	rules map[string][]Rule
	log   *logging.Logger
}

// LoadTable reads a YAML policy file
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	t.log.InfoWithContext("Policy table loaded", map[string]interface{}{
		"path":   path,
		"states": strings.Join(t.States(), ","),
	})
	return t, nil
}

// ParseTable parses and validates a YAML policy document
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy YAML: %w", err)
	}

	for state, rules := range file.States {
		for i, rule := range rules {
			if err := rule.Validate(); err != nil {
				return nil, fmt.Errorf("state '%s' rule %d validation failed: %w", state, i+1, err)
			}
		}
	}

	if file.States == nil {
		file.States = map[string][]Rule{}
	}
	return &Table{rules: file.States, log: logging.NewLogger("Policy")}, nil
}

// States lists the states the table reacts to
func (t *Table) States() []string {
	names := make([]string, 0, len(t.rules))
	for name := range t.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules returns the rules for state
func (t *Table) Rules(state string) []Rule {
	return t.rules[state]
}

// HandleState queues every rule of state in order. A rule whose ROI did not
// match or whose gesture fails to load is skipped.
func (t *Table) HandleState(state string, h Handle) {
	for _, rule := range t.Rules(state) {
		var err error
		switch {
		case rule.AtRoi != "":
			center, ok := h.RoiCenter(rule.AtRoi)
			if !ok {
				t.log.WarnWithContext("ROI not found in detection results", map[string]interface{}{
					"state": state,
					"roi":   rule.AtRoi,
				})
				continue
			}
			err = h.QueueReplayWithOffset(rule.Replay, center.X, center.Y)
		case rule.X != nil:
			err = h.QueueReplayWithOffset(rule.Replay, *rule.X, *rule.Y)
		default:
			err = h.QueueReplay(rule.Replay)
		}
		if err != nil {
			t.log.ErrorWithContext("Policy rule failed", err, map[string]interface{}{
				"state":  state,
				"replay": rule.Replay,
			})
		}
	}
}
