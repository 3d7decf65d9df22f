package policy

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handleLog struct {
	calls []string
	rois  map[string]image.Point
	err   error
}

func (h *handleLog) QueueReplay(name string) error {
	h.calls = append(h.calls, "replay "+name)
	return h.err
}

func (h *handleLog) QueueReplayWithOffset(name string, x, y int) error {
	h.calls = append(h.calls, fmt.Sprintf("replay %s at %d %d", name, x, y))
	return h.err
}

func (h *handleLog) RoiCenter(name string) (image.Point, bool) {
	p, ok := h.rois[name]
	return p, ok
}

const sampleTable = `
states:
  lockscreen:
    - replay: unlock
      at_roi: lock
  firstscreen:
    - replay: scrollright
  secondscreen:
    - replay: tap
      x: 208
      y: 492
    - replay: tap
      at_roi: missing
    - replay: settle
`

func TestTableHandleState(t *testing.T) {
	table, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)
	assert.Equal(t, []string{"firstscreen", "lockscreen", "secondscreen"}, table.States())

	h := &handleLog{rois: map[string]image.Point{"lock": {X: 50, Y: 60}}}
	table.HandleState("lockscreen", h)
	table.HandleState("firstscreen", h)
	table.HandleState("secondscreen", h)
	table.HandleState("gardenmain", h)

	assert.Equal(t, []string{
		"replay unlock at 50 60",
		"replay scrollright",
		"replay tap at 208 492",
		"replay settle",
	}, h.calls)
}

func TestTableKeepsGoingAfterFailure(t *testing.T) {
	table, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)

	h := &handleLog{err: errors.New("missing gesture")}
	table.HandleState("secondscreen", h)
	assert.Len(t, h.calls, 2)
}

func TestParseTableRejectsInvalidRules(t *testing.T) {
	tests := map[string]string{
		"no replay":    "states:\n  a:\n    - at_roi: x\n",
		"half point":   "states:\n  a:\n    - replay: g\n      x: 3\n",
		"both anchors": "states:\n  a:\n    - replay: g\n      at_roi: r\n      x: 1\n      y: 2\n",
		"bad yaml":     "states: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTable([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSelect(t *testing.T) {
	p, err := Select("", "")
	require.NoError(t, err)
	assert.IsType(t, Noop{}, p)

	p, err = Select("None", "")
	require.NoError(t, err)
	assert.IsType(t, Noop{}, p)

	_, err = Select("table", "")
	assert.Error(t, err)

	_, err = Select("magic", "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTable), 0644))
	p, err = Select("table", path)
	require.NoError(t, err)
	assert.IsType(t, &Table{}, p)
}

func TestFuncPolicy(t *testing.T) {
	var seen string
	var p Policy = Func(func(state string, h Handle) { seen = state })
	p.HandleState("menu", &handleLog{})
	assert.Equal(t, "menu", seen)
}
