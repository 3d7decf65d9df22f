package input

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/garden-go/internal/adb"
	"jordanella.com/garden-go/internal/window"
)

type motionLog struct {
	events []string
	err    error
}

func (m *motionLog) MotionEvent(action adb.MotionAction, x, y int) error {
	m.events = append(m.events, fmt.Sprintf("%s %d %d", action, x, y))
	return m.err
}

func TestADBInjectorGesture(t *testing.T) {
	log := &motionLog{}
	win := window.NewContext("scrcpy", 1, window.NewTranslator(window.TranslatorConfig{
		SourceWidth: 100, SourceHeight: 200, TargetWidth: 200, TargetHeight: 400,
	}))
	inj := NewADBInjector(log, win)

	require.NoError(t, inj.MoveTo(10, 10))
	require.NoError(t, inj.Press())
	require.NoError(t, inj.MoveTo(20, 30))
	require.NoError(t, inj.Release())
	require.NoError(t, inj.MoveTo(50, 50))

	assert.Equal(t, []string{
		"DOWN 20 20",
		"MOVE 40 60",
		"UP 40 60",
	}, log.events)
}

func TestADBInjectorPressFailureStaysReleased(t *testing.T) {
	log := &motionLog{err: errors.New("offline")}
	inj := NewADBInjector(log, window.NewContext("", 1, nil))

	assert.Error(t, inj.Press())
	assert.NoError(t, inj.MoveTo(1, 1))
	assert.Len(t, log.events, 1)
}

func TestNoopSatisfiesInjector(t *testing.T) {
	var inj Injector = Noop{}
	assert.NoError(t, inj.MoveTo(1, 2))
	assert.NoError(t, inj.Press())
	assert.NoError(t, inj.Release())
}
