package commands

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"jordanella.com/garden-go/internal/database"
	"jordanella.com/garden-go/internal/gesture"
	"jordanella.com/garden-go/internal/logging"
	"jordanella.com/garden-go/pkg/templates"
)

var (
	// ErrQuit is returned by the quit command; the caller ends the loop
	ErrQuit = errors.New("quit requested")
	// ErrUnknownCommand is returned for an unregistered verb
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage is returned when a command's arguments don't parse
	ErrUsage = errors.New("invalid arguments")
)

// Replays queues gestures by name
type Replays interface {
	QueueReplay(name string) error
	QueueReplayWithOffset(name string, x, y int) error
}

// Author is the ROI authoring tool as seen from the console
type Author interface {
	Begin(state string) error
	SetRect(rect image.Rectangle) error
	Cancel()
}

// History is the session journal as seen from the console
type History interface {
	StateHistory(limit int) ([]*database.StateChange, error)
	ReplayCounts() ([]database.GestureCount, error)
	Errors(limit int) ([]*database.ErrorLog, error)
	ErrorCounts() (map[string]int, error)
	Stats() (database.Stats, error)
}

// Keys sends device key events such as back or home
type Keys interface {
	SendKey(key string) error
}

// Gestures lists and reads saved gesture files
type Gestures interface {
	List() ([]string, error)
	Load(name string) (gesture.Sequence, error)
}

// Status is a point-in-time summary of the loop
type Status struct {
	State      string
	Score      float64
	Templates  int
	States     int
	Pending    int
	Automation bool
	Authoring  string // State being authored, empty when not authoring
}

// Deps are the collaborators commands act on. Nil fields disable the
// commands that need them.
type Deps struct {
	Replays    Replays
	Author     Author
	History    History
	Gestures   Gestures
	Cancel     func() int // Drops queued gesture events, returns how many
	Keys       Keys
	Reload     func()
	Status     func() Status
	Automation *atomic.Bool
	ImageDir   string
	Out        io.Writer
}

// HandlerFunc runs one command. args excludes the verb.
type HandlerFunc func(args []string, frame *image.RGBA) error

type command struct {
	usage string
	run   HandlerFunc
}

// Dispatcher maps command verbs to handlers
type Dispatcher struct {
	deps     Deps
	out      io.Writer
	registry map[string]command
	order    []string
	log      *logging.Logger
}

// NewDispatcher creates a dispatcher with the built-in verbs registered
func NewDispatcher(deps Deps) *Dispatcher {
	d := &Dispatcher{
		deps:     deps,
		out:      deps.Out,
		registry: make(map[string]command),
		log:      logging.NewLogger("Commands"),
	}
	if d.out == nil {
		d.out = os.Stdout
	}

	d.Register("quit", "quit                           - Exit application", d.quit)
	d.Register("exit", "", d.quit)
	d.Register("bot", "bot on|off                     - Enable or disable the behavior policy", d.bot)
	d.Register("replay", "replay <name> [at <x> <y>]     - Replay a saved gesture", d.replay)
	d.Register("save", "save image <filename.png>      - Save the current frame", d.save)
	d.Register("reload", "reload                         - Reload ROI templates", d.reload)
	d.Register("status", "status                         - Show detector and replay status", d.status)
	d.Register("history", "history [n]|replays|errors [n]|stats - Show the session journal", d.history)
	d.Register("gestures", "gestures                       - List saved gestures", d.gestures)
	d.Register("cancel", "cancel                         - Drop queued gesture events", d.cancel)
	d.Register("key", "key <name|code>                - Send a device key event (back, home, ...)", d.key)
	d.Register("roi", "roi begin <state>|rect <x> <y> <w> <h>|cancel - Author ROI templates", d.roi)
	d.Register("help", "help                           - Show this list", d.help)
	return d
}

// Register adds or replaces a verb. An empty usage hides it from help.
func (d *Dispatcher) Register(verb, usage string, run HandlerFunc) {
	verb = strings.ToLower(verb)
	if _, exists := d.registry[verb]; !exists {
		d.order = append(d.order, verb)
	}
	d.registry[verb] = command{usage: usage, run: run}
}

// Out is where command output goes
func (d *Dispatcher) Out() io.Writer {
	return d.out
}

// Usage returns the help lines in registration order
func (d *Dispatcher) Usage() []string {
	var lines []string
	for _, verb := range d.order {
		if u := d.registry[verb].usage; u != "" {
			lines = append(lines, u)
		}
	}
	return lines
}

// Handle parses and runs one line against the current frame
func (d *Dispatcher) Handle(line string, frame *image.RGBA) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	verb := strings.ToLower(fields[0])
	cmd, ok := d.registry[verb]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
	}

	err := cmd.run(fields[1:], frame)
	if err != nil && !errors.Is(err, ErrQuit) {
		d.log.WarnWithContext("Command failed", map[string]interface{}{"command": line, "error": err.Error()})
	}
	return err
}

func usageError(cmd string) error {
	return fmt.Errorf("%w, usage: %s", ErrUsage, cmd)
}

func (d *Dispatcher) quit([]string, *image.RGBA) error {
	return ErrQuit
}

func (d *Dispatcher) bot(args []string, _ *image.RGBA) error {
	if d.deps.Automation == nil {
		return fmt.Errorf("automation toggle not available")
	}
	if len(args) == 0 {
		fmt.Fprintf(d.out, "Bot is %s\n", onOff(d.deps.Automation.Load()))
		return nil
	}
	switch strings.ToLower(args[0]) {
	case "on":
		d.deps.Automation.Store(true)
	case "off":
		d.deps.Automation.Store(false)
	default:
		return usageError("bot on|off")
	}
	fmt.Fprintf(d.out, "Bot %s\n", onOff(d.deps.Automation.Load()))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (d *Dispatcher) replay(args []string, _ *image.RGBA) error {
	if d.deps.Replays == nil {
		return fmt.Errorf("replay not available")
	}
	// "replay action <name>" is accepted for old scripts
	if len(args) > 1 && strings.EqualFold(args[0], "action") {
		args = args[1:]
	}

	switch {
	case len(args) == 1:
		return d.deps.Replays.QueueReplay(args[0])
	case len(args) == 4 && strings.EqualFold(args[1], "at"):
		x, errX := strconv.Atoi(args[2])
		y, errY := strconv.Atoi(args[3])
		if errX != nil || errY != nil {
			return usageError("replay <name> at <x> <y>")
		}
		return d.deps.Replays.QueueReplayWithOffset(args[0], x, y)
	default:
		return usageError("replay <name> [at <x> <y>]")
	}
}

func (d *Dispatcher) save(args []string, frame *image.RGBA) error {
	if len(args) > 1 && strings.EqualFold(args[0], "image") {
		args = args[1:]
	}
	if len(args) != 1 {
		return usageError("save image <filename.png>")
	}
	if frame == nil {
		return fmt.Errorf("no frame to save")
	}

	dir := d.deps.ImageDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	path := filepath.Join(dir, templates.ImageFile(args[0]))
	if _, err := os.Stat(path); err == nil {
		d.log.WarnWithContext("Overwriting existing file", map[string]interface{}{"path": path})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, frame); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(d.out, "Frame saved to %s\n", path)
	return nil
}

func (d *Dispatcher) reload([]string, *image.RGBA) error {
	if d.deps.Reload == nil {
		return fmt.Errorf("reload not available")
	}
	d.deps.Reload()
	fmt.Fprintln(d.out, "Template reload requested")
	return nil
}

func (d *Dispatcher) status([]string, *image.RGBA) error {
	if d.deps.Status == nil {
		return fmt.Errorf("status not available")
	}
	s := d.deps.Status()

	state := "unknown"
	if s.State != "" {
		state = fmt.Sprintf("%s (%.3f)", s.State, s.Score)
	}
	fmt.Fprintf(d.out, "State:      %s\n", state)
	fmt.Fprintf(d.out, "Templates:  %d in %d states\n", s.Templates, s.States)
	fmt.Fprintf(d.out, "Pending:    %d events\n", s.Pending)
	fmt.Fprintf(d.out, "Bot:        %s\n", onOff(s.Automation))
	if s.Authoring != "" {
		fmt.Fprintf(d.out, "Authoring:  %s\n", s.Authoring)
	}
	return nil
}

func (d *Dispatcher) history(args []string, _ *image.RGBA) error {
	if d.deps.History == nil {
		return fmt.Errorf("history not available, database disabled")
	}
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "replays":
			return d.replayHistory()
		case "errors":
			limit, err := parseLimit(args[1:], "history errors [n]")
			if err != nil {
				return err
			}
			return d.errorHistory(limit)
		case "stats":
			return d.journalStats()
		}
	}

	limit, err := parseLimit(args, "history [n]")
	if err != nil {
		return err
	}
	changes, err := d.deps.History.StateHistory(limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(changes) == 0 {
		fmt.Fprintln(d.out, "No state changes recorded")
		return nil
	}
	for _, c := range changes {
		score := ""
		if c.Score != nil {
			score = fmt.Sprintf(" (%.3f)", *c.Score)
		}
		fmt.Fprintf(d.out, "%s  %s -> %s%s\n",
			c.ChangedAt.Local().Format("15:04:05.000"), stateName(c.FromState), stateName(c.ToState), score)
	}
	return nil
}

// parseLimit reads an optional positive count, defaulting to 10
func parseLimit(args []string, usage string) (int, error) {
	switch len(args) {
	case 0:
		return 10, nil
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return 0, usageError(usage)
		}
		return n, nil
	default:
		return 0, usageError(usage)
	}
}

func (d *Dispatcher) replayHistory() error {
	counts, err := d.deps.History.ReplayCounts()
	if err != nil {
		return fmt.Errorf("failed to read replays: %w", err)
	}
	if len(counts) == 0 {
		fmt.Fprintln(d.out, "No gestures replayed")
		return nil
	}
	for _, c := range counts {
		fmt.Fprintf(d.out, "%6d  %s\n", c.Count, c.Gesture)
	}
	return nil
}

func (d *Dispatcher) errorHistory(limit int) error {
	counts, err := d.deps.History.ErrorCounts()
	if err != nil {
		return fmt.Errorf("failed to read errors: %w", err)
	}
	if len(counts) == 0 {
		fmt.Fprintln(d.out, "No errors recorded")
		return nil
	}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(d.out, "%s: %d\n", kind, counts[kind])
	}

	logs, err := d.deps.History.Errors(limit)
	if err != nil {
		return fmt.Errorf("failed to read errors: %w", err)
	}
	for _, e := range logs {
		fmt.Fprintf(d.out, "%s  %s  %s\n", e.OccurredAt.Local().Format("15:04:05.000"), e.ErrorType, e.ErrorMessage)
	}
	return nil
}

func (d *Dispatcher) journalStats() error {
	s, err := d.deps.History.Stats()
	if err != nil {
		return fmt.Errorf("failed to read journal stats: %w", err)
	}
	fmt.Fprintf(d.out, "Sessions:       %d\n", s.Sessions)
	fmt.Fprintf(d.out, "State changes:  %d\n", s.StateChanges)
	fmt.Fprintf(d.out, "Replays:        %d\n", s.Replays)
	fmt.Fprintf(d.out, "Errors:         %d\n", s.Errors)
	return nil
}

func (d *Dispatcher) gestures([]string, *image.RGBA) error {
	if d.deps.Gestures == nil {
		return fmt.Errorf("gesture store not available")
	}
	names, err := d.deps.Gestures.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(d.out, "No gestures saved")
		return nil
	}
	for _, name := range names {
		seq, err := d.deps.Gestures.Load(name)
		if err != nil {
			fmt.Fprintf(d.out, "%s  (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Fprintf(d.out, "%s  %d events, %v\n", name, len(seq), seq.Duration().Round(time.Millisecond))
	}
	return nil
}

func (d *Dispatcher) key(args []string, _ *image.RGBA) error {
	if d.deps.Keys == nil {
		return fmt.Errorf("key events need adb input")
	}
	if len(args) != 1 {
		return usageError("key <name|code>")
	}
	return d.deps.Keys.SendKey(args[0])
}

func (d *Dispatcher) cancel([]string, *image.RGBA) error {
	if d.deps.Cancel == nil {
		return fmt.Errorf("replay not available")
	}
	fmt.Fprintf(d.out, "Dropped %d events\n", d.deps.Cancel())
	return nil
}

func stateName(s *string) string {
	if s == nil || *s == "" {
		return "unknown"
	}
	return *s
}

func (d *Dispatcher) roi(args []string, _ *image.RGBA) error {
	if d.deps.Author == nil {
		return fmt.Errorf("roi authoring not available")
	}
	if len(args) == 0 {
		return usageError("roi begin <state>|rect <x> <y> <w> <h>|cancel")
	}

	switch strings.ToLower(args[0]) {
	case "begin":
		if len(args) != 2 {
			return usageError("roi begin <state>")
		}
		return d.deps.Author.Begin(args[1])
	case "rect":
		if len(args) != 5 {
			return usageError("roi rect <x> <y> <w> <h>")
		}
		var v [4]int
		for i := range v {
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return usageError("roi rect <x> <y> <w> <h>")
			}
			v[i] = n
		}
		if v[2] <= 0 || v[3] <= 0 {
			return fmt.Errorf("roi width and height must be positive")
		}
		if err := d.deps.Author.SetRect(image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3])); err != nil {
			return err
		}
		fmt.Fprintln(d.out, "Enter ROI name:")
		return nil
	case "cancel", "stop":
		d.deps.Author.Cancel()
		return nil
	default:
		return usageError("roi begin <state>|rect <x> <y> <w> <h>|cancel")
	}
}

func (d *Dispatcher) help([]string, *image.RGBA) error {
	fmt.Fprintln(d.out, "Available commands:")
	for _, line := range d.Usage() {
		fmt.Fprintf(d.out, "  %s\n", line)
	}
	return nil
}
