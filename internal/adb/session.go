package adb

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"jordanella.com/garden-go/internal/logging"
)

// ErrSessionClosed is returned by commands sent after Close
var ErrSessionClosed = errors.New("shell session closed")

// shellPipe is a running `adb shell` as the session sees it
type shellPipe struct {
	stdin io.WriteCloser
	wait  func() error
}

type openFunc func() (*shellPipe, error)

// ShellSession keeps one `adb shell` open and feeds it command lines on
// stdin. Sending a command is a pipe write rather than a process spawn, so
// the frame loop never waits for the device to run it. The device runs
// commands in the order they were written.
type ShellSession struct {
	open   openFunc
	mu     sync.Mutex
	cur    *shellPipe
	closed bool
	log    *logging.Logger
}

// OpenShell starts a persistent shell on the device
func (c *Controller) OpenShell() (*ShellSession, error) {
	return newShellSession(c.startShell)
}

func (c *Controller) startShell() (*shellPipe, error) {
	cmd := exec.Command(c.path, c.deviceArgs("shell")...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open shell stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start adb shell: %w", err)
	}
	return &shellPipe{stdin: stdin, wait: cmd.Wait}, nil
}

func newShellSession(open openFunc) (*ShellSession, error) {
	p, err := open()
	if err != nil {
		return nil, err
	}
	return &ShellSession{open: open, cur: p, log: logging.NewLogger("ADBShell")}, nil
}

// Run writes one command line. A broken shell (device reconnected, adb
// server restarted) is reopened and the write retried once.
func (s *ShellSession) Run(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if s.cur == nil {
			p, err := s.open()
			if err != nil {
				return fmt.Errorf("failed to reopen shell session: %w", err)
			}
			s.cur = p
		}
		_, err := io.WriteString(s.cur.stdin, command+"\n")
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.WarnWithContext("Shell session broken, reopening", map[string]interface{}{"error": err.Error()})
		s.dropLocked()
	}
	return fmt.Errorf("shell session write failed: %w", lastErr)
}

// dropLocked abandons the current shell and reaps it in the background
func (s *ShellSession) dropLocked() {
	p := s.cur
	s.cur = nil
	_ = p.stdin.Close()
	go func() { _ = p.wait() }()
}

// MotionEvent injects a single touch action at device coordinates
func (s *ShellSession) MotionEvent(action MotionAction, x, y int) error {
	return s.Run(fmt.Sprintf("input motionevent %s %d %d", action, x, y))
}

// SendKey sends a key event. "back", "KEYCODE_BACK" and "4" are all accepted.
func (s *ShellSession) SendKey(key string) error {
	code, err := keyCode(key)
	if err != nil {
		return err
	}
	return s.Run("input keyevent " + code)
}

func keyCode(key string) (string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	for _, r := range key {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return "", fmt.Errorf("invalid key %q", key)
		}
	}
	if _, err := strconv.Atoi(key); err == nil || strings.HasPrefix(key, "KEYCODE_") {
		return key, nil
	}
	return "KEYCODE_" + key, nil
}

// Close ends the shell and waits for it to exit
func (s *ShellSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.cur == nil {
		return nil
	}
	p := s.cur
	s.cur = nil
	_, _ = io.WriteString(p.stdin, "exit\n")
	_ = p.stdin.Close()
	return p.wait()
}
