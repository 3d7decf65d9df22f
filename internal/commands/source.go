package commands

import (
	"bufio"
	"io"

	"jordanella.com/garden-go/internal/logging"
)

// DefaultBuffer is how many unread lines the source holds
const DefaultBuffer = 32

// Source reads command lines from a reader on its own goroutine.
// Lines is closed when the reader is exhausted.
type Source struct {
	lines chan string
	log   *logging.Logger
}

// NewSource starts reading r
func NewSource(r io.Reader, buffer int) *Source {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Source{
		lines: make(chan string, buffer),
		log:   logging.NewLogger("CommandSource"),
	}
	go s.read(r)
	return s
}

func (s *Source) read(r io.Reader) {
	defer close(s.lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		s.log.Error("Command input failed", err)
		return
	}
	s.log.Debug("Command input closed")
}

// Lines returns the channel of raw lines
func (s *Source) Lines() <-chan string {
	return s.lines
}

// TryNext returns the next line without blocking
func (s *Source) TryNext() (string, bool) {
	select {
	case line, ok := <-s.lines:
		return line, ok
	default:
		return "", false
	}
}
