package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking line spinner for one-shot CLI operations.
type Spinner struct {
	out      io.Writer
	frames   []string
	interval time.Duration

	mu      sync.Mutex
	message string
	started bool
	once    sync.Once
	done    chan struct{}
	exited  chan struct{}
}

func newSpinner(s spinner.Spinner, message string) *Spinner {
	return &Spinner{
		out:      os.Stdout,
		frames:   s.Frames,
		interval: s.FPS,
		message:  message,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// NewSpinner creates a spinner for general loading work.
func NewSpinner(message string) *Spinner {
	return newSpinner(spinner.Dot, message)
}

// NewConnectionSpinner creates a spinner for network waits.
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(spinner.Globe, message)
}

func (s *Spinner) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.exited)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.message)
			s.mu.Unlock()
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}
		<-s.exited
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// RunSpinner starts a loading spinner and returns its stop function.
func RunSpinner(message string) func() {
	sp := NewSpinner(message)
	sp.Start()
	return sp.Stop
}

// RunConnectionSpinner starts a connection spinner and returns its stop function.
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
