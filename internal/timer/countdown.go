// Package timer implements the Pomodoro countdown. It holds no clock of its
// own; the owner calls Tick once per second while the countdown runs.
package timer

import (
	"errors"
	"fmt"

	"github.com/virtualcafe/cafe/internal/utils"
)

const (
	DefaultMinutes = 25
	MinMinutes     = 1
	MaxMinutes     = 120
)

var (
	ErrRunning    = errors.New("timer is running, pause it first")
	ErrOutOfRange = fmt.Errorf("minutes must be between %d and %d", MinMinutes, MaxMinutes)
)

// Preset is a named countdown length.
type Preset struct {
	Name    string
	Minutes int
}

// Presets offered by the room view.
var Presets = []Preset{
	{Name: "Focus", Minutes: 25},
	{Name: "Deep focus", Minutes: 50},
	{Name: "Short break", Minutes: 5},
	{Name: "Long break", Minutes: 15},
}

// Countdown is a minutes:seconds countdown with a configured length.
type Countdown struct {
	minutes    int
	seconds    int
	configured int
	custom     bool
	running    bool
	completed  bool
}

// New returns a stopped countdown at the default length.
func New() *Countdown {
	return &Countdown{minutes: DefaultMinutes, configured: DefaultMinutes}
}

// Start resumes ticking. It returns false if already running or nothing is left.
func (c *Countdown) Start() bool {
	if c.running || (c.minutes == 0 && c.seconds == 0) {
		return false
	}
	c.running = true
	c.completed = false
	return true
}

// Pause stops ticking and keeps the remaining time.
func (c *Countdown) Pause() {
	c.running = false
}

// Reset stops the countdown, restores the default length and clears any
// preset or custom length.
func (c *Countdown) Reset() {
	*c = *New()
}

// SetPreset configures a new length. It is rejected while running.
func (c *Countdown) SetPreset(minutes int) error {
	return c.set(minutes, false)
}

// SetCustom configures a user-entered length. It is rejected while running.
func (c *Countdown) SetCustom(minutes int) error {
	return c.set(minutes, true)
}

func (c *Countdown) set(minutes int, custom bool) error {
	if c.running {
		return ErrRunning
	}
	if minutes < MinMinutes || minutes > MaxMinutes {
		return ErrOutOfRange
	}
	c.minutes = minutes
	c.seconds = 0
	c.configured = minutes
	c.custom = custom
	c.completed = false
	return nil
}

// Tick advances one second. When the countdown reaches 0:00 it stops and
// returns done with the configured length, exactly once per run.
func (c *Countdown) Tick() (done bool, configured int) {
	if !c.running {
		return false, 0
	}

	if c.seconds == 0 {
		c.minutes--
		c.seconds = 59
	} else {
		c.seconds--
	}

	if c.minutes == 0 && c.seconds == 0 {
		c.running = false
		if !c.completed {
			c.completed = true
			return true, c.configured
		}
	}
	return false, 0
}

// Snapshot is a read-only view of the countdown.
type Snapshot struct {
	Minutes    int
	Seconds    int
	Configured int
	Custom     bool
	Running    bool
}

func (c *Countdown) Snapshot() Snapshot {
	return Snapshot{
		Minutes:    c.minutes,
		Seconds:    c.seconds,
		Configured: c.configured,
		Custom:     c.custom,
		Running:    c.running,
	}
}

// Clock renders the remaining time as mm:ss.
func (s Snapshot) Clock() string {
	return utils.FormatClock(s.Minutes, s.Seconds)
}

// Remaining returns the remaining time in seconds.
func (s Snapshot) Remaining() int {
	return s.Minutes*60 + s.Seconds
}

// Elapsed returns the fraction of the configured length already counted down.
func (s Snapshot) Elapsed() float64 {
	total := s.Configured * 60
	if total == 0 {
		return 0
	}
	return float64(total-s.Remaining()) / float64(total)
}
