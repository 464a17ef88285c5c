package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/virtualcafe/cafe/internal/timer"
)

// TickMsg advances the solo countdown by one second. Ticks from an earlier
// run are ignored.
type TickMsg struct {
	gen int
}

func tickCmd(gen int) tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return TickMsg{gen: gen}
	})
}

// TimerResult is how a solo countdown ended.
type TimerResult struct {
	Minutes   int
	Completed bool
}

// TimerModel is the full-screen countdown of `cafe timer`.
type TimerModel struct {
	countdown *timer.Countdown
	progress  progress.Model
	spinner   spinner.Model
	room      string
	gen       int
	result    TimerResult
	quitting  bool
}

// NewTimerModel creates a running countdown of the given length.
func NewTimerModel(minutes int, room string) (*TimerModel, error) {
	c := timer.New()
	if minutes != timer.DefaultMinutes {
		if err := c.SetCustom(minutes); err != nil {
			return nil, err
		}
	}
	c.Start()

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &TimerModel{
		countdown: c,
		progress: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		spinner: s,
		room:    room,
	}, nil
}

func (m *TimerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd(m.gen))
}

func (m *TimerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case " ", "p":
			return m, m.toggle()
		case "r":
			m.gen++
			m.countdown.Pause()
			configured := m.countdown.Snapshot().Configured
			if err := m.countdown.SetCustom(configured); err != nil {
				m.countdown.Reset()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.progress.Width = min(40, max(msg.Width-10, 10))

	case TickMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		done, minutes := m.countdown.Tick()
		if done {
			m.result = TimerResult{Minutes: minutes, Completed: true}
			m.quitting = true
			return m, tea.Quit
		}
		if m.countdown.Snapshot().Running {
			return m, tickCmd(m.gen)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *TimerModel) toggle() tea.Cmd {
	m.gen++
	if m.countdown.Snapshot().Running {
		m.countdown.Pause()
		return nil
	}
	if !m.countdown.Start() {
		return nil
	}
	return tickCmd(m.gen)
}

// Result reports the outcome once the program has exited.
func (m *TimerModel) Result() TimerResult {
	return m.result
}

func (m *TimerModel) View() string {
	if m.quitting {
		return ""
	}
	snap := m.countdown.Snapshot()

	var b strings.Builder
	title := fmt.Sprintf("%s Study timer · %d min", IconTimer, snap.Configured)
	if m.room != "" {
		title += " · room " + m.room
	}
	b.WriteString(HeaderStyle.Render(title) + "\n\n")

	state := MutedStyle.Render("paused")
	if snap.Running {
		state = m.spinner.View() + " " + SuccessStyle.Render("focusing")
	}
	b.WriteString(fmt.Sprintf("  %s  %s\n\n", BoldStyle.Render(snap.Clock()), state))
	b.WriteString("  " + m.progress.ViewAs(snap.Elapsed()) + fmt.Sprintf(" %3.0f%%\n\n", snap.Elapsed()*100))
	b.WriteString(FooterStyle.Render("space pause/resume · r restart · q quit"))
	return b.String()
}
