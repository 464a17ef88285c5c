package ui

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/virtualcafe/cafe/internal/call"
	"github.com/virtualcafe/cafe/internal/chat"
	"github.com/virtualcafe/cafe/internal/room"
	"github.com/virtualcafe/cafe/internal/tutor"
)

const (
	sidePanelWidth = 34
	alertTimeout   = 6 * time.Second
	tutorName      = "AI Tutor"
)

// Actions is what the room view can ask of the session.
type Actions interface {
	SendChat(text string)
	StartCall()
	EndCall()
	ToggleMic()
	ToggleCamera()
	StartTimer()
	PauseTimer()
	ResetTimer()
	SetTimer(minutes int)
	SetPreset(minutes int)
	AskTutor(question string)
	Leave()
}

type (
	snapshotMsg   room.Snapshot
	alertMsg      room.Alert
	clearAlertMsg int
	sessionEndMsg struct{}
)

// Bridge carries session updates into the Bubble Tea program without ever
// blocking the session loop. Snapshots coalesce; only the latest is shown.
type Bridge struct {
	mu     sync.Mutex
	latest room.Snapshot
	dirty  chan struct{}
	alerts chan room.Alert
	done   chan struct{}
	once   sync.Once
}

func NewBridge() *Bridge {
	return &Bridge{
		dirty:  make(chan struct{}, 1),
		alerts: make(chan room.Alert, 32),
		done:   make(chan struct{}),
	}
}

func (b *Bridge) Render(snapshot room.Snapshot) {
	b.mu.Lock()
	b.latest = snapshot
	b.mu.Unlock()
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func (b *Bridge) Alert(alert room.Alert) {
	select {
	case b.alerts <- alert:
	default:
		slog.Debug("dropping alert, view is behind", "text", alert.Text)
	}
}

// Close tells the view the session is over.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case alert := <-b.alerts:
			return alertMsg(alert)
		case <-b.dirty:
			b.mu.Lock()
			defer b.mu.Unlock()
			return snapshotMsg(b.latest)
		case <-b.done:
			return sessionEndMsg{}
		}
	}
}

// RoomModel is the interactive room view.
type RoomModel struct {
	actions Actions
	bridge  *Bridge
	info    RoomInfo

	snap     room.Snapshot
	alert    *room.Alert
	alertSeq int
	asking   bool

	chat     viewport.Model
	input    textinput.Model
	progress progress.Model
	spinner  spinner.Model

	width, height int
	confirmLeave  bool
	showHelp      bool
	leaving       bool
	quitting      bool
}

// NewRoomModel creates the room view. Updates arrive through bridge.
func NewRoomModel(actions Actions, bridge *Bridge, info RoomInfo) *RoomModel {
	in := textinput.New()
	in.Placeholder = "Type a message or /help"
	in.Prompt = "› "
	in.CharLimit = 2000
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	vp := viewport.New(80, 16)
	// Letters belong to the input line; only paging keys scroll the chat.
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}

	m := &RoomModel{
		actions: actions,
		bridge:  bridge,
		info:    info,
		chat:    vp,
		input:   in,
		progress: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(sidePanelWidth-6),
			progress.WithoutPercentage(),
		),
		spinner: s,
		width:   80 + sidePanelWidth,
		height:  24,
	}
	m.snap.Room = info.Code
	m.snap.Identity = info.Identity
	return m
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.bridge.wait())
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case snapshotMsg:
		m.snap = room.Snapshot(msg)
		m.refreshChat()
		cmds = append(cmds, m.bridge.wait())

	case alertMsg:
		a := room.Alert(msg)
		m.alert = &a
		m.alertSeq++
		seq := m.alertSeq
		cmds = append(cmds, m.bridge.wait(), tea.Tick(alertTimeout, func(time.Time) tea.Msg {
			return clearAlertMsg(seq)
		}))

	case clearAlertMsg:
		if int(msg) == m.alertSeq {
			m.alert = nil
		}

	case sessionEndMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.chat, cmd = m.chat.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *RoomModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if m.leaving {
		return nil, true
	}
	if m.confirmLeave {
		m.confirmLeave = false
		if strings.EqualFold(msg.String(), "y") {
			m.leave()
		}
		return nil, true
	}

	switch msg.String() {
	case "ctrl+c":
		m.leave()
		return nil, true
	case "esc":
		m.showHelp = false
		m.refreshChat()
		return nil, true
	case "enter":
		line := m.input.Value()
		m.input.SetValue("")
		m.submit(line)
		return nil, true
	}
	return nil, false
}

func (m *RoomModel) leave() {
	m.leaving = true
	m.actions.Leave()
}

func (m *RoomModel) submit(line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		m.showError(err)
		return
	}

	switch cmd.Kind {
	case CmdNone:
	case CmdChat:
		m.actions.SendChat(cmd.Text)
	case CmdCall:
		m.actions.StartCall()
	case CmdEnd:
		m.actions.EndCall()
	case CmdMic:
		m.actions.ToggleMic()
	case CmdCam:
		m.actions.ToggleCamera()
	case CmdTimerStart:
		m.actions.StartTimer()
	case CmdTimerPause:
		m.actions.PauseTimer()
	case CmdTimerReset:
		m.actions.ResetTimer()
	case CmdTimerSet:
		m.actions.SetTimer(cmd.Minutes)
	case CmdTimerPreset:
		m.actions.SetPreset(cmd.Minutes)
	case CmdAsk:
		m.actions.AskTutor(cmd.Text)
	case CmdLeave:
		m.confirmLeave = true
	case CmdHelp:
		m.showHelp = true
		m.refreshChat()
	}
}

func (m *RoomModel) showError(err error) {
	m.alertSeq++
	m.alert = &room.Alert{Level: room.AlertError, Text: err.Error()}
}

func (m *RoomModel) layout() {
	chatWidth := max(m.width-sidePanelWidth-2, 20)
	// header, alert, input, footer and panel borders
	chatHeight := max(m.height-7, 5)
	m.chat.Width = chatWidth
	m.chat.Height = chatHeight
	m.input.Width = max(m.width-4, 10)
	m.refreshChat()
}

func (m *RoomModel) refreshChat() {
	if m.showHelp {
		m.chat.SetContent(HelpView())
		m.chat.GotoTop()
		return
	}

	atBottom := m.chat.AtBottom()
	var b strings.Builder
	for i, e := range m.snap.Chat {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderEntry(e, m.chat.Width))
	}
	m.chat.SetContent(b.String())
	if atBottom || m.chat.TotalLineCount() <= m.chat.Height {
		m.chat.GotoBottom()
	}
}

func renderEntry(e chat.Entry, width int) string {
	wrap := lipgloss.NewStyle().Width(max(width, 10))
	stamp := TimestampStyle.Render(e.Time.Local().Format("15:04"))

	switch e.Kind {
	case chat.Notification:
		return wrap.Render(NotificationStyle.Render("• " + e.Text))
	case chat.Tutor:
		if e.Own {
			return wrap.Render(fmt.Sprintf("%s %s %s", stamp, OwnNameStyle.Render("you → "+tutorName+":"), e.Text))
		}
		return wrap.Render(fmt.Sprintf("%s %s %s\n%s", stamp, IconTutor, TutorNameStyle.Render(e.Username+":"), tutor.Format(e.Text)))
	default:
		name := PeerNameStyle.Render(e.Username + ":")
		if e.Own {
			name = OwnNameStyle.Render(e.Username + ":")
		}
		return wrap.Render(fmt.Sprintf("%s %s %s", stamp, name, e.Text))
	}
}

func (m *RoomModel) View() string {
	if m.quitting {
		return ""
	}

	header := HeaderStyle.Width(m.width).Render(m.headerText())

	side := lipgloss.JoinVertical(lipgloss.Left, m.callPanel(), m.timerPanel())
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		PanelStyle.Width(m.chat.Width).Render(m.chat.View()),
		side,
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.alertLine(),
		m.input.View(),
		m.footer(),
	)
}

func (m *RoomModel) headerText() string {
	conn := IconOffline + " reconnecting"
	if m.snap.Connected {
		conn = IconOnline + " connected"
	}
	members := "member"
	if m.snap.MemberCount != 1 {
		members = "members"
	}
	return fmt.Sprintf("%s cafe · room %s · %s · %d %s", IconRoom, m.snap.Room, conn, max(m.snap.MemberCount, 1), members)
}

func (m *RoomModel) callPanel() string {
	c := m.snap.Call
	var b strings.Builder

	b.WriteString(BoldStyle.Render("Call") + "  " + callStateLabel(c.State))
	if c.State == call.RequestingMedia || c.State == call.Negotiating {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n" + MutedStyle.Render(c.Status) + "\n")

	if c.HasMedia {
		mic, cam := IconMicOff+" muted", IconCamOff+" off"
		if c.Mic {
			mic = IconMicOn + " on"
		}
		if c.Camera {
			cam = IconCamOn + " on"
		}
		b.WriteString(fmt.Sprintf("mic %s  cam %s\n", mic, cam))
	}
	if c.Remote != "" {
		kinds := make([]string, 0, len(c.RemoteTracks))
		for _, k := range c.RemoteTracks {
			kinds = append(kinds, string(k))
		}
		b.WriteString(fmt.Sprintf("%s %s", IconPeer, c.Remote))
		if len(kinds) > 0 {
			b.WriteString(MutedStyle.Render(" (" + strings.Join(kinds, ", ") + ")"))
		}
	}
	return PanelStyle.Width(sidePanelWidth - 2).Render(strings.TrimRight(b.String(), "\n"))
}

func callStateLabel(s call.State) string {
	switch s {
	case call.Connected:
		return SuccessStyle.Render(s.String())
	case call.Ended:
		return MutedStyle.Render(s.String())
	case call.Idle:
		return MutedStyle.Render("not in call")
	default:
		return WarningStyle.Render(s.String())
	}
}

func (m *RoomModel) timerPanel() string {
	t := m.snap.Timer
	if t.Configured == 0 {
		return ""
	}

	state := MutedStyle.Render("paused")
	if t.Running {
		state = SuccessStyle.Render("running")
	}
	length := fmt.Sprintf("%d min", t.Configured)
	if t.Custom {
		length += " (custom)"
	}

	content := fmt.Sprintf("%s %s  %s\n%s\n%s",
		IconTimer, TitleStyle.UnsetMarginBottom().Render(t.Clock()), state,
		m.progress.ViewAs(t.Elapsed()),
		MutedStyle.Render(length),
	)
	return PanelStyle.Width(sidePanelWidth - 2).Render(content)
}

func (m *RoomModel) alertLine() string {
	if m.alert == nil {
		if m.snap.Asking {
			return fmt.Sprintf("%s %s is thinking...", m.spinner.View(), tutorName)
		}
		return ""
	}
	switch m.alert.Level {
	case room.AlertError:
		return ErrorStyle.Render(IconError + " " + m.alert.Text)
	case room.AlertSuccess:
		return SuccessStyle.Render(IconDone + " " + m.alert.Text)
	default:
		return IconInfo + " " + m.alert.Text
	}
}

func (m *RoomModel) footer() string {
	switch {
	case m.leaving:
		return WarningStyle.Render("Leaving the room...")
	case m.confirmLeave:
		return WarningStyle.Render("Leave the room? (y/n)")
	case m.showHelp:
		return FooterStyle.Render("esc to close help")
	}
	return FooterStyle.Render("/help for commands · pgup/pgdn to scroll · ctrl+c to leave")
}
