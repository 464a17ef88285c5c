// Package room coordinates one joined study room: the signaling channel, the
// call, the Pomodoro timer, chat and presence, all owned by a single event loop.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
	"github.com/virtualcafe/cafe/internal/call"
	"github.com/virtualcafe/cafe/internal/chat"
	"github.com/virtualcafe/cafe/internal/media"
	"github.com/virtualcafe/cafe/internal/signaling"
	"github.com/virtualcafe/cafe/internal/timer"
)

const chatLimit = 500

var roomCodePattern = regexp.MustCompile(`^\w+$`)

// ValidRoomCode reports whether code can name a room.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// Channel is the room's signaling connection.
type Channel interface {
	Run(ctx context.Context) error
	Send(env *signaling.Envelope) bool
	Inbound() <-chan *signaling.Envelope
	Events() <-chan signaling.Event
	Close()
}

// Saver persists completed study sessions.
type Saver interface {
	SaveSession(ctx context.Context, minutes int, roomCode string) error
}

// Tutor answers questions asked from the room.
type Tutor interface {
	Ask(ctx context.Context, question string) (string, error)
}

// AlertLevel is the severity of an alert.
type AlertLevel int

const (
	AlertInfo AlertLevel = iota
	AlertSuccess
	AlertError
)

// Alert is a one-off message for the user.
type Alert struct {
	Level AlertLevel
	Text  string
}

// View receives the session's state. Both methods are called from the loop
// and must not block.
type View interface {
	Render(snapshot Snapshot)
	Alert(alert Alert)
}

// Snapshot is everything the view shows.
type Snapshot struct {
	Room        string
	Identity    string
	SessionID   string
	Connected   bool
	MemberCount int
	Members     []string
	Chat        []chat.Entry
	Call        call.Snapshot
	Timer       timer.Snapshot
	Asking      bool
}

// Options configures a Session.
type Options struct {
	Room     string
	Identity string
	Members  int

	Channel Channel
	Source  media.Source
	NewPeer call.PeerFactory
	Consume func(remote string, kind media.Kind, track *webrtc.TrackRemote)
	Saver   Saver
	Tutor   Tutor
	View    View

	Clock          clock.Clock
	OfferDelay     time.Duration
	JoinOfferDelay time.Duration
}

// Session is one joined room. Public methods may be called from any
// goroutine; they post work to the loop started by Run.
type Session struct {
	opts  Options
	id    string
	clock clock.Clock
	log   *slog.Logger

	channel    Channel
	dispatcher *signaling.Dispatcher
	call       *call.Machine
	countdown  *timer.Countdown
	chat       *chat.Log

	connected bool
	members   int
	seen      []string
	asking    int

	ticker *clock.Ticker

	ctx   context.Context
	tasks chan func()
	done  chan struct{}
	stop  context.CancelFunc
}

// New validates opts and builds a session. Call Run to join.
func New(opts Options) (*Session, error) {
	if !ValidRoomCode(opts.Room) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoom, opts.Room)
	}
	if opts.Identity == "" {
		return nil, ErrNoIdentity
	}
	if opts.Channel == nil {
		return nil, ErrNoChannel
	}
	if opts.Members < 1 {
		opts.Members = 1
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	id := uuid.NewString()
	s := &Session{
		opts:       opts,
		id:         id,
		clock:      clk,
		log:        slog.With("room", opts.Room, "session", id),
		channel:    opts.Channel,
		dispatcher: signaling.NewDispatcher(),
		countdown:  timer.New(),
		chat:       chat.NewLog(chatLimit),
		members:    opts.Members,
		tasks:      make(chan func(), 64),
		done:       make(chan struct{}),
	}

	s.call = call.New(call.Config{
		Identity:       opts.Identity,
		Sender:         opts.Channel,
		Source:         opts.Source,
		NewPeer:        opts.NewPeer,
		Observer:       (*callObserver)(s),
		Members:        func() int { return s.members },
		Post:           s.post,
		Consume:        opts.Consume,
		Clock:          clk,
		OfferDelay:     opts.OfferDelay,
		JoinOfferDelay: opts.JoinOfferDelay,
	})

	s.dispatcher.On(signaling.TypeChat, s.handleChat)
	s.dispatcher.On(signaling.TypeJoin, s.handleJoin)
	s.dispatcher.On(signaling.TypeLeave, s.handleLeave)
	s.dispatcher.On(signaling.TypeOffer, s.call.HandleOffer)
	s.dispatcher.On(signaling.TypeAnswer, s.call.HandleAnswer)
	s.dispatcher.On(signaling.TypeICE, s.call.HandleICE)
	s.dispatcher.On(signaling.TypeTimer, s.handleTimer)

	return s, nil
}

// ID is the per-session correlation id used in logs.
func (s *Session) ID() string {
	return s.id
}

// Run joins the room and processes events until ctx ends or Leave is called.
// The call is ended and the channel closed before it returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx, s.stop = ctx, cancel
	defer close(s.done)

	channelDone := make(chan error, 1)
	go func() { channelDone <- s.channel.Run(ctx) }()

	s.log.Info("joining room")
	s.render()

	inbound := s.channel.Inbound()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			<-channelDone
			s.log.Info("left room")
			return nil

		case fn := <-s.tasks:
			fn()

		case env, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.dispatcher.Dispatch(env)

		case ev := <-s.channel.Events():
			s.connectivity(ev)

		case <-s.tickC():
			s.tick()
		}
		s.render()
	}
}

// Leave ends the call and disconnects. It is safe to call more than once.
func (s *Session) Leave() {
	s.post(func() { s.stop() })
}

// SendChat sends a chat message to the room.
func (s *Session) SendChat(text string) {
	s.post(func() { s.sendChat(text) })
}

func (s *Session) StartCall()    { s.post(s.call.Start) }
func (s *Session) EndCall()      { s.post(s.call.End) }
func (s *Session) ToggleMic()    { s.post(func() { s.call.ToggleMic() }) }
func (s *Session) ToggleCamera() { s.post(func() { s.call.ToggleCamera() }) }

func (s *Session) StartTimer() { s.post(s.startTimer) }
func (s *Session) PauseTimer() { s.post(s.pauseTimer) }
func (s *Session) ResetTimer() { s.post(s.resetTimer) }

// SetTimer configures the countdown length in minutes.
func (s *Session) SetTimer(minutes int) {
	s.post(func() { s.setTimer(minutes) })
}

// SetPreset selects one of the timer presets by length.
func (s *Session) SetPreset(minutes int) {
	s.post(func() {
		if err := s.countdown.SetPreset(minutes); err != nil {
			s.alert(AlertError, err.Error())
		}
	})
}

// AskTutor asks the AI tutor; the exchange appears in the chat log.
func (s *Session) AskTutor(question string) {
	s.post(func() { s.askTutor(question) })
}

// post runs fn on the loop. Work posted after the loop exits is dropped.
func (s *Session) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

func (s *Session) shutdown() {
	s.call.End()
	s.stopTicker()
	s.channel.Close()
}

func (s *Session) connectivity(ev signaling.Event) {
	was := s.connected
	s.connected = ev.Kind == signaling.Connected
	if was == s.connected {
		return
	}
	if s.connected {
		s.log.Info("connected to room")
		return
	}
	s.log.Warn("disconnected from room, reconnecting", "error", ev.Err)
	s.alert(AlertError, "Disconnected")
}

func (s *Session) sendChat(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !s.channel.Send(signaling.Chat(s.opts.Identity, text)) {
		s.alert(AlertError, ErrNotJoined.Error())
		return
	}
	s.chat.AddMessage(s.opts.Identity, text, s.clock.Now(), true)
}

func (s *Session) handleChat(env *signaling.Envelope) {
	if env.From(s.opts.Identity) {
		return
	}
	at := s.clock.Now()
	if env.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
			at = t
		}
	}
	s.chat.AddMessage(env.Username, env.Message, at, false)
}

func (s *Session) handleJoin(env *signaling.Envelope) {
	if env.From(s.opts.Identity) {
		return
	}
	s.chat.AddNotification(env.Username+" joined the room", s.clock.Now())
	if !lo.Contains(s.seen, env.Username) {
		s.seen = append(s.seen, env.Username)
	}
	s.members = max(s.members, 1+len(s.seen))
	s.call.HandleJoin(env)
}

func (s *Session) handleLeave(env *signaling.Envelope) {
	if env.From(s.opts.Identity) {
		return
	}
	s.chat.AddNotification(env.Username+" left the room", s.clock.Now())
	s.seen = lo.Without(s.seen, env.Username)
	if s.members > 1 {
		s.members--
	}
	s.call.HandleLeave(env)
}

func (s *Session) handleTimer(env *signaling.Envelope) {
	s.log.Info("timer event", "from", env.Username, "action", env.Action)
}

func (s *Session) askTutor(question string) {
	if s.opts.Tutor == nil {
		s.alert(AlertError, ErrNoTutor.Error())
		return
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return
	}

	s.chat.AddTutor(s.opts.Identity, question, s.clock.Now(), true)
	s.asking++
	ctx := s.ctx
	go func() {
		reply, err := s.opts.Tutor.Ask(ctx, question)
		s.post(func() {
			s.asking--
			if err != nil {
				s.log.Error("tutor request failed", "error", err)
			}
			s.chat.AddTutor("AI Tutor", reply, s.clock.Now(), false)
		})
	}()
}

func (s *Session) startTimer() {
	if !s.countdown.Start() {
		return
	}
	s.ticker = s.clock.Ticker(time.Second)
}

func (s *Session) pauseTimer() {
	s.countdown.Pause()
	s.stopTicker()
}

func (s *Session) resetTimer() {
	s.countdown.Reset()
	s.stopTicker()
}

func (s *Session) setTimer(minutes int) {
	if err := s.countdown.SetCustom(minutes); err != nil {
		s.alert(AlertError, err.Error())
	}
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *Session) tick() {
	done, minutes := s.countdown.Tick()
	if !done {
		return
	}
	s.stopTicker()
	s.countdown.Reset()
	s.alert(AlertSuccess, fmt.Sprintf("Congratulations! You completed %d minutes of focused study!", minutes))
	s.saveSession(minutes)
}

func (s *Session) saveSession(minutes int) {
	if s.opts.Saver == nil {
		return
	}
	ctx, room := s.ctx, s.opts.Room
	go func() {
		err := s.opts.Saver.SaveSession(ctx, minutes, room)
		s.post(func() {
			if err != nil {
				s.log.Error("failed to save study session", "minutes", minutes, "error", err)
				s.alert(AlertError, "Could not save your study session.")
				return
			}
			s.chat.AddNotification(fmt.Sprintf("Study session of %d minutes saved!", minutes), s.clock.Now())
		})
	}()
}

func (s *Session) alert(level AlertLevel, text string) {
	if s.opts.View != nil {
		s.opts.View.Alert(Alert{Level: level, Text: text})
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Room:        s.opts.Room,
		Identity:    s.opts.Identity,
		SessionID:   s.id,
		Connected:   s.connected,
		MemberCount: s.members,
		Members:     append([]string(nil), s.seen...),
		Chat:        s.chat.Entries(),
		Call:        s.call.Snapshot(),
		Timer:       s.countdown.Snapshot(),
		Asking:      s.asking > 0,
	}
}

func (s *Session) render() {
	if s.opts.View != nil {
		s.opts.View.Render(s.snapshot())
	}
}

// callObserver adapts the session to call.Observer.
type callObserver Session

func (o *callObserver) CallUpdated(call.Snapshot) {}

func (o *callObserver) CallFailed(message string) {
	(*Session)(o).alert(AlertError, message)
}
