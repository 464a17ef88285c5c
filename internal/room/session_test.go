package room

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcafe/cafe/internal/chat"
	"github.com/virtualcafe/cafe/internal/signaling"
	"github.com/virtualcafe/cafe/internal/storage"
	"github.com/virtualcafe/cafe/internal/timer"
	"github.com/virtualcafe/cafe/internal/tutor"
)

type fakeChannel struct {
	mu      sync.Mutex
	open    bool
	closed  bool
	sent    []*signaling.Envelope
	inbound chan *signaling.Envelope
	events  chan signaling.Event
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		open:    true,
		inbound: make(chan *signaling.Envelope, 16),
		events:  make(chan signaling.Event, 16),
	}
}

func (c *fakeChannel) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *fakeChannel) Send(env *signaling.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.sent = append(c.sent, env)
	return true
}

func (c *fakeChannel) Inbound() <-chan *signaling.Envelope { return c.inbound }
func (c *fakeChannel) Events() <-chan signaling.Event      { return c.events }

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.open = false
}

func (c *fakeChannel) setOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

func (c *fakeChannel) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, env := range c.sent {
		types = append(types, env.Type)
	}
	return types
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeView struct {
	mu     sync.Mutex
	alerts []Alert
	last   Snapshot
}

func (v *fakeView) Render(snapshot Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = snapshot
}

func (v *fakeView) Alert(alert Alert) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts = append(v.alerts, alert)
}

func (v *fakeView) alertTexts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var texts []string
	for _, a := range v.alerts {
		texts = append(texts, a.Text)
	}
	return texts
}

type saveCall struct {
	minutes int
	room    string
}

type fakeSaver struct {
	calls chan saveCall
	err   error
}

func (f *fakeSaver) SaveSession(ctx context.Context, minutes int, roomCode string) error {
	f.calls <- saveCall{minutes, roomCode}
	return f.err
}

type fakeTutor struct {
	reply string
	err   error
}

func (f *fakeTutor) Ask(ctx context.Context, question string) (string, error) {
	return f.reply, f.err
}

type harness struct {
	s       *Session
	channel *fakeChannel
	view    *fakeView
	clock   *clock.Mock
	errc    chan error
}

func startSession(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		channel: newFakeChannel(),
		view:    &fakeView{},
		clock:   clock.NewMock(),
		errc:    make(chan error, 1),
	}
	if opts.Room == "" {
		opts.Room = "study"
	}
	if opts.Identity == "" {
		opts.Identity = "alice"
	}
	opts.Channel = h.channel
	opts.View = h.view
	opts.Clock = h.clock

	s, err := New(opts)
	require.NoError(t, err)
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.errc <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.errc
	})
	return h
}

// inspect runs fn on the session loop and waits for it.
func (h *harness) inspect(t *testing.T, fn func(s *Session)) {
	t.Helper()
	done := make(chan struct{})
	h.s.post(func() {
		fn(h.s)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session loop did not run the task")
	}
}

func (h *harness) eventually(t *testing.T, cond func(s *Session) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		var ok bool
		h.inspect(t, func(s *Session) { ok = cond(s) })
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) deliver(env *signaling.Envelope) {
	h.channel.inbound <- env
}

func texts(entries []chat.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}

func TestNewValidatesOptions(t *testing.T) {
	ch := newFakeChannel()

	_, err := New(Options{Room: "bad room!", Identity: "alice", Channel: ch})
	assert.ErrorIs(t, err, ErrInvalidRoom)

	_, err = New(Options{Room: "study", Channel: ch})
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = New(Options{Room: "study", Identity: "alice"})
	assert.ErrorIs(t, err, ErrNoChannel)

	s, err := New(Options{Room: "study_42", Identity: "alice", Channel: ch})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
}

func TestValidRoomCode(t *testing.T) {
	assert.True(t, ValidRoomCode("abc123"))
	assert.True(t, ValidRoomCode("study_group"))
	assert.False(t, ValidRoomCode(""))
	assert.False(t, ValidRoomCode("a-b"))
	assert.False(t, ValidRoomCode("../admin"))
}

func TestSendChatAppendsOwnMessage(t *testing.T) {
	h := startSession(t, Options{})

	h.s.SendChat("  hello room  ")
	h.s.SendChat("   ")

	h.inspect(t, func(s *Session) {
		entries := s.chat.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "hello room", entries[0].Text)
		assert.True(t, entries[0].Own)
	})
	assert.Equal(t, []string{signaling.TypeChat}, h.channel.sentTypes())
}

func TestSendChatWhileDisconnectedAlerts(t *testing.T) {
	h := startSession(t, Options{})
	h.channel.setOpen(false)

	h.s.SendChat("anyone?")

	h.inspect(t, func(s *Session) {
		assert.Zero(t, s.chat.Len())
	})
	assert.Contains(t, h.view.alertTexts(), ErrNotJoined.Error())
}

func TestInboundChatSkipsOwnEcho(t *testing.T) {
	h := startSession(t, Options{})

	h.deliver(signaling.Chat("alice", "echo of mine"))
	h.deliver(signaling.Chat("bob", "hi alice"))

	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 1 })
	h.inspect(t, func(s *Session) {
		entry := s.chat.Entries()[0]
		assert.Equal(t, "bob", entry.Username)
		assert.Equal(t, "hi alice", entry.Text)
		assert.False(t, entry.Own)
	})
}

func TestPresenceTracksJoinsAndLeaves(t *testing.T) {
	h := startSession(t, Options{})

	h.deliver(signaling.Join("bob"))
	h.eventually(t, func(s *Session) bool { return s.members == 2 })

	// A second announcement from the same user, e.g. when they start a call.
	h.deliver(signaling.Join("bob"))
	h.deliver(signaling.Join("alice"))
	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 2 })
	h.inspect(t, func(s *Session) {
		assert.Equal(t, 2, s.members)
		assert.Equal(t, []string{"bob"}, s.seen)
	})

	h.deliver(signaling.Leave("bob"))
	h.eventually(t, func(s *Session) bool { return s.members == 1 })
	h.inspect(t, func(s *Session) {
		assert.Empty(t, s.seen)
		assert.Equal(t, []string{
			"bob joined the room",
			"bob joined the room",
			"bob left the room",
		}, texts(s.chat.Entries()))
	})

	h.deliver(signaling.Leave("mallory"))
	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 4 })
	h.inspect(t, func(s *Session) { assert.Equal(t, 1, s.members) })
}

func TestPresenceKeepsInitialMemberCount(t *testing.T) {
	h := startSession(t, Options{Members: 3})

	h.deliver(signaling.Join("bob"))
	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 1 })
	h.inspect(t, func(s *Session) { assert.Equal(t, 3, s.members) })

	h.deliver(signaling.Leave("carol"))
	h.eventually(t, func(s *Session) bool { return s.members == 2 })
}

func TestTimerEnvelopeIsOnlyLogged(t *testing.T) {
	h := startSession(t, Options{})

	h.deliver(signaling.Timer("bob", "start"))
	h.deliver(signaling.Chat("bob", "after"))

	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 1 })
	h.inspect(t, func(s *Session) {
		assert.False(t, s.countdown.Snapshot().Running)
	})
}

func TestTimerCompletionSavesAndResets(t *testing.T) {
	saver := &fakeSaver{calls: make(chan saveCall, 1)}
	h := startSession(t, Options{Saver: saver})

	h.inspect(t, func(s *Session) {
		s.setTimer(1)
		s.startTimer()
		for range 60 {
			s.tick()
		}
		snap := s.countdown.Snapshot()
		assert.False(t, snap.Running)
		assert.Equal(t, timer.DefaultMinutes, snap.Minutes)
		assert.Nil(t, s.ticker)
	})

	select {
	case call := <-saver.calls:
		assert.Equal(t, saveCall{minutes: 1, room: "study"}, call)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not saved")
	}
	assert.Contains(t, h.view.alertTexts(), "Congratulations! You completed 1 minutes of focused study!")
	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 1 })
}

func TestTimerSaveFailureAlerts(t *testing.T) {
	saver := &fakeSaver{calls: make(chan saveCall, 1), err: errors.New("boom")}
	h := startSession(t, Options{Saver: saver})

	h.inspect(t, func(s *Session) {
		s.setTimer(1)
		s.startTimer()
		for range 60 {
			s.tick()
		}
	})
	<-saver.calls

	require.Eventually(t, func() bool {
		for _, text := range h.view.alertTexts() {
			if text == "Could not save your study session." {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTimerTicksFromClock(t *testing.T) {
	h := startSession(t, Options{})

	h.s.StartTimer()
	h.inspect(t, func(s *Session) { require.NotNil(t, s.ticker) })

	h.clock.Add(time.Second)
	h.eventually(t, func(s *Session) bool { return s.countdown.Snapshot().Clock() == "24:59" })

	h.s.PauseTimer()
	h.inspect(t, func(s *Session) {
		assert.False(t, s.countdown.Snapshot().Running)
		assert.Nil(t, s.ticker)
	})
}

func TestSetTimerWhileRunningAlerts(t *testing.T) {
	h := startSession(t, Options{})

	h.s.StartTimer()
	h.s.SetTimer(10)
	h.inspect(t, func(s *Session) {
		assert.Equal(t, timer.DefaultMinutes, s.countdown.Snapshot().Configured)
	})
	assert.Contains(t, h.view.alertTexts(), timer.ErrRunning.Error())
}

func TestAskTutorAddsExchange(t *testing.T) {
	h := startSession(t, Options{Tutor: &fakeTutor{reply: "Photosynthesis turns light into sugar."}})

	h.s.AskTutor("what is photosynthesis?")

	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 2 && s.asking == 0 })
	h.inspect(t, func(s *Session) {
		entries := s.chat.Entries()
		assert.Equal(t, chat.Tutor, entries[0].Kind)
		assert.True(t, entries[0].Own)
		assert.Equal(t, "AI Tutor", entries[1].Username)
		assert.Equal(t, "Photosynthesis turns light into sugar.", entries[1].Text)
	})
	assert.Empty(t, h.channel.sentTypes())
}

type echoAsker struct{}

func (echoAsker) AskTutor(_ context.Context, message string) (string, error) {
	return "re: " + message, nil
}

func TestOverlappingAsksKeepWholeTranscript(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.msgpack")
	store, err := storage.NewFileStore(path)
	require.NoError(t, err)
	tu, err := tutor.New(ctx, echoAsker{}, store, clock.NewMock())
	require.NoError(t, err)

	h := startSession(t, Options{Tutor: tu})

	const asks = 10
	var wg sync.WaitGroup
	for i := 0; i < asks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.s.AskTutor(fmt.Sprintf("question %d", i))
		}(i)
	}
	wg.Wait()

	h.eventually(t, func(s *Session) bool { return s.chat.Len() == 2*asks && s.asking == 0 })
	assert.Len(t, tu.History(), asks)

	reopened, err := storage.NewFileStore(path)
	require.NoError(t, err)
	reloaded, err := tutor.New(ctx, echoAsker{}, reopened, clock.NewMock())
	require.NoError(t, err)
	assert.Len(t, reloaded.History(), asks)
}

func TestAskTutorWithoutTutorAlerts(t *testing.T) {
	h := startSession(t, Options{})

	h.s.AskTutor("hello?")

	h.inspect(t, func(s *Session) { assert.Zero(t, s.chat.Len()) })
	assert.Contains(t, h.view.alertTexts(), ErrNoTutor.Error())
}

func TestDisconnectAlertsOnce(t *testing.T) {
	h := startSession(t, Options{})

	h.channel.events <- signaling.Event{Kind: signaling.Connected}
	h.eventually(t, func(s *Session) bool { return s.connected })

	h.channel.events <- signaling.Event{Kind: signaling.Disconnected, Err: errors.New("reset")}
	h.channel.events <- signaling.Event{Kind: signaling.Disconnected, Err: errors.New("refused")}
	h.eventually(t, func(s *Session) bool { return !s.connected && len(s.channel.Events()) == 0 })

	h.inspect(t, func(*Session) {})
	assert.Equal(t, []string{"Disconnected"}, h.view.alertTexts())
}

func TestLeaveStopsTheLoop(t *testing.T) {
	h := startSession(t, Options{})

	h.s.Leave()
	h.s.Leave()

	select {
	case err := <-h.errc:
		require.NoError(t, err)
		h.errc <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Leave")
	}
	assert.True(t, h.channel.isClosed())

	// Work posted after the loop exits is dropped rather than blocking.
	h.s.SendChat("too late")
}

func TestRenderReceivesSnapshot(t *testing.T) {
	h := startSession(t, Options{Members: 2})

	h.s.SendChat("hi")
	h.inspect(t, func(*Session) {})

	h.view.mu.Lock()
	defer h.view.mu.Unlock()
	assert.Equal(t, "study", h.view.last.Room)
	assert.Equal(t, "alice", h.view.last.Identity)
	assert.Equal(t, 2, h.view.last.MemberCount)
	assert.Len(t, h.view.last.Chat, 1)
}

func TestCustomTimerSavesConfiguredMinutesDespitePauses(t *testing.T) {
	saver := &fakeSaver{calls: make(chan saveCall, 2)}
	h := startSession(t, Options{Saver: saver})

	h.inspect(t, func(s *Session) {
		s.setTimer(45)
		s.startTimer()
		for range 100 {
			s.tick()
		}
		s.pauseTimer()
		for range 10 {
			s.tick()
		}
		s.startTimer()
		for range 45*60 - 100 {
			s.tick()
		}
	})

	select {
	case call := <-saver.calls:
		assert.Equal(t, 45, call.minutes)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not saved")
	}
	h.inspect(t, func(*Session) {})
	assert.Empty(t, saver.calls, "completion must be reported once")
}
