package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
	"github.com/virtualcafe/cafe/internal/media"
	"github.com/virtualcafe/cafe/internal/signaling"
)

// Status texts shown next to the call state.
const (
	StatusReady           = `Ready to connect - Click "Start Call" to begin`
	StatusRequestingMedia = "Requesting camera and microphone access..."
	StatusWaiting         = "Ready - Waiting for others to join"
	StatusPeersPresent    = "Connected - Ready for video call"
	StatusCalling         = "Calling..."
	StatusAnswering       = "Connecting..."
	StatusConnected       = "Call connected"
	StatusRemoteMedia     = "Connected with peer"
	StatusPeerLeft        = "Peer disconnected - Waiting for others"
	StatusPeerFailed      = "Connection failed - Waiting for others"
	StatusNegotiationLost = "Ready - Waiting for others"
	StatusEnded           = "Call ended"
)

// Sender transmits envelopes on the room channel.
type Sender interface {
	Send(env *signaling.Envelope) bool
}

// Observer is told about every call change. Both methods run on the session loop.
type Observer interface {
	CallUpdated(snapshot Snapshot)
	CallFailed(message string)
}

// Config wires a Machine to its collaborators.
type Config struct {
	Identity string
	Sender   Sender
	Source   media.Source
	NewPeer  PeerFactory
	Observer Observer

	// Members returns the current room member count, including us.
	Members func() int

	// Post runs fn on the session loop.
	Post func(fn func())

	// Consume, if set, drains a remote track. It runs on its own goroutine.
	Consume func(remote string, kind media.Kind, track *webrtc.TrackRemote)

	Clock          clock.Clock
	OfferDelay     time.Duration
	JoinOfferDelay time.Duration
}

type pendingOffer struct {
	from string
	sdp  webrtc.SessionDescription
}

// Machine is the call state machine. Every method must be called from the
// session loop; asynchronous work reports back through Config.Post and is
// discarded if the epoch moved while it ran.
type Machine struct {
	cfg   Config
	clock clock.Clock

	state  State
	status string

	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc

	stream       media.Stream
	peer         Peer
	ops          *worker
	offering     bool
	pending      *pendingOffer
	remote       string
	remoteTracks []media.Kind
	mic, cam     bool
}

// New creates an idle machine.
func New(cfg Config) *Machine {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Members == nil {
		cfg.Members = func() int { return 1 }
	}

	m := &Machine{cfg: cfg, clock: clk, state: Idle, status: StatusReady}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Snapshot returns the current call view.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:        m.state,
		Status:       m.status,
		Mic:          m.mic,
		Camera:       m.cam,
		HasMedia:     m.stream != nil,
		HasPeer:      m.peer != nil,
		Remote:       m.remote,
		RemoteTracks: append([]media.Kind(nil), m.remoteTracks...),
	}
}

// Start acquires local media and announces us to the room.
func (m *Machine) Start() {
	if m.state != Idle && m.state != Ended {
		slog.Debug("call already started", "state", m.state)
		return
	}
	m.transition(RequestingMedia, StatusRequestingMedia)
	m.acquire()
}

// End stops local media and closes the peer connection without waiting for
// in-flight operations.
func (m *Machine) End() {
	if m.state == Idle && m.stream == nil && m.peer == nil {
		return
	}
	m.bump()
	m.teardown()
	m.transition(Ended, StatusEnded)
}

// ToggleMic flips the local audio track and returns whether it is now on.
func (m *Machine) ToggleMic() bool {
	return m.toggle(media.Audio, &m.mic)
}

// ToggleCamera flips the local video track and returns whether it is now on.
func (m *Machine) ToggleCamera() bool {
	return m.toggle(media.Video, &m.cam)
}

func (m *Machine) toggle(kind media.Kind, flag *bool) bool {
	if m.stream == nil || !m.stream.Has(kind) {
		slog.Debug("no local track to toggle", "kind", kind)
		return false
	}
	*flag = m.stream.SetEnabled(kind, !*flag)
	m.notify()
	return *flag
}

// HandleJoin reacts to another user's presence announcement by offering once
// things settle, if we hold media and have no peer.
func (m *Machine) HandleJoin(env *signaling.Envelope) {
	if env.From(m.cfg.Identity) {
		return
	}
	if m.state != Active || m.stream == nil || m.peer != nil {
		return
	}
	slog.Debug("user joined, scheduling offer", "from", env.Username, "delay", m.cfg.JoinOfferDelay)
	m.after(m.cfg.JoinOfferDelay, m.createOffer)
}

// HandleLeave drops the peer connection when our remote peer leaves.
func (m *Machine) HandleLeave(env *signaling.Envelope) {
	if env.From(m.cfg.Identity) || m.peer == nil {
		return
	}
	if m.remote != "" && env.Username != m.remote {
		return
	}
	slog.Info("remote peer left", "from", env.Username)
	m.dropPeer(StatusPeerLeft)
}

// HandleOffer answers a remote offer. Only the first offer is accepted; local
// media is acquired first if needed.
func (m *Machine) HandleOffer(env *signaling.Envelope) {
	if env.From(m.cfg.Identity) {
		return
	}
	if m.peer != nil || m.pending != nil {
		slog.Info("ignoring offer, peer connection already exists", "from", env.Username)
		return
	}

	if m.stream == nil {
		m.pending = &pendingOffer{from: env.Username, sdp: *env.Offer}
		if m.state == RequestingMedia {
			return
		}
		m.transition(RequestingMedia, StatusRequestingMedia)
		m.acquire()
		return
	}

	m.answer(env.Username, *env.Offer)
}

// HandleAnswer applies the answer to our outstanding offer.
func (m *Machine) HandleAnswer(env *signaling.Envelope) {
	if env.From(m.cfg.Identity) {
		return
	}
	if m.peer == nil || !m.offering || m.state != Negotiating {
		slog.Warn("dropping answer", "from", env.Username, "state", m.state, "error", ErrUnexpectedAnswer)
		return
	}

	m.offering = false
	m.remote = env.Username
	peer, answer := m.peer, *env.Answer
	enqueue(m, "set answer", func() (struct{}, error) {
		return struct{}{}, peer.SetAnswer(answer)
	}, func(_ struct{}, err error) {
		if err != nil {
			m.negotiationFailed("set answer", err)
			return
		}
		m.transition(Connected, StatusConnected)
	})
}

// HandleICE adds a remote candidate. Candidates arriving before any peer
// connection exists are dropped.
func (m *Machine) HandleICE(env *signaling.Envelope) {
	if env.From(m.cfg.Identity) {
		return
	}
	if m.peer == nil {
		slog.Warn("dropping ICE candidate", "from", env.Username, "error", ErrNoPeer)
		return
	}

	peer, candidate := m.peer, *env.Candidate
	enqueue(m, "add ICE candidate", func() (struct{}, error) {
		return struct{}{}, peer.AddICECandidate(candidate)
	}, func(_ struct{}, err error) {
		if err != nil {
			slog.Warn("failed to add ICE candidate", "from", env.Username, "error", err)
		}
	})
}

func (m *Machine) acquire() {
	spawn(m, "acquire media", func(ctx context.Context) (media.Stream, error) {
		return m.cfg.Source.Acquire(ctx)
	}, m.mediaReady, func(stream media.Stream) {
		if stream != nil {
			stream.Stop()
		}
	})
}

func (m *Machine) mediaReady(stream media.Stream, err error) {
	if err != nil {
		slog.Error("media acquisition failed", "error", err)
		m.pending = nil
		m.fail(media.UserMessage(err))
		return
	}

	m.stream = stream
	m.mic = stream.Enabled(media.Audio)
	m.cam = stream.Enabled(media.Video)

	offer := m.pending
	m.pending = nil

	status := StatusWaiting
	if offer == nil && m.cfg.Members() > 1 {
		status = StatusPeersPresent
	}
	m.transition(Active, status)
	m.send(signaling.Join(m.cfg.Identity))

	switch {
	case offer != nil:
		m.answer(offer.from, offer.sdp)
	case m.cfg.Members() > 1:
		m.after(m.cfg.OfferDelay, m.createOffer)
	}
}

func (m *Machine) createOffer() {
	if m.state != Active || m.stream == nil || m.peer != nil || m.pending != nil {
		slog.Debug("skipping offer", "state", m.state, "peer", m.peer != nil)
		return
	}
	if err := m.openPeer(); err != nil {
		m.negotiationFailed("create peer connection", err)
		return
	}

	m.offering = true
	m.transition(Negotiating, StatusCalling)

	peer := m.peer
	enqueue(m, "create offer", func() (webrtc.SessionDescription, error) {
		return peer.CreateOffer()
	}, func(offer webrtc.SessionDescription, err error) {
		if err != nil {
			m.negotiationFailed("create offer", err)
			return
		}
		m.send(signaling.Offer(m.cfg.Identity, offer))
	})
}

func (m *Machine) answer(from string, offer webrtc.SessionDescription) {
	if err := m.openPeer(); err != nil {
		m.negotiationFailed("create peer connection", err)
		return
	}

	m.offering = false
	m.remote = from
	m.transition(Negotiating, StatusAnswering)

	peer := m.peer
	enqueue(m, "answer offer", func() (webrtc.SessionDescription, error) {
		return peer.Answer(offer)
	}, func(answer webrtc.SessionDescription, err error) {
		if err != nil {
			m.negotiationFailed("answer offer", err)
			return
		}
		m.send(signaling.Answer(m.cfg.Identity, answer))
		m.transition(Connected, StatusConnected)
	})
}

// openPeer creates the single peer connection and its operations worker.
func (m *Machine) openPeer() error {
	if m.peer != nil {
		return ErrPeerExists
	}
	if m.stream == nil {
		return ErrNoMedia
	}

	epoch := m.epoch
	onLoop := func(fn func()) {
		m.cfg.Post(func() {
			if epoch != m.epoch {
				return
			}
			fn()
		})
	}

	peer, err := m.cfg.NewPeer(m.stream, PeerHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			onLoop(func() { m.send(signaling.ICE(m.cfg.Identity, c)) })
		},
		OnTrack: func(kind media.Kind, track *webrtc.TrackRemote) {
			onLoop(func() { m.remoteTrack(kind, track) })
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			onLoop(func() { m.peerStateChanged(state) })
		},
	})
	if err != nil {
		return err
	}

	m.peer = peer
	m.ops = newWorker()
	return nil
}

func (m *Machine) remoteTrack(kind media.Kind, track *webrtc.TrackRemote) {
	slog.Info("received remote track", "kind", kind, "from", m.remote)
	m.remoteTracks = lo.Uniq(append(m.remoteTracks, kind))
	m.status = StatusRemoteMedia
	m.notify()

	if m.cfg.Consume != nil && track != nil {
		go m.cfg.Consume(m.remote, kind, track)
	}
}

func (m *Machine) peerStateChanged(state webrtc.PeerConnectionState) {
	slog.Debug("peer connection state", "state", state.String())
	if state == webrtc.PeerConnectionStateFailed {
		slog.Warn("peer connection failed", "remote", m.remote)
		m.dropPeer(StatusPeerFailed)
	}
}

// negotiationFailed discards the peer but keeps local media so the call can
// continue with the next offer.
func (m *Machine) negotiationFailed(op string, err error) {
	var callErr *Error
	if m.remote != "" {
		callErr = NewPeerError(op, m.remote, err)
	} else {
		callErr = NewError(op, err)
	}
	slog.Error("call negotiation failed", "error", callErr)
	m.dropPeer(StatusNegotiationLost)
}

func (m *Machine) dropPeer(status string) {
	m.bump()
	m.closePeer()
	if m.stream != nil {
		m.transition(Active, status)
		return
	}
	m.transition(Idle, status)
}

func (m *Machine) closePeer() {
	if m.ops != nil {
		m.ops.Stop()
		m.ops = nil
	}
	if m.peer != nil {
		if err := m.peer.Close(); err != nil {
			slog.Debug("closing peer connection", "error", err)
		}
		m.peer = nil
	}
	m.offering = false
	m.pending = nil
	m.remote = ""
	m.remoteTracks = nil
}

func (m *Machine) teardown() {
	m.closePeer()
	if m.stream != nil {
		m.stream.Stop()
		m.stream = nil
	}
	m.mic, m.cam = false, false
}

func (m *Machine) fail(message string) {
	m.bump()
	m.teardown()
	m.transition(Idle, message)
	if m.cfg.Observer != nil {
		m.cfg.Observer.CallFailed(message)
	}
}

// bump invalidates every in-flight continuation and scheduled offer.
func (m *Machine) bump() {
	m.epoch++
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(context.Background())
}

func (m *Machine) transition(to State, status string) bool {
	if !allowed(m.state, to) {
		slog.Warn("invalid call transition", "from", m.state, "to", to)
		return false
	}
	if m.state != to {
		slog.Debug("call transition", "from", m.state, "to", to, "epoch", m.epoch)
	}
	m.state = to
	m.status = status
	m.notify()
	return true
}

func (m *Machine) notify() {
	if m.cfg.Observer != nil {
		m.cfg.Observer.CallUpdated(m.Snapshot())
	}
}

func (m *Machine) send(env *signaling.Envelope) {
	if !m.cfg.Sender.Send(env) {
		slog.Debug("envelope not sent, channel closed", "type", env.Type)
	}
}

// after runs fn on the loop once d has elapsed, unless the epoch moved.
func (m *Machine) after(d time.Duration, fn func()) {
	epoch := m.epoch
	m.clock.AfterFunc(d, func() {
		m.cfg.Post(func() {
			if epoch != m.epoch {
				return
			}
			fn()
		})
	})
}

// spawn runs work on its own goroutine and posts then back to the loop. If the
// epoch moved in the meantime, discard receives the result instead.
func spawn[T any](m *Machine, op string, work func(ctx context.Context) (T, error), then func(T, error), discard func(T)) {
	epoch, ctx := m.epoch, m.ctx
	go func() {
		v, err := work(ctx)
		m.cfg.Post(func() {
			if epoch != m.epoch {
				slog.Debug("discarding stale call result", "op", op, "epoch", epoch, "current", m.epoch)
				if discard != nil {
					discard(v)
				}
				return
			}
			then(v, err)
		})
	}()
}

// enqueue runs work on the peer's FIFO worker and posts then back to the loop.
func enqueue[T any](m *Machine, op string, work func() (T, error), then func(T, error)) {
	epoch := m.epoch
	ok := m.ops.Do(func() {
		v, err := work()
		m.cfg.Post(func() {
			if epoch != m.epoch {
				slog.Debug("discarding stale peer result", "op", op, "epoch", epoch, "current", m.epoch)
				return
			}
			then(v, err)
		})
	})
	if !ok {
		slog.Debug("peer worker stopped", "op", op, "error", ErrWorkerStopped)
	}
}
