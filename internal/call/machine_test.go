package call

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcafe/cafe/internal/media"
	"github.com/virtualcafe/cafe/internal/signaling"
)

type fakeStream struct {
	mu      sync.Mutex
	enabled map[media.Kind]bool
	stopped bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{enabled: map[media.Kind]bool{media.Audio: true, media.Video: true}}
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }
func (s *fakeStream) Has(kind media.Kind) bool    { _, ok := s.enabled[kind]; return ok }

func (s *fakeStream) SetEnabled(kind media.Kind, on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[kind] = on
	return on
}

func (s *fakeStream) Enabled(kind media.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[kind]
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeSource struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	streams []*fakeStream
}

func (s *fakeSource) Acquire(ctx context.Context) (media.Stream, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	stream := newFakeStream()
	s.streams = append(s.streams, stream)
	return stream, nil
}

func (s *fakeSource) acquired() []*fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeStream(nil), s.streams...)
}

type fakePeer struct {
	handlers PeerHandlers

	mu         sync.Mutex
	answered   []string
	candidates []webrtc.ICECandidateInit
	remoteSet  bool
	closed     bool
	offerErr   error
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answered = append(p.answered, offer.SDP)
	p.remoteSet = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteSet {
		return errors.New("remote description already set")
	}
	p.remoteSet = true
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*signaling.Envelope
}

func (s *fakeSender) Send(env *signaling.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return true
}

func (s *fakeSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, env := range s.sent {
		types = append(types, env.Type)
	}
	return types
}

type fakeObserver struct {
	updates  []Snapshot
	failures []string
}

func (o *fakeObserver) CallUpdated(s Snapshot) { o.updates = append(o.updates, s) }
func (o *fakeObserver) CallFailed(msg string)  { o.failures = append(o.failures, msg) }

type harness struct {
	t       *testing.T
	clock   *clock.Mock
	tasks   chan func()
	source  *fakeSource
	sender  *fakeSender
	obs     *fakeObserver
	members int
	peers   []*fakePeer
	peerErr error
	m       *Machine
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:       t,
		clock:   clock.NewMock(),
		tasks:   make(chan func(), 256),
		source:  &fakeSource{},
		sender:  &fakeSender{},
		obs:     &fakeObserver{},
		members: 1,
	}
	h.m = New(Config{
		Identity: "alice",
		Sender:   h.sender,
		Source:   h.source,
		Observer: h.obs,
		Members:  func() int { return h.members },
		Post:     func(fn func()) { h.tasks <- fn },
		NewPeer: func(stream media.Stream, handlers PeerHandlers) (Peer, error) {
			if h.peerErr != nil {
				return nil, h.peerErr
			}
			p := &fakePeer{handlers: handlers}
			h.peers = append(h.peers, p)
			return p, nil
		},
		Clock:          h.clock,
		OfferDelay:     time.Second,
		JoinOfferDelay: 1500 * time.Millisecond,
	})
	return h
}

// settle runs posted continuations until the loop has been idle for a while.
func (h *harness) settle() {
	for {
		select {
		case fn := <-h.tasks:
			fn()
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Add(d)
	h.settle()
}

func offerFrom(user string) *signaling.Envelope {
	return signaling.Offer(user, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "sdp-from-" + user})
}

func answerFrom(user string) *signaling.Envelope {
	return signaling.Answer(user, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-" + user})
}

func iceFrom(user string) *signaling.Envelope {
	return signaling.ICE(user, webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host"})
}

func TestStartAlone(t *testing.T) {
	h := newHarness(t)

	h.m.Start()
	assert.Equal(t, RequestingMedia, h.m.State())
	h.settle()

	snap := h.m.Snapshot()
	assert.Equal(t, Active, snap.State)
	assert.Equal(t, StatusWaiting, snap.Status)
	assert.True(t, snap.Mic)
	assert.True(t, snap.Camera)
	assert.Equal(t, []string{signaling.TypeJoin}, h.sender.types())

	h.advance(5 * time.Second)
	assert.Empty(t, h.peers)
	assert.Equal(t, Active, h.m.State())
}

func TestStartWithPeersOffersAfterDelay(t *testing.T) {
	h := newHarness(t)
	h.members = 2

	h.m.Start()
	h.settle()
	assert.Equal(t, StatusPeersPresent, h.m.Snapshot().Status)

	h.advance(999 * time.Millisecond)
	assert.Empty(t, h.peers)

	h.advance(time.Millisecond)
	require.Len(t, h.peers, 1)
	assert.Equal(t, Negotiating, h.m.State())
	assert.Equal(t, []string{signaling.TypeJoin, signaling.TypeOffer}, h.sender.types())

	h.m.HandleAnswer(answerFrom("bob"))
	h.settle()
	snap := h.m.Snapshot()
	assert.Equal(t, Connected, snap.State)
	assert.Equal(t, "bob", snap.Remote)
}

func TestStartTwiceIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.m.Start()
	h.m.Start()
	h.settle()
	h.m.Start()
	h.settle()
	assert.Len(t, h.source.acquired(), 1)
}

func TestMediaFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.source.err = &media.AcquireError{Category: media.CategoryPermission, Err: fs.ErrPermission}

	h.m.Start()
	h.settle()

	assert.Equal(t, Idle, h.m.State())
	require.Len(t, h.obs.failures, 1)
	assert.Contains(t, h.obs.failures[0], "Please allow camera and microphone access")
	assert.Empty(t, h.sender.types())

	h.source.err = nil
	h.m.Start()
	h.settle()
	assert.Equal(t, Active, h.m.State())
}

func TestOfferWithoutMediaAcquiresAndAnswers(t *testing.T) {
	h := newHarness(t)

	h.m.HandleOffer(offerFrom("bob"))
	assert.Equal(t, RequestingMedia, h.m.State())
	h.settle()

	require.Len(t, h.peers, 1)
	assert.Equal(t, []string{"sdp-from-bob"}, h.peers[0].answered)
	assert.Equal(t, Connected, h.m.State())
	assert.Equal(t, "bob", h.m.Snapshot().Remote)
	assert.Equal(t, []string{signaling.TypeJoin, signaling.TypeAnswer}, h.sender.types())
}

func TestSecondOfferIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.m.HandleOffer(offerFrom("bob"))
	h.m.HandleOffer(offerFrom("carol"))
	h.settle()
	h.m.HandleOffer(offerFrom("dave"))
	h.settle()

	require.Len(t, h.peers, 1)
	assert.Equal(t, []string{"sdp-from-bob"}, h.peers[0].answered)
	assert.Equal(t, "bob", h.m.Snapshot().Remote)
}

func TestOfferCancelsScheduledOffer(t *testing.T) {
	h := newHarness(t)
	h.members = 2
	h.m.Start()
	h.settle()

	h.m.HandleOffer(offerFrom("bob"))
	h.advance(2 * time.Second)

	require.Len(t, h.peers, 1)
	assert.NotContains(t, h.sender.types(), signaling.TypeOffer)
	assert.Equal(t, Connected, h.m.State())
}

func TestICEBeforePeerIsDropped(t *testing.T) {
	h := newHarness(t)

	h.m.HandleICE(iceFrom("bob"))
	h.m.HandleOffer(offerFrom("bob"))
	h.settle()
	h.m.HandleICE(iceFrom("bob"))
	h.settle()

	require.Len(t, h.peers, 1)
	assert.Len(t, h.peers[0].candidates, 1)
}

func TestUnexpectedAnswerIsDropped(t *testing.T) {
	h := newHarness(t)
	h.m.HandleAnswer(answerFrom("bob"))
	h.settle()
	assert.Equal(t, Idle, h.m.State())

	h.m.HandleOffer(offerFrom("bob"))
	h.settle()
	h.m.HandleAnswer(answerFrom("bob"))
	h.settle()
	assert.Equal(t, Connected, h.m.State())
	require.Len(t, h.peers, 1)
	assert.False(t, h.peers[0].isClosed())
}

func TestSecondAnswerIsDropped(t *testing.T) {
	h := newHarness(t)
	h.members = 3
	h.m.Start()
	h.settle()
	h.advance(time.Second)

	h.m.HandleAnswer(answerFrom("bob"))
	h.m.HandleAnswer(answerFrom("carol"))
	h.settle()

	assert.Equal(t, Connected, h.m.State())
	assert.Equal(t, "bob", h.m.Snapshot().Remote)
	assert.False(t, h.peers[0].isClosed())
}

func TestSelfOriginIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.m.HandleOffer(offerFrom("alice"))
	h.m.HandleJoin(signaling.Join("alice"))
	h.settle()

	assert.Equal(t, Idle, h.m.State())
	assert.Empty(t, h.peers)
	assert.Empty(t, h.source.acquired())
}

func TestJoinSchedulesOffer(t *testing.T) {
	h := newHarness(t)
	h.m.Start()
	h.settle()

	h.m.HandleJoin(signaling.Join("bob"))
	h.advance(1400 * time.Millisecond)
	assert.Empty(t, h.peers)

	h.advance(100 * time.Millisecond)
	require.Len(t, h.peers, 1)
	assert.Equal(t, Negotiating, h.m.State())
}

func TestRemoteLeaveDropsPeer(t *testing.T) {
	h := newHarness(t)
	h.m.HandleOffer(offerFrom("bob"))
	h.settle()

	h.m.HandleLeave(signaling.Leave("carol"))
	assert.Equal(t, Connected, h.m.State())

	h.m.HandleLeave(signaling.Leave("bob"))
	snap := h.m.Snapshot()
	assert.Equal(t, Active, snap.State)
	assert.Equal(t, StatusPeerLeft, snap.Status)
	assert.False(t, snap.HasPeer)
	assert.Empty(t, snap.Remote)
	assert.True(t, snap.HasMedia)
	assert.True(t, h.peers[0].isClosed())

	h.m.HandleOffer(offerFrom("carol"))
	h.settle()
	require.Len(t, h.peers, 2)
	assert.Equal(t, Connected, h.m.State())
}

func TestEndDuringAcquisitionDiscardsStream(t *testing.T) {
	h := newHarness(t)
	h.source.gate = make(chan struct{})

	h.m.Start()
	h.m.End()
	assert.Equal(t, Ended, h.m.State())

	close(h.source.gate)
	h.settle()

	assert.Equal(t, Ended, h.m.State())
	streams := h.source.acquired()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].isStopped())
	assert.Empty(t, h.sender.types())
}

func TestEndStopsEverything(t *testing.T) {
	h := newHarness(t)
	h.m.HandleOffer(offerFrom("bob"))
	h.settle()

	h.m.End()
	snap := h.m.Snapshot()
	assert.Equal(t, Ended, snap.State)
	assert.Equal(t, StatusEnded, snap.Status)
	assert.False(t, snap.Mic)
	assert.False(t, snap.Camera)
	assert.True(t, h.peers[0].isClosed())
	assert.True(t, h.source.acquired()[0].isStopped())

	h.m.HandleICE(iceFrom("bob"))
	h.settle()
	assert.Empty(t, h.peers[0].candidates)
}

func TestToggles(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.m.ToggleMic())

	h.m.Start()
	h.settle()

	assert.False(t, h.m.ToggleMic())
	assert.False(t, h.m.Snapshot().Mic)
	assert.False(t, h.source.acquired()[0].Enabled(media.Audio))
	assert.True(t, h.m.ToggleMic())

	assert.False(t, h.m.ToggleCamera())
	assert.False(t, h.source.acquired()[0].Enabled(media.Video))
	assert.Equal(t, Active, h.m.State())
}

func TestPeerEventsAreApplied(t *testing.T) {
	h := newHarness(t)
	h.m.HandleOffer(offerFrom("bob"))
	h.settle()
	peer := h.peers[0]

	peer.handlers.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:local"})
	peer.handlers.OnTrack(media.Video, nil)
	peer.handlers.OnTrack(media.Video, nil)
	h.settle()

	assert.Contains(t, h.sender.types(), signaling.TypeICE)
	snap := h.m.Snapshot()
	assert.Equal(t, []media.Kind{media.Video}, snap.RemoteTracks)
	assert.Equal(t, StatusRemoteMedia, snap.Status)

	peer.handlers.OnStateChange(webrtc.PeerConnectionStateFailed)
	h.settle()
	assert.Equal(t, Active, h.m.State())
	assert.Equal(t, StatusPeerFailed, h.m.Snapshot().Status)
	assert.True(t, peer.isClosed())

	// Events from the dropped peer are stale.
	peer.handlers.OnTrack(media.Audio, nil)
	h.settle()
	assert.Empty(t, h.m.Snapshot().RemoteTracks)
}

func TestNegotiationFailureKeepsMedia(t *testing.T) {
	h := newHarness(t)
	h.members = 2
	h.peerErr = errors.New("no ICE agent")

	h.m.Start()
	h.settle()
	h.advance(time.Second)

	snap := h.m.Snapshot()
	assert.Equal(t, Active, snap.State)
	assert.Equal(t, StatusNegotiationLost, snap.Status)
	assert.True(t, snap.HasMedia)
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Idle, RequestingMedia, true},
		{Idle, Connected, false},
		{RequestingMedia, Active, true},
		{Active, Negotiating, true},
		{Active, Connected, false},
		{Negotiating, Connected, true},
		{Negotiating, Active, true},
		{Connected, Active, true},
		{Connected, Negotiating, false},
		{Ended, RequestingMedia, true},
		{Connected, Ended, true},
		{Negotiating, Idle, true},
		{Active, Active, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, allowed(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
