package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/virtualcafe/cafe/internal/config"
	"github.com/virtualcafe/cafe/internal/media"
	"github.com/virtualcafe/cafe/internal/utils"
)

// Peer is one peer connection carrying local media to a single remote user.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerHandlers receive peer events. They are invoked from pion goroutines.
type PeerHandlers struct {
	OnICECandidate func(candidate webrtc.ICECandidateInit)
	OnTrack        func(kind media.Kind, track *webrtc.TrackRemote)
	OnStateChange  func(state webrtc.PeerConnectionState)
}

// PeerFactory creates a peer connection carrying the tracks of stream.
type PeerFactory func(stream media.Stream, handlers PeerHandlers) (Peer, error)

// NewPeerConnection builds a pion peer connection from the ICE settings in cfg.
func NewPeerConnection(cfg *config.Config) (*webrtc.PeerConnection, error) {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, WrapError("create peer connection", err, "ice policy "+policy.String())
	}
	return pc, nil
}

// PionPeers returns a factory of pion-backed peers configured from cfg.
func PionPeers(cfg *config.Config) PeerFactory {
	return func(stream media.Stream, handlers PeerHandlers) (Peer, error) {
		pc, err := NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}

		for _, track := range stream.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return nil, NewError("add track", err)
			}
			go drainRTCP(sender)
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || handlers.OnICECandidate == nil {
				return
			}
			handlers.OnICECandidate(c.ToJSON())
		})

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if handlers.OnTrack == nil {
				return
			}
			kind := media.Audio
			if track.Kind() == webrtc.RTPCodecTypeVideo {
				kind = media.Video
			}
			handlers.OnTrack(kind, track)
		})

		if handlers.OnStateChange != nil {
			pc.OnConnectionStateChange(handlers.OnStateChange)
		}

		return &pionPeer{pc: pc}, nil
	}
}

// drainRTCP reads incoming RTCP so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection

	// Candidates that arrive before the remote description are held until
	// it is applied.
	mu      sync.Mutex
	early   []webrtc.ICECandidateInit
	haveSDP bool
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, NewError("create offer", err)
	}

	if err = p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, NewError("set local description", err)
	}

	return *p.pc.LocalDescription(), nil
}

func (p *pionPeer) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.setRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, NewError("create answer", err)
	}

	if err = p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, NewError("set local description", err)
	}

	return *p.pc.LocalDescription(), nil
}

func (p *pionPeer) SetAnswer(answer webrtc.SessionDescription) error {
	return p.setRemote(answer)
}

func (p *pionPeer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return NewError("set remote description", err)
	}

	p.mu.Lock()
	p.haveSDP = true
	early := p.early
	p.early = nil
	p.mu.Unlock()

	for _, c := range early {
		if err := p.pc.AddICECandidate(c); err != nil {
			return NewError("add ICE candidate", err)
		}
	}
	return nil
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.haveSDP {
		p.early = append(p.early, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
