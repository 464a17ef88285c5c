package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
)

// Envelope types carried over the room channel.
const (
	TypeChat   = "chat"
	TypeJoin   = "user_join"
	TypeLeave  = "user_leave"
	TypeOffer  = "webrtc_offer"
	TypeAnswer = "webrtc_answer"
	TypeICE    = "webrtc_ice"
	TypeTimer  = "timer"
)

var (
	ErrMalformed = errors.New("malformed frame")
	ErrInvalid   = errors.New("invalid envelope")
)

// Envelope is one tagged message on the room channel. Offers and answers use
// the browser's {type, sdp} shape; candidates use RTCIceCandidateInit.
type Envelope struct {
	Type      string                     `json:"type" validate:"required,oneof=chat user_join user_leave webrtc_offer webrtc_answer webrtc_ice timer"`
	Username  string                     `json:"username,omitempty"`
	UserID    int                        `json:"user_id,omitempty"`
	Message   string                     `json:"message,omitempty"`
	Avatar    string                     `json:"avatar,omitempty"`
	Timestamp string                     `json:"timestamp,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty" validate:"required_if=Type webrtc_offer"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty" validate:"required_if=Type webrtc_answer"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty" validate:"required_if=Type webrtc_ice"`
	Action    string                     `json:"action,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates an inbound frame.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &env, nil
}

// From reports whether the envelope was sent by identity. Matching is exact.
func (e *Envelope) From(identity string) bool {
	return identity != "" && e.Username == identity
}

func Chat(username, text string) *Envelope {
	return &Envelope{Type: TypeChat, Username: username, Message: text}
}

func Join(username string) *Envelope {
	return &Envelope{Type: TypeJoin, Username: username}
}

func Leave(username string) *Envelope {
	return &Envelope{Type: TypeLeave, Username: username}
}

func Offer(username string, sdp webrtc.SessionDescription) *Envelope {
	return &Envelope{Type: TypeOffer, Username: username, Offer: &sdp}
}

func Answer(username string, sdp webrtc.SessionDescription) *Envelope {
	return &Envelope{Type: TypeAnswer, Username: username, Answer: &sdp}
}

func ICE(username string, candidate webrtc.ICECandidateInit) *Envelope {
	return &Envelope{Type: TypeICE, Username: username, Candidate: &candidate}
}

func Timer(username, action string) *Envelope {
	return &Envelope{Type: TypeTimer, Username: username, Action: action}
}
