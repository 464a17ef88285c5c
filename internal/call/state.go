package call

import "github.com/virtualcafe/cafe/internal/media"

// State is the call lifecycle state.
type State int

const (
	Idle State = iota
	RequestingMedia
	Active
	Negotiating
	Connected
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingMedia:
		return "requesting-media"
	case Active:
		return "active"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// transitions lists the forward edges. Any state may also move to itself,
// to Ended, or back to Idle on error.
var transitions = map[State][]State{
	Idle:            {RequestingMedia},
	RequestingMedia: {Active},
	Active:          {Negotiating},
	Negotiating:     {Connected, Active},
	Connected:       {Active},
	Ended:           {RequestingMedia},
}

func allowed(from, to State) bool {
	if from == to || to == Ended || to == Idle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a read-only view of the call for rendering.
type Snapshot struct {
	State        State
	Status       string
	Mic          bool
	Camera       bool
	HasMedia     bool
	HasPeer      bool
	Remote       string
	RemoteTracks []media.Kind
}

// InCall reports whether local media is held.
func (s Snapshot) InCall() bool {
	return s.State != Idle && s.State != Ended && s.State != RequestingMedia
}
