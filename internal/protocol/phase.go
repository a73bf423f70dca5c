package protocol

import "fmt"

// Phase is the negotiated stage of a connection.
type Phase int32

const (
	PhaseHandshake Phase = iota
	PhaseStatus
	PhaseLogin
	PhaseConfiguration
	PhasePlay
)

// Phases lists every phase in negotiation order.
var Phases = []Phase{PhaseHandshake, PhaseStatus, PhaseLogin, PhaseConfiguration, PhasePlay}

func (p Phase) String() string {
	switch p {
	case PhaseHandshake:
		return "handshake"
	case PhaseStatus:
		return "status"
	case PhaseLogin:
		return "login"
	case PhaseConfiguration:
		return "configuration"
	case PhasePlay:
		return "play"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

func (p Phase) Valid() bool {
	return p >= PhaseHandshake && p <= PhasePlay
}

// CanTransition reports whether next is a legal successor of p.
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseHandshake:
		return next == PhaseStatus || next == PhaseLogin
	case PhaseLogin:
		return next == PhaseConfiguration
	case PhaseConfiguration:
		return next == PhasePlay
	default:
		return false
	}
}

// Direction is the flow of a message relative to the server.
type Direction uint8

const (
	Serverbound Direction = iota
	Clientbound
)

func (d Direction) String() string {
	switch d {
	case Serverbound:
		return "serverbound"
	case Clientbound:
		return "clientbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Opposite returns the reverse flow.
func (d Direction) Opposite() Direction {
	if d == Serverbound {
		return Clientbound
	}
	return Serverbound
}
