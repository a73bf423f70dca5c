// Package packets is the concrete message catalog: every message kind the
// server speaks, and the IDs it is registered under per phase and direction.
package packets

import (
	"github.com/danmuck/mcwire/internal/protocol"
)

// ProtocolVersion is the version number advertised in status responses and
// expected in Intention.
const ProtocolVersion int32 = 767

const (
	sb = protocol.Serverbound
	cb = protocol.Clientbound
)

// Catalog returns a registry preloaded with every message in this package.
// Callers may register extra kinds before building.
func Catalog() *protocol.Registry {
	r := protocol.NewRegistry(ProtocolVersion)

	r.Register(protocol.PhaseHandshake, sb, 0x00, func() protocol.Message { return &Intention{} })

	r.Register(protocol.PhaseStatus, sb, 0x00, func() protocol.Message { return &StatusRequest{} }).
		Register(protocol.PhaseStatus, sb, 0x01, func() protocol.Message { return &PingRequest{} }).
		Register(protocol.PhaseStatus, cb, 0x00, func() protocol.Message { return &StatusResponse{} }).
		Register(protocol.PhaseStatus, cb, 0x01, func() protocol.Message { return &PongResponse{} })

	r.Register(protocol.PhaseLogin, sb, 0x00, func() protocol.Message { return &Hello{} }).
		Register(protocol.PhaseLogin, sb, 0x03, func() protocol.Message { return &LoginAcknowledged{} }).
		Register(protocol.PhaseLogin, cb, 0x00, func() protocol.Message { return &LoginDisconnect{} }).
		Register(protocol.PhaseLogin, cb, 0x02, func() protocol.Message { return &LoginFinished{} })

	r.Register(protocol.PhaseConfiguration, sb, 0x00, func() protocol.Message { return &ClientInformation{} }).
		Register(protocol.PhaseConfiguration, sb, 0x02, func() protocol.Message { return &CustomPayload{} }).
		Register(protocol.PhaseConfiguration, sb, 0x03, func() protocol.Message { return &FinishConfigurationAck{} }).
		Register(protocol.PhaseConfiguration, sb, 0x04, func() protocol.Message { return &KeepAlive{} }).
		Register(protocol.PhaseConfiguration, cb, 0x01, func() protocol.Message { return &CustomPayload{} }).
		Register(protocol.PhaseConfiguration, cb, 0x02, func() protocol.Message { return &Disconnect{} }).
		Register(protocol.PhaseConfiguration, cb, 0x03, func() protocol.Message { return &FinishConfiguration{} }).
		Register(protocol.PhaseConfiguration, cb, 0x04, func() protocol.Message { return &KeepAlive{} })

	r.Register(protocol.PhasePlay, sb, 0x06, func() protocol.Message { return &ChatSessionUpdate{} }).
		Register(protocol.PhasePlay, sb, 0x07, func() protocol.Message { return &Chat{} }).
		Register(protocol.PhasePlay, sb, 0x18, func() protocol.Message { return &KeepAlive{} }).
		Register(protocol.PhasePlay, cb, 0x1D, func() protocol.Message { return &Disconnect{} }).
		Register(protocol.PhasePlay, cb, 0x26, func() protocol.Message { return &KeepAlive{} }).
		Register(protocol.PhasePlay, cb, 0x39, func() protocol.Message { return &PlayerChat{} }).
		Register(protocol.PhasePlay, cb, 0x6C, func() protocol.Message { return &SystemChat{} })

	return r
}

// Protocol builds the default catalog.
func Protocol() *protocol.Protocol {
	return Catalog().MustBuild()
}

// DisconnectFor returns the message that carries reason to the peer in phase,
// or nil when the phase has no disconnect message.
func DisconnectFor(phase protocol.Phase, reason string) protocol.Message {
	switch phase {
	case protocol.PhaseLogin:
		return &LoginDisconnect{Reason: reason}
	case protocol.PhaseConfiguration, protocol.PhasePlay:
		return &Disconnect{Reason: reason}
	default:
		return nil
	}
}

// KeepAliveSupported reports whether phase carries keep-alives.
func KeepAliveSupported(phase protocol.Phase) bool {
	return phase == protocol.PhaseConfiguration || phase == protocol.PhasePlay
}
