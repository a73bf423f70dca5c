package packets

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/mcwire/internal/protocol"
)

const (
	TypeStatusRequest  protocol.Type = "status/request"
	TypeStatusResponse protocol.Type = "status/response"
	TypePingRequest    protocol.Type = "status/ping"
	TypePongResponse   protocol.Type = "status/pong"
)

type StatusRequest struct{}

func (*StatusRequest) Type() protocol.Type { return TypeStatusRequest }
func (*StatusRequest) Encode(*protocol.Writer) error { return nil }
func (*StatusRequest) Decode(*protocol.Reader) error { return nil }

// StatusVersion names the protocol a server speaks.
type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type StatusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

// StatusDocument is the JSON body of a status response.
type StatusDocument struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description string        `json:"description"`
	SecureChat  bool          `json:"enforcesSecureChat"`
}

// StatusResponse carries the server list JSON document.
type StatusResponse struct {
	JSON string
}

// NewStatusResponse encodes doc into a response.
func NewStatusResponse(doc StatusDocument) (*StatusResponse, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("packets: encode status: %w", err)
	}
	return &StatusResponse{JSON: string(raw)}, nil
}

// Document decodes the JSON body.
func (m *StatusResponse) Document() (StatusDocument, error) {
	var doc StatusDocument
	if err := json.Unmarshal([]byte(m.JSON), &doc); err != nil {
		return StatusDocument{}, fmt.Errorf("packets: decode status: %w", err)
	}
	return doc, nil
}

func (*StatusResponse) Type() protocol.Type { return TypeStatusResponse }

func (m *StatusResponse) Encode(w *protocol.Writer) error {
	return w.String(m.JSON, protocol.DefaultStringChars)
}

func (m *StatusResponse) Decode(r *protocol.Reader) error {
	var err error
	m.JSON, err = r.String(protocol.DefaultStringChars)
	return err
}

type PingRequest struct {
	Time int64
}

func (*PingRequest) Type() protocol.Type { return TypePingRequest }

func (m *PingRequest) Encode(w *protocol.Writer) error {
	w.Long(m.Time)
	return nil
}

func (m *PingRequest) Decode(r *protocol.Reader) error {
	var err error
	m.Time, err = r.Long()
	return err
}

type PongResponse struct {
	Time int64
}

func (*PongResponse) Type() protocol.Type { return TypePongResponse }

func (m *PongResponse) Encode(w *protocol.Writer) error {
	w.Long(m.Time)
	return nil
}

func (m *PongResponse) Decode(r *protocol.Reader) error {
	var err error
	m.Time, err = r.Long()
	return err
}
