package server

import (
	"github.com/goccy/go-json"
)

// Message types exchanged over WebSocket.
const (
	MsgJoin  = "join"
	MsgLeave = "leave"
	MsgOp    = "op"
	MsgAck   = "ack"
	MsgDoc   = "doc"
	MsgShout = "shout"
	MsgError = "error"
)

// ClientMessage is a message from client to server. Op is decoded by the
// joined document's type.
type ClientMessage struct {
	Type     string          `json:"type"`
	DocID    string          `json:"docId,omitempty"`
	Revision int             `json:"revision"`
	Op       json.RawMessage `json:"op,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type     string       `json:"type"`
	DocID    string       `json:"docId,omitempty"`
	Content  any          `json:"content"`
	Revision int          `json:"revision"`
	Op       any          `json:"op,omitempty"`
	Value    any          `json:"value,omitempty"`
	ClientID string       `json:"clientId,omitempty"`
	Name     string       `json:"name,omitempty"`
	Color    string       `json:"color,omitempty"`
	Message  string       `json:"message,omitempty"`
	Clients  []ClientInfo `json:"clients,omitempty"`
}

// ClientInfo describes a connected user.
type ClientInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
