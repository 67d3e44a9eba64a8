// Package protocol defines the messages replicas exchange. Every transport
// carries the same Message envelope.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/presence"
	"github.com/dairyisscary/syn/pkg/types"
)

type MsgType string

const (
	// MsgSyncStep1 carries the sender's state vector and asks for what it
	// is missing.
	MsgSyncStep1 MsgType = "SYNC_STEP1"
	// MsgSyncStep2 answers a step 1 with the missing operations.
	MsgSyncStep2 MsgType = "SYNC_STEP2"
	// MsgUpdate broadcasts freshly made local operations.
	MsgUpdate         MsgType = "UPDATE"
	MsgAwareness      MsgType = "AWARENESS"
	MsgAwarenessQuery MsgType = "AWARENESS_QUERY"
	// MsgLeave announces that the listed clients are gone. Transports
	// synthesize it when a connection drops.
	MsgLeave MsgType = "LEAVE"
	// MsgConnected is never sent on the wire: a transport delivers it to
	// its own replica when a new connection comes up, so the replica can
	// handshake with whoever is behind it.
	MsgConnected MsgType = "CONNECTED"
)

type Message struct {
	Room string         `json:"room"`
	From types.ClientID `json:"from"`
	// To is empty for broadcasts.
	To          types.ClientID   `json:"to,omitempty"`
	Type        MsgType          `json:"type"`
	StateVector crdt.StateVector `json:"sv,omitempty"`
	Ops         []crdt.Op        `json:"ops,omitempty"`
	Awareness   *presence.Update `json:"awareness,omitempty"`
	Clients     []types.ClientID `json:"clients,omitempty"`
}

func Encode(msg Message) ([]byte, error) { return json.Marshal(msg) }

func Decode(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" || msg.From == "" {
		return msg, fmt.Errorf("decode message: missing type or sender")
	}
	return msg, nil
}
