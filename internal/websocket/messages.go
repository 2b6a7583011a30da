package websocket

import (
	"encoding/json"
	"time"
)

// Message types for WebSocket events. Domain events keep the type they were
// emitted with (subscription, invoice, billing).
const (
	TypeHealth    = "health"
	TypeHeartbeat = "heartbeat"
)

// Message represents a WebSocket message
type Message struct {
	ID        string      `json:"id,omitempty"`
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType, event string, data interface{}) *Message {
	return &Message{
		Type:      msgType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// HeartbeatData represents heartbeat data
type HeartbeatData struct {
	ServerTime  time.Time `json:"server_time"`
	ClientCount int       `json:"client_count"`
}
