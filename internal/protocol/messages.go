// Package protocol defines the JSON wire format spoken between the table
// server and its clients. Every frame is a Message envelope carrying a
// typed payload in Data.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the payload carried by a Message.
type MessageType string

const (
	// Client to server
	TypeConnect = MessageType("connect")
	TypeAction  = MessageType("action")
	TypeLeave   = MessageType("leave")

	// Server to client
	TypeWelcome            = MessageType("welcome")
	TypeReconnected        = MessageType("reconnected")
	TypeTableState         = MessageType("table_state")
	TypeActionApplied      = MessageType("action_applied")
	TypeActionRejected     = MessageType("action_rejected")
	TypeStreetChange       = MessageType("street_change")
	TypeHandStart          = MessageType("hand_start")
	TypeHandResult         = MessageType("hand_result")
	TypePlayerDisconnected = MessageType("player_disconnected")
	TypePlayerReconnected  = MessageType("player_reconnected")
	TypeError              = MessageType("error")
)

func (mt MessageType) String() string {
	return string(mt)
}

// Message is the envelope for every frame on the wire.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps a payload in an envelope stamped with now.
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// MustMessage is NewMessage for payload types that cannot fail to
// marshal; it panics otherwise.
func MustMessage(messageType MessageType, data any) *Message {
	msg, err := NewMessage(messageType, data)
	if err != nil {
		panic("protocol: marshal " + string(messageType) + ": " + err.Error())
	}
	return msg
}

// Unmarshal decodes the envelope's payload into v.
func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Client -> Server

// ConnectData opens a session. Either Name is set for a fresh connect, or
// ReconnectToken resumes a previous session.
type ConnectData struct {
	Name           string `json:"name,omitempty"`
	ReconnectToken string `json:"reconnectToken,omitempty"`
	TableID        string `json:"tableId"`
	Seat           int    `json:"seat"`
}

// ActionData is an inbound betting action. Amount is the player's total
// bet for the round after the action.
type ActionData struct {
	Seat   int    `json:"seat"`
	Action string `json:"action"`
	Amount int    `json:"amount,omitempty"`
}

// Server -> Client

// WelcomeData acknowledges a fresh connection. ReconnectToken lets the
// client resume this session after a network drop.
type WelcomeData struct {
	PlayerID       string `json:"playerId"`
	TableID        string `json:"tableId"`
	Seat           int    `json:"seat"`
	ReconnectToken string `json:"reconnectToken"`
}

// ReconnectedData acknowledges a resumed session. Missed holds every
// message queued while the player was away, in original order, and
// ReconnectToken is the replacement token for the next drop.
type ReconnectedData struct {
	PlayerID       string     `json:"playerId"`
	TableID        string     `json:"tableId"`
	ReconnectToken string     `json:"reconnectToken"`
	Missed         []*Message `json:"missed,omitempty"`
}

// SeatState is the per-player slice of a table snapshot. HoleCards is only
// populated on the snapshot sent to that seat's owner.
type SeatState struct {
	Seat         int      `json:"seat"`
	PlayerID     string   `json:"playerId,omitempty"`
	Stack        int      `json:"stack"`
	BetThisRound int      `json:"betThisRound"`
	TotalBet     int      `json:"totalBet"`
	Folded       bool     `json:"folded"`
	AllIn        bool     `json:"allIn"`
	HoleCards    []string `json:"holeCards,omitempty"`
}

// AllowedAction mirrors one legal action for the acting seat.
type AllowedAction struct {
	Action string `json:"action"`
	Min    int    `json:"min,omitempty"`
	Max    int    `json:"max,omitempty"`
}

// TableStateData is a redacted snapshot of the authoritative table state.
type TableStateData struct {
	TableID     string          `json:"tableId"`
	HandID      string          `json:"handId"`
	Phase       string          `json:"phase"`
	Pot         int             `json:"pot"`
	CurrentBet  int             `json:"currentBet"`
	MinRaise    int             `json:"minRaise"`
	CurrentSeat int             `json:"currentSeat"`
	Seats       []SeatState     `json:"seats"`
	Allowed     []AllowedAction `json:"allowed,omitempty"` // only when it is the recipient's turn
}

// ActionAppliedData is broadcast after every accepted action.
type ActionAppliedData struct {
	TableID string `json:"tableId"`
	HandID  string `json:"handId"`
	Seat    int    `json:"seat"`
	Action  string `json:"action"`
	Amount  int    `json:"amount"`
	Pot     int    `json:"pot"`
	Phase   string `json:"phase"`
}

// ActionRejectedData is sent only to the offending client. Allowed
// restates what the client may legally do so it can recover.
type ActionRejectedData struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Action  string          `json:"action"`
	Allowed []AllowedAction `json:"allowed,omitempty"`
}

// StreetChangeData announces a phase advance.
type StreetChangeData struct {
	TableID string `json:"tableId"`
	HandID  string `json:"handId"`
	Phase   string `json:"phase"`
	Pot     int    `json:"pot"`
}

// HandStartData announces a new hand.
type HandStartData struct {
	TableID    string `json:"tableId"`
	HandID     string `json:"handId"`
	Button     int    `json:"button"`
	SmallBlind int    `json:"smallBlind"`
	BigBlind   int    `json:"bigBlind"`
}

// PotResult is one side pot and its payout targets.
type PotResult struct {
	Amount   int   `json:"amount"`
	Eligible []int `json:"eligible"`
	Winners  []int `json:"winners"`
}

// HandResultData closes out a hand.
type HandResultData struct {
	TableID string      `json:"tableId"`
	HandID  string      `json:"handId"`
	Pots    []PotResult `json:"pots"`
	Stacks  map[int]int `json:"stacks"`
}

// PresenceData reports a player dropping or resuming, broadcast to the
// rest of the table as a notice rather than an error.
type PresenceData struct {
	TableID  string `json:"tableId"`
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
}

// ErrorData is the generic failure payload.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
