package table

import (
	"time"

	"github.com/clubroyale/tablecore/internal/engine"
)

// EventType identifies an orchestrator event.
type EventType string

const (
	EventActionApplied EventType = "action_applied"
	EventHandCompleted EventType = "hand_completed"
)

// Event is anything the orchestrator publishes to listeners.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
}

// ActionAppliedEvent is published for every accepted betting action.
type ActionAppliedEvent struct {
	TableID string
	HandID  string
	Seat    int
	Action  engine.Action
	Pot     int
	Phase   engine.Phase
	At      time.Time
}

func (e ActionAppliedEvent) EventType() EventType  { return EventActionApplied }
func (e ActionAppliedEvent) OccurredAt() time.Time { return e.At }

// PlayerResult is one seat's line in a completed hand.
type PlayerResult struct {
	Seat        int      `json:"seat"`
	PlayerID    string   `json:"playerId"`
	HoleCards   []string `json:"holeCards,omitempty"`
	Folded      bool     `json:"folded"`
	Contributed int      `json:"contributed"`
	StackAfter  int      `json:"stackAfter"`
}

// PotAward is one pot's resolution: who could win it and who did.
type PotAward struct {
	Amount   int   `json:"amount"`
	Eligible []int `json:"eligible"`
	Winners  []int `json:"winners"`
}

// HandCompletedEvent is published once per hand, after payouts.
type HandCompletedEvent struct {
	TableID string
	HandID  string
	Button  int
	Players []PlayerResult
	Pots    []PotAward
	At      time.Time
}

func (e HandCompletedEvent) EventType() EventType  { return EventHandCompleted }
func (e HandCompletedEvent) OccurredAt() time.Time { return e.At }

// Listener consumes orchestrator events. Calls arrive in publication
// order from a dispatch goroutine; a slow listener delays other
// listeners but never the table itself.
type Listener interface {
	OnActionApplied(ActionAppliedEvent)
	OnHandCompleted(HandCompletedEvent)
}
