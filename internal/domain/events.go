package domain

import "time"

// EventType names a lifecycle transition published on the event bus.
type EventType string

const (
	EventCommitmentCreated   EventType = "commitment_created"
	EventCommitmentCancelled EventType = "commitment_cancelled"
	EventOptionTaken         EventType = "option_taken"
	EventSimpleSwap          EventType = "simple_swap"
	EventOptionExercised     EventType = "option_exercised"
	EventOptionExpired       EventType = "option_expired"
	EventOptionLiquidated    EventType = "option_liquidated"
)

// Event is the wire payload published for every state transition. Big
// integers travel as decimal strings to survive JSON.
type Event struct {
	Type           EventType `json:"type"`
	CommitmentHash string    `json:"commitment_hash,omitempty"`
	OptionID       uint64    `json:"option_id,omitempty"`
	Taker          string    `json:"taker,omitempty"`
	LP             string    `json:"lp,omitempty"`
	Asset          string    `json:"asset,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	StrikePrice    string    `json:"strike_price,omitempty"`
	Premium        string    `json:"premium,omitempty"`
	Payout         string    `json:"payout,omitempty"`
	At             time.Time `json:"at"`
}

// Channel returns the pub/sub channel for this event type.
func (e Event) Channel() string {
	switch e.Type {
	case EventCommitmentCreated, EventCommitmentCancelled:
		return "ch:commitments"
	default:
		return "ch:options"
	}
}
