package amqp

import (
	"encoding/json"
	"time"
)

// Ledger mutation operations carried on events.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// LedgerEvent is published after every successful ledger mutation.
// It carries identifiers only; consumers fetch current state from the
// store, so a stale event can never overwrite a newer write.
type LedgerEvent struct {
	Op            string `json:"op"`
	TransactionID int64  `json:"transaction_id"`
	OwnerID       int64  `json:"owner_id"`
	GoalID        *int64 `json:"goal_id,omitempty"`
	// PrevGoalID names the goal an updated row stopped referencing,
	// so consumers re-verify both sides of a reassignment.
	PrevGoalID *int64    `json:"prev_goal_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewLedgerEvent(op string, transactionID, ownerID int64, goalID *int64) *LedgerEvent {
	return &LedgerEvent{
		Op:            op,
		TransactionID: transactionID,
		OwnerID:       ownerID,
		GoalID:        goalID,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON creates an event from JSON bytes
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
