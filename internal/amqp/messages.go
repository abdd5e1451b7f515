package amqp

import (
	"encoding/json"
	"time"
)

// Transaction event operations.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// TransactionEvent is the lightweight message published after a transaction
// write commits. It carries only identifiers; the mirror worker fetches the
// full row from the database.
type TransactionEvent struct {
	Op            string    `json:"op"`
	TransactionID int64     `json:"transaction_id"`
	UserID        int64     `json:"user_id"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionEvent(op string, transactionID, userID int64, year, month int) *TransactionEvent {
	return &TransactionEvent{
		Op:            op,
		TransactionID: transactionID,
		UserID:        userID,
		Year:          year,
		Month:         month,
		Timestamp:     time.Now(),
	}
}

func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var e TransactionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
