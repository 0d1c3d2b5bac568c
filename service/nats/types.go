package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/comchain/service/amount"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/google/uuid"
)

// RecordEvent is published to "ledger.{account}" in JetStream whenever the
// sync workflow stores a new record.
type RecordEvent struct {
	EventID string `json:"event_id"`

	// Record identifiers
	ID      string     `json:"id"`
	Account string     `json:"account"`
	Leg     ledger.Leg `json:"leg"`

	// Record details
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	CounterpartyAddress string `json:"counterparty_address"`
	CounterpartyDisplay string `json:"counterparty_display,omitempty"`
	Description         string `json:"description,omitempty"`
	Direction           string `json:"direction,omitempty"`

	// Timing information
	Date        time.Time `json:"date"`
	PublishedAt time.Time `json:"published_at"`
}

// FromRecord converts a stored ledger record to a RecordEvent for publishing.
func FromRecord(r *ledger.Record) *RecordEvent {
	return &RecordEvent{
		EventID:             uuid.NewString(),
		ID:                  r.ID,
		Account:             ledger.NormalizeAddress(r.Account),
		Leg:                 r.Leg,
		Amount:              amount.Encode(r.Amount),
		Currency:            r.Currency,
		CounterpartyAddress: r.CounterpartyAddress,
		CounterpartyDisplay: r.CounterpartyDisplay,
		Description:         r.Description,
		Direction:           r.Direction,
		Date:                r.Date,
		PublishedAt:         time.Now().UTC(),
	}
}

// Subject returns the subject the event is published to.
func (e *RecordEvent) Subject() string {
	return SubjectFor(e.Account)
}

// SubjectFor returns the subject carrying the events of account.
func SubjectFor(account string) string {
	return fmt.Sprintf("ledger.%s", ledger.NormalizeAddress(account))
}

// MsgID is the JetStream deduplication id. A record re-published by an
// overlapping sync window carries the same id and is dropped by the server.
func (e *RecordEvent) MsgID() string {
	return fmt.Sprintf("%s-%s", e.ID, e.Leg)
}
