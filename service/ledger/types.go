// Package ledger talks to the remote comchain ledger: raw per-account
// history reads, status and key reads, and signed submissions.
package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/brojonat/comchain/service/amount"
)

// SystemAddress is the privileged system account. It has no administrative
// label and is never sent to the label lookup.
const SystemAddress = "0000000000000000000000000000000000000000"

// AccountRef identifies one currency sub-account of a wallet.
type AccountRef struct {
	Address string `json:"address"`
	Type    string `json:"type"` // currency leg, e.g. "Nant" or "Cm"
}

// Movement is a raw history row as returned by the ledger.
// Amounts are integer minor units.
type Movement struct {
	Hash      string      `json:"hash"`
	AddrFrom  string      `json:"addr_from"`
	AddrTo    string      `json:"addr_to"`
	Sent      json.Number `json:"sent"`
	Received  json.Number `json:"recieved"`
	Time      int64       `json:"time"`
	Direction string      `json:"direction"`
	MemoFrom  string      `json:"memo_from,omitempty"`
	MemoTo    string      `json:"memo_to,omitempty"`
}

// SentCents returns the sent quantity in cents. An empty field is zero.
func (m Movement) SentCents() (*big.Int, error) {
	return parseCents(m.Sent)
}

// ReceivedCents returns the received quantity in cents. An empty field is zero.
func (m Movement) ReceivedCents() (*big.Int, error) {
	return parseCents(m.Received)
}

// Date converts the epoch-seconds time field.
func (m Movement) Date() time.Time {
	return time.Unix(m.Time, 0).UTC()
}

func parseCents(n json.Number) (*big.Int, error) {
	if n == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", n)
	}
	return v, nil
}

// Leg tells which side of a movement a record represents.
type Leg string

const (
	LegReceived Leg = "received"
	LegSent     Leg = "sent"
)

// Record is one signed leg of a movement from the perspective of Account.
type Record struct {
	ID                  string
	Account             string
	Leg                 Leg
	Date                time.Time
	Amount              *big.Int // positive received, negative sent
	Currency            string
	CounterpartyAddress string
	CounterpartyDisplay string
	Description         string
	Direction           string
}

type recordJSON struct {
	ID                  string    `json:"id"`
	Account             string    `json:"account"`
	Leg                 Leg       `json:"leg"`
	Date                time.Time `json:"date"`
	Amount              string    `json:"amount"`
	Currency            string    `json:"currency"`
	CounterpartyAddress string    `json:"counterparty_address"`
	CounterpartyDisplay string    `json:"counterparty_display,omitempty"`
	Description         string    `json:"description"`
	Direction           string    `json:"direction,omitempty"`
}

// MarshalJSON encodes the amount as a two-decimal string.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:                  r.ID,
		Account:             r.Account,
		Leg:                 r.Leg,
		Date:                r.Date,
		Amount:              amount.Encode(r.Amount),
		Currency:            r.Currency,
		CounterpartyAddress: r.CounterpartyAddress,
		CounterpartyDisplay: r.CounterpartyDisplay,
		Description:         r.Description,
		Direction:           r.Direction,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cents, err := amount.Decode(raw.Amount)
	if err != nil {
		return fmt.Errorf("failed to decode record amount: %w", err)
	}
	*r = Record{
		ID:                  raw.ID,
		Account:             raw.Account,
		Leg:                 raw.Leg,
		Date:                raw.Date,
		Amount:              cents,
		Currency:            raw.Currency,
		CounterpartyAddress: raw.CounterpartyAddress,
		CounterpartyDisplay: raw.CounterpartyDisplay,
		Description:         raw.Description,
		Direction:           raw.Direction,
	}
	return nil
}

// MessageKey is the key pair used to cipher memos for an address.
// Only the public half is ever returned by the ledger.
type MessageKey struct {
	Public  string `json:"public_message_key"`
	Private string `json:"private_message_key,omitempty"`
}

// NormalizeAddress lowercases an address and strips any 0x prefix.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	return strings.TrimPrefix(addr, "0x")
}

// HexAddress returns the 0x-prefixed form the ledger expects.
func HexAddress(addr string) string {
	return "0x" + NormalizeAddress(addr)
}
