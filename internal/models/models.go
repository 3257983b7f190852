package models

import "time"

type Role string

const (
	RoleResident  Role = "resident"
	RoleCollector Role = "collector"
)

type User struct {
	Username string
	Role     Role
}

type Transaction struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      int       `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// Ledger is the point balance of one resident. History is newest first.
type Ledger struct {
	Username string        `json:"username"`
	Points   int           `json:"points"`
	History  []Transaction `json:"history"`
	Version  int64         `json:"version"`
}

func (l Ledger) Clone() Ledger {
	out := l
	out.History = make([]Transaction, len(l.History))
	copy(out.History, l.History)
	return out
}
