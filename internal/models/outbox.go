package models

import "time"

// OutboxMessage is an event written in the same database transaction as the
// state change it describes, and relayed to the broker afterwards.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	AttemptCount  int
	CreatedAt     time.Time
}

type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
