package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus tracks delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// OutboxEventType enumerates notification events the engine emits.
type OutboxEventType string

const (
	EventTicketCreated   OutboxEventType = "ticket.created"
	EventStatusChanged   OutboxEventType = "ticket.status_changed"
	EventTicketReopened  OutboxEventType = "ticket.reopened"
	EventTicketForwarded OutboxEventType = "ticket.forwarded"
	EventTATSet          OutboxEventType = "ticket.tat_set"
	EventTATExtended     OutboxEventType = "ticket.tat_extended"
	EventTicketEscalated OutboxEventType = "ticket.escalated"
)

// OutboxEvent is written in the same transaction as the mutation that
// caused it and delivered asynchronously by the dispatcher. Failed rows
// are retained for manual inspection and replay, never purged.
type OutboxEvent struct {
	ID            string
	EventType     OutboxEventType
	AggregateType string
	AggregateID   string
	Payload       json.RawMessage
	Channel       string
	Status        OutboxStatus
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	// ClaimedAt marks when a dispatcher took the row. Claims older than
	// the run timeout are considered abandoned and get reclaimed.
	ClaimedAt *time.Time
	CreatedAt time.Time
}

// AggregateTicket is the aggregate_type for ticket-origin events.
const AggregateTicket = "ticket"
