package service

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// Outbox payload shapes. These are the wire contract with notification
// consumers, so fields only get added, never renamed.

type ticketCreatedPayload struct {
	CreatedBy       string     `json:"created_by"`
	Subject         string     `json:"subject"`
	CategoryID      *string    `json:"category_id,omitempty"`
	ResolutionDueAt *time.Time `json:"resolution_due_at,omitempty"`
}

type statusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	ActorID   string              `json:"actor_id"`
	Comment   string              `json:"comment,omitempty"`
}

type reopenedPayload struct {
	ActorID     string `json:"actor_id"`
	Reason      string `json:"reason"`
	ReopenCount int    `json:"reopen_count"`
}

type forwardedPayload struct {
	ActorID      string  `json:"actor_id"`
	FromActorID  *string `json:"from_actor_id,omitempty"`
	ToActorID    string  `json:"to_actor_id"`
	Reason       string  `json:"reason,omitempty"`
	ForwardCount int     `json:"forward_count"`
}

type tatSetPayload struct {
	ActorID         string    `json:"actor_id"`
	ResolutionDueAt time.Time `json:"resolution_due_at"`
	MarkInProgress  bool      `json:"mark_in_progress"`
}

type tatExtendedPayload struct {
	ActorID         string    `json:"actor_id"`
	Hours           int       `json:"hours"`
	Reason          string    `json:"reason"`
	ResolutionDueAt time.Time `json:"resolution_due_at"`
	TATExtensions   int       `json:"tat_extensions"`
}

type escalatedPayload struct {
	Level      int    `json:"level"`
	Reason     string `json:"reason"`
	EscalateTo string `json:"escalate_to"`
}

const defaultNotifyChannel = "webhook"

func newTicketEvent(eventType domain.OutboxEventType, ticketID, channel string, payload any) (*domain.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channel = defaultNotifyChannel
	}
	return &domain.OutboxEvent{
		EventType:     eventType,
		AggregateType: domain.AggregateTicket,
		AggregateID:   ticketID,
		Payload:       raw,
		Channel:       channel,
	}, nil
}
