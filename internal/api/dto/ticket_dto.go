package dto

import (
	"time"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// CreateTicketRequest payload. SLA hours are injected by the upstream
// category configuration service; zero means engine defaults.
type CreateTicketRequest struct {
	Subject         string         `json:"subject" validate:"required,max=200"`
	Description     string         `json:"description" validate:"max=5000"`
	DomainID        *string        `json:"domain_id"`
	CategoryID      *string        `json:"category_id"`
	SubcategoryID   *string        `json:"subcategory_id"`
	AckHours        int            `json:"ack_hours" validate:"omitempty,min=1,max=720"`
	ResolutionHours int            `json:"resolution_hours" validate:"omitempty,min=1,max=2160"`
	Metadata        map[string]any `json:"metadata"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	Comment string `json:"comment" validate:"max=2000"`
}

// SetTATRequest payload. TAT is hours ("48"), a duration ("36h") or an
// RFC3339 timestamp.
type SetTATRequest struct {
	TAT            string `json:"tat" validate:"required"`
	MarkInProgress bool   `json:"mark_in_progress"`
}

// ExtendTATRequest payload.
type ExtendTATRequest struct {
	Hours  int    `json:"hours" validate:"required,min=1,max=168"`
	Reason string `json:"reason" validate:"required,max=2000"`
}

// ReopenRequest payload.
type ReopenRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// ForwardRequest payload.
type ForwardRequest struct {
	TargetActorID string `json:"target_actor_id" validate:"required"`
	Reason        string `json:"reason" validate:"max=2000"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID                   string              `json:"id"`
	ExternalKey          string              `json:"external_key"`
	CreatedBy            string              `json:"created_by"`
	AssignedTo           *string             `json:"assigned_to"`
	DomainID             *string             `json:"domain_id,omitempty"`
	CategoryID           *string             `json:"category_id,omitempty"`
	SubcategoryID        *string             `json:"subcategory_id,omitempty"`
	Subject              string              `json:"subject"`
	Description          string              `json:"description"`
	Status               domain.TicketStatus `json:"status"`
	EscalationLevel      int                 `json:"escalation_level"`
	ForwardCount         int                 `json:"forward_count"`
	ReopenCount          int                 `json:"reopen_count"`
	TATExtensions        int                 `json:"tat_extensions"`
	AcknowledgementDueAt *time.Time          `json:"acknowledgement_due_at"`
	ResolutionDueAt      *time.Time          `json:"resolution_due_at"`
	ResolvedAt           *time.Time          `json:"resolved_at"`
	ClosedAt             *time.Time          `json:"closed_at"`
	ReopenedAt           *time.Time          `json:"reopened_at"`
	EscalatedAt          *time.Time          `json:"escalated_at"`
	Metadata             map[string]any      `json:"metadata"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// ActivityResponse is one timeline entry.
type ActivityResponse struct {
	ID         string                    `json:"id"`
	ActorID    *string                   `json:"actor_id"`
	Action     domain.ActivityAction     `json:"action"`
	Details    map[string]any            `json:"details"`
	Visibility domain.ActivityVisibility `json:"visibility"`
	CreatedAt  time.Time                 `json:"created_at"`
}

// ExtendTATResponse reports an extension with its soft-cap warning.
type ExtendTATResponse struct {
	Ticket        TicketResponse `json:"ticket"`
	TATExtensions int            `json:"tat_extensions"`
	Warning       bool           `json:"warning"`
}

// ReopenResponse reports a reopen with its soft-cap warning.
type ReopenResponse struct {
	Ticket      TicketResponse `json:"ticket"`
	ReopenCount int            `json:"reopen_count"`
	Warning     bool           `json:"warning"`
}

// ForwardResponse reports a forward with its soft-cap warning.
type ForwardResponse struct {
	ForwardCount int  `json:"forward_count"`
	Warning      bool `json:"warning"`
}

// ScanResponse reports an escalation sweep.
type ScanResponse struct {
	AcknowledgementEscalated int `json:"acknowledgement_escalated"`
	ResolutionEscalated      int `json:"resolution_escalated"`
	Total                    int `json:"total"`
}

// FlushResponse reports an outbox flush.
type FlushResponse struct {
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
}

// FromTicket maps the domain aggregate.
func FromTicket(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                   t.ID,
		ExternalKey:          t.ExternalKey,
		CreatedBy:            t.CreatedBy,
		AssignedTo:           t.AssignedTo,
		DomainID:             t.DomainID,
		CategoryID:           t.CategoryID,
		SubcategoryID:        t.SubcategoryID,
		Subject:              t.Subject,
		Description:          t.Description,
		Status:               t.Status,
		EscalationLevel:      t.EscalationLevel,
		ForwardCount:         t.ForwardCount,
		ReopenCount:          t.ReopenCount,
		TATExtensions:        t.TATExtensions,
		AcknowledgementDueAt: t.AcknowledgementDueAt,
		ResolutionDueAt:      t.ResolutionDueAt,
		ResolvedAt:           t.ResolvedAt,
		ClosedAt:             t.ClosedAt,
		ReopenedAt:           t.ReopenedAt,
		EscalatedAt:          t.EscalatedAt,
		Metadata:             t.Metadata,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

// FromActivity maps one timeline entry.
func FromActivity(e *domain.ActivityEntry) ActivityResponse {
	return ActivityResponse{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Action:     e.Action,
		Details:    e.Details,
		Visibility: e.Visibility,
		CreatedAt:  e.CreatedAt,
	}
}
