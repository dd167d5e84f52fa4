package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "OPEN"
	TicketStatusAcknowledged    TicketStatus = "ACKNOWLEDGED"
	TicketStatusInProgress      TicketStatus = "IN_PROGRESS"
	TicketStatusAwaitingStudent TicketStatus = "AWAITING_STUDENT_RESPONSE"
	TicketStatusResolved        TicketStatus = "RESOLVED"
	TicketStatusClosed          TicketStatus = "CLOSED"
	TicketStatusReopened        TicketStatus = "REOPENED"
	TicketStatusCancelled       TicketStatus = "CANCELLED"
)

// Ticket is the aggregate for helpdesk issues. Tickets are never
// physically deleted; closure and cancellation are status changes.
type Ticket struct {
	ID          string
	ExternalKey string
	CreatedBy   string
	AssignedTo  *string

	// Escalation-rule scope. Opaque to the engine beyond rule lookup;
	// category schema administration lives outside this service.
	DomainID      *string
	CategoryID    *string
	SubcategoryID *string

	Subject     string
	Description string
	Status      TicketStatus

	EscalationLevel int
	ForwardCount    int
	ReopenCount     int
	TATExtensions   int

	AcknowledgementDueAt *time.Time
	ResolutionDueAt      *time.Time
	ResolvedAt           *time.Time
	ClosedAt             *time.Time
	ReopenedAt           *time.Time
	EscalatedAt          *time.Time

	// Metadata is category-specific and passed through untouched.
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scope returns the rule-resolution scope of the ticket.
func (t *Ticket) Scope() RuleScope {
	return RuleScope{
		DomainID:      t.DomainID,
		CategoryID:    t.CategoryID,
		SubcategoryID: t.SubcategoryID,
	}
}

// Active reports whether the ticket still counts against SLA deadlines.
func (t *Ticket) Active() bool {
	return t.ResolvedAt == nil && t.ClosedAt == nil &&
		t.Status != TicketStatusCancelled
}
