package domain

import "time"

// ActivityAction captures what a timeline entry records.
type ActivityAction string

const (
	ActionTicketCreated ActivityAction = "TICKET_CREATED"
	ActionStatusChanged ActivityAction = "STATUS_CHANGED"
	ActionEscalated     ActivityAction = "ESCALATED"
	ActionReopened      ActivityAction = "REOPENED"
	ActionForwarded     ActivityAction = "FORWARDED"
	ActionTATSet        ActivityAction = "TAT_SET"
	ActionTATExtended   ActivityAction = "TAT_EXTENDED"
)

// ActivityVisibility controls who may read an entry.
type ActivityVisibility string

const (
	VisibilityPublic         ActivityVisibility = "PUBLIC"
	VisibilityStudentVisible ActivityVisibility = "STUDENT_VISIBLE"
	VisibilityAdminOnly      ActivityVisibility = "ADMIN_ONLY"
)

// ActivityEntry is an immutable audit trail entry. Entries for a
// ticket, ordered by creation time, are the authoritative timeline.
type ActivityEntry struct {
	ID       string
	TicketID string
	// ActorID is nil for system-initiated entries (escalation sweeps).
	ActorID    *string
	Action     ActivityAction
	Details    map[string]any
	Visibility ActivityVisibility
	CreatedAt  time.Time
}
