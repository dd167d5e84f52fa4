package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// LifecycleService owns the ticket status state machine. Every mutation
// commits the ticket row, its activity entry and its outbox event in
// one transaction.
type LifecycleService struct {
	store  repository.Store
	clock  clockwork.Clock
	cfg    config.SLAConfig
	logger *zap.Logger
}

// NewLifecycleService constructs the service.
func NewLifecycleService(store repository.Store, clock clockwork.Clock, cfg config.SLAConfig, logger *zap.Logger) *LifecycleService {
	return &LifecycleService{store: store, clock: clock, cfg: cfg, logger: logger}
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:            {domain.TicketStatusAcknowledged, domain.TicketStatusInProgress, domain.TicketStatusCancelled},
	domain.TicketStatusAcknowledged:    {domain.TicketStatusInProgress, domain.TicketStatusAwaitingStudent, domain.TicketStatusCancelled},
	domain.TicketStatusInProgress:      {domain.TicketStatusAwaitingStudent, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusAwaitingStudent: {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusResolved:        {domain.TicketStatusClosed, domain.TicketStatusReopened, domain.TicketStatusCancelled},
	domain.TicketStatusReopened:        {domain.TicketStatusInProgress, domain.TicketStatusAwaitingStudent, domain.TicketStatusCancelled},
	domain.TicketStatusClosed:          {domain.TicketStatusReopened},
	domain.TicketStatusCancelled:       {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// requesterCanTransition gates the moves an ordinary requester may make
// on their own ticket through UpdateStatus: replying to a waiting ticket
// and cancelling one that was never picked up. Reopening resolved/closed
// tickets goes through ReopenTicket instead.
func requesterCanTransition(current, next domain.TicketStatus) bool {
	if current == domain.TicketStatusAwaitingStudent && next == domain.TicketStatusInProgress {
		return true
	}
	return current == domain.TicketStatusOpen && next == domain.TicketStatusCancelled
}

// CreateTicketInput describes ticket creation. SLA hours come from the
// category configuration collaborator; zero means engine defaults.
type CreateTicketInput struct {
	Subject         string
	Description     string
	DomainID        *string
	CategoryID      *string
	SubcategoryID   *string
	AckHours        int
	ResolutionHours int
	Metadata        map[string]any
}

// ReopenResult reports the reopen outcome. Warning is set when the
// reopen count passed its soft cap; the reopen itself still succeeded.
type ReopenResult struct {
	Ticket      *domain.Ticket
	ReopenCount int
	Warning     bool
}

// ForwardResult reports the forward outcome.
type ForwardResult struct {
	Ticket       *domain.Ticket
	ForwardCount int
	Warning      bool
}

// CreateTicket opens a ticket with SLA deadlines derived from category
// configuration.
func (s *LifecycleService) CreateTicket(ctx context.Context, actor domain.Actor, input CreateTicketInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, apperrors.NewValidationError("subject required", nil)
	}

	ackHours := input.AckHours
	if ackHours <= 0 {
		ackHours = s.cfg.DefaultAckHours
	}
	resolutionHours := input.ResolutionHours
	if resolutionHours <= 0 {
		resolutionHours = s.cfg.DefaultResolutionHours
	}

	now := s.clock.Now()
	ackDue := now.Add(time.Duration(ackHours) * time.Hour)
	resolutionDue := now.Add(time.Duration(resolutionHours) * time.Hour)
	if ackDue.After(resolutionDue) {
		ackDue = resolutionDue
	}

	ticket := &domain.Ticket{
		ExternalKey:          generateTicketKey(),
		CreatedBy:            actor.ID,
		DomainID:             input.DomainID,
		CategoryID:           input.CategoryID,
		SubcategoryID:        input.SubcategoryID,
		Subject:              subject,
		Description:          strings.TrimSpace(input.Description),
		Status:               domain.TicketStatusOpen,
		AcknowledgementDueAt: &ackDue,
		ResolutionDueAt:      &resolutionDue,
		Metadata:             input.Metadata,
	}
	if ticket.Metadata == nil {
		ticket.Metadata = map[string]any{}
	}

	err := s.store.WithinTx(ctx, func(repos repository.RepoSet) error {
		if err := repos.Tickets.Create(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		entry := &domain.ActivityEntry{
			TicketID: ticket.ID,
			ActorID:  &actor.ID,
			Action:   domain.ActionTicketCreated,
			Details: map[string]any{
				"subject":           ticket.Subject,
				"resolution_due_at": resolutionDue,
			},
			Visibility: domain.VisibilityPublic,
		}
		if err := repos.Activity.Create(ctx, entry); err != nil {
			return apperrors.MapError(err)
		}
		event, err := newTicketEvent(domain.EventTicketCreated, ticket.ID, "", ticketCreatedPayload{
			CreatedBy:       ticket.CreatedBy,
			Subject:         ticket.Subject,
			CategoryID:      ticket.CategoryID,
			ResolutionDueAt: ticket.ResolutionDueAt,
		})
		if err != nil {
			return apperrors.MapError(err)
		}
		return apperrors.MapError(repos.Outbox.Enqueue(ctx, event))
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// GetTicket fetches a ticket enforcing requester ownership.
func (s *LifecycleService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.store.Repos().Tickets.GetByID(ctx, ticketID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if !actor.Role.Elevated() && ticket.CreatedBy != actor.ID {
		return nil, apperrors.NewForbidden("not your ticket")
	}
	return ticket, nil
}

// ListActivity returns the ticket timeline, hiding admin-only entries
// from requesters.
func (s *LifecycleService) ListActivity(ctx context.Context, actor domain.Actor, ticketID string, limit, offset int) ([]domain.ActivityEntry, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	return s.store.Repos().Activity.ListByTicket(ctx, ticketID, actor.Role.Elevated(), limit, offset)
}

// UpdateStatus moves the ticket through the state machine.
func (s *LifecycleService) UpdateStatus(ctx context.Context, ticketID string, newStatus domain.TicketStatus, actor domain.Actor, comment string) (*domain.Ticket, error) {
	if _, ok := allowedTransitions[newStatus]; !ok {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": newStatus})
	}

	var ticket *domain.Ticket
	err := s.store.WithinTx(ctx, func(repos repository.RepoSet) error {
		var err error
		ticket, err = lockTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if !isValidTransition(ticket.Status, newStatus) {
			return apperrors.NewInvalidTransition(string(ticket.Status), string(newStatus))
		}
		if !actor.Role.Elevated() {
			if ticket.CreatedBy != actor.ID {
				return apperrors.NewForbidden("not your ticket")
			}
			if !requesterCanTransition(ticket.Status, newStatus) {
				return apperrors.NewForbidden("transition requires staff privilege")
			}
		}
		if newStatus == domain.TicketStatusReopened {
			// reopen carries counter and deadline bookkeeping
			return apperrors.NewForbidden("use the reopen operation")
		}

		oldStatus := ticket.Status
		now := s.clock.Now()
		applyStatus(ticket, newStatus, now)

		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		entry := &domain.ActivityEntry{
			TicketID: ticket.ID,
			ActorID:  &actor.ID,
			Action:   domain.ActionStatusChanged,
			Details: map[string]any{
				"old_status": oldStatus,
				"new_status": newStatus,
				"comment":    comment,
			},
			Visibility: domain.VisibilityPublic,
		}
		if err := repos.Activity.Create(ctx, entry); err != nil {
			return apperrors.MapError(err)
		}
		event, err := newTicketEvent(domain.EventStatusChanged, ticket.ID, "", statusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: newStatus,
			ActorID:   actor.ID,
			Comment:   comment,
		})
		if err != nil {
			return apperrors.MapError(err)
		}
		return apperrors.MapError(repos.Outbox.Enqueue(ctx, event))
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ReopenTicket is the only requester-initiated exit from resolved or
// closed. Escalation state resets: the reopened issue gets fresh SLA
// tracking instead of inheriting breach history.
func (s *LifecycleService) ReopenTicket(ctx context.Context, ticketID string, actor domain.Actor, reason string) (*ReopenResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("reason required", nil)
	}

	var result ReopenResult
	err := s.store.WithinTx(ctx, func(repos repository.RepoSet) error {
		ticket, err := lockTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status != domain.TicketStatusResolved && ticket.Status != domain.TicketStatusClosed {
			return apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusReopened))
		}
		if !actor.Role.Elevated() && ticket.CreatedBy != actor.ID {
			return apperrors.NewForbidden("not your ticket")
		}

		oldStatus := ticket.Status
		now := s.clock.Now()
		resolutionDue := now.Add(time.Duration(s.cfg.DefaultResolutionHours) * time.Hour)

		ticket.Status = domain.TicketStatusReopened
		ticket.ReopenCount++
		ticket.ReopenedAt = &now
		ticket.ResolvedAt = nil
		ticket.ClosedAt = nil
		ticket.EscalationLevel = 0
		ticket.EscalatedAt = nil
		ticket.AcknowledgementDueAt = nil
		ticket.ResolutionDueAt = &resolutionDue

		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		entry := &domain.ActivityEntry{
			TicketID: ticket.ID,
			ActorID:  &actor.ID,
			Action:   domain.ActionReopened,
			Details: map[string]any{
				"old_status":   oldStatus,
				"reason":       reason,
				"reopen_count": ticket.ReopenCount,
			},
			Visibility: domain.VisibilityPublic,
		}
		if err := repos.Activity.Create(ctx, entry); err != nil {
			return apperrors.MapError(err)
		}
		event, err := newTicketEvent(domain.EventTicketReopened, ticket.ID, "", reopenedPayload{
			ActorID:     actor.ID,
			Reason:      reason,
			ReopenCount: ticket.ReopenCount,
		})
		if err != nil {
			return apperrors.MapError(err)
		}
		if err := repos.Outbox.Enqueue(ctx, event); err != nil {
			return apperrors.MapError(err)
		}

		result = ReopenResult{
			Ticket:      ticket,
			ReopenCount: ticket.ReopenCount,
			Warning:     ticket.ReopenCount > s.cfg.MaxReopens,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Warning {
		s.logger.Warn("reopen count over soft cap",
			zap.String("ticket_id", ticketID),
			zap.Int("reopen_count", result.ReopenCount))
	}
	return &result, nil
}

// ForwardTicket reassigns the ticket to another actor. Target identity
// is trusted; resolution belongs to the identity collaborator.
func (s *LifecycleService) ForwardTicket(ctx context.Context, ticketID, targetActorID string, actor domain.Actor, reason string) (*ForwardResult, error) {
	if !actor.Role.Elevated() {
		return nil, apperrors.NewForbidden("forwarding requires staff privilege")
	}
	if strings.TrimSpace(targetActorID) == "" {
		return nil, apperrors.NewValidationError("target actor required", nil)
	}

	var result ForwardResult
	err := s.store.WithinTx(ctx, func(repos repository.RepoSet) error {
		ticket, err := lockTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if !ticket.Active() {
			return apperrors.NewConflict("ticket is not active", map[string]any{"status": ticket.Status})
		}

		from := ticket.AssignedTo
		ticket.AssignedTo = &targetActorID
		ticket.ForwardCount++

		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		entry := &domain.ActivityEntry{
			TicketID: ticket.ID,
			ActorID:  &actor.ID,
			Action:   domain.ActionForwarded,
			Details: map[string]any{
				"from":          from,
				"to":            targetActorID,
				"reason":        reason,
				"forward_count": ticket.ForwardCount,
			},
			Visibility: domain.VisibilityAdminOnly,
		}
		if err := repos.Activity.Create(ctx, entry); err != nil {
			return apperrors.MapError(err)
		}
		event, err := newTicketEvent(domain.EventTicketForwarded, ticket.ID, "", forwardedPayload{
			ActorID:      actor.ID,
			FromActorID:  from,
			ToActorID:    targetActorID,
			Reason:       reason,
			ForwardCount: ticket.ForwardCount,
		})
		if err != nil {
			return apperrors.MapError(err)
		}
		if err := repos.Outbox.Enqueue(ctx, event); err != nil {
			return apperrors.MapError(err)
		}

		result = ForwardResult{
			Ticket:       ticket,
			ForwardCount: ticket.ForwardCount,
			Warning:      ticket.ForwardCount > s.cfg.MaxForwards,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func applyStatus(ticket *domain.Ticket, newStatus domain.TicketStatus, now time.Time) {
	ticket.Status = newStatus
	switch newStatus {
	case domain.TicketStatusResolved:
		ticket.ResolvedAt = &now
	case domain.TicketStatusClosed:
		ticket.ClosedAt = &now
	default:
		ticket.ResolvedAt = nil
		ticket.ClosedAt = nil
	}
}

func lockTicket(ctx context.Context, repos repository.RepoSet, ticketID string) (*domain.Ticket, error) {
	ticket, err := repos.Tickets.GetByIDForUpdate(ctx, ticketID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func generateTicketKey() string {
	return "HDK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
