package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// Extension bounds are fixed business policy, not configuration.
const (
	minExtendHours = 1
	maxExtendHours = 168
)

// TATService derives and extends SLA deadlines. Deadlines are absolute
// timestamps; once set they never drift relative to "now".
type TATService struct {
	store  repository.Store
	clock  clockwork.Clock
	cfg    config.SLAConfig
	logger *zap.Logger
}

// NewTATService constructs the service.
func NewTATService(store repository.Store, clock clockwork.Clock, cfg config.SLAConfig, logger *zap.Logger) *TATService {
	return &TATService{store: store, clock: clock, cfg: cfg, logger: logger}
}

// ExtendResult reports the extension outcome. Warning flags a count
// over the soft cap; the extension itself still applied.
type ExtendResult struct {
	Ticket        *domain.Ticket
	TATExtensions int
	Warning       bool
}

// ParseTATSpec accepts a whole number of hours ("48"), a Go duration
// ("36h30m"), or an absolute RFC3339 timestamp.
func ParseTATSpec(spec string, now time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, apperrors.NewValidationError("tat specification required", nil)
	}
	if hours, err := strconv.Atoi(spec); err == nil {
		if hours <= 0 {
			return time.Time{}, apperrors.NewValidationError("tat hours must be positive", map[string]any{"tat": spec})
		}
		return now.Add(time.Duration(hours) * time.Hour), nil
	}
	if dur, err := time.ParseDuration(spec); err == nil {
		if dur <= 0 {
			return time.Time{}, apperrors.NewValidationError("tat duration must be positive", map[string]any{"tat": spec})
		}
		return now.Add(dur), nil
	}
	if at, err := time.Parse(time.RFC3339, spec); err == nil {
		return at, nil
	}
	return time.Time{}, apperrors.NewValidationError("tat must be hours, duration or RFC3339 timestamp", map[string]any{"tat": spec})
}

// SetTAT overwrites resolution_due_at unconditionally and optionally
// moves the ticket to in_progress in the same transaction.
func (s *TATService) SetTAT(ctx context.Context, ticketID string, actor domain.Actor, tatSpec string, markInProgress bool) (*domain.Ticket, error) {
	if !actor.Role.Elevated() {
		return nil, apperrors.NewForbidden("setting TAT requires staff privilege")
	}
	now := s.clock.Now()
	due, err := ParseTATSpec(tatSpec, now)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	err = s.store.WithinTx(ctx, func(repos repository.RepoSet) error {
		var err error
		ticket, err = lockTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if !ticket.Active() {
			return apperrors.NewConflict("ticket is not active", map[string]any{"status": ticket.Status})
		}

		oldStatus := ticket.Status
		statusChanged := false
		if markInProgress && ticket.Status != domain.TicketStatusInProgress {
			if !isValidTransition(ticket.Status, domain.TicketStatusInProgress) {
				return apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusInProgress))
			}
			applyStatus(ticket, domain.TicketStatusInProgress, now)
			statusChanged = true
		}

		ticket.ResolutionDueAt = &due
		// keep the deadline ordering invariant intact
		if ticket.AcknowledgementDueAt != nil && ticket.AcknowledgementDueAt.After(due) {
			ticket.AcknowledgementDueAt = &due
		}

		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		entry := &domain.ActivityEntry{
			TicketID: ticket.ID,
			ActorID:  &actor.ID,
			Action:   domain.ActionTATSet,
			Details: map[string]any{
				"resolution_due_at": due,
				"tat":               tatSpec,
				"mark_in_progress":  markInProgress,
			},
			Visibility: domain.VisibilityStudentVisible,
		}
		if err := repos.Activity.Create(ctx, entry); err != nil {
			return apperrors.MapError(err)
		}
		event, err := newTicketEvent(domain.EventTATSet, ticket.ID, "", tatSetPayload{
			ActorID:         actor.ID,
			ResolutionDueAt: due,
			MarkInProgress:  markInProgress,
		})
		if err != nil {
			return apperrors.MapError(err)
		}
		if err := repos.Outbox.Enqueue(ctx, event); err != nil {
			return apperrors.MapError(err)
		}

		if statusChanged {
			statusEntry := &domain.ActivityEntry{
				TicketID: ticket.ID,
				ActorID:  &actor.ID,
				Action:   domain.ActionStatusChanged,
				Details: map[string]any{
					"old_status": oldStatus,
					"new_status": domain.TicketStatusInProgress,
					"comment":    "tat set",
				},
				Visibility: domain.VisibilityPublic,
			}
			if err := repos.Activity.Create(ctx, statusEntry); err != nil {
				return apperrors.MapError(err)
			}
			statusEvent, err := newTicketEvent(domain.EventStatusChanged, ticket.ID, "", statusChangedPayload{
				OldStatus: oldStatus,
				NewStatus: domain.TicketStatusInProgress,
				ActorID:   actor.ID,
			})
			if err != nil {
				return apperrors.MapError(err)
			}
			if err := repos.Outbox.Enqueue(ctx, statusEvent); err != nil {
				return apperrors.MapError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ExtendTAT adds hours to the current resolution deadline, or to "now"
// when the deadline already passed. Never decreases the deadline.
func (s *TATService) ExtendTAT(ctx context.Context, ticketID string, actor domain.Actor, hours int, reason string) (*ExtendResult, error) {
	if !actor.Role.Elevated() {
		return nil, apperrors.NewForbidden("extending TAT requires staff privilege")
	}
	if hours < minExtendHours || hours > maxExtendHours {
		return nil, apperrors.NewValidationError("hours out of range", map[string]any{
			"hours": hours, "min": minExtendHours, "max": maxExtendHours,
		})
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("reason required", nil)
	}

	var result ExtendResult
	err := s.store.WithinTx(ctx, func(repos repository.RepoSet) error {
		ticket, err := lockTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if !ticket.Active() {
			return apperrors.NewConflict("ticket is not active", map[string]any{"status": ticket.Status})
		}

		now := s.clock.Now()
		base := now
		if ticket.ResolutionDueAt != nil && ticket.ResolutionDueAt.After(now) {
			base = *ticket.ResolutionDueAt
		}
		due := base.Add(time.Duration(hours) * time.Hour)

		ticket.ResolutionDueAt = &due
		ticket.TATExtensions++

		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		entry := &domain.ActivityEntry{
			TicketID: ticket.ID,
			ActorID:  &actor.ID,
			Action:   domain.ActionTATExtended,
			Details: map[string]any{
				"hours":             hours,
				"reason":            reason,
				"resolution_due_at": due,
				"tat_extensions":    ticket.TATExtensions,
			},
			Visibility: domain.VisibilityStudentVisible,
		}
		if err := repos.Activity.Create(ctx, entry); err != nil {
			return apperrors.MapError(err)
		}
		event, err := newTicketEvent(domain.EventTATExtended, ticket.ID, "", tatExtendedPayload{
			ActorID:         actor.ID,
			Hours:           hours,
			Reason:          reason,
			ResolutionDueAt: due,
			TATExtensions:   ticket.TATExtensions,
		})
		if err != nil {
			return apperrors.MapError(err)
		}
		if err := repos.Outbox.Enqueue(ctx, event); err != nil {
			return apperrors.MapError(err)
		}

		result = ExtendResult{
			Ticket:        ticket,
			TATExtensions: ticket.TATExtensions,
			Warning:       ticket.TATExtensions > s.cfg.MaxTATExtensions,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Warning {
		s.logger.Warn("tat extensions over soft cap",
			zap.String("ticket_id", ticketID),
			zap.Int("tat_extensions", result.TATExtensions))
	}
	return &result, nil
}
