package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// Candidates picked up per pass per run. Anything left over is caught
// by the next scheduled run.
const scanBatchSize = 500

// EscalationService sweeps for SLA breaches. The scheduler invokes
// RunScan on a fixed interval; this service holds no timer of its own.
type EscalationService struct {
	store  repository.Store
	clock  clockwork.Clock
	cfg    config.EscalationConfig
	logger *zap.Logger
}

// NewEscalationService constructs the service.
func NewEscalationService(store repository.Store, clock clockwork.Clock, cfg config.EscalationConfig, logger *zap.Logger) *EscalationService {
	return &EscalationService{store: store, clock: clock, cfg: cfg, logger: logger}
}

// ScanResult reports per-pass escalation counts for observability.
type ScanResult struct {
	AcknowledgementEscalated int
	ResolutionEscalated      int
	Total                    int
}

// RunScan executes the acknowledgement and resolution breach passes.
// Each ticket is escalated through a conditional update, so a scan
// overlapping another run (or a concurrent manual status change) simply
// skips tickets it lost the race for.
func (s *EscalationService) RunScan(ctx context.Context) (ScanResult, error) {
	var result ScanResult
	now := s.clock.Now()
	repos := s.store.Repos()

	ackCandidates, err := repos.Tickets.ListAckBreached(ctx, now, scanBatchSize)
	if err != nil {
		return result, apperrors.MapError(err)
	}
	for i := range ackCandidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		escalated, err := s.escalateOne(ctx, &ackCandidates[i], ackPass)
		if err != nil {
			s.logger.Error("escalation failed",
				zap.String("ticket_id", ackCandidates[i].ID), zap.Error(err))
			continue
		}
		if escalated {
			result.AcknowledgementEscalated++
		}
	}

	resolutionCandidates, err := repos.Tickets.ListResolutionBreached(ctx, now, scanBatchSize)
	if err != nil {
		return result, apperrors.MapError(err)
	}
	for i := range resolutionCandidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		escalated, err := s.escalateOne(ctx, &resolutionCandidates[i], resolutionPass)
		if err != nil {
			s.logger.Error("escalation failed",
				zap.String("ticket_id", resolutionCandidates[i].ID), zap.Error(err))
			continue
		}
		if escalated {
			result.ResolutionEscalated++
		}
	}

	result.Total = result.AcknowledgementEscalated + result.ResolutionEscalated
	observability.Escalations().WithLabelValues("acknowledgement").Add(float64(result.AcknowledgementEscalated))
	observability.Escalations().WithLabelValues("resolution").Add(float64(result.ResolutionEscalated))
	if result.Total > 0 {
		s.logger.Info("escalation scan complete",
			zap.Int("acknowledgement", result.AcknowledgementEscalated),
			zap.Int("resolution", result.ResolutionEscalated))
	}
	return result, nil
}

type scanPass struct {
	reason string
	bump   func(ctx context.Context, r repository.TicketRepository, id string, now time.Time) (int, bool, error)
}

var (
	ackPass = scanPass{
		reason: "ack SLA breached",
		bump: func(ctx context.Context, r repository.TicketRepository, id string, now time.Time) (int, bool, error) {
			return r.EscalateForAckBreach(ctx, id, now)
		},
	}
	resolutionPass = scanPass{
		reason: "resolution SLA breached",
		bump: func(ctx context.Context, r repository.TicketRepository, id string, now time.Time) (int, bool, error) {
			return r.EscalateForResolutionBreach(ctx, id, now)
		},
	}
)

func (s *EscalationService) escalateOne(ctx context.Context, ticket *domain.Ticket, pass scanPass) (bool, error) {
	var escalated bool
	err := s.store.WithinTx(ctx, func(repos repository.RepoSet) error {
		level, ok, err := pass.bump(ctx, repos.Tickets, ticket.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			// another run already escalated this breach
			return nil
		}
		escalated = true

		target, channel := s.resolveTarget(ctx, repos, ticket.Scope(), level)

		entry := &domain.ActivityEntry{
			TicketID: ticket.ID,
			ActorID:  nil, // system-initiated
			Action:   domain.ActionEscalated,
			Details: map[string]any{
				"reason":      pass.reason,
				"level":       level,
				"escalate_to": target,
			},
			Visibility: domain.VisibilityAdminOnly,
		}
		if err := repos.Activity.Create(ctx, entry); err != nil {
			return err
		}
		event, err := newTicketEvent(domain.EventTicketEscalated, ticket.ID, channel, escalatedPayload{
			Level:      level,
			Reason:     pass.reason,
			EscalateTo: target,
		})
		if err != nil {
			return err
		}
		return repos.Outbox.Enqueue(ctx, event)
	})
	return escalated, err
}

// resolveTarget picks the most specific matching rule, falling back to
// the configured operations target when none exists.
func (s *EscalationService) resolveTarget(ctx context.Context, repos repository.RepoSet, scope domain.RuleScope, level int) (string, string) {
	rule, err := repos.Rules.Resolve(ctx, scope, level)
	if err != nil {
		if err != pgx.ErrNoRows {
			s.logger.Warn("rule lookup failed", zap.Error(err))
		}
		return s.cfg.FallbackEscalateTo, s.cfg.DefaultChannel
	}
	return rule.EscalateTo, rule.NotifyChannel
}
