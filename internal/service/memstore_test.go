package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
)

// memStore is an in-memory Store for service tests. WithinTx snapshots
// state before the callback and restores it on error, so commit
// semantics match the pgx store.
type memStore struct {
	mu sync.Mutex

	tickets  map[string]domain.Ticket
	activity []domain.ActivityEntry
	rules    []domain.EscalationRule
	outbox   []domain.OutboxEvent
	seq      int

	enqueueErr error
}

func newMemStore() *memStore {
	return &memStore{tickets: map[string]domain.Ticket{}}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *memStore) Repos() repository.RepoSet {
	return repository.RepoSet{
		Tickets:  &memTickets{s: s},
		Activity: &memActivity{s: s},
		Rules:    &memRules{s: s},
		Outbox:   &memOutbox{s: s},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(repository.RepoSet) error) error {
	s.mu.Lock()
	ticketsSnap := make(map[string]domain.Ticket, len(s.tickets))
	for id, t := range s.tickets {
		ticketsSnap[id] = t
	}
	activitySnap := append([]domain.ActivityEntry(nil), s.activity...)
	outboxSnap := append([]domain.OutboxEvent(nil), s.outbox...)
	s.mu.Unlock()

	if err := fn(s.Repos()); err != nil {
		s.mu.Lock()
		s.tickets = ticketsSnap
		s.activity = activitySnap
		s.outbox = outboxSnap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) seedTicket(t domain.Ticket) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.nextID("tkt")
	}
	s.tickets[t.ID] = t
	return t
}

func (s *memStore) ticket(id string) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id]
}

type memTickets struct{ s *memStore }

func (r *memTickets) Create(ctx context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.ID == "" {
		t.ID = r.s.nextID("tkt")
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	r.s.tickets[t.ID] = *t
	return nil
}

func (r *memTickets) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := t
	return &out, nil
}

func (r *memTickets) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *memTickets) Update(ctx context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tickets[t.ID]; !ok {
		return pgx.ErrNoRows
	}
	t.UpdatedAt = time.Now()
	r.s.tickets[t.ID] = *t
	return nil
}

func ackBreachEligible(t domain.Ticket, now time.Time) bool {
	return t.ResolvedAt == nil && t.ClosedAt == nil &&
		t.Status != domain.TicketStatusCancelled &&
		t.EscalationLevel == 0 &&
		t.AcknowledgementDueAt != nil && t.AcknowledgementDueAt.Before(now) &&
		(t.EscalatedAt == nil || t.EscalatedAt.Before(*t.AcknowledgementDueAt))
}

func resolutionBreachEligible(t domain.Ticket, now time.Time) bool {
	return t.ResolvedAt == nil && t.ClosedAt == nil &&
		t.Status != domain.TicketStatusCancelled &&
		t.ResolutionDueAt != nil && t.ResolutionDueAt.Before(now) &&
		(t.EscalatedAt == nil || t.EscalatedAt.Before(*t.ResolutionDueAt))
}

func (r *memTickets) listBreached(now time.Time, limit int, eligible func(domain.Ticket, time.Time) bool) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.s.tickets {
		if eligible(t, now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTickets) ListAckBreached(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	return r.listBreached(now, limit, ackBreachEligible)
}

func (r *memTickets) ListResolutionBreached(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	return r.listBreached(now, limit, resolutionBreachEligible)
}

func (r *memTickets) EscalateForAckBreach(ctx context.Context, id string, now time.Time) (int, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok || !ackBreachEligible(t, now) {
		return 0, false, nil
	}
	t.EscalationLevel = 1
	t.EscalatedAt = &now
	t.UpdatedAt = now
	r.s.tickets[id] = t
	return t.EscalationLevel, true, nil
}

func (r *memTickets) EscalateForResolutionBreach(ctx context.Context, id string, now time.Time) (int, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok || !resolutionBreachEligible(t, now) {
		return 0, false, nil
	}
	t.EscalationLevel++
	t.EscalatedAt = &now
	t.UpdatedAt = now
	r.s.tickets[id] = t
	return t.EscalationLevel, true, nil
}

type memActivity struct{ s *memStore }

func (r *memActivity) Create(ctx context.Context, entry *domain.ActivityEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = r.s.nextID("act")
	}
	entry.CreatedAt = time.Now()
	r.s.activity = append(r.s.activity, *entry)
	return nil
}

func (r *memActivity) ListByTicket(ctx context.Context, ticketID string, includeAdminOnly bool, limit, offset int) ([]domain.ActivityEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ActivityEntry
	for _, entry := range r.s.activity {
		if entry.TicketID != ticketID {
			continue
		}
		if !includeAdminOnly && entry.Visibility == domain.VisibilityAdminOnly {
			continue
		}
		out = append(out, entry)
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRules struct{ s *memStore }

func ruleMatches(rule domain.EscalationRule, scope domain.RuleScope) bool {
	match := func(ruleField, scopeField *string) bool {
		if ruleField == nil {
			return true
		}
		return scopeField != nil && *scopeField == *ruleField
	}
	return match(rule.DomainID, scope.DomainID) &&
		match(rule.CategoryID, scope.CategoryID) &&
		match(rule.SubcategoryID, scope.SubcategoryID)
}

func (r *memRules) Resolve(ctx context.Context, scope domain.RuleScope, level int) (*domain.EscalationRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	score := func(rule domain.EscalationRule) int {
		s := rule.Level * 8
		if rule.SubcategoryID != nil {
			s += 4
		}
		if rule.CategoryID != nil {
			s += 2
		}
		if rule.DomainID != nil {
			s++
		}
		return s
	}
	best := -1
	var found *domain.EscalationRule
	for i := range r.s.rules {
		rule := r.s.rules[i]
		if rule.Level > level || !ruleMatches(rule, scope) {
			continue
		}
		if sc := score(rule); sc > best {
			best = sc
			out := rule
			found = &out
		}
	}
	if found == nil {
		return nil, pgx.ErrNoRows
	}
	return found, nil
}

type memOutbox struct{ s *memStore }

func (r *memOutbox) Enqueue(ctx context.Context, event *domain.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.enqueueErr != nil {
		return r.s.enqueueErr
	}
	if event.ID == "" {
		event.ID = r.s.nextID("evt")
	}
	event.Status = domain.OutboxStatusPending
	event.CreatedAt = time.Now()
	r.s.outbox = append(r.s.outbox, *event)
	return nil
}

func (r *memOutbox) ClaimBatch(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.OutboxEvent
	for i := range r.s.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		event := &r.s.outbox[i]
		due := event.Status == domain.OutboxStatusPending && !event.NextAttemptAt.After(now)
		stranded := event.Status == domain.OutboxStatusProcessing &&
			event.ClaimedAt != nil && event.ClaimedAt.Before(staleBefore)
		if !due && !stranded {
			continue
		}
		claimed := now
		event.Status = domain.OutboxStatusProcessing
		event.ClaimedAt = &claimed
		out = append(out, *event)
	}
	return out, nil
}

func (r *memOutbox) mark(id string, fn func(*domain.OutboxEvent)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			fn(&r.s.outbox[i])
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *memOutbox) MarkSent(ctx context.Context, id string) error {
	return r.mark(id, func(e *domain.OutboxEvent) {
		e.Status = domain.OutboxStatusSent
		e.ClaimedAt = nil
	})
}

func (r *memOutbox) MarkRetry(ctx context.Context, id string, lastErr string, nextAttemptAt time.Time) error {
	return r.mark(id, func(e *domain.OutboxEvent) {
		e.Status = domain.OutboxStatusPending
		e.Attempts++
		e.LastError = &lastErr
		e.NextAttemptAt = nextAttemptAt
		e.ClaimedAt = nil
	})
}

func (r *memOutbox) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.mark(id, func(e *domain.OutboxEvent) {
		e.Status = domain.OutboxStatusFailed
		e.Attempts++
		e.LastError = &lastErr
		e.ClaimedAt = nil
	})
}

func (r *memOutbox) Release(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := r.mark(id, func(e *domain.OutboxEvent) {
			if e.Status == domain.OutboxStatusProcessing {
				e.Status = domain.OutboxStatusPending
				e.ClaimedAt = nil
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *memOutbox) CountPending(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for i := range r.s.outbox {
		if r.s.outbox[i].Status == domain.OutboxStatusPending {
			count++
		}
	}
	return count, nil
}

func testSLAConfig() config.SLAConfig {
	return config.SLAConfig{
		DefaultAckHours:        24,
		DefaultResolutionHours: 72,
		MaxTATExtensions:       3,
		MaxReopens:             3,
		MaxForwards:            3,
	}
}

func testEscalationConfig() config.EscalationConfig {
	return config.EscalationConfig{
		IntervalSeconds:    300,
		RunTimeoutSeconds:  60,
		FallbackEscalateTo: "helpdesk-admin",
		DefaultChannel:     "webhook",
	}
}

func testOutboxConfig() config.OutboxConfig {
	return config.OutboxConfig{
		IntervalSeconds:    15,
		RunTimeoutSeconds:  30,
		BatchSize:          50,
		MaxAttempts:        3,
		SendTimeoutSeconds: 5,
		RetryBaseSeconds:   30,
	}
}

func testClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
}

func ptr[T any](v T) *T { return &v }
