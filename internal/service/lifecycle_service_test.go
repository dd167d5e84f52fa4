package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

var (
	student      = domain.Actor{ID: "stu-1", Role: domain.RoleRequester}
	otherStudent = domain.Actor{ID: "stu-2", Role: domain.RoleRequester}
	agent        = domain.Actor{ID: "agt-1", Role: domain.RoleAgent}
)

func newLifecycleFixture(t *testing.T) (*LifecycleService, *memStore, *clockwork.FakeClock) {
	t.Helper()
	store := newMemStore()
	clk := testClock()
	svc := NewLifecycleService(store, clk, testSLAConfig(), zap.NewNop())
	return svc, store, clk
}

func seedTicket(store *memStore, status domain.TicketStatus, createdBy string) domain.Ticket {
	return store.seedTicket(domain.Ticket{
		ExternalKey: "HDK-SEED01",
		CreatedBy:   createdBy,
		Subject:     "projector not working",
		Status:      status,
	})
}

func TestCreateTicketAppliesDefaultDeadlines(t *testing.T) {
	svc, store, clk := newLifecycleFixture(t)
	now := clk.Now()

	ticket, err := svc.CreateTicket(context.Background(), student, CreateTicketInput{
		Subject:     "wifi down in dorm B",
		Description: "no connectivity since morning",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.True(t, strings.HasPrefix(ticket.ExternalKey, "HDK-"))
	require.NotNil(t, ticket.AcknowledgementDueAt)
	require.NotNil(t, ticket.ResolutionDueAt)
	assert.Equal(t, now.Add(24*time.Hour), *ticket.AcknowledgementDueAt)
	assert.Equal(t, now.Add(72*time.Hour), *ticket.ResolutionDueAt)

	require.Len(t, store.activity, 1)
	assert.Equal(t, domain.ActionTicketCreated, store.activity[0].Action)
	require.Len(t, store.outbox, 1)
	assert.Equal(t, domain.EventTicketCreated, store.outbox[0].EventType)
	assert.Equal(t, ticket.ID, store.outbox[0].AggregateID)
	assert.Equal(t, domain.OutboxStatusPending, store.outbox[0].Status)
}

func TestCreateTicketClampsAckDeadlineToResolution(t *testing.T) {
	svc, _, clk := newLifecycleFixture(t)

	ticket, err := svc.CreateTicket(context.Background(), student, CreateTicketInput{
		Subject:         "exam hall AC broken",
		AckHours:        48,
		ResolutionHours: 24,
	})
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(24*time.Hour), *ticket.AcknowledgementDueAt)
	assert.Equal(t, *ticket.ResolutionDueAt, *ticket.AcknowledgementDueAt)
}

func TestCreateTicketRequiresSubject(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)

	_, err := svc.CreateTicket(context.Background(), student, CreateTicketInput{Subject: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "VALIDATION_FAILED"))
	assert.Empty(t, store.outbox)
}

func TestUpdateStatusFollowsAllowList(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusOpen, student.ID)

	ticket, err := svc.UpdateStatus(context.Background(), seeded.ID, domain.TicketStatusAcknowledged, agent, "on it")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAcknowledged, ticket.Status)

	require.Len(t, store.activity, 1)
	assert.Equal(t, domain.ActionStatusChanged, store.activity[0].Action)
	require.Len(t, store.outbox, 1)
	assert.Equal(t, domain.EventStatusChanged, store.outbox[0].EventType)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusOpen, student.ID)

	_, err := svc.UpdateStatus(context.Background(), seeded.ID, domain.TicketStatusResolved, agent, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "INVALID_TRANSITION"))

	assert.Equal(t, domain.TicketStatusOpen, store.ticket(seeded.ID).Status)
	assert.Empty(t, store.activity)
	assert.Empty(t, store.outbox)
}

func TestUpdateStatusCancelledIsTerminal(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusCancelled, student.ID)

	for _, next := range []domain.TicketStatus{
		domain.TicketStatusOpen,
		domain.TicketStatusInProgress,
		domain.TicketStatusReopened,
	} {
		_, err := svc.UpdateStatus(context.Background(), seeded.ID, next, agent, "")
		require.Error(t, err, "cancelled -> %s", next)
	}
}

func TestUpdateStatusRequesterPrivileges(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)

	awaiting := seedTicket(store, domain.TicketStatusAwaitingStudent, student.ID)
	ticket, err := svc.UpdateStatus(context.Background(), awaiting.ID, domain.TicketStatusInProgress, student, "replied")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)

	open := seedTicket(store, domain.TicketStatusOpen, student.ID)
	_, err = svc.UpdateStatus(context.Background(), open.ID, domain.TicketStatusAcknowledged, student, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))

	_, err = svc.UpdateStatus(context.Background(), awaiting.ID, domain.TicketStatusInProgress, otherStudent, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))
}

func TestUpdateStatusRequesterCanCancelOwnOpenTicket(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusOpen, student.ID)

	ticket, err := svc.UpdateStatus(context.Background(), seeded.ID, domain.TicketStatusCancelled, student, "filed by mistake")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCancelled, ticket.Status)

	// only the owner, and only while still open
	other := seedTicket(store, domain.TicketStatusOpen, student.ID)
	_, err = svc.UpdateStatus(context.Background(), other.ID, domain.TicketStatusCancelled, otherStudent, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))

	inProgress := seedTicket(store, domain.TicketStatusInProgress, student.ID)
	_, err = svc.UpdateStatus(context.Background(), inProgress.ID, domain.TicketStatusCancelled, student, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))
}

func TestUpdateStatusRejectsDirectReopen(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusResolved, student.ID)

	_, err := svc.UpdateStatus(context.Background(), seeded.ID, domain.TicketStatusReopened, agent, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))
}

func TestUpdateStatusStampsResolutionAndClosure(t *testing.T) {
	svc, store, clk := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusInProgress, student.ID)

	ticket, err := svc.UpdateStatus(context.Background(), seeded.ID, domain.TicketStatusResolved, agent, "fixed")
	require.NoError(t, err)
	require.NotNil(t, ticket.ResolvedAt)
	assert.Equal(t, clk.Now(), *ticket.ResolvedAt)

	clk.Advance(time.Hour)
	ticket, err = svc.UpdateStatus(context.Background(), seeded.ID, domain.TicketStatusClosed, agent, "")
	require.NoError(t, err)
	require.NotNil(t, ticket.ClosedAt)
	assert.Equal(t, clk.Now(), *ticket.ClosedAt)
}

func TestUpdateStatusRollsBackWhenEnqueueFails(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusOpen, student.ID)
	store.enqueueErr = errors.New("outbox insert refused")

	_, err := svc.UpdateStatus(context.Background(), seeded.ID, domain.TicketStatusAcknowledged, agent, "")
	require.Error(t, err)

	assert.Equal(t, domain.TicketStatusOpen, store.ticket(seeded.ID).Status)
	assert.Empty(t, store.activity)
	assert.Empty(t, store.outbox)
}

func TestReopenResetsEscalationState(t *testing.T) {
	svc, store, clk := newLifecycleFixture(t)
	resolvedAt := clk.Now().Add(-time.Hour)
	escalatedAt := clk.Now().Add(-2 * time.Hour)
	seeded := store.seedTicket(domain.Ticket{
		CreatedBy:       student.ID,
		Subject:         "grade not published",
		Status:          domain.TicketStatusResolved,
		ResolvedAt:      &resolvedAt,
		EscalationLevel: 2,
		EscalatedAt:     &escalatedAt,
	})

	result, err := svc.ReopenTicket(context.Background(), seeded.ID, student, "grade still missing")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReopenCount)
	assert.False(t, result.Warning)

	got := store.ticket(seeded.ID)
	assert.Equal(t, domain.TicketStatusReopened, got.Status)
	assert.Equal(t, 0, got.EscalationLevel)
	assert.Nil(t, got.EscalatedAt)
	assert.Nil(t, got.ResolvedAt)
	assert.Nil(t, got.ClosedAt)
	assert.Nil(t, got.AcknowledgementDueAt)
	require.NotNil(t, got.ResolutionDueAt)
	assert.Equal(t, clk.Now().Add(72*time.Hour), *got.ResolutionDueAt)

	require.Len(t, store.outbox, 1)
	assert.Equal(t, domain.EventTicketReopened, store.outbox[0].EventType)
}

func TestReopenAllowedFromClosed(t *testing.T) {
	svc, store, clk := newLifecycleFixture(t)
	closedAt := clk.Now().Add(-time.Hour)
	seeded := store.seedTicket(domain.Ticket{
		CreatedBy: student.ID,
		Subject:   "id card reissue",
		Status:    domain.TicketStatusClosed,
		ClosedAt:  &closedAt,
	})

	result, err := svc.ReopenTicket(context.Background(), seeded.ID, student, "card never arrived")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReopened, result.Ticket.Status)
	assert.Nil(t, result.Ticket.ClosedAt)
}

func TestReopenRejectedOutsideResolvedOrClosed(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusInProgress, student.ID)

	_, err := svc.ReopenTicket(context.Background(), seeded.ID, student, "still broken")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "INVALID_TRANSITION"))
}

func TestReopenRequiresReasonAndOwnership(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusResolved, student.ID)

	_, err := svc.ReopenTicket(context.Background(), seeded.ID, student, "  ")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "VALIDATION_FAILED"))

	_, err = svc.ReopenTicket(context.Background(), seeded.ID, otherStudent, "mine now")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))
}

func TestReopenWarnsOverSoftCap(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := store.seedTicket(domain.Ticket{
		CreatedBy:   student.ID,
		Subject:     "recurring leak",
		Status:      domain.TicketStatusResolved,
		ReopenCount: 3,
	})

	result, err := svc.ReopenTicket(context.Background(), seeded.ID, student, "leaking again")
	require.NoError(t, err)
	assert.Equal(t, 4, result.ReopenCount)
	assert.True(t, result.Warning)
}

func TestForwardReassignsTicket(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusInProgress, student.ID)

	result, err := svc.ForwardTicket(context.Background(), seeded.ID, "agt-2", agent, "networking team owns this")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ForwardCount)
	assert.False(t, result.Warning)

	got := store.ticket(seeded.ID)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "agt-2", *got.AssignedTo)

	require.Len(t, store.activity, 1)
	assert.Equal(t, domain.ActionForwarded, store.activity[0].Action)
	assert.Equal(t, domain.VisibilityAdminOnly, store.activity[0].Visibility)
	require.Len(t, store.outbox, 1)
	assert.Equal(t, domain.EventTicketForwarded, store.outbox[0].EventType)
}

func TestForwardRequiresStaffAndActiveTicket(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusOpen, student.ID)

	_, err := svc.ForwardTicket(context.Background(), seeded.ID, "agt-2", student, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))

	resolvedAt := time.Now()
	resolved := store.seedTicket(domain.Ticket{
		CreatedBy:  student.ID,
		Subject:    "done already",
		Status:     domain.TicketStatusResolved,
		ResolvedAt: &resolvedAt,
	})
	_, err = svc.ForwardTicket(context.Background(), resolved.ID, "agt-2", agent, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "CONFLICT"))
}

func TestGetTicketEnforcesOwnership(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusOpen, student.ID)

	_, err := svc.GetTicket(context.Background(), otherStudent, seeded.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "FORBIDDEN"))

	got, err := svc.GetTicket(context.Background(), agent, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)

	_, err = svc.GetTicket(context.Background(), agent, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, "NOT_FOUND"))
}

func TestListActivityHidesAdminOnlyFromRequesters(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seeded := seedTicket(store, domain.TicketStatusOpen, student.ID)
	store.activity = append(store.activity,
		domain.ActivityEntry{ID: "a1", TicketID: seeded.ID, Action: domain.ActionTicketCreated, Visibility: domain.VisibilityPublic},
		domain.ActivityEntry{ID: "a2", TicketID: seeded.ID, Action: domain.ActionEscalated, Visibility: domain.VisibilityAdminOnly},
		domain.ActivityEntry{ID: "a3", TicketID: seeded.ID, Action: domain.ActionTATSet, Visibility: domain.VisibilityStudentVisible},
	)

	entries, err := svc.ListActivity(context.Background(), student, seeded.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a1", entries[0].ID)
	assert.Equal(t, "a3", entries[1].ID)

	entries, err = svc.ListActivity(context.Background(), agent, seeded.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
