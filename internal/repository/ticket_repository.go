package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

const ticketColumns = `id, external_key, created_by, assigned_to, domain_id, category_id, subcategory_id,
       subject, description, status, escalation_level, forward_count, reopen_count, tat_extensions,
       acknowledgement_due_at, resolution_due_at, resolved_at, closed_at, reopened_at, escalated_at,
       metadata, created_at, updated_at`

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetByIDForUpdate row-locks the ticket; call inside WithinTx so a
	// concurrent scanner run cannot interleave with the mutation.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	Update(ctx context.Context, ticket *domain.Ticket) error

	ListAckBreached(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	ListResolutionBreached(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	// EscalateForAckBreach and EscalateForResolutionBreach bump the
	// escalation level with the breach guard inside the UPDATE itself,
	// so the statement is the atomic idempotence check. They report the
	// new level and whether the update applied.
	EscalateForAckBreach(ctx context.Context, id string, now time.Time) (int, bool, error)
	EscalateForResolutionBreach(ctx context.Context, id string, now time.Time) (int, bool, error)
}

type ticketRepository struct {
	q Querier
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(q Querier) TicketRepository {
	return &ticketRepository{q: q}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (external_key, created_by, assigned_to, domain_id, category_id, subcategory_id,
            subject, description, status, acknowledgement_due_at, resolution_due_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING id, created_at, updated_at`
	return r.q.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.CreatedBy,
		ticket.AssignedTo,
		ticket.DomainID,
		ticket.CategoryID,
		ticket.SubcategoryID,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.AcknowledgementDueAt,
		ticket.ResolutionDueAt,
		ticket.Metadata,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *ticketRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1 FOR UPDATE`, id)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET assigned_to=$1, subject=$2, description=$3, status=$4,
            escalation_level=$5, forward_count=$6, reopen_count=$7, tat_extensions=$8,
            acknowledgement_due_at=$9, resolution_due_at=$10, resolved_at=$11, closed_at=$12,
            reopened_at=$13, escalated_at=$14, metadata=$15, updated_at=NOW()
        WHERE id=$16`
	cmd, err := r.q.Exec(ctx, query,
		ticket.AssignedTo,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.EscalationLevel,
		ticket.ForwardCount,
		ticket.ReopenCount,
		ticket.TATExtensions,
		ticket.AcknowledgementDueAt,
		ticket.ResolutionDueAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.ReopenedAt,
		ticket.EscalatedAt,
		ticket.Metadata,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListAckBreached(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE resolved_at IS NULL AND closed_at IS NULL AND status <> 'CANCELLED'
          AND escalation_level = 0
          AND acknowledgement_due_at IS NOT NULL AND acknowledgement_due_at < $1
          AND (escalated_at IS NULL OR escalated_at < acknowledgement_due_at)
        ORDER BY acknowledgement_due_at
        LIMIT $2`
	return r.fetchMany(ctx, query, now, limit)
}

func (r *ticketRepository) ListResolutionBreached(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE resolved_at IS NULL AND closed_at IS NULL AND status <> 'CANCELLED'
          AND resolution_due_at IS NOT NULL AND resolution_due_at < $1
          AND (escalated_at IS NULL OR escalated_at < resolution_due_at)
        ORDER BY resolution_due_at
        LIMIT $2`
	return r.fetchMany(ctx, query, now, limit)
}

func (r *ticketRepository) EscalateForAckBreach(ctx context.Context, id string, now time.Time) (int, bool, error) {
	const query = `
        UPDATE tickets SET escalation_level = 1, escalated_at = $2, updated_at = $2
        WHERE id = $1
          AND resolved_at IS NULL AND closed_at IS NULL AND status <> 'CANCELLED'
          AND escalation_level = 0
          AND acknowledgement_due_at IS NOT NULL AND acknowledgement_due_at < $2
          AND (escalated_at IS NULL OR escalated_at < acknowledgement_due_at)
        RETURNING escalation_level`
	return r.escalate(ctx, query, id, now)
}

func (r *ticketRepository) EscalateForResolutionBreach(ctx context.Context, id string, now time.Time) (int, bool, error) {
	const query = `
        UPDATE tickets SET escalation_level = escalation_level + 1, escalated_at = $2, updated_at = $2
        WHERE id = $1
          AND resolved_at IS NULL AND closed_at IS NULL AND status <> 'CANCELLED'
          AND resolution_due_at IS NOT NULL AND resolution_due_at < $2
          AND (escalated_at IS NULL OR escalated_at < resolution_due_at)
        RETURNING escalation_level`
	return r.escalate(ctx, query, id, now)
}

func (r *ticketRepository) escalate(ctx context.Context, query, id string, now time.Time) (int, bool, error) {
	var level int
	err := r.q.QueryRow(ctx, query, id, now).Scan(&level)
	if err == pgx.ErrNoRows {
		// lost the race or already escalated for this breach
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return level, true, nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := scanTicket(r.q.QueryRow(ctx, query, args...), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) fetchMany(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.DomainID,
		&ticket.CategoryID,
		&ticket.SubcategoryID,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.EscalationLevel,
		&ticket.ForwardCount,
		&ticket.ReopenCount,
		&ticket.TATExtensions,
		&ticket.AcknowledgementDueAt,
		&ticket.ResolutionDueAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ticket.ReopenedAt,
		&ticket.EscalatedAt,
		&ticket.Metadata,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}
