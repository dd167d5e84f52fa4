package repository

import (
	"context"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// ActivityRepository persists the append-only ticket timeline.
type ActivityRepository interface {
	Create(ctx context.Context, entry *domain.ActivityEntry) error
	// ListByTicket returns entries oldest first. When includeAdminOnly
	// is false, ADMIN_ONLY entries are filtered out for requesters.
	ListByTicket(ctx context.Context, ticketID string, includeAdminOnly bool, limit, offset int) ([]domain.ActivityEntry, error)
}

type activityRepository struct {
	q Querier
}

// NewActivityRepository instantiates repository.
func NewActivityRepository(q Querier) ActivityRepository {
	return &activityRepository{q: q}
}

func (r *activityRepository) Create(ctx context.Context, entry *domain.ActivityEntry) error {
	const query = `
        INSERT INTO ticket_activity (ticket_id, actor_id, action, details, visibility)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.q.QueryRow(ctx, query,
		entry.TicketID,
		entry.ActorID,
		entry.Action,
		entry.Details,
		entry.Visibility,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *activityRepository) ListByTicket(ctx context.Context, ticketID string, includeAdminOnly bool, limit, offset int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
        SELECT id, ticket_id, actor_id, action, details, visibility, created_at
        FROM ticket_activity
        WHERE ticket_id=$1`
	if !includeAdminOnly {
		query += ` AND visibility <> 'ADMIN_ONLY'`
	}
	query += ` ORDER BY created_at LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, ticketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ActivityEntry
	for rows.Next() {
		var entry domain.ActivityEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.ActorID,
			&entry.Action,
			&entry.Details,
			&entry.Visibility,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
