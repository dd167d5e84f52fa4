package repository

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

const outboxColumns = `id, event_type, aggregate_type, aggregate_id, payload, channel,
       status, attempts, last_error, next_attempt_at, claimed_at, created_at`

// OutboxRepository owns the notification reliability records. Enqueue
// runs inside the mutating transaction; everything else belongs to the
// dispatcher.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event *domain.OutboxEvent) error
	// ClaimBatch flips due PENDING rows to PROCESSING in one statement
	// (SKIP LOCKED under the hood) so concurrent dispatchers never pick
	// the same row. PROCESSING rows whose claim predates staleBefore are
	// reclaimed too: a dispatcher that died mid-run never strands its
	// batch. Rows come back oldest first.
	ClaimBatch(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id string) error
	// MarkRetry returns the row to PENDING with a backoff eligibility
	// timestamp; MarkFailed parks it permanently.
	MarkRetry(ctx context.Context, id string, lastErr string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
	// Release puts still-claimed rows back to PENDING when a run stops
	// early at its deadline.
	Release(ctx context.Context, ids []string) error
	CountPending(ctx context.Context) (int, error)
}

type outboxRepository struct {
	q Querier
}

// NewOutboxRepository instantiates repository.
func NewOutboxRepository(q Querier) OutboxRepository {
	return &outboxRepository{q: q}
}

func (r *outboxRepository) Enqueue(ctx context.Context, event *domain.OutboxEvent) error {
	const query = `
        INSERT INTO outbox_events (event_type, aggregate_type, aggregate_id, payload, channel, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,NOW())
        RETURNING id, status, next_attempt_at, created_at`
	return r.q.QueryRow(ctx, query,
		event.EventType,
		event.AggregateType,
		event.AggregateID,
		event.Payload,
		event.Channel,
	).Scan(&event.ID, &event.Status, &event.NextAttemptAt, &event.CreatedAt)
}

func (r *outboxRepository) ClaimBatch(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OutboxEvent, error) {
	const query = `
        UPDATE outbox_events SET status='PROCESSING', claimed_at=$1
        WHERE id IN (
            SELECT id FROM outbox_events
            WHERE (status='PENDING' AND next_attempt_at <= $1)
               OR (status='PROCESSING' AND claimed_at < $2)
            ORDER BY created_at
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + outboxColumns
	rows, err := r.q.Query(ctx, query, now, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.AggregateType,
			&event.AggregateID,
			&event.Payload,
			&event.Channel,
			&event.Status,
			&event.Attempts,
			&event.LastError,
			&event.NextAttemptAt,
			&event.ClaimedAt,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE..RETURNING does not honor the subquery order
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	const query = `UPDATE outbox_events SET status='SENT', last_error=NULL, claimed_at=NULL WHERE id=$1`
	return r.exec(ctx, query, id)
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id string, lastErr string, nextAttemptAt time.Time) error {
	const query = `
        UPDATE outbox_events
        SET status='PENDING', attempts=attempts+1, last_error=$2, next_attempt_at=$3, claimed_at=NULL
        WHERE id=$1`
	return r.exec(ctx, query, id, lastErr, nextAttemptAt)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, lastErr string) error {
	const query = `
        UPDATE outbox_events
        SET status='FAILED', attempts=attempts+1, last_error=$2, claimed_at=NULL
        WHERE id=$1`
	return r.exec(ctx, query, id, lastErr)
}

func (r *outboxRepository) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE outbox_events SET status='PENDING', claimed_at=NULL WHERE id = ANY($1) AND status='PROCESSING'`
	_, err := r.q.Exec(ctx, query, ids)
	return err
}

func (r *outboxRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE status='PENDING'`).Scan(&count)
	return count, err
}

func (r *outboxRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
