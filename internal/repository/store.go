package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so
// every repository runs unchanged inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RepoSet bundles the engine repositories over one Querier.
type RepoSet struct {
	Tickets  TicketRepository
	Activity ActivityRepository
	Rules    EscalationRuleRepository
	Outbox   OutboxRepository
}

// Store provides repository access and transaction demarcation. A
// ticket mutation, its activity entry and its outbox event must commit
// together or not at all; WithinTx is the only way to get that.
type Store interface {
	Repos() RepoSet
	WithinTx(ctx context.Context, fn func(RepoSet) error) error
}

type pgxStore struct {
	pool *pgxpool.Pool
}

// NewStore builds the pgx-backed Store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgxStore{pool: pool}
}

func newRepoSet(q Querier) RepoSet {
	return RepoSet{
		Tickets:  NewTicketRepository(q),
		Activity: NewActivityRepository(q),
		Rules:    NewEscalationRuleRepository(q),
		Outbox:   NewOutboxRepository(q),
	}
}

func (s *pgxStore) Repos() RepoSet {
	return newRepoSet(s.pool)
}

func (s *pgxStore) WithinTx(ctx context.Context, fn func(RepoSet) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(newRepoSet(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
