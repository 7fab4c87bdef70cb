package pipeline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	deduperepo "leadflow_backend/internal/dedupe/repository"
	leadsrepo "leadflow_backend/internal/leads/repository"
	routingrepo "leadflow_backend/internal/routing/repository"
	slarepo "leadflow_backend/internal/sla/repository"
)

// PgxTxRunner runs each pipeline transaction against Postgres, binding all
// module repositories to the same pgx transaction.
type PgxTxRunner struct {
	pool *pgxpool.Pool
}

func NewPgxTxRunner(pool *pgxpool.Pool) *PgxTxRunner {
	return &PgxTxRunner{pool: pool}
}

func (r *PgxTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stores := Stores{
		Dedupe:       deduperepo.New(r.pool).WithTx(tx),
		Directory:    routingrepo.NewDirectory(r.pool).WithTx(tx),
		RoutingRules: routingrepo.New(r.pool).WithTx(tx),
		SLA:          slarepo.New(r.pool).WithTx(tx),
		Leads:        leadsrepo.New(r.pool).WithTx(tx),
	}
	if err := fn(ctx, stores); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
