package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

// Directory implements routing.Directory against the owners, pools and
// pool_members tables.
type Directory struct {
	db db.DBTX
}

func NewDirectory(dbtx db.DBTX) *Directory {
	return &Directory{db: dbtx}
}

func (d *Directory) WithTx(tx pgx.Tx) *Directory {
	return &Directory{db: tx}
}

const ownerColumns = `o.id, o.team_id, o.name, o.email, o.active, o.capacity, o.current_load, o.last_assigned_at`

// GetOwner returns one owner scoped to a team.
func (d *Directory) GetOwner(ctx context.Context, teamID, ownerID uuid.UUID) (routing.Owner, error) {
	query := `SELECT ` + ownerColumns + ` FROM owners o WHERE o.id = $1 AND o.team_id = $2`

	var o routing.Owner
	err := d.db.QueryRow(ctx, query, ownerID, teamID).Scan(
		&o.ID, &o.TeamID, &o.Name, &o.Email, &o.Active, &o.Capacity, &o.CurrentLoad, &o.LastAssignedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return routing.Owner{}, apperr.NotFound("owner not found")
	}
	if err != nil {
		return routing.Owner{}, fmt.Errorf("failed to load owner: %w", err)
	}
	return o, nil
}

// PoolMembers returns the active members of a named pool.
func (d *Directory) PoolMembers(ctx context.Context, teamID uuid.UUID, pool string) ([]routing.Owner, error) {
	query := `
		SELECT ` + ownerColumns + `
		FROM pools p
		JOIN pool_members pm ON pm.pool_id = p.id
		JOIN owners o ON o.id = pm.owner_id
		WHERE p.team_id = $1 AND p.name = $2 AND o.active = true
		ORDER BY o.name ASC`

	rows, err := d.db.Query(ctx, query, teamID, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool members: %w", err)
	}
	defer rows.Close()

	var out []routing.Owner
	for rows.Next() {
		var o routing.Owner
		if err := rows.Scan(
			&o.ID, &o.TeamID, &o.Name, &o.Email, &o.Active, &o.Capacity, &o.CurrentLoad, &o.LastAssignedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pool member: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Reserve increments the owner's load only while under capacity. The
// conditional update is the compare-and-swap that keeps two concurrent
// assignments from pushing an owner over the line.
func (d *Directory) Reserve(ctx context.Context, teamID, ownerID uuid.UUID, at time.Time) error {
	query := `
		UPDATE owners
		SET current_load = current_load + 1, last_assigned_at = $3
		WHERE id = $1 AND team_id = $2 AND active = true AND current_load < capacity`

	tag, err := d.db.Exec(ctx, query, ownerID, teamID, at)
	if err != nil {
		return fmt.Errorf("failed to reserve owner capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("owner at capacity")
	}
	return nil
}

// Release decrements the owner's load when an assigned lead leaves an open
// status. The floor guard keeps repeated releases from going negative.
func (d *Directory) Release(ctx context.Context, teamID, ownerID uuid.UUID) error {
	query := `
		UPDATE owners
		SET current_load = current_load - 1
		WHERE id = $1 AND team_id = $2 AND current_load > 0`

	if _, err := d.db.Exec(ctx, query, ownerID, teamID); err != nil {
		return fmt.Errorf("failed to release owner capacity: %w", err)
	}
	return nil
}

// ListOwners returns all of a team's owners.
func (d *Directory) ListOwners(ctx context.Context, teamID uuid.UUID) ([]routing.Owner, error) {
	query := `SELECT ` + ownerColumns + ` FROM owners o WHERE o.team_id = $1 ORDER BY o.name ASC`

	rows, err := d.db.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var out []routing.Owner
	for rows.Next() {
		var o routing.Owner
		if err := rows.Scan(
			&o.ID, &o.TeamID, &o.Name, &o.Email, &o.Active, &o.Capacity, &o.CurrentLoad, &o.LastAssignedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOwner registers a new assignee.
func (d *Directory) CreateOwner(ctx context.Context, owner *routing.Owner) error {
	if owner.Capacity < 1 {
		return apperr.Validation("owner capacity must be positive")
	}
	if owner.ID == uuid.Nil {
		owner.ID = uuid.New()
	}

	query := `
		INSERT INTO owners (id, team_id, name, email, active, capacity, current_load)
		VALUES ($1, $2, $3, $4, $5, $6, 0)`
	if _, err := d.db.Exec(ctx, query,
		owner.ID, owner.TeamID, owner.Name, owner.Email, owner.Active, owner.Capacity,
	); err != nil {
		return fmt.Errorf("failed to insert owner: %w", err)
	}
	return nil
}

// UpdateOwner changes an owner's name, email, capacity or active flag.
// Current load is never written here; only Reserve and Release touch it.
func (d *Directory) UpdateOwner(ctx context.Context, owner *routing.Owner) error {
	if owner.Capacity < 1 {
		return apperr.Validation("owner capacity must be positive")
	}

	query := `
		UPDATE owners
		SET name = $3, email = $4, active = $5, capacity = $6
		WHERE id = $1 AND team_id = $2`
	tag, err := d.db.Exec(ctx, query,
		owner.ID, owner.TeamID, owner.Name, owner.Email, owner.Active, owner.Capacity)
	if err != nil {
		return fmt.Errorf("failed to update owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("owner not found")
	}
	return nil
}

// CreatePool creates a named pool for a team.
func (d *Directory) CreatePool(ctx context.Context, teamID uuid.UUID, name string) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, apperr.Validation("pool name is required")
	}

	poolID := uuid.New()
	if _, err := d.db.Exec(ctx,
		`INSERT INTO pools (id, team_id, name) VALUES ($1, $2, $3)`,
		poolID, teamID, name,
	); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert pool: %w", err)
	}
	return poolID, nil
}

// ListPools returns a team's pool names.
func (d *Directory) ListPools(ctx context.Context, teamID uuid.UUID) ([]string, error) {
	rows, err := d.db.Query(ctx,
		`SELECT name FROM pools WHERE team_id = $1 ORDER BY name ASC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AddPoolMember puts an owner into a named pool. Re-adding is a no-op.
func (d *Directory) AddPoolMember(ctx context.Context, teamID uuid.UUID, pool string, ownerID uuid.UUID) error {
	query := `
		INSERT INTO pool_members (pool_id, owner_id)
		SELECT p.id, o.id
		FROM pools p, owners o
		WHERE p.team_id = $1 AND p.name = $2 AND o.id = $3 AND o.team_id = $1
		ON CONFLICT (pool_id, owner_id) DO NOTHING`

	tag, err := d.db.Exec(ctx, query, teamID, pool, ownerID)
	if err != nil {
		return fmt.Errorf("failed to add pool member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the pair exists already or pool/owner is unknown; the
		// select distinguishes them.
		var exists bool
		err := d.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pools p
				JOIN pool_members pm ON pm.pool_id = p.id
				WHERE p.team_id = $1 AND p.name = $2 AND pm.owner_id = $3
			)`, teamID, pool, ownerID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to verify pool membership: %w", err)
		}
		if !exists {
			return apperr.NotFound("pool or owner not found")
		}
	}
	return nil
}

// RemovePoolMember takes an owner out of a pool.
func (d *Directory) RemovePoolMember(ctx context.Context, teamID uuid.UUID, pool string, ownerID uuid.UUID) error {
	query := `
		DELETE FROM pool_members pm
		USING pools p
		WHERE pm.pool_id = p.id AND p.team_id = $1 AND p.name = $2 AND pm.owner_id = $3`

	tag, err := d.db.Exec(ctx, query, teamID, pool, ownerID)
	if err != nil {
		return fmt.Errorf("failed to remove pool member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("pool membership not found")
	}
	return nil
}
