package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/bunx"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// BunSystemRepository implements SystemRepository using Bun ORM
type BunSystemRepository struct {
	db bun.IDB
}

// NewBunSystemRepository creates a new Bun-based system repository
func NewBunSystemRepository(db bun.IDB) *BunSystemRepository {
	return &BunSystemRepository{db: db}
}

// Create inserts a new active system
func (r *BunSystemRepository) Create(ctx context.Context, system *models.System) error {
	if system.ID == "" {
		system.ID = bunx.NewUUIDv7()
	}
	now := time.Now().UTC()
	system.Status = models.StatusActive
	system.CreatedAt = now
	system.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(system).
		Exec(ctx)
	if err != nil {
		if mapped := mapDBError(err, domain.EntitySystem, system.ID, "name "+system.Name); mapped != nil {
			return mapped
		}
		return fmt.Errorf("create system: %w", err)
	}
	return nil
}

// GetActive returns the system only when it is active
func (r *BunSystemRepository) GetActive(ctx context.Context, id string) (*models.System, error) {
	system, err := r.GetIncludingDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	if !system.IsActive() {
		return nil, notFoundFor(domain.EntitySystem, id, &system.Lifecycle)
	}
	return system, nil
}

// GetIncludingDeleted returns the system regardless of lifecycle state
func (r *BunSystemRepository) GetIncludingDeleted(ctx context.Context, id string) (*models.System, error) {
	system := new(models.System)
	err := r.db.NewSelect().
		Model(system).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if mapped := mapDBError(err, domain.EntitySystem, id, ""); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("get system by ID: %w", err)
	}
	return system, nil
}

// GetByIDs batch-loads systems regardless of lifecycle state
func (r *BunSystemRepository) GetByIDs(ctx context.Context, ids []string) ([]models.System, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var systems []models.System
	err := r.db.NewSelect().
		Model(&systems).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get systems by IDs: %w", err)
	}
	return systems, nil
}

// ListActive returns active systems in creation order, narrowed by an optional
// go-bexpr filter over id, name, description, available_roles and status.
func (r *BunSystemRepository) ListActive(ctx context.Context, filter string) ([]models.System, error) {
	systems, err := r.list(ctx, models.StatusActive)
	if err != nil {
		return nil, err
	}
	return filterSystems(filter, systems)
}

// ListDeleted returns soft-deleted systems
func (r *BunSystemRepository) ListDeleted(ctx context.Context) ([]models.System, error) {
	return r.list(ctx, models.StatusDeleted)
}

func (r *BunSystemRepository) list(ctx context.Context, status models.Status) ([]models.System, error) {
	var systems []models.System
	err := r.db.NewSelect().
		Model(&systems).
		Where("status = ?", status).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	return systems, nil
}

// Update applies a partial update to an active system. Shrinking the role
// catalog does not touch existing grants.
func (r *BunSystemRepository) Update(ctx context.Context, id string, patch SystemPatch) (*models.System, error) {
	q := r.db.NewUpdate().
		Model((*models.System)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.StatusActive)
	key := ""
	if patch.Name != nil {
		q = q.Set("name = ?", *patch.Name)
		key = "name " + *patch.Name
	}
	if patch.Description != nil {
		q = q.Set("description = ?", *patch.Description)
	}
	if patch.AvailableRoles != nil {
		q = q.Set("available_roles = ?", patch.AvailableRoles)
	}

	result, err := q.Exec(ctx)
	if err != nil {
		if mapped := mapDBError(err, domain.EntitySystem, id, key); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("update system: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, domain.ErrNotFound(domain.EntitySystem, id)
	}

	return r.GetIncludingDeleted(ctx, id)
}

// SoftDelete marks the system deleted. The in-use check is the caller's.
func (r *BunSystemRepository) SoftDelete(ctx context.Context, id, actor string) (*models.System, error) {
	if err := softDeleteRow(ctx, r.db, (*models.System)(nil), domain.EntitySystem, id, actor); err != nil {
		return nil, err
	}
	return r.GetIncludingDeleted(ctx, id)
}

// Restore marks a deleted system active again
func (r *BunSystemRepository) Restore(ctx context.Context, id string) (*models.System, error) {
	if err := restoreRow(ctx, r.db, (*models.System)(nil), domain.EntitySystem, id); err != nil {
		return nil, err
	}
	return r.GetIncludingDeleted(ctx, id)
}
