package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/bunx"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// BunGrantRepository implements GrantRepository using Bun ORM
type BunGrantRepository struct {
	db bun.IDB
}

// NewBunGrantRepository creates a new Bun-based grant repository
func NewBunGrantRepository(db bun.IDB) *BunGrantRepository {
	return &BunGrantRepository{db: db}
}

// Create inserts a new active grant. A second grant for the same
// (account, system) pair fails with DuplicateKeyError.
func (r *BunGrantRepository) Create(ctx context.Context, grant *models.Grant) error {
	if grant.ID == "" {
		grant.ID = bunx.NewUUIDv7()
	}
	now := time.Now().UTC()
	grant.Status = models.StatusActive
	grant.CreatedAt = now
	grant.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(grant).
		Exec(ctx)
	if err != nil {
		key := fmt.Sprintf("account %s and system %s", grant.AccountID, grant.SystemID)
		if mapped := mapDBError(err, domain.EntityGrant, grant.ID, key); mapped != nil {
			return mapped
		}
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

// GetActive returns the grant only when it is active
func (r *BunGrantRepository) GetActive(ctx context.Context, id string) (*models.Grant, error) {
	grant, err := r.GetIncludingDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	if !grant.IsActive() {
		return nil, notFoundFor(domain.EntityGrant, id, &grant.Lifecycle)
	}
	return grant, nil
}

// GetIncludingDeleted returns the grant regardless of lifecycle state
func (r *BunGrantRepository) GetIncludingDeleted(ctx context.Context, id string) (*models.Grant, error) {
	grant := new(models.Grant)
	err := r.db.NewSelect().
		Model(grant).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if mapped := mapDBError(err, domain.EntityGrant, id, ""); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("get grant by ID: %w", err)
	}
	return grant, nil
}

// GetByPair returns the grant for an (account, system) pair in any state
func (r *BunGrantRepository) GetByPair(ctx context.Context, accountID, systemID string) (*models.Grant, error) {
	grant := new(models.Grant)
	err := r.db.NewSelect().
		Model(grant).
		Where("account_id = ?", accountID).
		Where("system_id = ?", systemID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound(domain.EntityGrant, accountID+"/"+systemID)
		}
		return nil, fmt.Errorf("get grant by pair: %w", err)
	}
	return grant, nil
}

// UpdateRoles replaces the role set of an active grant
func (r *BunGrantRepository) UpdateRoles(ctx context.Context, id string, roles models.RoleSet) (*models.Grant, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Grant)(nil)).
		Set("roles = ?", roles).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.StatusActive).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update grant roles: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, domain.ErrNotFound(domain.EntityGrant, id)
	}

	return r.GetIncludingDeleted(ctx, id)
}

// ListActive returns active grants in creation order
func (r *BunGrantRepository) ListActive(ctx context.Context) ([]models.Grant, error) {
	return r.list(ctx, models.StatusActive)
}

// ListDeleted returns soft-deleted grants
func (r *BunGrantRepository) ListDeleted(ctx context.Context) ([]models.Grant, error) {
	return r.list(ctx, models.StatusDeleted)
}

// ListAll returns every grant row
func (r *BunGrantRepository) ListAll(ctx context.Context) ([]models.Grant, error) {
	return r.list(ctx, "")
}

func (r *BunGrantRepository) list(ctx context.Context, status models.Status) ([]models.Grant, error) {
	var grants []models.Grant
	q := r.db.NewSelect().
		Model(&grants).
		Order("created_at ASC", "id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// ListByAccountIDs loads the grants of many accounts in one query
func (r *BunGrantRepository) ListByAccountIDs(ctx context.Context, accountIDs []string, activeOnly bool) ([]models.Grant, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	var grants []models.Grant
	q := r.db.NewSelect().
		Model(&grants).
		Where("account_id IN (?)", bun.In(accountIDs)).
		Order("created_at ASC", "id ASC")
	if activeOnly {
		q = q.Where("status = ?", models.StatusActive)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list grants by accounts: %w", err)
	}
	return grants, nil
}

// CountBySystem counts grants referencing a system, optionally only active ones
func (r *BunGrantRepository) CountBySystem(ctx context.Context, systemID string, activeOnly bool) (int, error) {
	q := r.db.NewSelect().
		Model((*models.Grant)(nil)).
		Where("system_id = ?", systemID)
	if activeOnly {
		q = q.Where("status = ?", models.StatusActive)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count grants by system: %w", err)
	}
	return count, nil
}

// SoftDelete marks the grant deleted
func (r *BunGrantRepository) SoftDelete(ctx context.Context, id, actor string) (*models.Grant, error) {
	if err := softDeleteRow(ctx, r.db, (*models.Grant)(nil), domain.EntityGrant, id, actor); err != nil {
		return nil, err
	}
	return r.GetIncludingDeleted(ctx, id)
}

// SoftDeleteActiveByAccount deletes every active grant of an account and
// returns the affected grant ids. Meant to run inside the account-delete
// transaction.
func (r *BunGrantRepository) SoftDeleteActiveByAccount(ctx context.Context, accountID, actor string) ([]string, error) {
	var ids []string
	err := r.db.NewSelect().
		Model((*models.Grant)(nil)).
		Column("id").
		Where("account_id = ?", accountID).
		Where("status = ?", models.StatusActive).
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list active grants for account: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	result, err := r.db.NewUpdate().
		Model((*models.Grant)(nil)).
		Set("status = ?", models.StatusDeleted).
		Set("deleted_at = ?", now).
		Set("deleted_by = ?", nullable(actor)).
		Set("updated_at = ?", now).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", models.StatusActive).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("cascade delete grants: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if int(rowsAffected) != len(ids) {
		return nil, fmt.Errorf("cascade delete grants: expected %d rows, updated %d", len(ids), rowsAffected)
	}
	return ids, nil
}

// Restore marks a deleted grant active again. Reference checks are the caller's.
func (r *BunGrantRepository) Restore(ctx context.Context, id string) (*models.Grant, error) {
	if err := restoreRow(ctx, r.db, (*models.Grant)(nil), domain.EntityGrant, id); err != nil {
		return nil, err
	}
	return r.GetIncludingDeleted(ctx, id)
}
