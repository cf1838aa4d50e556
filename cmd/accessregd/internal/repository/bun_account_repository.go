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

// BunAccountRepository implements AccountRepository using Bun ORM
type BunAccountRepository struct {
	db bun.IDB
}

// NewBunAccountRepository creates a new Bun-based account repository
func NewBunAccountRepository(db bun.IDB) *BunAccountRepository {
	return &BunAccountRepository{db: db}
}

// Create inserts a new active account
func (r *BunAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = bunx.NewUUIDv7()
	}
	now := time.Now().UTC()
	account.Status = models.StatusActive
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(account).
		Exec(ctx)
	if err != nil {
		if mapped := mapDBError(err, domain.EntityAccount, account.ID, "email "+account.Email); mapped != nil {
			return mapped
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetActive returns the account only when it is active. A soft-deleted account
// yields a NotFoundError carrying its deletion stamp.
func (r *BunAccountRepository) GetActive(ctx context.Context, id string) (*models.Account, error) {
	account, err := r.GetIncludingDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, notFoundFor(domain.EntityAccount, id, &account.Lifecycle)
	}
	return account, nil
}

// GetIncludingDeleted returns the account regardless of lifecycle state
func (r *BunAccountRepository) GetIncludingDeleted(ctx context.Context, id string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if mapped := mapDBError(err, domain.EntityAccount, id, ""); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("get account by ID: %w", err)
	}
	return account, nil
}

// GetByIDs batch-loads accounts regardless of lifecycle state. Missing ids are
// skipped.
func (r *BunAccountRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var accounts []models.Account
	err := r.db.NewSelect().
		Model(&accounts).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get accounts by IDs: %w", err)
	}
	return accounts, nil
}

// ListActive returns active accounts in creation order, narrowed by an
// optional go-bexpr filter over id, name, email and status.
func (r *BunAccountRepository) ListActive(ctx context.Context, filter string) ([]models.Account, error) {
	accounts, err := r.list(ctx, models.StatusActive)
	if err != nil {
		return nil, err
	}
	return filterAccounts(filter, accounts)
}

// ListDeleted returns soft-deleted accounts
func (r *BunAccountRepository) ListDeleted(ctx context.Context) ([]models.Account, error) {
	return r.list(ctx, models.StatusDeleted)
}

// ListAll returns every account row
func (r *BunAccountRepository) ListAll(ctx context.Context) ([]models.Account, error) {
	return r.list(ctx, "")
}

func (r *BunAccountRepository) list(ctx context.Context, status models.Status) ([]models.Account, error) {
	var accounts []models.Account
	q := r.db.NewSelect().
		Model(&accounts).
		Order("created_at ASC", "id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Update applies a partial update to an active account
func (r *BunAccountRepository) Update(ctx context.Context, id string, patch AccountPatch) (*models.Account, error) {
	q := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.StatusActive)
	key := ""
	if patch.Name != nil {
		q = q.Set("name = ?", *patch.Name)
	}
	if patch.Email != nil {
		q = q.Set("email = ?", *patch.Email)
		key = "email " + *patch.Email
	}

	result, err := q.Exec(ctx)
	if err != nil {
		if mapped := mapDBError(err, domain.EntityAccount, id, key); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("update account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, domain.ErrNotFound(domain.EntityAccount, id)
	}

	return r.GetIncludingDeleted(ctx, id)
}

// SoftDelete marks the account deleted. Grants are handled by the caller.
func (r *BunAccountRepository) SoftDelete(ctx context.Context, id, actor string) (*models.Account, error) {
	if err := softDeleteRow(ctx, r.db, (*models.Account)(nil), domain.EntityAccount, id, actor); err != nil {
		return nil, err
	}
	return r.GetIncludingDeleted(ctx, id)
}

// Restore marks a deleted account active again
func (r *BunAccountRepository) Restore(ctx context.Context, id string) (*models.Account, error) {
	if err := restoreRow(ctx, r.db, (*models.Account)(nil), domain.EntityAccount, id); err != nil {
		return nil, err
	}
	return r.GetIncludingDeleted(ctx, id)
}
