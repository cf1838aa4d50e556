package repository

import (
	"context"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
)

// AccountPatch carries the fields of a partial account update. Nil fields are
// left unchanged.
type AccountPatch struct {
	Name  *string
	Email *string
}

// SystemPatch carries the fields of a partial system update.
type SystemPatch struct {
	Name           *string
	Description    *string
	AvailableRoles models.RoleSet
}

// AccountRepository exposes persistence operations for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetActive(ctx context.Context, id string) (*models.Account, error)
	GetIncludingDeleted(ctx context.Context, id string) (*models.Account, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Account, error)
	ListActive(ctx context.Context, filter string) ([]models.Account, error)
	ListDeleted(ctx context.Context) ([]models.Account, error)
	ListAll(ctx context.Context) ([]models.Account, error)
	Update(ctx context.Context, id string, patch AccountPatch) (*models.Account, error)
	SoftDelete(ctx context.Context, id, actor string) (*models.Account, error)
	Restore(ctx context.Context, id string) (*models.Account, error)
}

// SystemRepository exposes persistence operations for registered systems.
type SystemRepository interface {
	Create(ctx context.Context, system *models.System) error
	GetActive(ctx context.Context, id string) (*models.System, error)
	GetIncludingDeleted(ctx context.Context, id string) (*models.System, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.System, error)
	ListActive(ctx context.Context, filter string) ([]models.System, error)
	ListDeleted(ctx context.Context) ([]models.System, error)
	Update(ctx context.Context, id string, patch SystemPatch) (*models.System, error)
	SoftDelete(ctx context.Context, id, actor string) (*models.System, error)
	Restore(ctx context.Context, id string) (*models.System, error)
}

// GrantRepository exposes persistence operations for grants.
type GrantRepository interface {
	Create(ctx context.Context, grant *models.Grant) error
	GetActive(ctx context.Context, id string) (*models.Grant, error)
	GetIncludingDeleted(ctx context.Context, id string) (*models.Grant, error)
	GetByPair(ctx context.Context, accountID, systemID string) (*models.Grant, error)
	UpdateRoles(ctx context.Context, id string, roles models.RoleSet) (*models.Grant, error)
	ListActive(ctx context.Context) ([]models.Grant, error)
	ListDeleted(ctx context.Context) ([]models.Grant, error)
	ListAll(ctx context.Context) ([]models.Grant, error)
	ListByAccountIDs(ctx context.Context, accountIDs []string, activeOnly bool) ([]models.Grant, error)
	CountBySystem(ctx context.Context, systemID string, activeOnly bool) (int, error)
	SoftDelete(ctx context.Context, id, actor string) (*models.Grant, error)
	SoftDeleteActiveByAccount(ctx context.Context, accountID, actor string) ([]string, error)
	Restore(ctx context.Context, id string) (*models.Grant, error)
}

// Store groups the repositories behind one transaction boundary.
// Repositories returned by the Store passed to RunInTx's callback run inside
// that transaction.
type Store interface {
	Accounts() AccountRepository
	Systems() SystemRepository
	Grants() GrantRepository
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
