package registry

import (
	"context"
	"errors"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/config"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/repository"
)

// resolveReferences loads the active account and system a grant points at.
// A missing or deleted side becomes ReferenceNotFoundError naming that side.
func resolveReferences(ctx context.Context, tx repository.Store, accountID, systemID string) (*models.Account, *models.System, error) {
	account, err := tx.Accounts().GetActive(ctx, accountID)
	if err != nil {
		return nil, nil, asReference(err, domain.EntityAccount, accountID)
	}
	system, err := tx.Systems().GetActive(ctx, systemID)
	if err != nil {
		return nil, nil, asReference(err, domain.EntitySystem, systemID)
	}
	return account, system, nil
}

func asReference(err error, side, id string) error {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return &domain.ReferenceNotFoundError{Side: side, ID: id}
	}
	return err
}

// checkRoles requires every requested role to be in the system's catalog.
func checkRoles(system *models.System, roles models.RoleSet) error {
	if rejected := roles.Difference(system.AvailableRoles); len(rejected) > 0 {
		return &domain.InvalidRolesError{
			SystemID:  system.ID,
			Rejected:  rejected,
			Available: append([]string(nil), system.AvailableRoles...),
		}
	}
	return nil
}

// checkSystemRemoval applies the removal policy: "active" blocks while an
// active grant references the system, "any" while any grant row does.
func checkSystemRemoval(ctx context.Context, tx repository.Store, systemID, policy string) error {
	activeOnly := policy != config.RemovalPolicyAny
	n, err := tx.Grants().CountBySystem(ctx, systemID, activeOnly)
	if err != nil {
		return err
	}
	if n > 0 {
		return &domain.InUseError{SystemID: systemID, Grants: n, Policy: policy}
	}
	return nil
}

// cascadeAccountDelete soft-deletes the account and every active grant it
// holds with the same actor. It must run inside a transaction so a failure
// leaves neither change behind.
func cascadeAccountDelete(ctx context.Context, tx repository.Store, accountID, actor string) (*models.Account, []string, error) {
	account, err := tx.Accounts().SoftDelete(ctx, accountID, actor)
	if err != nil {
		return nil, nil, err
	}
	revoked, err := tx.Grants().SoftDeleteActiveByAccount(ctx, accountID, actor)
	if err != nil {
		return nil, nil, err
	}
	return account, revoked, nil
}
