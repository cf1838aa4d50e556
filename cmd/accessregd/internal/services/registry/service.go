// Package registry implements the account, system and grant operations on top
// of the entity store, the integrity rules between them and the cache-aside
// layer in front of the read paths.
package registry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/cache"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/config"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/repository"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/telemetry"
)

// Read is the result of a cached query: the decoded value, the exact JSON
// payload it was served from, and where it came from.
type Read[T any] struct {
	Value   T
	Payload []byte
	Cache   cache.Status
}

// Options configure a Service.
type Options struct {
	// SystemRemovalPolicy is config.RemovalPolicyActive (default) or
	// config.RemovalPolicyAny.
	SystemRemovalPolicy string
	// Hooks overrides the post-commit hooks; nil means cache.DefaultHooks().
	Hooks *cache.HookRegistry
}

// Service is the registry's data-access core.
type Service struct {
	store  repository.Store
	cache  *cache.Client
	hooks  *cache.HookRegistry
	policy string
}

// NewService wires the store and cache. The cache client may be nil or
// unavailable; every operation then runs against the store alone.
func NewService(store repository.Store, c *cache.Client, opts Options) *Service {
	if opts.Hooks == nil {
		opts.Hooks = cache.DefaultHooks()
	}
	if opts.SystemRemovalPolicy == "" {
		opts.SystemRemovalPolicy = config.RemovalPolicyActive
	}
	return &Service{store: store, cache: c, hooks: opts.Hooks, policy: opts.SystemRemovalPolicy}
}

// RemovalPolicy returns the configured system removal policy.
func (s *Service) RemovalPolicy() string { return s.policy }

// afterCommit runs the invalidation hooks for entity. It never fails.
func (s *Service) afterCommit(ctx context.Context, entity, mutation string) {
	s.hooks.AfterCommit(ctx, s.cache, entity, mutation)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, telemetry.TracerRegistry, "registry."+name, attrs...)
}

func endSpan(span trace.Span, err *error) {
	telemetry.RecordError(span, *err)
	span.End()
}

func fetch[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (Read[T], error) {
	v, payload, status, err := cache.Fetch(ctx, s.cache, key, load)
	if err != nil {
		return Read[T]{}, err
	}
	return Read[T]{Value: v, Payload: payload, Cache: status}, nil
}

// --- accounts ---

// AccountInput is the body of an account create.
type AccountInput struct {
	Name  string
	Email string
}

// AccountUpdate carries the fields of a partial account update; nil fields
// are unchanged.
type AccountUpdate struct {
	Name  *string
	Email *string
}

// AccountDeletion is the outcome of an account delete: the account as stored
// and the grants revoked with it.
type AccountDeletion struct {
	Account       models.Account `json:"account"`
	RevokedGrants []string       `json:"revokedGrants"`
}

// CreateAccount registers a new active account.
func (s *Service) CreateAccount(ctx context.Context, in AccountInput) (_ *models.Account, err error) {
	ctx, span := startSpan(ctx, "CreateAccount")
	defer endSpan(span, &err)

	name, err := normalizeName("name", in.Name, maxAccountName)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	account := &models.Account{Name: name, Email: email}
	if err := s.store.Accounts().Create(ctx, account); err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntityAccount, "create")
	return account, nil
}

// ListAccounts returns active accounts with their active grants on active
// systems, optionally narrowed by a go-bexpr filter.
func (s *Service) ListAccounts(ctx context.Context, filter string) (Read[[]AccountView], error) {
	return fetch(ctx, s, cache.AccountsActiveKey(filter), func(ctx context.Context) ([]AccountView, error) {
		accounts, err := s.store.Accounts().ListActive(ctx, filter)
		if err != nil {
			return nil, err
		}
		return buildAccountViews(ctx, s.store, accounts, true)
	})
}

// ListAllAccounts returns every account, deleted ones included, each with
// all of its grants regardless of their state or their system's state.
func (s *Service) ListAllAccounts(ctx context.Context) (Read[[]AccountView], error) {
	return fetch(ctx, s, cache.AccountsAllKey(), func(ctx context.Context) ([]AccountView, error) {
		accounts, err := s.store.Accounts().ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return buildAccountViews(ctx, s.store, accounts, false)
	})
}

// ListDeletedAccounts returns soft-deleted accounts.
func (s *Service) ListDeletedAccounts(ctx context.Context) (Read[[]models.Account], error) {
	return fetch(ctx, s, cache.AccountsDeletedKey(), func(ctx context.Context) ([]models.Account, error) {
		accounts, err := s.store.Accounts().ListDeleted(ctx)
		if accounts == nil && err == nil {
			accounts = []models.Account{}
		}
		return accounts, err
	})
}

// GetAccount returns an active account view. A deleted account yields a
// NotFoundError carrying its deletion stamp.
func (s *Service) GetAccount(ctx context.Context, id string) (Read[AccountView], error) {
	if err := requireID("id", id); err != nil {
		return Read[AccountView]{}, err
	}
	return fetch(ctx, s, cache.AccountKey(id), func(ctx context.Context) (AccountView, error) {
		account, err := s.store.Accounts().GetActive(ctx, id)
		if err != nil {
			return AccountView{}, err
		}
		views, err := buildAccountViews(ctx, s.store, []models.Account{*account}, true)
		if err != nil {
			return AccountView{}, err
		}
		return views[0], nil
	})
}

// GetAccountIncludingDeleted is the diagnostic lookup: the account in any
// state with all of its grants. It bypasses the cache.
func (s *Service) GetAccountIncludingDeleted(ctx context.Context, id string) (*AccountView, error) {
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	account, err := s.store.Accounts().GetIncludingDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := buildAccountViews(ctx, s.store, []models.Account{*account}, false)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// UpdateAccount changes the supplied fields of an active account.
func (s *Service) UpdateAccount(ctx context.Context, id string, in AccountUpdate) (_ *models.Account, err error) {
	ctx, span := startSpan(ctx, "UpdateAccount", attribute.String(telemetry.AttrAccountID, id))
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}
	var patch repository.AccountPatch
	if in.Name != nil {
		name, err := normalizeName("name", *in.Name, maxAccountName)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		patch.Email = &email
	}
	if patch.Name == nil && patch.Email == nil {
		return nil, domain.ErrValidation("", "no fields to update")
	}

	account, err := s.store.Accounts().Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntityAccount, "update")
	return account, nil
}

// SoftDeleteAccount deletes the account and, in the same transaction, every
// active grant it holds.
func (s *Service) SoftDeleteAccount(ctx context.Context, id, actor string) (_ *AccountDeletion, err error) {
	ctx, span := startSpan(ctx, "SoftDeleteAccount",
		attribute.String(telemetry.AttrAccountID, id),
		attribute.String(telemetry.AttrActor, actor),
	)
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}

	var result AccountDeletion
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		account, revoked, err := cascadeAccountDelete(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		result = AccountDeletion{Account: *account, RevokedGrants: revoked}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.RevokedGrants == nil {
		result.RevokedGrants = []string{}
	}
	span.SetAttributes(attribute.Int(telemetry.AttrCascadeCount, len(result.RevokedGrants)))

	s.afterCommit(ctx, domain.EntityAccount, "delete")
	if len(result.RevokedGrants) > 0 {
		s.afterCommit(ctx, domain.EntityGrant, "cascade delete")
	}
	return &result, nil
}

// RestoreAccount reactivates a deleted account. Its grants stay deleted.
func (s *Service) RestoreAccount(ctx context.Context, id string) (_ *models.Account, err error) {
	ctx, span := startSpan(ctx, "RestoreAccount", attribute.String(telemetry.AttrAccountID, id))
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}
	account, err := s.store.Accounts().Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntityAccount, "restore")
	return account, nil
}

// --- systems ---

// SystemInput is the body of a system create. Empty AvailableRoles means
// DefaultRoles.
type SystemInput struct {
	Name           string
	Description    string
	AvailableRoles []string
}

// SystemUpdate carries the fields of a partial system update. A nil
// AvailableRoles leaves the catalog unchanged.
type SystemUpdate struct {
	Name           *string
	Description    *string
	AvailableRoles []string
}

// CreateSystem registers a new active system.
func (s *Service) CreateSystem(ctx context.Context, in SystemInput) (_ *models.System, err error) {
	ctx, span := startSpan(ctx, "CreateSystem")
	defer endSpan(span, &err)

	name, err := normalizeName("name", in.Name, maxSystemName)
	if err != nil {
		return nil, err
	}
	desc, err := normalizeDescription(in.Description)
	if err != nil {
		return nil, err
	}
	roles := append(models.RoleSet(nil), DefaultRoles...)
	if len(in.AvailableRoles) > 0 {
		if roles, err = normalizeRoles("availableRoles", in.AvailableRoles); err != nil {
			return nil, err
		}
	}

	system := &models.System{Name: name, Description: desc, AvailableRoles: roles}
	if err := s.store.Systems().Create(ctx, system); err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntitySystem, "create")
	return system, nil
}

// ListSystems returns active systems, optionally narrowed by a go-bexpr filter.
func (s *Service) ListSystems(ctx context.Context, filter string) (Read[[]models.System], error) {
	return fetch(ctx, s, cache.SystemsActiveKey(filter), func(ctx context.Context) ([]models.System, error) {
		systems, err := s.store.Systems().ListActive(ctx, filter)
		if systems == nil && err == nil {
			systems = []models.System{}
		}
		return systems, err
	})
}

// ListDeletedSystems returns soft-deleted systems.
func (s *Service) ListDeletedSystems(ctx context.Context) (Read[[]models.System], error) {
	return fetch(ctx, s, cache.SystemsDeletedKey(), func(ctx context.Context) ([]models.System, error) {
		systems, err := s.store.Systems().ListDeleted(ctx)
		if systems == nil && err == nil {
			systems = []models.System{}
		}
		return systems, err
	})
}

// GetSystem returns an active system.
func (s *Service) GetSystem(ctx context.Context, id string) (Read[models.System], error) {
	if err := requireID("id", id); err != nil {
		return Read[models.System]{}, err
	}
	return fetch(ctx, s, cache.SystemKey(id), func(ctx context.Context) (models.System, error) {
		system, err := s.store.Systems().GetActive(ctx, id)
		if err != nil {
			return models.System{}, err
		}
		return *system, nil
	})
}

// UpdateSystem changes the supplied fields of an active system. Existing
// grants keep their roles when the catalog shrinks; the catalog is enforced
// on the next upsert of each grant.
func (s *Service) UpdateSystem(ctx context.Context, id string, in SystemUpdate) (_ *models.System, err error) {
	ctx, span := startSpan(ctx, "UpdateSystem", attribute.String(telemetry.AttrSystemID, id))
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}
	var patch repository.SystemPatch
	if in.Name != nil {
		name, err := normalizeName("name", *in.Name, maxSystemName)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if in.Description != nil {
		desc, err := normalizeDescription(*in.Description)
		if err != nil {
			return nil, err
		}
		patch.Description = &desc
	}
	if in.AvailableRoles != nil {
		if patch.AvailableRoles, err = normalizeRoles("availableRoles", in.AvailableRoles); err != nil {
			return nil, err
		}
	}
	if patch.Name == nil && patch.Description == nil && patch.AvailableRoles == nil {
		return nil, domain.ErrValidation("", "no fields to update")
	}

	system, err := s.store.Systems().Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntitySystem, "update")
	return system, nil
}

// SoftDeleteSystem deletes a system unless the removal policy finds grants
// still referencing it. Accounts are never touched.
func (s *Service) SoftDeleteSystem(ctx context.Context, id, actor string) (_ *models.System, err error) {
	ctx, span := startSpan(ctx, "SoftDeleteSystem",
		attribute.String(telemetry.AttrSystemID, id),
		attribute.String(telemetry.AttrActor, actor),
	)
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}

	var system *models.System
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.Systems().GetIncludingDeleted(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsActive() {
			return &domain.AlreadyDeletedError{Entity: domain.EntitySystem, ID: id}
		}
		if err := checkSystemRemoval(ctx, tx, id, s.policy); err != nil {
			return err
		}
		system, err = tx.Systems().SoftDelete(ctx, id, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntitySystem, "delete")
	return system, nil
}

// RestoreSystem reactivates a deleted system.
func (s *Service) RestoreSystem(ctx context.Context, id string) (_ *models.System, err error) {
	ctx, span := startSpan(ctx, "RestoreSystem", attribute.String(telemetry.AttrSystemID, id))
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}
	system, err := s.store.Systems().Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntitySystem, "restore")
	return system, nil
}

// --- grants ---

// GrantUpsert is the outcome of UpsertGrant.
type GrantUpsert struct {
	Grant   models.Grant
	Created bool
}

// UpsertGrant sets the roles of the account on the system, creating the
// grant when the pair has none. References and roles are checked inside the
// write transaction. A deleted grant for the pair is not revived; it must be
// restored explicitly.
func (s *Service) UpsertGrant(ctx context.Context, accountID, systemID string, roles []string) (_ *GrantUpsert, err error) {
	ctx, span := startSpan(ctx, "UpsertGrant",
		attribute.String(telemetry.AttrAccountID, accountID),
		attribute.String(telemetry.AttrSystemID, systemID),
	)
	defer endSpan(span, &err)

	if err := requireID("accountId", accountID); err != nil {
		return nil, err
	}
	if err := requireID("systemId", systemID); err != nil {
		return nil, err
	}
	normalized, err := normalizeRoles("roles", roles)
	if err != nil {
		return nil, err
	}

	var result GrantUpsert
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		_, system, err := resolveReferences(ctx, tx, accountID, systemID)
		if err != nil {
			return err
		}
		if err := checkRoles(system, normalized); err != nil {
			return err
		}

		existing, err := tx.Grants().GetByPair(ctx, accountID, systemID)
		var nf *domain.NotFoundError
		switch {
		case errors.As(err, &nf):
			grant := &models.Grant{AccountID: accountID, SystemID: systemID, Roles: normalized}
			if err := tx.Grants().Create(ctx, grant); err != nil {
				return err
			}
			result = GrantUpsert{Grant: *grant, Created: true}
			return nil
		case err != nil:
			return err
		case !existing.IsActive():
			return &domain.AlreadyDeletedError{Entity: domain.EntityGrant, ID: existing.ID}
		}

		updated, err := tx.Grants().UpdateRoles(ctx, existing.ID, normalized)
		if err != nil {
			return err
		}
		result = GrantUpsert{Grant: *updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrGrantID, result.Grant.ID))

	mutation := "update"
	if result.Created {
		mutation = "create"
	}
	s.afterCommit(ctx, domain.EntityGrant, mutation)
	return &result, nil
}

// ListGrants returns every grant, in any state, joined with its account and
// system in any state.
func (s *Service) ListGrants(ctx context.Context) (Read[[]GrantView], error) {
	return fetch(ctx, s, cache.GrantsAllKey(), func(ctx context.Context) ([]GrantView, error) {
		grants, err := s.store.Grants().ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return buildGrantViews(ctx, s.store, grants, false)
	})
}

// ListActiveGrants returns active grants whose account and system are both
// active.
func (s *Service) ListActiveGrants(ctx context.Context) (Read[[]GrantView], error) {
	return fetch(ctx, s, cache.GrantsActiveKey(), func(ctx context.Context) ([]GrantView, error) {
		grants, err := s.store.Grants().ListActive(ctx)
		if err != nil {
			return nil, err
		}
		return buildGrantViews(ctx, s.store, grants, true)
	})
}

// ListDeletedGrants returns soft-deleted grants with their references.
func (s *Service) ListDeletedGrants(ctx context.Context) ([]GrantView, error) {
	grants, err := s.store.Grants().ListDeleted(ctx)
	if err != nil {
		return nil, err
	}
	return buildGrantViews(ctx, s.store, grants, false)
}

// GetGrant returns an active grant with its account and system.
func (s *Service) GetGrant(ctx context.Context, id string) (Read[GrantView], error) {
	if err := requireID("id", id); err != nil {
		return Read[GrantView]{}, err
	}
	return fetch(ctx, s, cache.GrantKey(id), func(ctx context.Context) (GrantView, error) {
		grant, err := s.store.Grants().GetActive(ctx, id)
		if err != nil {
			return GrantView{}, err
		}
		views, err := buildGrantViews(ctx, s.store, []models.Grant{*grant}, false)
		if err != nil {
			return GrantView{}, err
		}
		return views[0], nil
	})
}

// SoftDeleteGrant revokes a grant.
func (s *Service) SoftDeleteGrant(ctx context.Context, id, actor string) (_ *models.Grant, err error) {
	ctx, span := startSpan(ctx, "SoftDeleteGrant",
		attribute.String(telemetry.AttrGrantID, id),
		attribute.String(telemetry.AttrActor, actor),
	)
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}
	grant, err := s.store.Grants().SoftDelete(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntityGrant, "delete")
	return grant, nil
}

// RestoreGrant reactivates a deleted grant. Both its account and its system
// must be active.
func (s *Service) RestoreGrant(ctx context.Context, id string) (_ *models.Grant, err error) {
	ctx, span := startSpan(ctx, "RestoreGrant", attribute.String(telemetry.AttrGrantID, id))
	defer endSpan(span, &err)

	if err := requireID("id", id); err != nil {
		return nil, err
	}

	var grant *models.Grant
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.Grants().GetIncludingDeleted(ctx, id)
		if err != nil {
			return err
		}
		if current.IsActive() {
			return &domain.AlreadyActiveError{Entity: domain.EntityGrant, ID: id}
		}
		if _, _, err := resolveReferences(ctx, tx, current.AccountID, current.SystemID); err != nil {
			return err
		}
		grant, err = tx.Grants().Restore(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, domain.EntityGrant, "restore")
	return grant, nil
}

// --- cache administration ---

// CacheStatus reports the cache client's state.
func (s *Service) CacheStatus() cache.Snapshot {
	if s.cache == nil {
		return cache.Snapshot{State: cache.StateUnavailable.String()}
	}
	return s.cache.Status()
}

// ReconnectCache re-dials the cache backend.
func (s *Service) ReconnectCache(ctx context.Context) (cache.Snapshot, error) {
	if s.cache == nil {
		return s.CacheStatus(), cache.ErrDisabled
	}
	err := s.cache.Reconnect(ctx)
	return s.cache.Status(), err
}

// FlushCache drops every cached entry and returns the cleared keys.
func (s *Service) FlushCache(ctx context.Context) ([]string, error) {
	if s.cache == nil {
		return nil, cache.ErrDisabled
	}
	return s.cache.Flush(ctx)
}
