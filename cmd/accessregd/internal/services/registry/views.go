package registry

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/repository"
)

// SystemRef is the system embedded in an account's grant list.
type SystemRef struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	AvailableRoles models.RoleSet `json:"availableRoles"`
	Status         models.Status  `json:"status"`
}

// AccountGrant is one grant as shown inside an AccountView.
type AccountGrant struct {
	ID        string         `json:"id"`
	Roles     models.RoleSet `json:"roles"`
	Status    models.Status  `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	System    SystemRef      `json:"system"`
}

// AccountView is an account with its grants and their resolved systems.
type AccountView struct {
	models.Account
	Grants []AccountGrant `json:"grants"`
}

// AccountRef is the account embedded in a GrantView.
type AccountRef struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Email  string        `json:"email"`
	Status models.Status `json:"status"`
}

// SystemSummary is the system embedded in a GrantView.
type SystemSummary struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Status models.Status `json:"status"`
}

// GrantView is a grant joined with its account and system.
type GrantView struct {
	models.Grant
	Account AccountRef    `json:"account"`
	System  SystemSummary `json:"system"`
}

// buildAccountViews attaches grants to accounts with two batch queries: one
// for the grants of every account, one for the systems those grants
// reference. With activeOnly, deleted grants and grants on deleted systems
// are left out. Output order follows accounts.
func buildAccountViews(ctx context.Context, store repository.Store, accounts []models.Account, activeOnly bool) ([]AccountView, error) {
	views := make([]AccountView, len(accounts))
	if len(accounts) == 0 {
		return views, nil
	}

	accountIDs := make([]string, len(accounts))
	for i := range accounts {
		accountIDs[i] = accounts[i].ID
	}
	grants, err := store.Grants().ListByAccountIDs(ctx, accountIDs, activeOnly)
	if err != nil {
		return nil, err
	}

	systems, err := store.Systems().GetByIDs(ctx, uniqueIDs(grants, func(g *models.Grant) string { return g.SystemID }))
	if err != nil {
		return nil, err
	}
	systemsByID := indexSystems(systems)

	byAccount := make(map[string][]AccountGrant, len(accounts))
	for i := range grants {
		g := &grants[i]
		sys, ok := systemsByID[g.SystemID]
		if activeOnly && (!ok || !sys.IsActive()) {
			continue
		}
		ref := SystemRef{ID: g.SystemID}
		if ok {
			ref = SystemRef{ID: sys.ID, Name: sys.Name, AvailableRoles: sys.AvailableRoles, Status: sys.Status}
		}
		byAccount[g.AccountID] = append(byAccount[g.AccountID], AccountGrant{
			ID:        g.ID,
			Roles:     g.Roles,
			Status:    g.Status,
			CreatedAt: g.CreatedAt,
			System:    ref,
		})
	}

	for i := range accounts {
		views[i] = AccountView{Account: accounts[i], Grants: byAccount[accounts[i].ID]}
		if views[i].Grants == nil {
			views[i].Grants = []AccountGrant{}
		}
	}
	return views, nil
}

// buildGrantViews resolves the accounts and systems of grants with one batch
// query each, run concurrently. With activeOnly, grants whose account or
// system is deleted are left out. Output order follows grants.
func buildGrantViews(ctx context.Context, store repository.Store, grants []models.Grant, activeOnly bool) ([]GrantView, error) {
	views := make([]GrantView, 0, len(grants))
	if len(grants) == 0 {
		return views, nil
	}

	var (
		accounts []models.Account
		systems  []models.System
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = store.Accounts().GetByIDs(gctx, uniqueIDs(grants, func(g *models.Grant) string { return g.AccountID }))
		return err
	})
	g.Go(func() error {
		var err error
		systems, err = store.Systems().GetByIDs(gctx, uniqueIDs(grants, func(g *models.Grant) string { return g.SystemID }))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	accountsByID := make(map[string]*models.Account, len(accounts))
	for i := range accounts {
		accountsByID[accounts[i].ID] = &accounts[i]
	}
	systemsByID := indexSystems(systems)

	for i := range grants {
		grant := grants[i]
		acc, accOK := accountsByID[grant.AccountID]
		sys, sysOK := systemsByID[grant.SystemID]
		if activeOnly && (!accOK || !acc.IsActive() || !sysOK || !sys.IsActive()) {
			continue
		}

		view := GrantView{
			Grant:   grant,
			Account: AccountRef{ID: grant.AccountID},
			System:  SystemSummary{ID: grant.SystemID},
		}
		if accOK {
			view.Account = AccountRef{ID: acc.ID, Name: acc.Name, Email: acc.Email, Status: acc.Status}
		}
		if sysOK {
			view.System = SystemSummary{ID: sys.ID, Name: sys.Name, Status: sys.Status}
		}
		views = append(views, view)
	}
	return views, nil
}

func uniqueIDs(grants []models.Grant, pick func(*models.Grant) string) []string {
	seen := make(map[string]struct{}, len(grants))
	ids := make([]string, 0, len(grants))
	for i := range grants {
		id := pick(&grants[i])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func indexSystems(systems []models.System) map[string]*models.System {
	out := make(map[string]*models.System, len(systems))
	for i := range systems {
		out[systems[i].ID] = &systems[i]
	}
	return out
}
