package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/registry"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/validation"
)

// RegistryService defines the registry operations the HTTP handlers need.
type RegistryService interface {
	CreateAccount(ctx context.Context, in registry.AccountInput) (*models.Account, error)
	ListAccounts(ctx context.Context, filter string) (registry.Read[[]registry.AccountView], error)
	ListAllAccounts(ctx context.Context) (registry.Read[[]registry.AccountView], error)
	ListDeletedAccounts(ctx context.Context) (registry.Read[[]models.Account], error)
	GetAccount(ctx context.Context, id string) (registry.Read[registry.AccountView], error)
	GetAccountIncludingDeleted(ctx context.Context, id string) (*registry.AccountView, error)
	UpdateAccount(ctx context.Context, id string, in registry.AccountUpdate) (*models.Account, error)
	SoftDeleteAccount(ctx context.Context, id, actor string) (*registry.AccountDeletion, error)
	RestoreAccount(ctx context.Context, id string) (*models.Account, error)

	CreateSystem(ctx context.Context, in registry.SystemInput) (*models.System, error)
	ListSystems(ctx context.Context, filter string) (registry.Read[[]models.System], error)
	ListDeletedSystems(ctx context.Context) (registry.Read[[]models.System], error)
	GetSystem(ctx context.Context, id string) (registry.Read[models.System], error)
	UpdateSystem(ctx context.Context, id string, in registry.SystemUpdate) (*models.System, error)
	SoftDeleteSystem(ctx context.Context, id, actor string) (*models.System, error)
	RestoreSystem(ctx context.Context, id string) (*models.System, error)

	UpsertGrant(ctx context.Context, accountID, systemID string, roles []string) (*registry.GrantUpsert, error)
	ListGrants(ctx context.Context) (registry.Read[[]registry.GrantView], error)
	ListActiveGrants(ctx context.Context) (registry.Read[[]registry.GrantView], error)
	ListDeletedGrants(ctx context.Context) ([]registry.GrantView, error)
	GetGrant(ctx context.Context, id string) (registry.Read[registry.GrantView], error)
	SoftDeleteGrant(ctx context.Context, id, actor string) (*models.Grant, error)
	RestoreGrant(ctx context.Context, id string) (*models.Grant, error)
}

var _ RegistryService = (*registry.Service)(nil)

// RegistryHandlers serves the /api/accounts, /api/systems and /api/grants
// resources.
type RegistryHandlers struct {
	service   RegistryService
	validator *validation.RequestValidator
	debug     bool
}

// NewRegistryHandlers creates the handler set. A nil validator skips schema
// checks; the service still validates semantics.
func NewRegistryHandlers(service RegistryService, validator *validation.RequestValidator, debug bool) *RegistryHandlers {
	return &RegistryHandlers{service: service, validator: validator, debug: debug}
}

// Mount registers the registry routes on r.
func (h *RegistryHandlers) Mount(r chi.Router) {
	r.Route("/api/accounts", func(r chi.Router) {
		r.Get("/", h.ListAccounts)
		r.Post("/", h.CreateAccount)
		r.Get("/all", h.ListAllAccounts)
		r.Get("/deleted", h.ListDeletedAccounts)
		r.Get("/{id}", h.GetAccount)
		r.Get("/{id}/debug", h.DebugAccount)
		r.Put("/{id}", h.UpdateAccount)
		r.Delete("/{id}", h.DeleteAccount)
		r.Patch("/{id}/restore", h.RestoreAccount)
	})
	r.Route("/api/systems", func(r chi.Router) {
		r.Get("/", h.ListSystems)
		r.Post("/", h.CreateSystem)
		r.Get("/deleted", h.ListDeletedSystems)
		r.Get("/{id}", h.GetSystem)
		r.Put("/{id}", h.UpdateSystem)
		r.Delete("/{id}", h.DeleteSystem)
		r.Patch("/{id}/restore", h.RestoreSystem)
	})
	r.Route("/api/grants", func(r chi.Router) {
		r.Get("/", h.ListGrants)
		r.Post("/", h.UpsertGrant)
		r.Get("/deleted", h.ListDeletedGrants)
		r.Get("/{id}", h.GetGrant)
		r.Delete("/{id}", h.DeleteGrant)
		r.Patch("/{id}/restore", h.RestoreGrant)
	})
}

func (h *RegistryHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err, h.debug)
}

// --- accounts ---

type accountRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// ListAccounts handles GET /api/accounts?filter=<expr>
func (h *RegistryHandlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.ListAccounts(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCachedList(w, read.Payload, len(read.Value), read.Cache)
}

// ListAllAccounts handles GET /api/accounts/all, deleted accounts included
func (h *RegistryHandlers) ListAllAccounts(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.ListAllAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCachedList(w, read.Payload, len(read.Value), read.Cache)
}

// ListDeletedAccounts handles GET /api/accounts/deleted
func (h *RegistryHandlers) ListDeletedAccounts(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.ListDeletedAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCachedList(w, read.Payload, len(read.Value), read.Cache)
}

// CreateAccount handles POST /api/accounts
func (h *RegistryHandlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := h.decodeBody(w, r, validation.CreateAccount, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), registry.AccountInput{
		Name:  deref(req.Name),
		Email: deref(req.Email),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, account)
}

// GetAccount handles GET /api/accounts/{id}
func (h *RegistryHandlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCached(w, read.Payload, read.Cache)
}

// DebugAccount handles GET /api/accounts/{id}/debug: the account in any
// state with all of its grants, never cached.
func (h *RegistryHandlers) DebugAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetAccountIncludingDeleted(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// UpdateAccount handles PUT /api/accounts/{id}
func (h *RegistryHandlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := h.decodeBody(w, r, validation.UpdateAccount, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.UpdateAccount(r.Context(), chi.URLParam(r, "id"), registry.AccountUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, account)
}

// DeleteAccount handles DELETE /api/accounts/{id}; the actor comes from X-Actor
func (h *RegistryHandlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SoftDeleteAccount(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// RestoreAccount handles PATCH /api/accounts/{id}/restore
func (h *RegistryHandlers) RestoreAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.RestoreAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, account)
}

// --- systems ---

type systemRequest struct {
	Name           *string  `json:"name"`
	Description    *string  `json:"description"`
	AvailableRoles []string `json:"availableRoles"`
}

// ListSystems handles GET /api/systems?filter=<expr>
func (h *RegistryHandlers) ListSystems(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.ListSystems(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCachedList(w, read.Payload, len(read.Value), read.Cache)
}

// ListDeletedSystems handles GET /api/systems/deleted
func (h *RegistryHandlers) ListDeletedSystems(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.ListDeletedSystems(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCachedList(w, read.Payload, len(read.Value), read.Cache)
}

// CreateSystem handles POST /api/systems
func (h *RegistryHandlers) CreateSystem(w http.ResponseWriter, r *http.Request) {
	var req systemRequest
	if err := h.decodeBody(w, r, validation.CreateSystem, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	system, err := h.service.CreateSystem(r.Context(), registry.SystemInput{
		Name:           deref(req.Name),
		Description:    deref(req.Description),
		AvailableRoles: req.AvailableRoles,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, system)
}

// GetSystem handles GET /api/systems/{id}
func (h *RegistryHandlers) GetSystem(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.GetSystem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCached(w, read.Payload, read.Cache)
}

// UpdateSystem handles PUT /api/systems/{id}
func (h *RegistryHandlers) UpdateSystem(w http.ResponseWriter, r *http.Request) {
	var req systemRequest
	if err := h.decodeBody(w, r, validation.UpdateSystem, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	system, err := h.service.UpdateSystem(r.Context(), chi.URLParam(r, "id"), registry.SystemUpdate{
		Name:           req.Name,
		Description:    req.Description,
		AvailableRoles: req.AvailableRoles,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, system)
}

// DeleteSystem handles DELETE /api/systems/{id}
func (h *RegistryHandlers) DeleteSystem(w http.ResponseWriter, r *http.Request) {
	system, err := h.service.SoftDeleteSystem(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, system)
}

// RestoreSystem handles PATCH /api/systems/{id}/restore
func (h *RegistryHandlers) RestoreSystem(w http.ResponseWriter, r *http.Request) {
	system, err := h.service.RestoreSystem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, system)
}

// --- grants ---

type grantRequest struct {
	AccountID string   `json:"accountId"`
	SystemID  string   `json:"systemId"`
	Roles     []string `json:"roles"`
}

// ListGrants handles GET /api/grants. With ?active=true only grants whose
// account and system are active are listed.
func (h *RegistryHandlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	var (
		read registry.Read[[]registry.GrantView]
		err  error
	)
	if r.URL.Query().Get("active") == "true" {
		read, err = h.service.ListActiveGrants(r.Context())
	} else {
		read, err = h.service.ListGrants(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCachedList(w, read.Payload, len(read.Value), read.Cache)
}

// ListDeletedGrants handles GET /api/grants/deleted
func (h *RegistryHandlers) ListDeletedGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.ListDeletedGrants(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeList(w, grants)
}

// UpsertGrant handles POST /api/grants: 201 when the grant was created,
// 200 when an existing grant's roles were replaced.
func (h *RegistryHandlers) UpsertGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := h.decodeBody(w, r, validation.UpsertGrant, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.UpsertGrant(r.Context(), req.AccountID, req.SystemID, req.Roles)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, struct {
		Success bool         `json:"success"`
		Created bool         `json:"created"`
		Data    models.Grant `json:"data"`
	}{Success: true, Created: result.Created, Data: result.Grant})
}

// GetGrant handles GET /api/grants/{id}
func (h *RegistryHandlers) GetGrant(w http.ResponseWriter, r *http.Request) {
	read, err := h.service.GetGrant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCached(w, read.Payload, read.Cache)
}

// DeleteGrant handles DELETE /api/grants/{id}
func (h *RegistryHandlers) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	grant, err := h.service.SoftDeleteGrant(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, grant)
}

// RestoreGrant handles PATCH /api/grants/{id}/restore
func (h *RegistryHandlers) RestoreGrant(w http.ResponseWriter, r *http.Request) {
	grant, err := h.service.RestoreGrant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, grant)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

