package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/cache"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/registry"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/validation"
)

// mockRegistryService overrides the operations a test needs. Calling an
// operation without a func set panics through the nil embedded interface.
type mockRegistryService struct {
	RouterService

	createAccountFunc     func(ctx context.Context, in registry.AccountInput) (*models.Account, error)
	listAccountsFunc      func(ctx context.Context, filter string) (registry.Read[[]registry.AccountView], error)
	getAccountFunc        func(ctx context.Context, id string) (registry.Read[registry.AccountView], error)
	updateAccountFunc     func(ctx context.Context, id string, in registry.AccountUpdate) (*models.Account, error)
	softDeleteAccountFunc func(ctx context.Context, id, actor string) (*registry.AccountDeletion, error)
	softDeleteSystemFunc  func(ctx context.Context, id, actor string) (*models.System, error)
	upsertGrantFunc       func(ctx context.Context, accountID, systemID string, roles []string) (*registry.GrantUpsert, error)
	listGrantsFunc        func(ctx context.Context) (registry.Read[[]registry.GrantView], error)
	listActiveGrantsFunc  func(ctx context.Context) (registry.Read[[]registry.GrantView], error)
	restoreGrantFunc      func(ctx context.Context, id string) (*models.Grant, error)
	cacheStatusFunc       func() cache.Snapshot
	reconnectCacheFunc    func(ctx context.Context) (cache.Snapshot, error)
	flushCacheFunc        func(ctx context.Context) ([]string, error)
}

func (m *mockRegistryService) CreateAccount(ctx context.Context, in registry.AccountInput) (*models.Account, error) {
	return m.createAccountFunc(ctx, in)
}

func (m *mockRegistryService) ListAccounts(ctx context.Context, filter string) (registry.Read[[]registry.AccountView], error) {
	return m.listAccountsFunc(ctx, filter)
}

func (m *mockRegistryService) GetAccount(ctx context.Context, id string) (registry.Read[registry.AccountView], error) {
	return m.getAccountFunc(ctx, id)
}

func (m *mockRegistryService) UpdateAccount(ctx context.Context, id string, in registry.AccountUpdate) (*models.Account, error) {
	return m.updateAccountFunc(ctx, id, in)
}

func (m *mockRegistryService) SoftDeleteAccount(ctx context.Context, id, actor string) (*registry.AccountDeletion, error) {
	return m.softDeleteAccountFunc(ctx, id, actor)
}

func (m *mockRegistryService) SoftDeleteSystem(ctx context.Context, id, actor string) (*models.System, error) {
	return m.softDeleteSystemFunc(ctx, id, actor)
}

func (m *mockRegistryService) UpsertGrant(ctx context.Context, accountID, systemID string, roles []string) (*registry.GrantUpsert, error) {
	return m.upsertGrantFunc(ctx, accountID, systemID, roles)
}

func (m *mockRegistryService) ListGrants(ctx context.Context) (registry.Read[[]registry.GrantView], error) {
	return m.listGrantsFunc(ctx)
}

func (m *mockRegistryService) ListActiveGrants(ctx context.Context) (registry.Read[[]registry.GrantView], error) {
	return m.listActiveGrantsFunc(ctx)
}

func (m *mockRegistryService) RestoreGrant(ctx context.Context, id string) (*models.Grant, error) {
	return m.restoreGrantFunc(ctx, id)
}

func (m *mockRegistryService) CacheStatus() cache.Snapshot {
	return m.cacheStatusFunc()
}

func (m *mockRegistryService) ReconnectCache(ctx context.Context) (cache.Snapshot, error) {
	return m.reconnectCacheFunc(ctx)
}

func (m *mockRegistryService) FlushCache(ctx context.Context) ([]string, error) {
	return m.flushCacheFunc(ctx)
}

func newTestRouter(t *testing.T, svc *mockRegistryService, debug bool) http.Handler {
	t.Helper()
	validator, err := validation.NewRequestValidator(16)
	require.NoError(t, err)
	return NewRouter(RouterOptions{Service: svc, Validator: validator, Debug: debug})
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateAccount(t *testing.T) {
	var got registry.AccountInput
	svc := &mockRegistryService{
		createAccountFunc: func(_ context.Context, in registry.AccountInput) (*models.Account, error) {
			got = in
			return &models.Account{ID: "acc-1", Name: in.Name, Email: "alice@x.io"}, nil
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPost, "/api/accounts", map[string]string{"name": "Alice", "email": "Alice@X.io"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, registry.AccountInput{Name: "Alice", Email: "Alice@X.io"}, got)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "acc-1", body["data"].(map[string]any)["id"])
}

func TestCreateAccount_SchemaRejection(t *testing.T) {
	svc := &mockRegistryService{}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPost, "/api/accounts", map[string]string{"name": "Alice", "extra": "x"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func TestCreateAccount_Duplicate(t *testing.T) {
	svc := &mockRegistryService{
		createAccountFunc: func(context.Context, registry.AccountInput) (*models.Account, error) {
			return nil, &domain.DuplicateKeyError{Entity: domain.EntityAccount, Key: "email alice@x.io"}
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPost, "/api/accounts", map[string]string{"name": "Alice", "email": "alice@x.io"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "already exists")
}

func TestGetAccount_CacheHeader(t *testing.T) {
	payload := []byte(`{"id":"acc-1","name":"Alice","grants":[]}`)
	for _, status := range []cache.Status{cache.StatusMiss, cache.StatusHit} {
		t.Run(string(status), func(t *testing.T) {
			svc := &mockRegistryService{
				getAccountFunc: func(_ context.Context, id string) (registry.Read[registry.AccountView], error) {
					assert.Equal(t, "acc-1", id)
					return registry.Read[registry.AccountView]{Payload: payload, Cache: status}, nil
				},
			}
			h := newTestRouter(t, svc, false)

			rec := do(t, h, http.MethodGet, "/api/accounts/acc-1", nil)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, string(status), rec.Header().Get("X-Cache"))
			var body struct {
				Success bool            `json:"success"`
				Data    json.RawMessage `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.JSONEq(t, string(payload), string(body.Data))
		})
	}
}

func TestGetAccount_BypassHasNoHeader(t *testing.T) {
	svc := &mockRegistryService{
		getAccountFunc: func(context.Context, string) (registry.Read[registry.AccountView], error) {
			return registry.Read[registry.AccountView]{Payload: []byte(`{}`), Cache: cache.StatusBypass}, nil
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodGet, "/api/accounts/acc-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestGetAccount_DeletedCarriesMetadata(t *testing.T) {
	deletedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	by := "ops"
	svc := &mockRegistryService{
		getAccountFunc: func(context.Context, string) (registry.Read[registry.AccountView], error) {
			return registry.Read[registry.AccountView]{}, &domain.NotFoundError{
				Entity: domain.EntityAccount, ID: "acc-1", DeletedAt: &deletedAt, DeletedBy: &by,
			}
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodGet, "/api/accounts/acc-1", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "2026-10-01T12:00:00Z", body["deletedAt"])
	assert.Equal(t, "ops", body["deletedBy"])
}

func TestListAccounts_FilterAndCount(t *testing.T) {
	var gotFilter string
	svc := &mockRegistryService{
		listAccountsFunc: func(_ context.Context, filter string) (registry.Read[[]registry.AccountView], error) {
			gotFilter = filter
			views := []registry.AccountView{{Account: models.Account{ID: "a"}}, {Account: models.Account{ID: "b"}}}
			raw, _ := json.Marshal(views)
			return registry.Read[[]registry.AccountView]{Value: views, Payload: raw, Cache: cache.StatusMiss}, nil
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodGet, `/api/accounts?filter=name+%3D%3D+%22Alice%22`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `name == "Alice"`, gotFilter)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["count"])
	assert.Len(t, body["data"], 2)
}

func TestUpdateAccount_PartialFields(t *testing.T) {
	var got registry.AccountUpdate
	svc := &mockRegistryService{
		updateAccountFunc: func(_ context.Context, _ string, in registry.AccountUpdate) (*models.Account, error) {
			got = in
			return &models.Account{ID: "acc-1", Name: *in.Name}, nil
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPut, "/api/accounts/acc-1", map[string]string{"name": "Bob"})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Name)
	assert.Equal(t, "Bob", *got.Name)
	assert.Nil(t, got.Email)

	rec = do(t, h, http.MethodPut, "/api/accounts/acc-1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAccount_UsesActorHeader(t *testing.T) {
	var gotActor string
	svc := &mockRegistryService{
		softDeleteAccountFunc: func(_ context.Context, id, actor string) (*registry.AccountDeletion, error) {
			gotActor = actor
			return &registry.AccountDeletion{Account: models.Account{ID: id}, RevokedGrants: []string{"g1", "g2"}}, nil
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodDelete, "/api/accounts/acc-1", nil, "X-Actor", "ops")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", gotActor)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Len(t, data["revokedGrants"], 2)
}

func TestDeleteSystem_InUse(t *testing.T) {
	svc := &mockRegistryService{
		softDeleteSystemFunc: func(context.Context, string, string) (*models.System, error) {
			return nil, &domain.InUseError{SystemID: "sys-1", Grants: 3, Policy: "active"}
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodDelete, "/api/systems/sys-1", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["grants"])
}

func TestUpsertGrant_CreatedThenUpdated(t *testing.T) {
	created := true
	svc := &mockRegistryService{
		upsertGrantFunc: func(_ context.Context, accountID, systemID string, roles []string) (*registry.GrantUpsert, error) {
			grant := models.Grant{ID: "g1", AccountID: accountID, SystemID: systemID, Roles: roles}
			return &registry.GrantUpsert{Grant: grant, Created: created}, nil
		},
	}
	h := newTestRouter(t, svc, false)
	req := map[string]any{"accountId": "acc-1", "systemId": "sys-1", "roles": []string{"view"}}

	rec := do(t, h, http.MethodPost, "/api/grants", req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decode(t, rec)["created"])

	created = false
	rec = do(t, h, http.MethodPost, "/api/grants", req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["created"])
}

func TestUpsertGrant_InvalidRoles(t *testing.T) {
	svc := &mockRegistryService{
		upsertGrantFunc: func(context.Context, string, string, []string) (*registry.GrantUpsert, error) {
			return nil, &domain.InvalidRolesError{
				SystemID:  "sys-1",
				Rejected:  []string{"superuser"},
				Available: []string{"read", "write"},
			}
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPost, "/api/grants",
		map[string]any{"accountId": "acc-1", "systemId": "sys-1", "roles": []string{"superuser"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{"superuser"}, body["rejectedRoles"])
	assert.Equal(t, []any{"read", "write"}, body["validRoles"])
}

func TestUpsertGrant_ReferenceNotFound(t *testing.T) {
	svc := &mockRegistryService{
		upsertGrantFunc: func(context.Context, string, string, []string) (*registry.GrantUpsert, error) {
			return nil, &domain.ReferenceNotFoundError{Side: "system", ID: "sys-9"}
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPost, "/api/grants",
		map[string]any{"accountId": "acc-1", "systemId": "sys-9", "roles": []string{"view"}})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "system", decode(t, rec)["side"])
}

func TestUpsertGrant_EmptyRolesRejectedBySchema(t *testing.T) {
	svc := &mockRegistryService{}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPost, "/api/grants",
		map[string]any{"accountId": "acc-1", "systemId": "sys-1", "roles": []string{}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListGrants_ActiveSwitch(t *testing.T) {
	var calls []string
	read := func(name string) func(context.Context) (registry.Read[[]registry.GrantView], error) {
		return func(context.Context) (registry.Read[[]registry.GrantView], error) {
			calls = append(calls, name)
			return registry.Read[[]registry.GrantView]{Payload: []byte(`[]`), Cache: cache.StatusMiss}, nil
		}
	}
	svc := &mockRegistryService{listGrantsFunc: read("all"), listActiveGrantsFunc: read("active")}
	h := newTestRouter(t, svc, false)

	do(t, h, http.MethodGet, "/api/grants", nil)
	do(t, h, http.MethodGet, "/api/grants?active=true", nil)

	assert.Equal(t, []string{"all", "active"}, calls)
}

func TestRestoreGrant_AlreadyActive(t *testing.T) {
	svc := &mockRegistryService{
		restoreGrantFunc: func(_ context.Context, id string) (*models.Grant, error) {
			return nil, &domain.AlreadyActiveError{Entity: domain.EntityGrant, ID: id}
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodPatch, "/api/grants/g1/restore", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInternalErrorDetail(t *testing.T) {
	failing := func(context.Context, string) (registry.Read[registry.AccountView], error) {
		return registry.Read[registry.AccountView]{}, errors.New("connection refused")
	}

	t.Run("hidden", func(t *testing.T) {
		h := newTestRouter(t, &mockRegistryService{getAccountFunc: failing}, false)
		rec := do(t, h, http.MethodGet, "/api/accounts/acc-1", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "internal server error", body["error"])
		assert.NotContains(t, body, "detail")
	})

	t.Run("debug", func(t *testing.T) {
		h := newTestRouter(t, &mockRegistryService{getAccountFunc: failing}, true)
		rec := do(t, h, http.MethodGet, "/api/accounts/acc-1", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "connection refused", decode(t, rec)["detail"])
	})
}

func TestCacheAdminEndpoints(t *testing.T) {
	svc := &mockRegistryService{
		cacheStatusFunc: func() cache.Snapshot {
			return cache.Snapshot{State: "ready", Backend: "memory", TTL: "5m0s"}
		},
		reconnectCacheFunc: func(context.Context) (cache.Snapshot, error) {
			return cache.Snapshot{State: "unavailable", LastError: "dial tcp: refused"}, errors.New("dial tcp: refused")
		},
		flushCacheFunc: func(context.Context) ([]string, error) {
			return []string{"accounts:all", "grants:all"}, nil
		},
	}
	h := newTestRouter(t, svc, false)

	rec := do(t, h, http.MethodGet, "/admin/cache/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["data"].(map[string]any)["state"])

	rec = do(t, h, http.MethodPost, "/admin/cache/reconnect", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["data"].(map[string]any)["state"])

	rec = do(t, h, http.MethodPost, "/admin/cache/flush", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["cleared"])
}

func TestHealth(t *testing.T) {
	h := NewRouter(RouterOptions{})

	rec := do(t, h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
