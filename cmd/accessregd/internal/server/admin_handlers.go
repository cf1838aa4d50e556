package server

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/cache"
)

// CacheAdmin is the cache control surface exposed under /admin/cache.
type CacheAdmin interface {
	CacheStatus() cache.Snapshot
	ReconnectCache(ctx context.Context) (cache.Snapshot, error)
	FlushCache(ctx context.Context) ([]string, error)
}

// MountCacheAdmin registers the cache admin endpoints on r.
func MountCacheAdmin(r chi.Router, admin CacheAdmin) {
	r.Get("/admin/cache/status", HandleCacheStatus(admin))
	r.Post("/admin/cache/reconnect", HandleCacheReconnect(admin))
	r.Post("/admin/cache/flush", HandleCacheFlush(admin))
}

// HandleCacheStatus handles GET /admin/cache/status
// Response: the cache lifecycle state, backend and last connection error
func HandleCacheStatus(admin CacheAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, admin.CacheStatus())
	}
}

// HandleCacheReconnect handles POST /admin/cache/reconnect
// A failed reconnect still answers 200 with the Unavailable snapshot; the
// registry keeps serving from the database either way.
func HandleCacheReconnect(admin CacheAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := admin.ReconnectCache(r.Context())
		if err != nil {
			log.Printf("WARNING: cache reconnect failed: %v", err)
		}
		writeData(w, http.StatusOK, snapshot)
	}
}

// HandleCacheFlush handles POST /admin/cache/flush
func HandleCacheFlush(admin CacheAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := admin.FlushCache(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}
		if keys == nil {
			keys = []string{}
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool     `json:"success"`
			Cleared int      `json:"cleared"`
			Keys    []string `json:"keys"`
		}{Success: true, Cleared: len(keys), Keys: keys})
	}
}
