package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/cache"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

const (
	headerCache = "X-Cache"
	headerActor = "X-Actor"

	maxBodyBytes = 1 << 20
)

type dataBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type listBody struct {
	Success bool            `json:"success"`
	Count   int             `json:"count"`
	Data    json.RawMessage `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataBody{Success: true, Data: v})
}

// writeCached writes a cached read. The payload bytes are embedded as-is so
// a hit is served exactly as it was stored.
func writeCached(w http.ResponseWriter, payload []byte, status cache.Status) {
	setCacheHeader(w, status)
	writeJSON(w, http.StatusOK, dataBody{Success: true, Data: json.RawMessage(payload)})
}

func writeCachedList(w http.ResponseWriter, payload []byte, count int, status cache.Status) {
	setCacheHeader(w, status)
	writeJSON(w, http.StatusOK, listBody{Success: true, Count: count, Data: json.RawMessage(payload)})
}

// setCacheHeader exposes HIT or MISS. A bypassed read carries no header.
func setCacheHeader(w http.ResponseWriter, status cache.Status) {
	if status == cache.StatusHit || status == cache.StatusMiss {
		w.Header().Set(headerCache, string(status))
	}
}

func writeList[T any](w http.ResponseWriter, items []T) {
	raw, err := json.Marshal(items)
	if err != nil {
		raw = []byte("[]")
	}
	writeJSON(w, http.StatusOK, listBody{Success: true, Count: len(items), Data: raw})
}

// readBody reads a bounded request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.ErrValidation("body", "read request body: %v", err)
	}
	return body, nil
}

// decodeBody validates the body against schema and decodes it into dst.
func (h *RegistryHandlers) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if h.validator != nil {
		if err := h.validator.Validate(schema, body); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.ErrValidation("body", "decode request: %v", err)
	}
	return nil
}

func actor(r *http.Request) string {
	return r.Header.Get(headerActor)
}
