package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// errorBody is the JSON shape of every failed response. Optional fields are
// filled per error kind so callers can act on them.
type errorBody struct {
	Success       bool       `json:"success"`
	Error         string     `json:"error"`
	Field         string     `json:"field,omitempty"`
	RejectedRoles []string   `json:"rejectedRoles,omitempty"`
	ValidRoles    []string   `json:"validRoles,omitempty"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	DeletedBy     *string    `json:"deletedBy,omitempty"`
	Side          string     `json:"side,omitempty"`
	Grants        int        `json:"grants,omitempty"`
	Detail        string     `json:"detail,omitempty"`
}

// statusFor maps a domain error to its HTTP status and response body.
// Unrecognized errors are 500 with the message hidden unless debug is set.
func statusFor(err error, debug bool) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var (
		validation  *domain.ValidationError
		invalid     *domain.InvalidRolesError
		notFound    *domain.NotFoundError
		reference   *domain.ReferenceNotFoundError
		duplicate   *domain.DuplicateKeyError
		inUse       *domain.InUseError
		wasDeleted  *domain.AlreadyDeletedError
		alreadyLive *domain.AlreadyActiveError
	)
	switch {
	case errors.As(err, &validation):
		body.Field = validation.Field
		return http.StatusBadRequest, body
	case errors.As(err, &invalid):
		body.RejectedRoles = invalid.Rejected
		body.ValidRoles = invalid.Available
		return http.StatusBadRequest, body
	case errors.As(err, &notFound):
		body.DeletedAt = notFound.DeletedAt
		body.DeletedBy = notFound.DeletedBy
		return http.StatusNotFound, body
	case errors.As(err, &reference):
		body.Side = reference.Side
		return http.StatusNotFound, body
	case errors.As(err, &duplicate):
		return http.StatusConflict, body
	case errors.As(err, &inUse):
		body.Grants = inUse.Grants
		return http.StatusConflict, body
	case errors.As(err, &wasDeleted), errors.As(err, &alreadyLive):
		return http.StatusConflict, body
	}

	body.Error = "internal server error"
	if debug {
		body.Detail = err.Error()
	}
	return http.StatusInternalServerError, body
}

func writeError(w http.ResponseWriter, r *http.Request, err error, debug bool) {
	status, body := statusFor(err, debug)
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, body)
}
