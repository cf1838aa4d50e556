// Package domain defines the error taxonomy shared by the registry store,
// services and HTTP boundary.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Entity names used in error messages and cache families.
const (
	EntityAccount = "account"
	EntitySystem  = "system"
	EntityGrant   = "grant"
)

// ValidationError indicates malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DuplicateKeyError indicates a uniqueness constraint violation
// (account email, system name, or account+system pair).
type DuplicateKeyError struct {
	Entity string
	Key    string
}

func (e *DuplicateKeyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s already exists", e.Entity)
	}
	return fmt.Sprintf("%s with %s already exists", e.Entity, e.Key)
}

// NotFoundError indicates an entity is absent or invisible under the default
// scope. DeletedAt and DeletedBy are set when the entity exists but is
// soft-deleted, so callers can tell "never existed" from "was deleted".
type NotFoundError struct {
	Entity    string
	ID        string
	DeletedAt *time.Time
	DeletedBy *string
}

func (e *NotFoundError) Error() string {
	if e.DeletedAt != nil {
		return fmt.Sprintf("%s %s was deleted", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// AlreadyDeletedError rejects a soft delete of an entity that is already deleted.
type AlreadyDeletedError struct {
	Entity string
	ID     string
}

func (e *AlreadyDeletedError) Error() string {
	return fmt.Sprintf("%s %s is already deleted", e.Entity, e.ID)
}

// AlreadyActiveError rejects a restore of an entity that is already active.
type AlreadyActiveError struct {
	Entity string
	ID     string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("%s %s is already active", e.Entity, e.ID)
}

// ReferenceNotFoundError indicates a grant points at a missing or deleted
// account or system. Side names which reference failed.
type ReferenceNotFoundError struct {
	Side string
	ID   string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("referenced %s not found or inactive: %s", e.Side, e.ID)
}

// InvalidRolesError lists requested roles missing from a system's catalog,
// together with the catalog so the caller can correct the request.
type InvalidRolesError struct {
	SystemID  string
	Rejected  []string
	Available []string
}

func (e *InvalidRolesError) Error() string {
	return fmt.Sprintf("invalid roles for system %s: %s (valid roles: %s)",
		e.SystemID, strings.Join(e.Rejected, ", "), strings.Join(e.Available, ", "))
}

// InUseError blocks removal of a system that grants still reference.
type InUseError struct {
	SystemID string
	Grants   int
	Policy   string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("system %s is referenced by %d grant(s) (policy: %s)", e.SystemID, e.Grants, e.Policy)
}

// ErrValidation creates a ValidationError for a field with a formatted message.
func ErrValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError for an entity id.
func ErrNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}
