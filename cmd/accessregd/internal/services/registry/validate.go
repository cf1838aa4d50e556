package registry

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

const (
	maxAccountName    = 50
	maxSystemName     = 100
	maxDescription    = 500
	maxRoleNameLength = 64
)

// DefaultRoles is the catalog given to a system registered without one.
var DefaultRoles = models.RoleSet{"view", "edit", "delete"}

func normalizeName(field, name string, max int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.ErrValidation(field, "is required")
	}
	if utf8.RuneCountInString(name) > max {
		return "", domain.ErrValidation(field, "must be at most %d characters", max)
	}
	return name, nil
}

// normalizeEmail trims and lowercases, then requires a bare RFC 5322 address
// ("a@b.c", not "Name <a@b.c>").
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", domain.ErrValidation("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrValidation("email", "%q is not a valid email address", email)
	}
	return email, nil
}

func normalizeDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > maxDescription {
		return "", domain.ErrValidation("description", "must be at most %d characters", maxDescription)
	}
	return desc, nil
}

// normalizeRoles trims every role, rejects blanks and drops duplicates while
// keeping first-seen order. The result is never empty.
func normalizeRoles(field string, roles []string) (models.RoleSet, error) {
	out := make(models.RoleSet, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, domain.ErrValidation(field, "must not contain empty role names")
		}
		if len(role) > maxRoleNameLength {
			return nil, domain.ErrValidation(field, "role %q exceeds %d characters", role, maxRoleNameLength)
		}
		if !out.Contains(role) {
			out = append(out, role)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrValidation(field, "at least one role is required")
	}
	return out, nil
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrValidation(field, "is required")
	}
	return nil
}
