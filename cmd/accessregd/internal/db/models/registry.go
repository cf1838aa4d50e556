package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Status is the soft-delete lifecycle state shared by every registry entity.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Lifecycle holds the soft-delete columns embedded in every registry table.
// DeletedAt and DeletedBy are non-nil exactly when Status is StatusDeleted.
type Lifecycle struct {
	Status    Status     `bun:"status,notnull,default:'active'" json:"status"`
	DeletedAt *time.Time `bun:"deleted_at" json:"deletedAt"`
	DeletedBy *string    `bun:"deleted_by" json:"deletedBy"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// IsActive reports whether the entity is visible under the default scope.
func (l *Lifecycle) IsActive() bool {
	return l.Status == StatusActive
}

// Account is a person or principal that can hold grants on registered systems.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID    string `bun:"id,pk,type:varchar(36)" json:"id"`
	Name  string `bun:"name,notnull" json:"name"`
	Email string `bun:"email,notnull,unique" json:"email"` // stored lowercased
	Lifecycle
}

// System is a registered system with its own catalog of grantable roles.
type System struct {
	bun.BaseModel `bun:"table:systems,alias:s"`

	ID             string  `bun:"id,pk,type:varchar(36)" json:"id"`
	Name           string  `bun:"name,notnull,unique" json:"name"`
	Description    string  `bun:"description,notnull,default:''" json:"description"`
	AvailableRoles RoleSet `bun:"available_roles,type:jsonb,notnull" json:"availableRoles"`
	Lifecycle
}

// Grant binds one account to one system with a set of roles from the
// system's catalog. (account_id, system_id) is unique across all rows.
type Grant struct {
	bun.BaseModel `bun:"table:grants,alias:g"`

	ID        string  `bun:"id,pk,type:varchar(36)" json:"id"`
	AccountID string  `bun:"account_id,notnull,type:varchar(36)" json:"accountId"`
	SystemID  string  `bun:"system_id,notnull,type:varchar(36)" json:"systemId"`
	Roles     RoleSet `bun:"roles,type:jsonb,notnull" json:"roles"`
	Lifecycle
}

// RoleSet is an ordered set of role names stored as a JSON array.
type RoleSet []string

// Contains reports whether role is a member of the set.
func (rs RoleSet) Contains(role string) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// Difference returns the members of rs that are not in other, in rs order.
func (rs RoleSet) Difference(other RoleSet) []string {
	var out []string
	for _, r := range rs {
		if !other.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

// Scan implements sql.Scanner for reading from database.
// PostgreSQL jsonb arrives as []byte, SQLite text as string.
func (rs *RoleSet) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*rs = RoleSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan RoleSet: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(raw, rs)
}

// Value implements driver.Valuer for writing to database
func (rs RoleSet) Value() (driver.Value, error) {
	if rs == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal([]string(rs))
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}
