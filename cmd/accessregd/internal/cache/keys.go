package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Family is the first key segment; invalidation clears whole families.
type Family string

const (
	FamilyAccounts Family = "accounts"
	FamilySystems  Family = "systems"
	FamilyGrants   Family = "grants"
)

// Families lists every family, in flush order.
var Families = []Family{FamilyAccounts, FamilySystems, FamilyGrants}

// Prefix returns the key prefix shared by every entry of the family.
func (f Family) Prefix() string { return string(f) + ":" }

// Key joins a family and shape parts: Key(FamilySystems, "id", id) is
// "systems:id:<id>".
func Key(family Family, parts ...string) string {
	return family.Prefix() + strings.Join(parts, ":")
}

// FamilyOf returns the family a key belongs to.
func FamilyOf(key string) Family {
	family, _, _ := strings.Cut(key, ":")
	return Family(family)
}

// filterDigest keeps filter expressions out of keys.
func filterDigest(expr string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(expr)))
	return hex.EncodeToString(sum[:8])
}

func activeListKey(family Family, filter string) string {
	if strings.TrimSpace(filter) == "" {
		return Key(family, "list", "active")
	}
	return Key(family, "list", "active", "f", filterDigest(filter))
}

func AccountsActiveKey(filter string) string { return activeListKey(FamilyAccounts, filter) }
func AccountsAllKey() string                 { return Key(FamilyAccounts, "list", "all") }
func AccountsDeletedKey() string             { return Key(FamilyAccounts, "list", "deleted") }
func AccountKey(id string) string            { return Key(FamilyAccounts, "id", id) }

func SystemsActiveKey(filter string) string { return activeListKey(FamilySystems, filter) }
func SystemsDeletedKey() string             { return Key(FamilySystems, "list", "deleted") }
func SystemKey(id string) string            { return Key(FamilySystems, "id", id) }

func GrantsAllKey() string      { return Key(FamilyGrants, "list", "all") }
func GrantsActiveKey() string   { return Key(FamilyGrants, "list", "active") }
func GrantKey(id string) string { return Key(FamilyGrants, "id", id) }
