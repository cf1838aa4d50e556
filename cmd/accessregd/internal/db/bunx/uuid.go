package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for primary keys.
// Ordering by id therefore matches creation order on both PostgreSQL and SQLite.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
