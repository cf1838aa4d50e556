package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// grantIndexes returns the grants indexes for db's dialect. The pair index
// backs the one-grant-per-(account, system) rule on every backend; the GIN
// index only exists on postgres, where roles is jsonb.
func grantIndexes(db *bun.DB) []string {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_account_system ON grants(account_id, system_id)`,
		`CREATE INDEX IF NOT EXISTS idx_grants_system_status ON grants(system_id, status)`,
	}
	if onPostgres(db) {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_grants_roles_gin ON grants USING gin (roles jsonb_path_ops)`)
	}
	return stmts
}

func onPostgres(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}
