package migrations

import (
	"context"
	"fmt"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000000, down_20261001000000)
}

// up_20261001000000 creates the accounts, systems and grants tables
func up_20261001000000(ctx context.Context, db *bun.DB) error {
	// 1. accounts
	fmt.Print(" [up] creating accounts table...")
	_, err := db.NewCreateTable().
		Model((*models.Account)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status)`)
	if err != nil {
		return fmt.Errorf("failed to create accounts status index: %w", err)
	}
	fmt.Println(" OK")

	// 2. systems
	fmt.Print(" [up] creating systems table...")
	_, err = db.NewCreateTable().
		Model((*models.System)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create systems table: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_systems_status ON systems(status)`)
	if err != nil {
		return fmt.Errorf("failed to create systems status index: %w", err)
	}
	fmt.Println(" OK")

	// 3. grants, one row per (account, system) regardless of lifecycle state
	fmt.Print(" [up] creating grants table...")
	_, err = db.NewCreateTable().
		Model((*models.Grant)(nil)).
		IfNotExists().
		ForeignKey(`("account_id") REFERENCES "accounts" ("id")`).
		ForeignKey(`("system_id") REFERENCES "systems" ("id")`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create grants table: %w", err)
	}

	for _, stmt := range grantIndexes(db) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create grants index: %w", err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000000 drops the registry tables in dependency order
func down_20261001000000(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{
		(*models.Grant)(nil),
		(*models.System)(nil),
		(*models.Account)(nil),
	} {
		q := db.NewDropTable().Model(model).IfExists()
		if onPostgres(db) {
			q = q.Cascade()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}
