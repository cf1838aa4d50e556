package migrations

import (
	"context"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations collects every schema step registered by the files in this package.
var Migrations = migrate.NewMigrations()

// Bootstrap brings the schema up to date. It is idempotent and safe to call on
// every server start; concurrent callers are serialized by the migration lock.
func Bootstrap(ctx context.Context, db *bun.DB) error {
	migrator := migrate.NewMigrator(db, Migrations)

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			log.Printf("WARNING: failed to release migration lock: %v", err)
		}
	}()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if group.ID == 0 {
		log.Printf("INFO: schema is up to date")
	} else {
		log.Printf("INFO: applied schema %s", group)
	}
	return nil
}
