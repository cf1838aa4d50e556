package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/bunx"
)

func TestBootstrap_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	defer bunx.Close(db)

	require.NoError(t, Bootstrap(ctx, db))
	require.NoError(t, Bootstrap(ctx, db))

	for _, table := range []string{"accounts", "systems", "grants"} {
		var count int
		err := db.NewRaw("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(ctx, &count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", table)
	}

	assert.False(t, onPostgres(db))
	assert.Len(t, grantIndexes(db), 2)

	var indexes []string
	err = db.NewRaw("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'grants' AND name LIKE 'idx_%' ORDER BY name").Scan(ctx, &indexes)
	require.NoError(t, err)
	assert.Equal(t, []string{"idx_grants_account_system", "idx_grants_system_status"}, indexes)
}

func TestGrantPairIsUnique(t *testing.T) {
	ctx := context.Background()
	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	defer bunx.Close(db)
	require.NoError(t, Bootstrap(ctx, db))

	_, err = db.ExecContext(ctx, `INSERT INTO accounts (id, name, email) VALUES ('a1', 'A', 'a@x.com')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO systems (id, name, available_roles) VALUES ('s1', 'S', '["read"]')`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO grants (id, account_id, system_id, roles) VALUES ('g1', 'a1', 's1', '["read"]')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO grants (id, account_id, system_id, roles) VALUES ('g2', 'a1', 's1', '["read"]')`)
	require.Error(t, err)

	// foreign keys are enforced
	_, err = db.ExecContext(ctx, `INSERT INTO grants (id, account_id, system_id, roles) VALUES ('g3', 'missing', 's1', '["read"]')`)
	require.Error(t, err)
}
