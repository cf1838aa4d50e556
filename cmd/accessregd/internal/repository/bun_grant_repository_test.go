package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

func TestBunGrantRepository_PairIsUnique(t *testing.T) {
	store := NewBunStore(setupTestDB(t))
	ctx := context.Background()

	a := seedAccount(t, store, "A", "a@x.com")
	s := seedSystem(t, store, "S", "read", "write")
	g := seedGrant(t, store, a.ID, s.ID, "read")

	err := store.Grants().Create(ctx, &models.Grant{AccountID: a.ID, SystemID: s.ID, Roles: models.RoleSet{"write"}})
	var dup *domain.DuplicateKeyError
	require.True(t, errors.As(err, &dup), "got %v", err)

	byPair, err := store.Grants().GetByPair(ctx, a.ID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, byPair.ID)

	updated, err := store.Grants().UpdateRoles(ctx, g.ID, models.RoleSet{"write"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleSet{"write"}, updated.Roles)

	all, err := store.Grants().ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.Grants().GetByPair(ctx, a.ID, "other")
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestBunGrantRepository_CountBySystem(t *testing.T) {
	store := NewBunStore(setupTestDB(t))
	ctx := context.Background()

	a := seedAccount(t, store, "A", "a@x.com")
	b := seedAccount(t, store, "B", "b@x.com")
	s := seedSystem(t, store, "S", "read")
	seedGrant(t, store, a.ID, s.ID, "read")
	gb := seedGrant(t, store, b.ID, s.ID, "read")

	_, err := store.Grants().SoftDelete(ctx, gb.ID, "")
	require.NoError(t, err)

	active, err := store.Grants().CountBySystem(ctx, s.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	total, err := store.Grants().CountBySystem(ctx, s.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestBunGrantRepository_SoftDeleteActiveByAccount(t *testing.T) {
	store := NewBunStore(setupTestDB(t))
	ctx := context.Background()

	a := seedAccount(t, store, "A", "a@x.com")
	other := seedAccount(t, store, "O", "o@x.com")
	s1 := seedSystem(t, store, "S1", "read")
	s2 := seedSystem(t, store, "S2", "read")
	s3 := seedSystem(t, store, "S3", "read")
	g1 := seedGrant(t, store, a.ID, s1.ID, "read")
	g2 := seedGrant(t, store, a.ID, s2.ID, "read")
	g3 := seedGrant(t, store, a.ID, s3.ID, "read")
	untouched := seedGrant(t, store, other.ID, s1.ID, "read")

	_, err := store.Grants().SoftDelete(ctx, g3.ID, "earlier")
	require.NoError(t, err)

	ids, err := store.Grants().SoftDeleteActiveByAccount(ctx, a.ID, "admin")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{g1.ID, g2.ID}, ids)

	for _, id := range []string{g1.ID, g2.ID} {
		g, err := store.Grants().GetIncludingDeleted(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeleted, g.Status)
		assert.Equal(t, "admin", *g.DeletedBy)
	}

	// previously deleted grant keeps its original stamp
	g, err := store.Grants().GetIncludingDeleted(ctx, g3.ID)
	require.NoError(t, err)
	assert.Equal(t, "earlier", *g.DeletedBy)

	g, err = store.Grants().GetActive(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, g.Status)

	none, err := store.Grants().SoftDeleteActiveByAccount(ctx, a.ID, "admin")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBunGrantRepository_ListByAccountIDs(t *testing.T) {
	store := NewBunStore(setupTestDB(t))
	ctx := context.Background()

	a := seedAccount(t, store, "A", "a@x.com")
	b := seedAccount(t, store, "B", "b@x.com")
	s1 := seedSystem(t, store, "S1", "read")
	s2 := seedSystem(t, store, "S2", "read")
	seedGrant(t, store, a.ID, s1.ID, "read")
	gb := seedGrant(t, store, b.ID, s1.ID, "read")
	seedGrant(t, store, b.ID, s2.ID, "read")
	_, err := store.Grants().SoftDelete(ctx, gb.ID, "")
	require.NoError(t, err)

	all, err := store.Grants().ListByAccountIDs(ctx, []string{a.ID, b.ID}, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := store.Grants().ListByAccountIDs(ctx, []string{a.ID, b.ID}, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	deleted, err := store.Grants().ListDeleted(ctx)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, gb.ID, deleted[0].ID)
}
