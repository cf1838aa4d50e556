package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// softDeleteRow moves one row from active to deleted with a conditional
// UPDATE, so two concurrent deletes cannot both succeed.
func softDeleteRow(ctx context.Context, db bun.IDB, model any, entity, id, actor string) error {
	now := time.Now().UTC()
	res, err := db.NewUpdate().
		Model(model).
		Set("status = ?", models.StatusDeleted).
		Set("deleted_at = ?", now).
		Set("deleted_by = ?", nullable(actor)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.StatusActive).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", entity, err)
	}
	return classifyTransition(ctx, db, res, model, entity, id, models.StatusDeleted)
}

// restoreRow moves one row from deleted back to active and clears the
// deletion stamp.
func restoreRow(ctx context.Context, db bun.IDB, model any, entity, id string) error {
	res, err := db.NewUpdate().
		Model(model).
		Set("status = ?", models.StatusActive).
		Set("deleted_at = NULL").
		Set("deleted_by = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.StatusDeleted).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("restore %s: %w", entity, err)
	}
	return classifyTransition(ctx, db, res, model, entity, id, models.StatusActive)
}

// classifyTransition turns a zero-row transition into NotFound or the
// matching Already* error by reading the row's current status.
func classifyTransition(ctx context.Context, db bun.IDB, res sql.Result, model any, entity, id string, target models.Status) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status models.Status
	err = db.NewSelect().
		Model(model).
		Column("status").
		Where("id = ?", id).
		Scan(ctx, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound(entity, id)
	}
	if err != nil {
		return fmt.Errorf("read %s status: %w", entity, err)
	}

	if status != target {
		// another transition won between the update and this read
		return fmt.Errorf("%s %s changed concurrently, retry", entity, id)
	}
	if target == models.StatusDeleted {
		return &domain.AlreadyDeletedError{Entity: entity, ID: id}
	}
	return &domain.AlreadyActiveError{Entity: entity, ID: id}
}

// notFoundFor builds the NotFound returned by GetActive, carrying the
// deletion stamp when the row exists but is soft-deleted.
func notFoundFor(entity, id string, lc *models.Lifecycle) error {
	nf := domain.ErrNotFound(entity, id)
	if lc != nil && lc.Status == models.StatusDeleted {
		nf.DeletedAt = lc.DeletedAt
		nf.DeletedBy = lc.DeletedBy
	}
	return nf
}
