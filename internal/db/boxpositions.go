package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"palletizer-control/internal/model"
)

// --------------------
// Box positions (append-only)
// --------------------

const boxPositionColumns = `id, job_id, box_id, box_barcode, box_name, x, y, z, width, height, length,
	rotation_type, loading_order, is_loading, created_at`

// InsertBoxPosition appends one event row. Rows are never updated.
func InsertBoxPosition(ctx context.Context, e sqlx.ExtContext, b *model.BoxPosition) error {
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO box_positions
		(job_id, box_id, box_barcode, box_name, x, y, z, width, height, length, rotation_type, loading_order, is_loading, created_at)
		VALUES
		(:job_id, :box_id, :box_barcode, :box_name, :x, :y, :z, :width, :height, :length, :rotation_type, :loading_order, :is_loading, :created_at)`, b)
	if err != nil {
		return fmt.Errorf("insert box position: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func GetBoxPosition(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.BoxPosition, error) {
	var b model.BoxPosition
	if err := sqlx.GetContext(ctx, q, &b, `SELECT `+boxPositionColumns+` FROM box_positions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBoxPositions returns every event of the job in insertion order.
func ListBoxPositions(ctx context.Context, q sqlx.QueryerContext, jobID int64) ([]model.BoxPosition, error) {
	var out []model.BoxPosition
	err := sqlx.SelectContext(ctx, q, &out, `SELECT `+boxPositionColumns+` FROM box_positions WHERE job_id = ? ORDER BY id`, jobID)
	return out, err
}

// MaxLoadingOrder returns the highest loading order of the job, 0 when it has no rows.
func MaxLoadingOrder(ctx context.Context, q sqlx.QueryerContext, jobID int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, q, &n, `SELECT COALESCE(MAX(loading_order), 0) FROM box_positions WHERE job_id = ?`, jobID)
	return n, err
}

func CountBoxPositions(ctx context.Context, q sqlx.QueryerContext, jobID int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM box_positions WHERE job_id = ?`, jobID)
	return n, err
}

// LastGhostBoxID returns the box id of the ghost row with the highest loading order.
func LastGhostBoxID(ctx context.Context, q sqlx.QueryerContext, jobID int64, ghostName string) (int64, bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, `SELECT box_id FROM box_positions
		WHERE job_id = ? AND box_name = ? ORDER BY loading_order DESC, id DESC LIMIT 1`, jobID, ghostName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
