package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"palletizer-control/internal/model"
)

const logColumns = `id, robot_id, category, message_key, param, level, checked, created_at`

func InsertLog(ctx context.Context, e sqlx.ExtContext, l *model.Log) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO logs (robot_id, category, message_key, param, level, checked, created_at)
		VALUES (:robot_id, :category, :message_key, :param, :level, :checked, :created_at)`, l)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

// CountWarningErrorLogs counts level 1 and 2 logs created within [start, end].
func CountWarningErrorLogs(ctx context.Context, q sqlx.QueryerContext, robotID int64, start, end time.Time) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM logs
		WHERE robot_id = ? AND level IN (1, 2) AND created_at >= ? AND created_at <= ?`, robotID, start.UTC(), end.UTC())
	return n, err
}

// UncheckedLogs returns warning and error logs nobody acknowledged yet, newest first.
func UncheckedLogs(ctx context.Context, q sqlx.QueryerContext, robotID int64) ([]model.Log, error) {
	var out []model.Log
	err := sqlx.SelectContext(ctx, q, &out, `SELECT `+logColumns+` FROM logs
		WHERE robot_id = ? AND checked = 0 AND level IN (1, 2) ORDER BY id DESC`, robotID)
	return out, err
}
