package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// DefaultAdminPassword is seeded for robots that have no admin credential yet.
const DefaultAdminPassword = "1234"

// EnsureAdminPassword stores a bcrypt hash of plain for the robot unless one exists.
func EnsureAdminPassword(ctx context.Context, e sqlx.ExtContext, robotID int64, plain string) (bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, e, &id, `SELECT id FROM admin_passwords WHERE robot_id = ?`, robotID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	if _, err := e.ExecContext(ctx, `INSERT INTO admin_passwords (robot_id, password_hash, created_at) VALUES (?, ?, ?)`,
		robotID, string(hash), time.Now().UTC()); err != nil {
		return false, fmt.Errorf("insert admin password: %w", err)
	}
	return true, nil
}
