package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"palletizer-control/internal/model"
)

// --------------------
// Robots
// --------------------

const robotColumns = `id, serial, version, project, application, platform, morow_version, vision_version,
	docker_version, firmware_version, connection, status, operating_speed, robot_position, lift_position,
	tool_status, event_alarm_code, is_camera_calibration, is_camera_position_calibration, is_use_barcode,
	gripper_position, is_use_admin_password, enable_ext_connection, ext_connection_url, created_at, updated_at`

// GetRobotBySerial returns sql.ErrNoRows when the serial is unknown.
func GetRobotBySerial(ctx context.Context, q sqlx.QueryerContext, serial string) (*model.Robot, error) {
	var r model.Robot
	if err := sqlx.GetContext(ctx, q, &r, `SELECT `+robotColumns+` FROM robots WHERE serial = ?`, serial); err != nil {
		return nil, err
	}
	return &r, nil
}

// FirstRobot returns the oldest robot; single-robot cells address it without a serial.
func FirstRobot(ctx context.Context, q sqlx.QueryerContext) (*model.Robot, error) {
	var r model.Robot
	if err := sqlx.GetContext(ctx, q, &r, `SELECT `+robotColumns+` FROM robots ORDER BY id LIMIT 1`); err != nil {
		return nil, err
	}
	return &r, nil
}

func ListRobots(ctx context.Context, q sqlx.QueryerContext) ([]model.Robot, error) {
	var out []model.Robot
	if err := sqlx.SelectContext(ctx, q, &out, `SELECT `+robotColumns+` FROM robots ORDER BY id`); err != nil {
		return nil, err
	}
	return out, nil
}

func CreateRobot(ctx context.Context, e sqlx.ExtContext, r *model.Robot) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO robots
		(serial, version, project, application, platform, morow_version, vision_version, docker_version,
		 firmware_version, connection, status, operating_speed, robot_position, lift_position, tool_status,
		 event_alarm_code, is_camera_calibration, is_camera_position_calibration, is_use_barcode,
		 gripper_position, is_use_admin_password, enable_ext_connection, ext_connection_url, created_at, updated_at)
		VALUES
		(:serial, :version, :project, :application, :platform, :morow_version, :vision_version, :docker_version,
		 :firmware_version, :connection, :status, :operating_speed, :robot_position, :lift_position, :tool_status,
		 :event_alarm_code, :is_camera_calibration, :is_camera_position_calibration, :is_use_barcode,
		 :gripper_position, :is_use_admin_password, :enable_ext_connection, :ext_connection_url, :created_at, :updated_at)`, r)
	if err != nil {
		return fmt.Errorf("insert robot: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// RobotUpdate maps robot columns to new values.
type RobotUpdate map[string]any

var robotUpdatable = map[string]bool{
	"serial": true, "version": true, "project": true, "application": true, "platform": true,
	"morow_version": true, "vision_version": true, "docker_version": true, "firmware_version": true,
	"connection": true, "status": true, "operating_speed": true, "robot_position": true,
	"lift_position": true, "tool_status": true, "event_alarm_code": true, "is_camera_calibration": true,
	"is_camera_position_calibration": true, "is_use_barcode": true, "gripper_position": true,
	"is_use_admin_password": true, "enable_ext_connection": true, "ext_connection_url": true,
}

// UpdateRobot applies u to the robot with the given id. Unknown columns are rejected.
func UpdateRobot(ctx context.Context, e sqlx.ExecerContext, id int64, u RobotUpdate) error {
	if len(u) == 0 {
		return nil
	}
	cols := make([]string, 0, len(u))
	for c := range u {
		if !robotUpdatable[c] {
			return fmt.Errorf("update robot: unknown column %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, u[c])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	_, err := e.ExecContext(ctx, `UPDATE robots SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update robot %d: %w", id, err)
	}
	return nil
}
