package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"palletizer-control/internal/model"
)

// --------------------
// Job groups
// --------------------

func CreateJobGroup(ctx context.Context, e sqlx.ExtContext, g *model.JobGroup) error {
	g.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO job_groups (name, location, enable_concurrent, created_at)
		VALUES (:name, :location, :enable_concurrent, :created_at)`, g)
	if err != nil {
		return fmt.Errorf("insert job group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	return err
}

func GetJobGroup(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.JobGroup, error) {
	var g model.JobGroup
	if err := sqlx.GetContext(ctx, q, &g, `SELECT id, name, location, enable_concurrent, created_at FROM job_groups WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &g, nil
}

func SetJobGroupConcurrent(ctx context.Context, e sqlx.ExecerContext, id int64, enable bool) error {
	_, err := e.ExecContext(ctx, `UPDATE job_groups SET enable_concurrent = ? WHERE id = ?`, enable, id)
	return err
}

// --------------------
// Jobs
// --------------------

const jobColumns = `j.id, j.robot_id, j.job_group_id, j.job_boxes, j.started_at, j.ended_at, j.end_flag,
	j.current_load_height, j.loading_rate, j.bph, j.created_at, j.updated_at`

const jobPalletColumns = `id, job_id, is_buffer, is_use, is_error, location, is_invoice_visible, loading_height,
	order_information, loading_pattern_name, width, height, length, pallet_barcode, pallet_spec_name,
	overhang, box_group_name, created_at`

func CreateJob(ctx context.Context, e sqlx.ExtContext, j *model.Job) error {
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO jobs
		(robot_id, job_group_id, job_boxes, started_at, ended_at, end_flag, current_load_height, loading_rate, bph, created_at, updated_at)
		VALUES (:robot_id, :job_group_id, :job_boxes, :started_at, :ended_at, :end_flag, :current_load_height, :loading_rate, :bph, :created_at, :updated_at)`, j)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	j.ID, err = res.LastInsertId()
	return err
}

func CreateJobPallet(ctx context.Context, e sqlx.ExtContext, p *model.JobPallet) error {
	p.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO job_pallets
		(job_id, is_buffer, is_use, is_error, location, is_invoice_visible, loading_height, order_information,
		 loading_pattern_name, width, height, length, pallet_barcode, pallet_spec_name, overhang, box_group_name, created_at)
		VALUES
		(:job_id, :is_buffer, :is_use, :is_error, :location, :is_invoice_visible, :loading_height, :order_information,
		 :loading_pattern_name, :width, :height, :length, :pallet_barcode, :pallet_spec_name, :overhang, :box_group_name, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("insert job pallet: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetJob loads a job with its pallet and group attached.
func GetJob(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.Job, error) {
	var j model.Job
	if err := sqlx.GetContext(ctx, q, &j, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = ?`, id); err != nil {
		return nil, err
	}
	if err := attach(ctx, q, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func GetJobPallet(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.JobPallet, error) {
	var p model.JobPallet
	if err := sqlx.GetContext(ctx, q, &p, `SELECT `+jobPalletColumns+` FROM job_pallets WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func GetJobPalletByJob(ctx context.Context, q sqlx.QueryerContext, jobID int64) (*model.JobPallet, error) {
	var p model.JobPallet
	if err := sqlx.GetContext(ctx, q, &p, `SELECT `+jobPalletColumns+` FROM job_pallets WHERE job_id = ?`, jobID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveJobAt returns the newest active job of the robot whose pallet sits at location.
func ActiveJobAt(ctx context.Context, q sqlx.QueryerContext, robotID int64, location string) (*model.Job, error) {
	var j model.Job
	err := sqlx.GetContext(ctx, q, &j, `SELECT `+jobColumns+` FROM jobs j
		JOIN job_pallets p ON p.job_id = j.id
		WHERE j.robot_id = ? AND j.end_flag = 0 AND p.location = ?
		ORDER BY j.id DESC LIMIT 1`, robotID, location)
	if err != nil {
		return nil, err
	}
	if err := attach(ctx, q, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ActiveJobs returns the robot's jobs with end_flag unset, oldest first.
func ActiveJobs(ctx context.Context, q sqlx.QueryerContext, robotID int64) ([]model.Job, error) {
	return listJobs(ctx, q, `SELECT `+jobColumns+` FROM jobs j WHERE j.robot_id = ? AND j.end_flag = 0 ORDER BY j.id`, robotID)
}

// OpenJobs returns active jobs whose ended_at is still unset, oldest first.
func OpenJobs(ctx context.Context, q sqlx.QueryerContext, robotID int64) ([]model.Job, error) {
	return listJobs(ctx, q, `SELECT `+jobColumns+` FROM jobs j
		WHERE j.robot_id = ? AND j.end_flag = 0 AND j.ended_at IS NULL ORDER BY j.id`, robotID)
}

func listJobs(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]model.Job, error) {
	var out []model.Job
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, err
	}
	for i := range out {
		if err := attach(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func attach(ctx context.Context, q sqlx.QueryerContext, j *model.Job) error {
	p, err := GetJobPalletByJob(ctx, q, j.ID)
	switch {
	case err == nil:
		j.JobPallet = p
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("load pallet of job %d: %w", j.ID, err)
	}
	if j.JobGroupID != nil {
		g, err := GetJobGroup(ctx, q, *j.JobGroupID)
		switch {
		case err == nil:
			j.JobGroup = g
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("load group of job %d: %w", j.ID, err)
		}
	}
	return nil
}

// MarkJobsStarted sets started_at on the given jobs where it is still unset.
func MarkJobsStarted(ctx context.Context, e sqlx.ExtContext, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE jobs SET started_at = ?, updated_at = ? WHERE started_at IS NULL AND id IN (?)`, at.UTC(), at.UTC(), ids)
	if err != nil {
		return 0, err
	}
	res, err := e.ExecContext(ctx, e.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EndJob moves an active job to its terminal state. It returns sql.ErrNoRows
// when the job does not exist or already ended.
func EndJob(ctx context.Context, e sqlx.ExecerContext, id int64, at time.Time) error {
	res, err := e.ExecContext(ctx, `UPDATE jobs SET end_flag = 1, ended_at = ?, updated_at = ? WHERE id = ? AND end_flag = 0`, at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// EndActiveJobs ends every active job of the robot.
func EndActiveJobs(ctx context.Context, e sqlx.ExecerContext, robotID int64, at time.Time) (int64, error) {
	res, err := e.ExecContext(ctx, `UPDATE jobs SET end_flag = 1, ended_at = ?, updated_at = ? WHERE robot_id = ? AND end_flag = 0`, at.UTC(), at.UTC(), robotID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func UpdateJobOccupancy(ctx context.Context, e sqlx.ExecerContext, id int64, height, rate float64) error {
	_, err := e.ExecContext(ctx, `UPDATE jobs SET current_load_height = ?, loading_rate = ?, updated_at = ? WHERE id = ?`, height, rate, time.Now().UTC(), id)
	return err
}

func SetJobBPH(ctx context.Context, e sqlx.ExecerContext, id int64, bph float64) error {
	_, err := e.ExecContext(ctx, `UPDATE jobs SET bph = ?, updated_at = ? WHERE id = ?`, bph, time.Now().UTC(), id)
	return err
}

func SetJobBoxes(ctx context.Context, e sqlx.ExecerContext, id int64, boxes string) error {
	_, err := e.ExecContext(ctx, `UPDATE jobs SET job_boxes = ?, updated_at = ? WHERE id = ?`, boxes, time.Now().UTC(), id)
	return err
}

// DeleteRobotJobs removes every job of the robot; pallets and box positions cascade.
func DeleteRobotJobs(ctx context.Context, e sqlx.ExecerContext, robotID int64) (int64, error) {
	res, err := e.ExecContext(ctx, `DELETE FROM jobs WHERE robot_id = ?`, robotID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// JobsPage returns one page of the robot's jobs created within [start, end],
// newest first, and the total number of matching jobs.
func JobsPage(ctx context.Context, q sqlx.QueryerContext, robotID int64, start, end time.Time, limit, offset int) ([]model.Job, int, error) {
	var total int
	err := sqlx.GetContext(ctx, q, &total, `SELECT COUNT(*) FROM jobs WHERE robot_id = ? AND created_at >= ? AND created_at <= ?`,
		robotID, start.UTC(), end.UTC())
	if err != nil {
		return nil, 0, err
	}
	jobs, err := listJobs(ctx, q, `SELECT `+jobColumns+` FROM jobs j
		WHERE j.robot_id = ? AND j.created_at >= ? AND j.created_at <= ?
		ORDER BY j.id DESC LIMIT ? OFFSET ?`, robotID, start.UTC(), end.UTC(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// JobResult is the slice of a finished job used by work summaries.
type JobResult struct {
	ID          int64      `db:"id"`
	BPH         float64    `db:"bph"`
	LoadingRate float64    `db:"loading_rate"`
	EndedAt     *time.Time `db:"ended_at"`
}

// JobsBetween returns non-buffer jobs started at or after start and ended at or before end.
func JobsBetween(ctx context.Context, q sqlx.QueryerContext, robotID int64, start, end time.Time) ([]JobResult, error) {
	var out []JobResult
	err := sqlx.SelectContext(ctx, q, &out, `SELECT j.id, j.bph, j.loading_rate, j.ended_at FROM jobs j
		JOIN job_pallets p ON p.job_id = j.id
		WHERE j.robot_id = ? AND p.is_buffer = 0 AND j.started_at >= ? AND j.ended_at <= ?
		ORDER BY j.id`, robotID, start.UTC(), end.UTC())
	return out, err
}

// EndedJobs returns every ended non-buffer job of the robot, newest first.
func EndedJobs(ctx context.Context, q sqlx.QueryerContext, robotID int64) ([]JobResult, error) {
	var out []JobResult
	err := sqlx.SelectContext(ctx, q, &out, `SELECT j.id, j.bph, j.loading_rate, j.ended_at FROM jobs j
		JOIN job_pallets p ON p.job_id = j.id
		WHERE j.robot_id = ? AND p.is_buffer = 0 AND j.ended_at IS NOT NULL
		ORDER BY j.ended_at DESC`, robotID)
	return out, err
}
