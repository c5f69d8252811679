package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"palletizer-control/internal/model"
)

func newTestDB(t *testing.T, attempts int) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "palletizer_test.sqlite")
	d, err := Open(path, Options{RetryAttempts: attempts, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenIsIdempotent(t *testing.T) {
	d := newTestDB(t, 0)
	require.NoError(t, d.Migrate(context.Background()))

	var mode string
	require.NoError(t, d.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestRobotCRUD(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t, 0)

	r := &model.Robot{Serial: "SN-1", MorowVersion: "1.0", IsCameraCalibration: -1}
	require.NoError(t, CreateRobot(ctx, d, r))
	require.NotZero(t, r.ID)

	got, err := GetRobotBySerial(ctx, d, "SN-1")
	require.NoError(t, err)
	assert.Equal(t, -1, got.IsCameraCalibration)
	assert.False(t, got.ToolStatus)

	require.NoError(t, UpdateRobot(ctx, d, r.ID, RobotUpdate{"tool_status": true, "operating_speed": 80}))
	got, err = GetRobotBySerial(ctx, d, "SN-1")
	require.NoError(t, err)
	assert.True(t, got.ToolStatus)
	assert.Equal(t, 80, got.OperatingSpeed)

	assert.Error(t, UpdateRobot(ctx, d, r.ID, RobotUpdate{"id; DROP TABLE robots": 1}))

	_, err = GetRobotBySerial(ctx, d, "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	first, err := FirstRobot(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, r.ID, first.ID)
}

func TestEnsureAdminPassword(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t, 0)
	r := &model.Robot{Serial: "SN-1"}
	require.NoError(t, CreateRobot(ctx, d, r))

	created, err := EnsureAdminPassword(ctx, d, r.ID, DefaultAdminPassword)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureAdminPassword(ctx, d, r.ID, "other")
	require.NoError(t, err)
	assert.False(t, created)

	var hash string
	require.NoError(t, d.Get(&hash, `SELECT password_hash FROM admin_passwords WHERE robot_id = ?`, r.ID))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(DefaultAdminPassword)))
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t, 0)
	r := &model.Robot{Serial: "SN-1"}
	require.NoError(t, CreateRobot(ctx, d, r))

	boom := errors.New("boom")
	err := d.InTx(ctx, func(tx *sqlx.Tx) error {
		g := &model.JobGroup{Name: "G"}
		if err := CreateJobGroup(ctx, tx, g); err != nil {
			return err
		}
		if err := CreateJob(ctx, tx, &model.Job{RobotID: r.ID, JobGroupID: &g.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, d.Get(&n, `SELECT COUNT(*) FROM jobs`))
	assert.Zero(t, n)
	require.NoError(t, d.Get(&n, `SELECT COUNT(*) FROM job_groups`))
	assert.Zero(t, n)
}

func TestRetryBounded(t *testing.T) {
	d := newTestDB(t, 3)
	var retried int
	d.opts.OnRetry = func(string) { retried++ }

	calls := 0
	busy := errors.New("database is locked")
	err := d.Retry(context.Background(), "update job", func() error {
		calls++
		return busy
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, busy)
	assert.Contains(t, err.Error(), "update job")
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, retried)
}

func TestRetrySucceedsAfterTransient(t *testing.T) {
	d := newTestDB(t, 5)
	calls := 0
	err := d.Retry(context.Background(), "insert", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

type validation struct{}

func (validation) Error() string   { return "invalid" }
func (validation) Permanent() bool { return true }

func TestRetryStopsOnPermanent(t *testing.T) {
	d := newTestDB(t, 5)
	for _, perm := range []error{sql.ErrNoRows, validation{}} {
		calls := 0
		err := d.Retry(context.Background(), "op", func() error {
			calls++
			return perm
		})
		assert.ErrorIs(t, err, perm)
		assert.Equal(t, 1, calls)
	}
}

func TestActiveJobAtAndLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t, 0)
	r := &model.Robot{Serial: "SN-1"}
	require.NoError(t, CreateRobot(ctx, d, r))

	mk := func(location string) *model.Job {
		j := &model.Job{RobotID: r.ID}
		require.NoError(t, CreateJob(ctx, d, j))
		require.NoError(t, CreateJobPallet(ctx, d, &model.JobPallet{JobID: j.ID, Location: location, IsUse: true}))
		return j
	}
	older := mk("좌측")
	newer := mk("좌측")
	mk("우측")

	got, err := ActiveJobAt(ctx, d, r.ID, "좌측")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
	require.NotNil(t, got.JobPallet)
	assert.Equal(t, "좌측", got.JobPallet.Location)

	now := time.Now()
	n, err := MarkJobsStarted(ctx, d, []int64{older.ID, newer.ID}, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = MarkJobsStarted(ctx, d, []int64{older.ID}, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, EndJob(ctx, d, newer.ID, now))
	got, err = ActiveJobAt(ctx, d, r.ID, "좌측")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	ended, err := GetJob(ctx, d, newer.ID)
	require.NoError(t, err)
	assert.True(t, ended.Ended())

	assert.ErrorIs(t, EndJob(ctx, d, 9999, now), sql.ErrNoRows)

	n, err = EndActiveJobs(ctx, d, r.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	_, err = ActiveJobAt(ctx, d, r.ID, "좌측")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteRobotJobsCascades(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t, 0)
	r := &model.Robot{Serial: "SN-1"}
	require.NoError(t, CreateRobot(ctx, d, r))
	j := &model.Job{RobotID: r.ID}
	require.NoError(t, CreateJob(ctx, d, j))
	require.NoError(t, CreateJobPallet(ctx, d, &model.JobPallet{JobID: j.ID, Location: "좌측"}))
	require.NoError(t, InsertBoxPosition(ctx, d, &model.BoxPosition{JobID: j.ID, BoxID: 1, LoadingOrder: 1, IsLoading: true, CreatedAt: time.Now().UTC()}))

	n, err := DeleteRobotJobs(ctx, d, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var count int
	require.NoError(t, d.Get(&count, `SELECT COUNT(*) FROM job_pallets`))
	assert.Zero(t, count)
	require.NoError(t, d.Get(&count, `SELECT COUNT(*) FROM box_positions`))
	assert.Zero(t, count)
}

func TestGhostAndLoadingOrder(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t, 0)
	r := &model.Robot{Serial: "SN-1"}
	require.NoError(t, CreateRobot(ctx, d, r))
	j := &model.Job{RobotID: r.ID}
	require.NoError(t, CreateJob(ctx, d, j))

	top, err := MaxLoadingOrder(ctx, d, j.ID)
	require.NoError(t, err)
	assert.Zero(t, top)
	_, ok, err := LastGhostBoxID(ctx, d, j.ID, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC()
	require.NoError(t, InsertBoxPosition(ctx, d, &model.BoxPosition{JobID: j.ID, BoxID: -1, BoxName: "ghost", LoadingOrder: 1, IsLoading: true, CreatedAt: now}))
	require.NoError(t, InsertBoxPosition(ctx, d, &model.BoxPosition{JobID: j.ID, BoxID: 5, BoxName: "A", LoadingOrder: 2, IsLoading: true, CreatedAt: now}))
	require.NoError(t, InsertBoxPosition(ctx, d, &model.BoxPosition{JobID: j.ID, BoxID: -2, BoxName: "ghost", LoadingOrder: 3, IsLoading: true, CreatedAt: now}))

	id, ok, err := LastGhostBoxID(ctx, d, j.ID, "ghost")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, -2, id)

	top, err = MaxLoadingOrder(ctx, d, j.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, top)

	rows, err := ListBoxPositions(ctx, d, j.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[1].BoxName)
}

func TestLogsQueries(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t, 0)
	r := &model.Robot{Serial: "SN-1"}
	require.NoError(t, CreateRobot(ctx, d, r))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, lvl := range []int{0, 1, 2, 2} {
		require.NoError(t, InsertLog(ctx, d, &model.Log{RobotID: r.ID, Level: lvl, MessageKey: i, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, InsertLog(ctx, d, &model.Log{RobotID: r.ID, Level: 2, Checked: true, CreatedAt: base.Add(48 * time.Hour)}))

	n, err := CountWarningErrorLogs(ctx, d, r.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	logs, err := UncheckedLogs(ctx, d, r.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}
