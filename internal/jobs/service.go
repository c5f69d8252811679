package jobs

import (
	"context"
	"database/sql"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/db"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/metrics"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

// Commander issues controller commands on behalf of lifecycle operations.
type Commander interface {
	ControlWord(ctx context.Context, serial string, code protocol.CommandCode, job string) error
	SendJobSetting(ctx context.Context, serial, senderID string) (bool, error)
	SendPreviousJobInfo(ctx context.Context, serial string) (bool, error)
	ChangeSpeed(ctx context.Context, serial string, value int) error
	GripperControl(ctx context.Context, serial string, ch int, cmd bool) (bool, error)
}

// Placement describes a box that landed on a pallet with a known chute.
type Placement struct {
	Robot         model.Robot
	Slot          protocol.Slot
	BoxBarcode    string
	PalletBarcode string
	Chute         string
}

// PlacementNotifier forwards placements to an external system. It must not block.
type PlacementNotifier interface {
	NotifyPlacement(ctx context.Context, p Placement)
}

type Options struct {
	Logger    logrus.FieldLogger
	Metrics   *metrics.Collector
	Commander Commander
	Notifier  PlacementNotifier

	CalibrationTimeout time.Duration
	CalibrationPoll    time.Duration
	// Location is the timezone of day boundaries in summaries.
	Location *time.Location
}

// Service owns the job and box state machine on top of the store.
type Service struct {
	db       *db.DB
	log      *logrus.Entry
	metrics  *metrics.Collector
	cmd      Commander
	notifier PlacementNotifier

	calTimeout time.Duration
	calPoll    time.Duration
	loc        *time.Location

	now   func() time.Time
	digit func() int
}

func NewService(store *db.DB, opts Options) *Service {
	if opts.CalibrationTimeout <= 0 {
		opts.CalibrationTimeout = time.Minute
	}
	if opts.CalibrationPoll <= 0 {
		opts.CalibrationPoll = 500 * time.Millisecond
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		db:         store,
		log:        logging.Component(opts.Logger, "jobs"),
		metrics:    opts.Metrics,
		cmd:        opts.Commander,
		notifier:   opts.Notifier,
		calTimeout: opts.CalibrationTimeout,
		calPoll:    opts.CalibrationPoll,
		loc:        opts.Location,
		now:        time.Now,
		digit:      func() int { return 100 + rand.IntN(900) },
	}
}

// Store exposes the underlying store to collaborators sharing the service.
func (s *Service) Store() *db.DB { return s.db }

// robot resolves a serial. An empty serial addresses the first robot.
func (s *Service) robot(ctx context.Context, q sqlx.QueryerContext, serial string) (*model.Robot, error) {
	var (
		r   *model.Robot
		err error
	)
	if serial == "" {
		r, err = db.FirstRobot(ctx, q)
	} else {
		r, err = db.GetRobotBySerial(ctx, q, serial)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRobotNotFound
	}
	return r, err
}

// Robot returns the robot with the given serial, or the first robot when serial is empty.
func (s *Service) Robot(ctx context.Context, serial string) (*model.Robot, error) {
	return s.robot(ctx, s.db, serial)
}

// ActiveJob returns the robot's newest active job at slot with its pallet and group.
func ActiveJob(ctx context.Context, q sqlx.QueryerContext, robotID int64, slot protocol.Slot) (*model.Job, error) {
	j, err := db.ActiveJobAt(ctx, q, robotID, slot.Location())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveJobs
	}
	return j, err
}

// SlotJobs returns the active job of each of the four slots, or ErrNoActiveJobs
// when any slot has none.
func SlotJobs(ctx context.Context, q sqlx.QueryerContext, robotID int64) (map[protocol.Slot]*model.Job, error) {
	out := make(map[protocol.Slot]*model.Job, len(protocol.Slots))
	for _, slot := range protocol.Slots {
		j, err := ActiveJob(ctx, q, robotID, slot)
		if err != nil {
			return nil, err
		}
		out[slot] = j
	}
	return out, nil
}

func (s *Service) resetAlarm(ctx context.Context, robotID int64) error {
	return s.db.Retry(ctx, "reset alarm", func() error {
		return db.UpdateRobot(ctx, s.db, robotID, db.RobotUpdate{"event_alarm_code": protocol.EventAlarmNone})
	})
}
