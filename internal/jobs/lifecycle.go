package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/db"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

const (
	defaultBoxList = `[{"name":"DEFAULT","width":0,"height":0,"length":0,"weight":0,"labelDirection":0,"jobId":0}]`
	depalBoxList   = `[{"name":"DEPAL","width":0,"height":0,"length":0,"weight":0,"labelDirection":0,"jobId":88}]`

	DepalGroupName     = "DEPAL"
	DepalGroupLocation = "D8"
)

// PalletRef selects a configured pallet (or job pallet on continue) and the
// barcode of the physical pallet placed on it.
type PalletRef struct {
	ID            int64   `json:"id"`
	PalletBarcode *string `json:"palletBarcode"`
}

type CreateRequest struct {
	RobotSerial      string      `json:"robotSerial"`
	PalletGroupID    int64       `json:"palletGroupId"`
	EnableConcurrent bool        `json:"enableConcurrent"`
	Pallets          []PalletRef `json:"pallets"`
}

type ContinueRequest struct {
	RobotSerial      string      `json:"robotSerial"`
	EnableConcurrent bool        `json:"enableConcurrent"`
	JobPallets       []PalletRef `json:"jobPallets"`
}

// Create opens one job group with a job and job pallet per requested pallet.
// Every reference is validated inside the transaction; nothing is written
// when any of them is invalid.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.JobGroup, []int64, error) {
	var (
		group *model.JobGroup
		ids   []int64
	)
	err := s.db.RetryTx(ctx, "create jobs", func(tx *sqlx.Tx) error {
		ids = nil
		robot, err := s.robot(ctx, tx, req.RobotSerial)
		if errors.Is(err, ErrRobotNotFound) {
			return invalid("Invalid robotSerial")
		}
		if err != nil {
			return err
		}

		want := make([]int64, 0, len(req.Pallets))
		barcodes := make(map[int64]*string, len(req.Pallets))
		for _, p := range req.Pallets {
			want = append(want, p.ID)
			barcodes[p.ID] = p.PalletBarcode
		}
		pallets, err := db.PalletsByID(ctx, tx, want)
		if err != nil {
			return err
		}
		if len(pallets) == 0 || len(pallets) != len(req.Pallets) {
			return invalid("Invalid pallets")
		}
		pg, err := db.GetPalletGroup(ctx, tx, req.PalletGroupID)
		if errors.Is(err, sql.ErrNoRows) {
			return invalid("Invalid palletGroupId")
		}
		if err != nil {
			return err
		}

		location := pg.Location
		group = &model.JobGroup{Name: pg.Name, Location: &location, EnableConcurrent: req.EnableConcurrent}
		if err := db.CreateJobGroup(ctx, tx, group); err != nil {
			return err
		}
		for _, p := range pallets {
			id, err := s.createFromPallet(ctx, tx, robot.ID, group.ID, p, barcodes[p.ID])
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.WithFields(logrus.Fields{"job_group_id": group.ID, "jobs": len(ids)}).Info("jobs created")
	return group, ids, nil
}

func (s *Service) createFromPallet(ctx context.Context, tx *sqlx.Tx, robotID, groupID int64, p model.Pallet, barcode *string) (int64, error) {
	jp := &model.JobPallet{
		IsBuffer:         p.IsBuffer,
		IsUse:            p.IsUse,
		IsError:          p.IsError,
		Location:         p.Location,
		IsInvoiceVisible: p.IsInvoiceVisible,
		LoadingHeight:    p.LoadingHeight,
		OrderInformation: p.OrderInformation,
		PalletBarcode:    barcode,
	}
	if p.BoxGroupID != nil {
		bg, err := db.GetBoxGroup(ctx, tx, *p.BoxGroupID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, invalid("Invalid boxGroupId")
		}
		if err != nil {
			return 0, err
		}
		jp.BoxGroupName = bg.Name
	}
	if p.LoadingPatternID != nil {
		lp, err := db.GetLoadingPattern(ctx, tx, *p.LoadingPatternID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, invalid("Invalid loadingPatternId")
		}
		if err != nil {
			return 0, err
		}
		jp.LoadingPatternName = lp.Name
	}
	if p.PalletSpecificationID != nil {
		spec, err := db.GetPalletSpecification(ctx, tx, *p.PalletSpecificationID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, invalid("Invalid palletSpecificationId")
		}
		if err != nil {
			return 0, err
		}
		jp.Width, jp.Height, jp.Length = spec.Width, spec.Height, spec.Length
		jp.PalletSpecName = spec.Name
		jp.Overhang = spec.Overhang
	}

	job := &model.Job{RobotID: robotID, JobGroupID: &groupID}
	if !p.IsUse {
		job.JobBoxes = defaultBoxList
	}
	if err := db.CreateJob(ctx, tx, job); err != nil {
		return 0, err
	}
	jp.JobID = job.ID
	if err := db.CreateJobPallet(ctx, tx, jp); err != nil {
		return 0, err
	}
	if p.BoxGroupID == nil {
		return job.ID, nil
	}

	boxes, err := s.jobBoxes(ctx, tx, *p.BoxGroupID, job.ID)
	if err != nil {
		return 0, err
	}
	if err := db.SetJobBoxes(ctx, tx, job.ID, boxes); err != nil {
		return 0, err
	}
	return job.ID, nil
}

// jobBoxes serializes a box group into the job's catalog, resolving barcode types.
func (s *Service) jobBoxes(ctx context.Context, tx *sqlx.Tx, boxGroupID, jobID int64) (string, error) {
	boxes, err := db.ListBoxes(ctx, tx, boxGroupID)
	if err != nil {
		return "", err
	}
	out := make([]model.JobBox, 0, len(boxes))
	for _, b := range boxes {
		jb := model.JobBox{
			Name:           b.Name,
			Width:          b.Width,
			Height:         b.Height,
			Length:         b.Length,
			Weight:         b.Weight,
			LabelDirection: b.LabelDirection,
			JobID:          jobID,
		}
		if b.BarcodeTypeID != nil {
			bt, err := db.GetBarcodeType(ctx, tx, *b.BarcodeTypeID)
			if errors.Is(err, sql.ErrNoRows) {
				return "", invalid("Invalid barcodeTypeId")
			}
			if err != nil {
				return "", err
			}
			digits := bt.Digits
			jb.BarcodeTypeName = bt.Name
			jb.BarcodeSampleData = bt.SampleData
			jb.BarcodeWeightLocation = bt.WeightLocation
			jb.BarcodeUnit = bt.Unit
			jb.BarcodeDigits = &digits
		}
		out = append(out, jb)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ContinueBatch creates successors for the jobs behind the given job pallets.
// Pallets whose job has not ended are skipped.
func (s *Service) ContinueBatch(ctx context.Context, req ContinueRequest) ([]int64, error) {
	var created []int64
	err := s.db.RetryTx(ctx, "continue jobs", func(tx *sqlx.Tx) error {
		created = nil
		robot, err := s.robot(ctx, tx, req.RobotSerial)
		if errors.Is(err, ErrRobotNotFound) {
			return invalid("Invalid robotSerial")
		}
		if err != nil {
			return err
		}
		want := make([]int64, 0, len(req.JobPallets))
		barcodes := make(map[int64]*string, len(req.JobPallets))
		for _, p := range req.JobPallets {
			want = append(want, p.ID)
			barcodes[p.ID] = p.PalletBarcode
		}
		pallets, err := db.JobPalletsByID(ctx, tx, want)
		if err != nil {
			return err
		}
		if len(pallets) == 0 || len(pallets) != len(req.JobPallets) {
			return invalid("Invalid jobPallets")
		}

		var groupID *int64
		for _, jp := range pallets {
			prior, err := db.GetJob(ctx, tx, jp.JobID)
			if errors.Is(err, sql.ErrNoRows) {
				return invalid("Invalid jobId")
			}
			if err != nil {
				return err
			}
			groupID = prior.JobGroupID
			if !prior.Ended() {
				continue
			}
			id, err := successor(ctx, tx, robot.ID, prior, jp, barcodes[jp.ID])
			if err != nil {
				return err
			}
			created = append(created, id)
		}
		if groupID != nil {
			return db.SetJobGroupConcurrent(ctx, tx, *groupID, req.EnableConcurrent)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("jobs", len(created)).Info("jobs continued")
	return created, nil
}

// successor creates a new job in prior's group carrying its box catalog and a
// copy of its pallet with the new barcode.
func successor(ctx context.Context, tx *sqlx.Tx, robotID int64, prior *model.Job, jp model.JobPallet, barcode *string) (int64, error) {
	next := &model.Job{RobotID: robotID, JobGroupID: prior.JobGroupID, JobBoxes: prior.JobBoxes}
	if err := db.CreateJob(ctx, tx, next); err != nil {
		return 0, err
	}
	cp := jp
	cp.ID = 0
	cp.JobID = next.ID
	cp.PalletBarcode = barcode
	if err := db.CreateJobPallet(ctx, tx, &cp); err != nil {
		return 0, err
	}
	return next.ID, nil
}

// ContinueOne replaces a running job with a successor, ends the prior job and
// clears the robot's event alarm in one transaction.
func (s *Service) ContinueOne(ctx context.Context, serial string, jobID int64, barcode *string) (int64, error) {
	var id int64
	err := s.db.RetryTx(ctx, "continue job", func(tx *sqlx.Tx) error {
		robot, err := db.GetRobotBySerial(ctx, tx, serial)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRobotNotFound
		}
		if err != nil {
			return err
		}
		prior, err := db.GetJob(ctx, tx, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if prior.JobPallet == nil {
			return ErrJobPalletNotFound
		}
		id, err = successor(ctx, tx, robot.ID, prior, *prior.JobPallet, barcode)
		if err != nil {
			return err
		}
		if err := db.EndJob(ctx, tx, prior.ID, s.now()); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return db.UpdateRobot(ctx, tx, robot.ID, db.RobotUpdate{"event_alarm_code": protocol.EventAlarmNone})
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"serial": serial, "job_id": jobID, "next_job_id": id}).Info("job continued")
	return id, nil
}

// Start marks the robot's unstarted jobs as started and pushes the job setting,
// the current boxes and the start command. Controller failures are logged and
// do not fail the start.
func (s *Service) Start(ctx context.Context, serial string) error {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return err
	}
	if robot.Application == protocol.ApplicationDepalletizing {
		if err := s.createDepalJobs(ctx, robot.ID); err != nil {
			return err
		}
	}

	var ids []int64
	err = s.db.Retry(ctx, "start jobs", func() error {
		jobs, err := db.OpenJobs(ctx, s.db, robot.ID)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return ErrNoActiveJobs
		}
		ids = ids[:0]
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		_, err = db.MarkJobsStarted(ctx, s.db, ids, s.now())
		return err
	})
	if err != nil {
		return err
	}
	log := s.log.WithField("serial", robot.Serial)
	log.WithField("jobs", len(ids)).Info("jobs started")

	if s.cmd == nil {
		return nil
	}
	if ok, err := s.cmd.SendJobSetting(ctx, robot.Serial, protocol.SenderRPM); err != nil || !ok {
		log.WithError(err).Warn("job setting not delivered")
	}
	if ok, err := s.cmd.SendPreviousJobInfo(ctx, robot.Serial); err != nil || !ok {
		log.WithError(err).Warn("previous job info not delivered")
	}
	if err := s.cmd.ControlWord(ctx, robot.Serial, protocol.CmdOperationStart, protocol.JobMotionTest); err != nil {
		log.WithError(err).Warn("start command not delivered")
	}
	return nil
}

// createDepalJobs opens the fixed four-slot job group used by depalletizing cells.
func (s *Service) createDepalJobs(ctx context.Context, robotID int64) error {
	return s.db.RetryTx(ctx, "create depal jobs", func(tx *sqlx.Tx) error {
		location := DepalGroupLocation
		g := &model.JobGroup{Name: DepalGroupName, Location: &location}
		if err := db.CreateJobGroup(ctx, tx, g); err != nil {
			return err
		}
		for _, slot := range protocol.Slots {
			j := &model.Job{RobotID: robotID, JobGroupID: &g.ID, JobBoxes: depalBoxList}
			if err := db.CreateJob(ctx, tx, j); err != nil {
				return err
			}
			jp := &model.JobPallet{
				JobID:              j.ID,
				IsUse:              true,
				Location:           slot.Location(),
				OrderInformation:   DepalGroupName,
				LoadingPatternName: DepalGroupName,
			}
			if err := db.CreateJobPallet(ctx, tx, jp); err != nil {
				return err
			}
		}
		return nil
	})
}

// EndIncomplete ends every active job of the robot and stops the operation.
func (s *Service) EndIncomplete(ctx context.Context, serial string) (int64, error) {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.Retry(ctx, "end active jobs", func() error {
		var err error
		n, err = db.EndActiveJobs(ctx, s.db, robot.ID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"serial": robot.Serial, "jobs": n}).Info("active jobs ended")
	return n, s.control(ctx, robot.Serial, protocol.CmdOperationStop, "")
}

// ContinueStop ends one job after the controller stopped on it and clears the alarm.
func (s *Service) ContinueStop(ctx context.Context, serial string, jobID int64) error {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return err
	}
	err = s.db.Retry(ctx, "end job", func() error {
		return db.EndJob(ctx, s.db, jobID, s.now())
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return s.resetAlarm(ctx, robot.ID)
}

// CurrentJobs returns the robot's active jobs ordered by slot.
func (s *Service) CurrentJobs(ctx context.Context, serial string) ([]model.Job, error) {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return nil, err
	}
	jobs, err := db.OpenJobs(ctx, s.db, robot.ID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		return slotRank(jobs[i]) < slotRank(jobs[k])
	})
	return jobs, nil
}

func slotRank(j model.Job) int {
	if j.JobPallet == nil {
		return 6
	}
	switch j.JobPallet.Location {
	case protocol.LocationLeft:
		return 1
	case protocol.LocationRight:
		return 2
	case protocol.LocationAuxLeft:
		return 3
	case protocol.LocationAuxRight:
		return 4
	}
	return 5
}

// GetJob returns a job with its pallet and group.
func (s *Service) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	j, err := db.GetJob(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// ListJobs pages through the robot's jobs created within [start, end].
func (s *Service) ListJobs(ctx context.Context, serial string, start, end time.Time, page, pageSize int) ([]model.Job, int, error) {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return db.JobsPage(ctx, s.db, robot.ID, start, end, pageSize, (page-1)*pageSize)
}

// Unload records an operator removing a box: a copy of the placement with
// isLoading unset, then a recompute of the job.
func (s *Service) Unload(ctx context.Context, boxPositionID int64) (*model.BoxPosition, error) {
	var out *model.BoxPosition
	err := s.db.RetryTx(ctx, "unload box", func(tx *sqlx.Tx) error {
		src, err := db.GetBoxPosition(ctx, tx, boxPositionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBoxPositionNotFound
		}
		if err != nil {
			return err
		}
		n, err := db.CountBoxPositions(ctx, tx, src.JobID)
		if err != nil {
			return err
		}
		cp := *src
		cp.ID = 0
		cp.IsLoading = false
		cp.LoadingOrder = n
		if err := db.InsertBoxPosition(ctx, tx, &cp); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, tx, src.JobID); err != nil {
			return fmt.Errorf("recompute job %d: %w", src.JobID, err)
		}
		out = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"job_id": out.JobID, "box_id": out.BoxID}).Info("box unloaded")
	return out, nil
}

// LoadedBoxes returns the job's non-ghost placement rows in insertion order.
func (s *Service) LoadedBoxes(ctx context.Context, jobID int64) ([]model.BoxPosition, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := db.ListBoxPositions(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if r.IsLoading && r.BoxName != protocol.GhostBoxName {
			out = append(out, r)
		}
	}
	return out, nil
}
