package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/db"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

// IngestResult reports the outcome of one working-box event.
type IngestResult struct {
	Success       bool
	JobID         int64
	BoxPositionID int64
	Occupancy     Occupancy
}

// IngestBox appends a placement or removal event for the active job of the
// event's slot and recomputes that job's occupancy in the same transaction.
// A slot without an active job is not an error; Success is false.
func (s *Service) IngestBox(ctx context.Context, req protocol.CurrentWorkingBoxRequest) (IngestResult, error) {
	if req.Current == nil {
		return IngestResult{}, nil
	}
	cur := *req.Current
	slot, ok := protocol.ParseSlot(cur.PalletLocation)
	if !ok {
		s.log.WithField("pallet_location", cur.PalletLocation).Warn("unknown pallet location")
		return IngestResult{}, nil
	}

	var (
		res   IngestResult
		robot *model.Robot
		job   *model.Job
	)
	err := s.db.RetryTx(ctx, "ingest working box", func(tx *sqlx.Tx) error {
		res = IngestResult{}
		var err error
		robot, err = s.robot(ctx, tx, req.SerialNumber)
		if err != nil {
			return err
		}
		job, err = ActiveJob(ctx, tx, robot.ID, slot)
		if errors.Is(err, ErrNoActiveJobs) {
			return nil
		}
		if err != nil {
			return err
		}

		order, err := db.MaxLoadingOrder(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		boxID := cur.BoxID
		if cur.Name == protocol.GhostBoxName {
			last, found, err := db.LastGhostBoxID(ctx, tx, job.ID, protocol.GhostBoxName)
			if err != nil {
				return err
			}
			boxID = -1
			if found {
				boxID = last - 1
			}
		}
		barcode := cur.Barcode
		if !robot.IsUseBarcode {
			barcode = s.generateBarcode()
		}

		b := &model.BoxPosition{
			JobID:        job.ID,
			BoxID:        boxID,
			BoxBarcode:   barcode,
			BoxName:      cur.Name,
			X:            at(cur.Position, 0),
			Y:            at(cur.Position, 1),
			Z:            at(cur.Position, 2),
			Length:       at(cur.Length, 0),
			Width:        at(cur.Length, 1),
			Height:       at(cur.Length, 2),
			RotationType: cur.RotationType,
			LoadingOrder: order + 1,
			IsLoading:    req.IsLoading,
			CreatedAt:    s.now().UTC(),
		}
		if err := db.InsertBoxPosition(ctx, tx, b); err != nil {
			return err
		}
		occ, err := s.recompute(ctx, tx, job.ID)
		if err != nil {
			return fmt.Errorf("recompute job %d: %w", job.ID, err)
		}
		res = IngestResult{Success: true, JobID: job.ID, BoxPositionID: b.ID, Occupancy: occ}
		return nil
	})
	if err != nil {
		return IngestResult{}, err
	}
	if !res.Success {
		s.log.WithFields(logrus.Fields{"serial": req.SerialNumber, "slot": slot}).Info("no active job for working box")
		return res, nil
	}
	s.log.WithFields(logrus.Fields{"job_id": res.JobID, "slot": slot, "loading": req.IsLoading, "box": cur.Name}).Debug("working box stored")
	s.notifyPlacement(ctx, robot, job, slot, cur.Barcode)
	return res, nil
}

func (s *Service) notifyPlacement(ctx context.Context, robot *model.Robot, job *model.Job, slot protocol.Slot, boxBarcode string) {
	if s.notifier == nil || job.JobGroup == nil || job.JobGroup.Location == nil || job.JobPallet == nil || job.JobPallet.PalletBarcode == nil {
		return
	}
	if slot != protocol.SlotP1 && slot != protocol.SlotP2 {
		return
	}
	s.notifier.NotifyPlacement(ctx, Placement{
		Robot:         *robot,
		Slot:          slot,
		BoxBarcode:    boxBarcode,
		PalletBarcode: *job.JobPallet.PalletBarcode,
		Chute:         *job.JobGroup.Location,
	})
}

// generateBarcode builds yyyymmdd + seconds + three random digits.
func (s *Service) generateBarcode() string {
	now := s.now()
	return fmt.Sprintf("%s%02d%03d", now.Format("20060102"), now.Second(), s.digit())
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
