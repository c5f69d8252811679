package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/db"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

// Occupancy is the projection of a job's box events onto its pallet.
type Occupancy struct {
	Height float64 `json:"currentLoadHeight"`
	Rate   float64 `json:"loadingRate"`
	Volume float64 `json:"volume"`
	Boxes  int     `json:"boxes"`
}

// oddGroups groups rows by box id and keeps the groups with an odd row
// count. Group order follows the first row of each group.
func oddGroups(rows []model.BoxPosition, skipGhost bool) [][]model.BoxPosition {
	index := make(map[int64]int)
	var groups [][]model.BoxPosition
	for _, r := range rows {
		if skipGhost && r.BoxName == protocol.GhostBoxName {
			continue
		}
		i, ok := index[r.BoxID]
		if !ok {
			i = len(groups)
			index[r.BoxID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g)%2 == 1 {
			out = append(out, g)
		}
	}
	return out
}

// OccupiedBoxes returns the boxes currently on the pallet: non-ghost box ids
// with an odd number of events, each represented by its most recent row.
func OccupiedBoxes(rows []model.BoxPosition) []model.BoxPosition {
	groups := oddGroups(rows, true)
	out := make([]model.BoxPosition, 0, len(groups))
	for _, g := range groups {
		latest := g[0]
		for _, r := range g[1:] {
			if r.CreatedAt.After(latest.CreatedAt) || (r.CreatedAt.Equal(latest.CreatedAt) && r.ID > latest.ID) {
				latest = r
			}
		}
		out = append(out, latest)
	}
	return out
}

// ComputeOccupancy derives stack height and loading rate from the occupied
// boxes. It reports false when no box is on the pallet.
func ComputeOccupancy(boxes []model.BoxPosition, p model.JobPallet) (Occupancy, bool) {
	if len(boxes) == 0 {
		return Occupancy{}, false
	}
	base := p.Height
	maxH := boxes[0].Z + boxes[0].Height + base
	var vol float64
	for _, b := range boxes {
		cur := b.Z + b.Height + base
		if cur > maxH {
			maxH = cur
		} else if cur == base {
			// a box whose top sits on the pallet base marks an emptied pallet
			maxH = 0
		}
		vol += b.Width * b.Height * b.Length
	}
	occ := Occupancy{Height: maxH, Volume: vol, Boxes: len(boxes)}
	palletVol := p.Width * (p.LoadingHeight - base) * p.Length
	if palletVol > 0 {
		occ.Rate = math.Ceil(vol * 100 / palletVol)
	}
	return occ, true
}

// WorkingBoxes lists the boxes present on a job's pallet in the shape the
// controller expects, ascending by loading order. Ghost boxes are included.
func WorkingBoxes(ctx context.Context, q sqlx.QueryerContext, jobID int64, slot protocol.Slot) ([]protocol.WorkingBox, error) {
	rows, err := db.ListBoxPositions(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("list box positions of job %d: %w", jobID, err)
	}
	groups := oddGroups(rows, false)
	picked := make([]model.BoxPosition, 0, len(groups))
	for _, g := range groups {
		top := g[0]
		for _, r := range g[1:] {
			if r.LoadingOrder > top.LoadingOrder || (r.LoadingOrder == top.LoadingOrder && r.ID > top.ID) {
				top = r
			}
		}
		picked = append(picked, top)
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].LoadingOrder != picked[j].LoadingOrder {
			return picked[i].LoadingOrder < picked[j].LoadingOrder
		}
		return picked[i].ID < picked[j].ID
	})

	out := make([]protocol.WorkingBox, 0, len(picked))
	for _, b := range picked {
		out = append(out, protocol.WorkingBox{
			Name:           b.BoxName,
			Barcode:        b.BoxBarcode,
			BoxID:          b.BoxID,
			LoadingOrder:   b.LoadingOrder,
			RotationType:   b.RotationType,
			PalletLocation: string(slot),
			JobID:          strconv.FormatInt(b.JobID, 10),
			Position:       []float64{b.X, b.Y, b.Z},
			Length:         []float64{b.Length, b.Width, b.Height},
		})
	}
	return out, nil
}

// UpdateJobInfo recomputes the job's occupancy and stores it on the job row.
func (s *Service) UpdateJobInfo(ctx context.Context, jobID int64) (Occupancy, error) {
	var occ Occupancy
	err := s.db.RetryTx(ctx, "update job info", func(tx *sqlx.Tx) error {
		var err error
		occ, err = s.recompute(ctx, tx, jobID)
		return err
	})
	return occ, err
}

// recompute runs on the caller's transaction. When no box is on the pallet
// the stored values are left as they are.
func (s *Service) recompute(ctx context.Context, e sqlx.ExtContext, jobID int64) (Occupancy, error) {
	job, err := db.GetJob(ctx, e, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return Occupancy{}, ErrJobNotFound
	}
	if err != nil {
		return Occupancy{}, err
	}
	if job.JobPallet == nil {
		return Occupancy{}, ErrJobPalletNotFound
	}
	rows, err := db.ListBoxPositions(ctx, e, jobID)
	if err != nil {
		return Occupancy{}, err
	}
	occ, ok := ComputeOccupancy(OccupiedBoxes(rows), *job.JobPallet)
	if !ok {
		return Occupancy{Height: job.CurrentLoadHeight, Rate: job.LoadingRate}, nil
	}
	if occ.Rate == 0 && occ.Volume > 0 {
		s.log.WithField("job_id", jobID).Warn("pallet has no usable volume")
	}
	if err := db.UpdateJobOccupancy(ctx, e, jobID, occ.Height, occ.Rate); err != nil {
		return Occupancy{}, fmt.Errorf("store occupancy of job %d: %w", jobID, err)
	}
	if slot, ok := protocol.ParseSlot(job.JobPallet.Location); ok {
		s.metrics.JobOccupancy(string(slot), occ.Height, occ.Rate)
	}
	s.log.WithFields(logrus.Fields{"job_id": jobID, "height": occ.Height, "rate": occ.Rate, "boxes": occ.Boxes}).Debug("occupancy updated")
	return occ, nil
}
