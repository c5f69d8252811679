package jobs

import (
	"context"
	"time"

	"palletizer-control/internal/db"
)

// JobFigures is the per-job slice of a work summary.
type JobFigures struct {
	LoadingRate float64 `json:"loadingRate"`
	BPH         float64 `json:"bph"`
}

// DayFigures aggregates the jobs that ended on one report-timezone day.
type DayFigures struct {
	Date           string  `json:"date"`
	AvgLoadingRate float64 `json:"avgLoadingRate"`
	Pallets        int     `json:"pallets"`
	AvgBPH         float64 `json:"avgBph"`
	LogCount       int     `json:"logCount"`
}

type Summary struct {
	Jobs                []JobFigures          `json:"jobs"`
	JobByDay            map[string]DayFigures `json:"jobByDay,omitempty"`
	AvgBPH              float64               `json:"avgBph"`
	AvgLoadingRate      float64               `json:"avgLoadingRate"`
	FinishedPalletCount int                   `json:"finishedPalletCount"`
	WarningAndErrorLogs int                   `json:"warningAndErrorLogCounts"`
}

// Summarize reports on the robot's non-buffer jobs that started and ended
// within [start, end]. With byDay set the jobs are also grouped by end date.
func (s *Service) Summarize(ctx context.Context, serial string, start, end time.Time, byDay bool) (Summary, error) {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return Summary{}, err
	}
	jobs, err := db.JobsBetween(ctx, s.db, robot.ID, start, end)
	if err != nil {
		return Summary{}, err
	}
	logs, err := db.CountWarningErrorLogs(ctx, s.db, robot.ID, start, end)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{
		Jobs:                make([]JobFigures, 0, len(jobs)),
		FinishedPalletCount: len(jobs),
		WarningAndErrorLogs: logs,
	}
	out.AvgBPH, out.AvgLoadingRate = averages(jobs)
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, JobFigures{LoadingRate: j.LoadingRate, BPH: j.BPH})
	}
	if byDay {
		out.JobByDay = make(map[string]DayFigures)
		for date, group := range s.groupByDay(jobs) {
			bph, rate := averages(group)
			out.JobByDay[date] = DayFigures{Date: date, AvgBPH: bph, AvgLoadingRate: rate, Pallets: len(group)}
		}
	}
	return out, nil
}

// DailyFigures groups every ended non-buffer job of the robot by end date,
// newest day first, with the warning and error log count of each day.
func (s *Service) DailyFigures(ctx context.Context, serial string) ([]DayFigures, error) {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return nil, err
	}
	jobs, err := db.EndedJobs(ctx, s.db, robot.ID)
	if err != nil {
		return nil, err
	}

	var (
		order  []string
		groups = s.groupByDay(jobs)
		seen   = make(map[string]bool)
	)
	for _, j := range jobs {
		d := s.day(j.EndedAt)
		if !seen[d] {
			seen[d] = true
			order = append(order, d)
		}
	}

	out := make([]DayFigures, 0, len(order))
	for _, date := range order {
		day, err := time.ParseInLocation(time.DateOnly, date, s.loc)
		if err != nil {
			return nil, err
		}
		logs, err := db.CountWarningErrorLogs(ctx, s.db, robot.ID, day, day.AddDate(0, 0, 1).Add(-time.Millisecond))
		if err != nil {
			return nil, err
		}
		bph, rate := averages(groups[date])
		out = append(out, DayFigures{
			Date:           date,
			AvgLoadingRate: rate,
			Pallets:        len(groups[date]),
			AvgBPH:         bph,
			LogCount:       logs,
		})
	}
	return out, nil
}

// Location is the timezone used for day boundaries.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) groupByDay(jobs []db.JobResult) map[string][]db.JobResult {
	out := make(map[string][]db.JobResult)
	for _, j := range jobs {
		d := s.day(j.EndedAt)
		out[d] = append(out[d], j)
	}
	return out
}

func (s *Service) day(t *time.Time) string {
	if t == nil {
		return time.Unix(0, 0).In(s.loc).Format(time.DateOnly)
	}
	return t.In(s.loc).Format(time.DateOnly)
}

func averages(jobs []db.JobResult) (bph, rate float64) {
	if len(jobs) == 0 {
		return 0, 0
	}
	for _, j := range jobs {
		bph += j.BPH
		rate += j.LoadingRate
	}
	n := float64(len(jobs))
	return bph / n, rate / n
}
