package tasks

import (
	"context"
	"fmt"
	"time"

	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/report"
	"palletizer-control/pkg/palletdb"
)

// Migrate opens the store, which creates or upgrades the schema, and closes it.
func Migrate(opts Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	store, err := db.Open(cfg.Storage.DBPath, db.Options{BusyTimeout: cfg.Storage.BusyTimeout})
	if err != nil {
		return err
	}
	return store.Close()
}

// Seed loads the catalog file into the store.
func Seed(ctx context.Context, opts Options, file string) (palletdb.SeedResult, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return palletdb.SeedResult{}, err
	}
	cat, err := palletdb.LoadCatalog(file)
	if err != nil {
		return palletdb.SeedResult{}, err
	}
	client, err := palletdb.Open(cfg.Storage.DBPath)
	if err != nil {
		return palletdb.SeedResult{}, err
	}
	defer client.Close()
	return client.Seed(ctx, cat)
}

// Recompute rebuilds the stored occupancy figures of one job from its box events.
func Recompute(ctx context.Context, opts Options, jobID int64) (jobs.Occupancy, error) {
	var occ jobs.Occupancy
	err := withService(opts, func(svc *jobs.Service) error {
		var err error
		occ, err = svc.UpdateJobInfo(ctx, jobID)
		return err
	})
	return occ, err
}

// Report writes the robot's work summary to out (.csv or .json). With an
// empty date every day with ended jobs is written, otherwise only that day.
func Report(ctx context.Context, opts Options, serial, date, out string) error {
	return withService(opts, func(svc *jobs.Service) error {
		if date == "" {
			days, err := svc.DailyFigures(ctx, serial)
			if err != nil {
				return err
			}
			return report.WriteFile(out, days)
		}
		day, err := time.ParseInLocation(time.DateOnly, date, svc.Location())
		if err != nil {
			return fmt.Errorf("date %q: %w", date, err)
		}
		sum, err := svc.Summarize(ctx, serial, day, day.AddDate(0, 0, 1).Add(-time.Millisecond), false)
		if err != nil {
			return err
		}
		return report.WriteFile(out, []jobs.DayFigures{report.Day(date, sum)})
	})
}

func withService(opts Options, fn func(*jobs.Service) error) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := db.Open(cfg.Storage.DBPath, db.Options{
		BusyTimeout:   cfg.Storage.BusyTimeout,
		RetryAttempts: cfg.Storage.Retry.Attempts,
		RetryDelay:    cfg.Storage.Retry.Delay,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(jobs.NewService(store, jobs.Options{Logger: log, Location: cfg.Report.Location()}))
}
