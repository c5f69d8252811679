package tasks

import (
	"context"
	"errors"
	"time"

	"palletizer-control/internal/cellsim"
	"palletizer-control/internal/logging"
)

// CellSim serves the configured cellio points from a simulated PLC, replaying
// csvFile until ctx is done.
func CellSim(ctx context.Context, opts Options, listen, csvFile string, interval time.Duration) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	if len(cfg.CellIO.Points) == 0 {
		return errors.New("cellio.points is empty")
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	rows, err := cellsim.LoadCSV(csvFile)
	if err != nil {
		return err
	}
	plc := cellsim.NewPLC(log)
	if err := plc.Listen(listen); err != nil {
		return err
	}
	defer plc.Close()
	return plc.Replay(ctx, cfg.CellIO.Points, rows, interval)
}
