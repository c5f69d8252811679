package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
)

var dayHeader = []string{"date", "finished_pallets", "avg_bph", "avg_loading_rate", "warning_error_logs"}

var boxHeader = []string{"loading_order", "box_barcode", "box_name", "x", "y", "z", "length", "width", "height", "rotation_type", "created_at"}

// Day folds a one-day summary into a single report row.
func Day(date string, s jobs.Summary) jobs.DayFigures {
	return jobs.DayFigures{
		Date:           date,
		AvgLoadingRate: s.AvgLoadingRate,
		Pallets:        s.FinishedPalletCount,
		AvgBPH:         s.AvgBPH,
		LogCount:       s.WarningAndErrorLogs,
	}
}

// WriteDaysCSV writes one row per day.
// Columns: date,finished_pallets,avg_bph,avg_loading_rate,warning_error_logs
func WriteDaysCSV(w io.Writer, days []jobs.DayFigures) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dayHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, d := range days {
		rec := []string{
			d.Date,
			strconv.Itoa(d.Pallets),
			formatFloat(d.AvgBPH),
			formatFloat(d.AvgLoadingRate),
			strconv.Itoa(d.LogCount),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBoxesCSV writes the placements of one job in loading order.
func WriteBoxesCSV(w io.Writer, rows []model.BoxPosition) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(boxHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, b := range rows {
		rec := []string{
			strconv.FormatInt(b.LoadingOrder, 10),
			b.BoxBarcode,
			b.BoxName,
			formatFloat(b.X),
			formatFloat(b.Y),
			formatFloat(b.Z),
			formatFloat(b.Length),
			formatFloat(b.Width),
			formatFloat(b.Height),
			strconv.Itoa(b.RotationType),
			b.CreatedAt.Format(time.RFC3339Nano),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v with pretty formatting.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return nil
}

// WriteFile writes days to path as CSV or JSON depending on its extension.
func WriteFile(path string, days []jobs.DayFigures) error {
	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		write = func(w io.Writer) error { return WriteDaysCSV(w, days) }
	case ".json":
		write = func(w io.Writer) error { return WriteJSON(w, days) }
	default:
		return fmt.Errorf("unsupported report format %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
