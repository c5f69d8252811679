package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
)

func sampleDays() []jobs.DayFigures {
	return []jobs.DayFigures{
		{Date: "2024-03-02", AvgLoadingRate: 81.5, Pallets: 3, AvgBPH: 420, LogCount: 2},
		{Date: "2024-03-01", AvgLoadingRate: 0, Pallets: 0, AvgBPH: 0, LogCount: 0},
	}
}

func TestWriteDaysCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDaysCSV(&buf, sampleDays()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, dayHeader, rows[0])
	assert.Equal(t, []string{"2024-03-02", "3", "420", "81.5", "2"}, rows[1])
	assert.Equal(t, []string{"2024-03-01", "0", "0", "0", "0"}, rows[2])
}

func TestWriteBoxesCSV(t *testing.T) {
	at := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteBoxesCSV(&buf, []model.BoxPosition{
		{LoadingOrder: 1, BoxBarcode: "B-1", BoxName: "BOX_A", X: 10, Y: 20.5, Z: 0, Length: 400, Width: 300, Height: 250, RotationType: 1, CreatedAt: at},
	}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "B-1", "BOX_A", "10", "20.5", "0", "400", "300", "250", "1", "2024-03-02T09:30:00Z"}, rows[1])
}

func TestDay(t *testing.T) {
	d := Day("2024-03-02", jobs.Summary{AvgBPH: 300, AvgLoadingRate: 70, FinishedPalletCount: 4, WarningAndErrorLogs: 1})
	assert.Equal(t, jobs.DayFigures{Date: "2024-03-02", AvgBPH: 300, AvgLoadingRate: 70, Pallets: 4, LogCount: 1}, d)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, WriteFile(jsonPath, sampleDays()))
	b, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var got []jobs.DayFigures
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, sampleDays(), got)

	csvPath := filepath.Join(dir, "report.csv")
	require.NoError(t, WriteFile(csvPath, sampleDays()))
	b, err = os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "date,finished_pallets")

	assert.Error(t, WriteFile(filepath.Join(dir, "report.xlsx"), sampleDays()))
}
