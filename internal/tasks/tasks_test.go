package tasks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
)

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "palletd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
controller:
  url: ws://10.0.0.5:18080
http:
  listen: ":9000"
`), 0o644))

	cfg, err := LoadConfig(Options{ConfigPath: path, Listen: ":9100", JournalDir: "/tmp/j"})
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:18080", cfg.Controller.URL)
	assert.Equal(t, ":9100", cfg.HTTP.Listen)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/j", cfg.Journal.Dir)

	_, err = LoadConfig(Options{ControllerURL: "http://nope"})
	assert.Error(t, err)

	_, err = LoadConfig(Options{ConfigPath: filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestSeedAndMigrate(t *testing.T) {
	dir := t.TempDir()
	opts := Options{DBPath: filepath.Join(dir, "store.sqlite"), LogLevel: "error"}
	require.NoError(t, Migrate(opts))

	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`
box_groups:
  - name: Retail
    boxes:
      - {name: BOX_A, width: 300, height: 250, length: 400}
pallet_groups:
  - name: Line 1
    location: CH-1
    pallets:
      - {location: 좌측, box_group: Retail}
`), 0o644))

	res, err := Seed(context.Background(), opts, catalog)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Boxes)
	assert.Equal(t, 1, res.Pallets)
}

func TestRecomputeUnknownJob(t *testing.T) {
	opts := Options{DBPath: filepath.Join(t.TempDir(), "store.sqlite"), LogLevel: "error"}
	_, err := Recompute(context.Background(), opts, 42)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := Options{DBPath: filepath.Join(dir, "store.sqlite"), LogLevel: "error"}

	err := Report(ctx, opts, "", "", filepath.Join(dir, "none.csv"))
	assert.ErrorIs(t, err, jobs.ErrRobotNotFound)

	store, err := db.Open(opts.DBPath, db.Options{})
	require.NoError(t, err)
	require.NoError(t, db.CreateRobot(ctx, store, &model.Robot{Serial: "RB-1"}))
	require.NoError(t, store.Close())

	out := filepath.Join(dir, "summary.csv")
	require.NoError(t, Report(ctx, opts, "RB-1", "", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "date,finished_pallets"))

	out = filepath.Join(dir, "day.json")
	require.NoError(t, Report(ctx, opts, "RB-1", "2026-03-02", out))
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"2026-03-02"`)

	assert.Error(t, Report(ctx, opts, "RB-1", "03/02/2026", out))
	assert.Error(t, Report(ctx, opts, "RB-1", "", filepath.Join(dir, "summary.xlsx")))
}

func TestCellSimNeedsPoints(t *testing.T) {
	err := CellSim(context.Background(), Options{LogLevel: "error"}, "127.0.0.1:0", "unused.csv", time.Millisecond)
	assert.EqualError(t, err, "cellio.points is empty")
}

func TestCellSimServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "palletd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
log:
  level: error
cellio:
  points:
    - {name: infeed, address: 0, register_type: holding, data_type: uint16}
`), 0o644))
	csvPath := filepath.Join(dir, "cell.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("infeed\n1\n2\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, CellSim(ctx, Options{ConfigPath: cfgPath}, "127.0.0.1:0", csvPath, 5*time.Millisecond))
}
