package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ws://172.30.1.70:18080", cfg.Controller.URL)
	assert.Equal(t, 500, cfg.Controller.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Controller.ReconnectDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.SettleDelay)
	assert.Equal(t, time.Second, cfg.Controller.Timeouts.Gripper)
	assert.Equal(t, 10*time.Second, cfg.Controller.Timeouts.JobSetting)
	assert.Equal(t, 10, cfg.Storage.Retry.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Storage.Retry.Delay)
	assert.Equal(t, time.Second, cfg.Storage.BusyTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, []string{"CBR2PAL", "CHRIS2"}, cfg.WMS.Platforms)
	assert.Equal(t, "Asia/Seoul", cfg.Report.Timezone)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palletd.yaml")
	body := `
controller:
  url: ws://10.0.0.5:18080
  max_retries: 3
  reconnect_delay: 250ms
  timeouts:
    gripper: 2s
storage:
  db_path: /tmp/p.sqlite
  retry:
    attempts: 4
log:
  level: debug
  format: json
metrics:
  enabled: false
cellio:
  enabled: true
  protocol: modbus-tcp
  connection:
    host: 127.0.0.1
    port: 1502
  points:
    - name: pallet_present_p1
      address: 10
      register_type: discrete
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:18080", cfg.Controller.URL)
	assert.Equal(t, 3, cfg.Controller.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Controller.ReconnectDelay)
	assert.Equal(t, 2*time.Second, cfg.Controller.Timeouts.Gripper)
	assert.Equal(t, 10*time.Second, cfg.Controller.Timeouts.RobotInfo)
	assert.Equal(t, 4, cfg.Storage.Retry.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Storage.Retry.Delay)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)
	require.Len(t, cfg.CellIO.Points, 1)
	assert.Equal(t, 1.0, cfg.CellIO.Points[0].Scale)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad url":        "controller:\n  url: http://x\n",
		"bad log format": "log:\n  format: xml\n",
		"rtu no port":    "cellio:\n  enabled: true\n  protocol: modbus-rtu\n  points:\n    - name: a\n",
		"no points":      "cellio:\n  enabled: true\n  connection:\n    host: h\n    port: 1\n",
		"bad timezone":   "report:\n  timezone: Mars/Base\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadYAMLMissingFile(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
