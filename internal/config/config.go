package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// RootConfig mirrors config/palletd.yaml.
type RootConfig struct {
	Controller ControllerConfig `yaml:"controller"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Journal    JournalConfig    `yaml:"journal"`
	WMS        WMSConfig        `yaml:"wms"`
	CellIO     CellIOConfig     `yaml:"cellio"`
	Report     ReportConfig     `yaml:"report"`
}

type ControllerConfig struct {
	URL              string        `yaml:"url"`
	MaxRetries       int           `yaml:"max_retries"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	QueueSize        int           `yaml:"queue_size"`
	Timeouts         RPCTimeouts   `yaml:"timeouts"`
}

// RPCTimeouts bounds the wait for each outbound request/response exchange.
type RPCTimeouts struct {
	Gripper     time.Duration `yaml:"gripper"`
	JobSetting  time.Duration `yaml:"job_setting"`
	PreviousJob time.Duration `yaml:"previous_job"`
	RobotInfo   time.Duration `yaml:"robot_info"`
}

type StorageConfig struct {
	DBPath      string        `yaml:"db_path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type HTTPConfig struct {
	Listen             string        `yaml:"listen"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	CalibrationTimeout time.Duration `yaml:"calibration_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type JournalConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Dir          string `yaml:"dir"`
	FileType     string `yaml:"file_type"` // jsonl | csv | both
	MaxQueueSize int    `yaml:"max_queue_size"`
}

type WMSConfig struct {
	Enabled     bool          `yaml:"enabled"`
	APIKey      string        `yaml:"api_key"`
	SessionUser string        `yaml:"session_user"`
	Timeout     time.Duration `yaml:"timeout"`
	Platforms   []string      `yaml:"platforms"`
}

// CellIOConfig describes the optional Modbus link to the cell PLC.
type CellIOConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Protocol     string        `yaml:"protocol"` // modbus-tcp | modbus-rtu
	Connection   Connection    `yaml:"connection"`
	SlaveID      uint8         `yaml:"slave_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryCount   int           `yaml:"retry_count"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	Points       []Point       `yaml:"points"`
}

type Connection struct {
	// TCP
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RTU
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`
}

type Point struct {
	Address      uint16  `yaml:"address"`
	Name         string  `yaml:"name"`
	DataType     string  `yaml:"data_type"`     // uint16 | int16 | uint32 | int32 | float32
	ByteOrder    string  `yaml:"byte_order"`    // ABCD | DCBA | BADC | CDAB
	RegisterType string  `yaml:"register_type"` // holding | input | coil | discrete
	Scale        float64 `yaml:"scale"`
	Offset       float64 `yaml:"offset"`
	Unit         string  `yaml:"unit"`
}

type ReportConfig struct {
	Timezone string `yaml:"timezone"`
}

// Default returns a configuration with every default applied.
func Default() RootConfig {
	var cfg RootConfig
	cfg.Metrics.Enabled = true
	applyDefaults(&cfg)
	return cfg
}

// LoadYAML reads path, applies defaults and validates the result.
func LoadYAML(path string) (RootConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	return Parse(b)
}

// Parse decodes YAML bytes; keys that are absent keep their defaults.
func Parse(b []byte) (RootConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return RootConfig{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *RootConfig) {
	c := &cfg.Controller
	if c.URL == "" {
		c.URL = "ws://172.30.1.70:18080"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 500
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	} else if c.SettleDelay == 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeouts.Gripper <= 0 {
		c.Timeouts.Gripper = time.Second
	}
	if c.Timeouts.JobSetting <= 0 {
		c.Timeouts.JobSetting = 10 * time.Second
	}
	if c.Timeouts.PreviousJob <= 0 {
		c.Timeouts.PreviousJob = 10 * time.Second
	}
	if c.Timeouts.RobotInfo <= 0 {
		c.Timeouts.RobotInfo = 10 * time.Second
	}

	s := &cfg.Storage
	if s.DBPath == "" {
		s.DBPath = "data/palletizer.sqlite"
	}
	if s.BusyTimeout <= 0 {
		s.BusyTimeout = time.Second
	}
	if s.Retry.Attempts <= 0 {
		s.Retry.Attempts = 10
	}
	if s.Retry.Delay <= 0 {
		s.Retry.Delay = 100 * time.Millisecond
	}

	h := &cfg.HTTP
	if h.Listen == "" {
		h.Listen = ":8080"
	}
	if h.ShutdownGrace <= 0 {
		h.ShutdownGrace = 5 * time.Second
	}
	if h.CalibrationTimeout <= 0 {
		h.CalibrationTimeout = 60 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	j := &cfg.Journal
	if j.Dir == "" {
		j.Dir = "data/journal"
	}
	if j.FileType == "" {
		j.FileType = "jsonl"
	}
	if j.MaxQueueSize <= 0 {
		j.MaxQueueSize = 1000
	}

	if cfg.WMS.Timeout <= 0 {
		cfg.WMS.Timeout = 5 * time.Second
	}
	if len(cfg.WMS.Platforms) == 0 {
		cfg.WMS.Platforms = []string{"CBR2PAL", "CHRIS2"}
	}

	io := &cfg.CellIO
	if io.Protocol == "" {
		io.Protocol = "modbus-tcp"
	}
	if io.PollInterval <= 0 {
		io.PollInterval = time.Second
	}
	if io.Timeout <= 0 {
		io.Timeout = 5 * time.Second
	}
	if io.RetryCount < 0 {
		io.RetryCount = 0
	}
	if io.CacheTTL <= 0 {
		io.CacheTTL = time.Hour
	}
	for i := range io.Points {
		if io.Points[i].Scale == 0 {
			io.Points[i].Scale = 1
		}
	}

	if cfg.Report.Timezone == "" {
		cfg.Report.Timezone = "Asia/Seoul"
	}
}

// Validate rejects settings the engine cannot start with.
func (c RootConfig) Validate() error {
	if !strings.HasPrefix(c.Controller.URL, "ws://") && !strings.HasPrefix(c.Controller.URL, "wss://") {
		return fmt.Errorf("controller.url %q: expected ws:// or wss://", c.Controller.URL)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: expected text or json", c.Log.Format)
	}
	if c.Journal.Enabled {
		switch strings.ToLower(c.Journal.FileType) {
		case "jsonl", "json", "csv", "both":
		default:
			return fmt.Errorf("journal.file_type %q: expected jsonl, csv or both", c.Journal.FileType)
		}
	}
	if c.CellIO.Enabled {
		switch strings.ToLower(c.CellIO.Protocol) {
		case "modbus-tcp", "tcp":
			if c.CellIO.Connection.Host == "" || c.CellIO.Connection.Port <= 0 {
				return fmt.Errorf("cellio.connection: host and port are required for %s", c.CellIO.Protocol)
			}
		case "modbus-rtu", "rtu":
			if strings.TrimSpace(c.CellIO.Connection.SerialPort) == "" {
				return fmt.Errorf("cellio.connection: serial_port is required for %s", c.CellIO.Protocol)
			}
		default:
			return fmt.Errorf("cellio.protocol %q not implemented", c.CellIO.Protocol)
		}
		if len(c.CellIO.Points) == 0 {
			return fmt.Errorf("cellio: no points configured")
		}
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	return nil
}

// Location returns the report timezone, falling back to UTC.
func (c ReportConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
