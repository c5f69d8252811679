package tasks

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/app"
	"palletizer-control/internal/config"
	"palletizer-control/internal/logging"
)

// Options defines initialization overrides for the engine.
// Mirrors the flags of `palletd run`.
type Options struct {
	ConfigPath     string
	DBPath         string
	Listen         string
	ControllerURL  string
	LogLevel       string
	JournalEnabled bool
	JournalDir     string
	JournalQueue   int
}

// LoadConfig reads the YAML config (defaults only when path is empty),
// applies the overrides and validates the result.
func LoadConfig(opts Options) (config.RootConfig, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadYAML(opts.ConfigPath); err != nil {
			return config.RootConfig{}, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
		}
	}

	// Override YAML with provided options
	if opts.DBPath != "" {
		cfg.Storage.DBPath = opts.DBPath
	}
	if opts.Listen != "" {
		cfg.HTTP.Listen = opts.Listen
	}
	if opts.ControllerURL != "" {
		cfg.Controller.URL = opts.ControllerURL
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.JournalEnabled {
		cfg.Journal.Enabled = true
	}
	if opts.JournalDir != "" {
		cfg.Journal.Dir = opts.JournalDir
		cfg.Journal.Enabled = true
	}
	if opts.JournalQueue > 0 {
		cfg.Journal.MaxQueueSize = opts.JournalQueue
		cfg.Journal.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return config.RootConfig{}, err
	}
	return cfg, nil
}

// InitAndRun loads config, applies overrides, assembles the engine and runs
// it until ctx is done.
func InitAndRun(ctx context.Context, opts Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.WithFields(logrus.Fields{
		"controller": cfg.Controller.URL,
		"db":         cfg.Storage.DBPath,
		"listen":     cfg.HTTP.Listen,
	}).Info("palletd starting")
	return a.Run(ctx)
}
