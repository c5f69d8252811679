package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/config"
)

// New builds the process logger. The returned func closes the log file, if any.
func New(c config.LogConfig) (*logrus.Logger, func(), error) {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(c.Level)))
	if err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(c.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if c.File == "" {
		l.SetOutput(os.Stdout)
		return l, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("mkdir log dir: %w", err)
	}
	f, err := os.OpenFile(c.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	l.SetOutput(io.MultiWriter(os.Stdout, f))
	return l, func() { _ = f.Close() }, nil
}

// Component returns an entry tagged with the component name.
func Component(l logrus.FieldLogger, name string) *logrus.Entry {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", name)
}

// Discard returns a logger that drops everything; used by tests and optional parts.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
