package journal

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/config"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/protocol"
)

// ErrQueueFull is returned when a record is dropped because the writer lags.
var ErrQueueFull = errors.New("journal queue full")

// Record is one envelope seen on the controller link.
type Record struct {
	Timestamp time.Time       `json:"timestamp"`
	Direction string          `json:"direction"`
	Name      string          `json:"packet_name"`
	Kind      protocol.Kind   `json:"packet_type"`
	ID        string          `json:"packet_id,omitempty"`
	Bytes     int             `json:"bytes"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var csvHeader = []string{"timestamp", "direction", "packet_name", "packet_type", "packet_id", "bytes", "payload"}

// Journal appends controller traffic to JSONL and/or CSV files from a
// single background writer.
type Journal struct {
	dir string
	q   chan Record
	log *logrus.Entry
	now func() time.Time

	jsonFile   *os.File
	jsonWriter *bufio.Writer
	csvFile    *os.File
	csvWriter  *csv.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// Open creates the journal directory, opens the requested outputs and starts
// the writer.
func Open(cfg config.JournalConfig, log logrus.FieldLogger) (*Journal, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "data/journal"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	var enableJSON, enableCSV bool
	switch strings.ToLower(strings.TrimSpace(cfg.FileType)) {
	case "json", "jsonl", "":
		enableJSON = true
	case "csv":
		enableCSV = true
	case "both", "json+csv", "csv+json":
		enableJSON, enableCSV = true, true
	default:
		return nil, fmt.Errorf("unsupported journal file_type %q", cfg.FileType)
	}

	size := cfg.MaxQueueSize
	if size <= 0 {
		size = 1000
	}
	j := &Journal{
		dir:    dir,
		q:      make(chan Record, size),
		log:    logging.Component(log, "journal"),
		now:    time.Now,
		closed: make(chan struct{}),
	}

	if enableJSON {
		f, err := os.OpenFile(filepath.Join(dir, "traffic.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json journal: %w", err)
		}
		j.jsonFile = f
		j.jsonWriter = bufio.NewWriterSize(f, 64*1024)
	}
	if enableCSV {
		if err := j.openCSV(); err != nil {
			j.closeFiles()
			return nil, err
		}
	}

	go j.run()
	return j, nil
}

func (j *Journal) openCSV() error {
	f, err := os.OpenFile(filepath.Join(j.dir, "traffic.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv journal: %w", err)
	}
	j.csvFile = f
	j.csvWriter = csv.NewWriter(f)
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil || off > 0 {
		return err
	}
	if err := j.csvWriter.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	j.csvWriter.Flush()
	return j.csvWriter.Error()
}

func (j *Journal) run() {
	defer close(j.closed)
	for r := range j.q {
		if err := j.writeJSONL(r); err != nil {
			j.log.WithError(err).Warn("write json record")
		}
		if err := j.writeCSV(r); err != nil {
			j.log.WithError(err).Warn("write csv record")
		}
	}
	if j.jsonWriter != nil {
		_ = j.jsonWriter.Flush()
	}
	if j.csvWriter != nil {
		j.csvWriter.Flush()
	}
}

// Handle queues one record without blocking.
func (j *Journal) Handle(r Record) error {
	select {
	case j.q <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// Tap records an envelope. Its signature matches the connection's frame tap.
func (j *Journal) Tap(dir string, env protocol.Envelope, size int) {
	err := j.Handle(Record{
		Timestamp: j.now().UTC(),
		Direction: dir,
		Name:      env.Name,
		Kind:      env.Kind,
		ID:        env.ID,
		Bytes:     size,
		Payload:   env.Payload,
	})
	if err != nil {
		j.log.WithField("packet", env.Name).WithError(err).Error("journal record dropped")
	}
}

// Close drains the queue and closes the files. It is safe to call twice.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		close(j.q)
		<-j.closed
		j.closeFiles()
	})
}

func (j *Journal) closeFiles() {
	if j.jsonFile != nil {
		_ = j.jsonFile.Close()
	}
	if j.csvFile != nil {
		_ = j.csvFile.Close()
	}
}

func (j *Journal) writeJSONL(r Record) error {
	if j.jsonWriter == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := j.jsonWriter.Write(b); err != nil {
		return err
	}
	return j.jsonWriter.WriteByte('\n')
}

func (j *Journal) writeCSV(r Record) error {
	if j.csvWriter == nil {
		return nil
	}
	return j.csvWriter.Write([]string{
		r.Timestamp.Format(time.RFC3339Nano),
		r.Direction,
		r.Name,
		string(r.Kind),
		r.ID,
		strconv.Itoa(r.Bytes),
		string(r.Payload),
	})
}
