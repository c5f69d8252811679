package cellsim

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"palletizer-control/internal/config"
)

// Set stores v at the point's address, encoded the way the poller decodes it:
// v is unscaled with the point's scale and offset, then written with its data
// type and byte order. Coils and discrete inputs are set when v is non-zero.
func (p *PLC) Set(pt config.Point, v float64) error {
	scale := pt.Scale
	if scale == 0 {
		scale = 1
	}
	raw := (v - pt.Offset) / scale

	rt := strings.ToLower(pt.RegisterType)
	switch rt {
	case "coil", "discrete":
		table := p.coils
		if rt == "discrete" {
			table = p.discrete
		}
		p.mu.Lock()
		table[pt.Address] = v != 0
		p.mu.Unlock()
		return nil
	case "holding", "input":
	default:
		return fmt.Errorf("unsupported register type: %s", pt.RegisterType)
	}

	table := p.holding
	if rt == "input" {
		table = p.input
	}
	var words []uint16
	switch dt := strings.ToLower(pt.DataType); dt {
	case "uint16":
		words = []uint16{uint16(math.Round(raw))}
	case "int16":
		words = []uint16{uint16(int16(math.Round(raw)))}
	case "uint32", "int32", "float32":
		var u uint32
		switch dt {
		case "uint32":
			u = uint32(math.Round(raw))
		case "int32":
			u = uint32(int32(math.Round(raw)))
		default:
			u = math.Float32bits(float32(raw))
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], u)
		d := deviceOrder(b, strings.ToUpper(pt.ByteOrder))
		words = []uint16{binary.BigEndian.Uint16(d[0:2]), binary.BigEndian.Uint16(d[2:4])}
	default:
		return fmt.Errorf("unsupported data type: %q", pt.DataType)
	}
	if int(pt.Address)+len(words) > tableSize {
		return fmt.Errorf("address %d: %w", pt.Address, errOutOfRange)
	}

	p.mu.Lock()
	copy(table[pt.Address:], words)
	p.mu.Unlock()
	return nil
}

// deviceOrder lays ABCD bytes out in the device's order. Every supported
// order is its own inverse.
func deviceOrder(b [4]byte, order string) [4]byte {
	switch strings.TrimSpace(order) {
	case "DCBA":
		return [4]byte{b[3], b[2], b[1], b[0]}
	case "BADC":
		return [4]byte{b[1], b[0], b[3], b[2]}
	case "CDAB":
		return [4]byte{b[2], b[3], b[0], b[1]}
	default:
		return b
	}
}

// Row is one replay step keyed by point name.
type Row map[string]float64

// LoadCSV reads replay rows. The header names points; every cell must parse
// as a number.
func LoadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv must contain header and at least one data row")
	}

	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for line, record := range records[1:] {
		row := make(Row, len(header))
		for i, name := range header {
			s := strings.TrimSpace(record[i])
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line+2, name, err)
			}
			row[strings.TrimSpace(name)] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Apply writes every point named in row. Points missing from row keep their value.
func (p *PLC) Apply(points []config.Point, row Row) error {
	for _, pt := range points {
		v, ok := row[pt.Name]
		if !ok {
			continue
		}
		if err := p.Set(pt, v); err != nil {
			return fmt.Errorf("point %s: %w", pt.Name, err)
		}
	}
	return nil
}

// Replay applies rows in a loop, one per interval, until ctx is done.
func (p *PLC) Replay(ctx context.Context, points []config.Point, rows []Row, interval time.Duration) error {
	if len(rows) == 0 {
		return errors.New("no rows to replay")
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(rows) {
		if err := p.Apply(points, rows[i]); err != nil {
			return err
		}
		p.log.WithField("row", i).Debug("row applied")
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
