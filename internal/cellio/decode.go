package cellio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"palletizer-control/internal/config"
)

// Value is one decoded PLC reading. Value holds the scaled and offset reading;
// coils and discrete inputs read as 0 or 1.
type Value struct {
	Name      string
	Address   uint16
	Register  string // holding|input|coil|discrete
	DataType  string
	Unit      string
	Raw       any
	Value     float64
	Timestamp time.Time
}

// registerReader is the subset of modbus.Client the poller reads through.
type registerReader interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

func readPoint(r registerReader, p config.Point, now time.Time) (Value, error) {
	rt := strings.ToLower(p.RegisterType)
	dt := strings.ToLower(p.DataType)
	v := Value{
		Name:      p.Name,
		Address:   p.Address,
		Register:  rt,
		DataType:  dt,
		Unit:      p.Unit,
		Timestamp: now,
	}

	switch rt {
	case "holding", "input":
		qty := uint16(1)
		if dt == "float32" || dt == "uint32" || dt == "int32" {
			qty = 2
		}
		read := r.ReadHoldingRegisters
		if rt == "input" {
			read = r.ReadInputRegisters
		}
		data, err := read(p.Address, qty)
		if err != nil {
			return v, err
		}
		return decodeRegisters(v, data, strings.ToUpper(p.ByteOrder), p)
	case "coil", "discrete":
		read := r.ReadCoils
		if rt == "discrete" {
			read = r.ReadDiscreteInputs
		}
		data, err := read(p.Address, 1)
		if err != nil {
			return v, err
		}
		b := len(data) > 0 && data[0]&0x01 == 0x01
		v.Raw = b
		v.Value = boolToFloat(b)
		if v.DataType == "" {
			v.DataType = "bool"
		}
		return v, nil
	default:
		return v, fmt.Errorf("unsupported register type: %s", p.RegisterType)
	}
}

func decodeRegisters(v Value, data []byte, order string, p config.Point) (Value, error) {
	scale := func(f float64) float64 { return f*p.Scale + p.Offset }

	switch v.DataType {
	case "uint16", "int16":
		if len(data) < 2 {
			return v, fmt.Errorf("insufficient data for %s", v.DataType)
		}
		u := binary.BigEndian.Uint16(data[:2])
		if v.DataType == "int16" {
			v.Raw = int16(u)
			v.Value = scale(float64(int16(u)))
		} else {
			v.Raw = u
			v.Value = scale(float64(u))
		}
		return v, nil
	case "uint32", "int32", "float32":
		if len(data) < 4 {
			return v, fmt.Errorf("insufficient data for %s", v.DataType)
		}
		u := binary.BigEndian.Uint32(reorder32(data[:4], order))
		switch v.DataType {
		case "uint32":
			v.Raw = u
			v.Value = scale(float64(u))
		case "int32":
			v.Raw = int32(u)
			v.Value = scale(float64(int32(u)))
		default:
			f := math.Float32frombits(u)
			v.Raw = f
			v.Value = scale(float64(f))
		}
		return v, nil
	case "":
		return v, errors.New("missing data type")
	default:
		return v, fmt.Errorf("unsupported data type: %s", v.DataType)
	}
}

// reorder32 returns the four bytes in ABCD order given the device's order:
// ABCD (default), DCBA, BADC (bytes swapped in each word) or CDAB (words swapped).
func reorder32(in []byte, order string) []byte {
	var out [4]byte
	switch strings.TrimSpace(order) {
	case "DCBA":
		out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	case "BADC":
		out[0], out[1], out[2], out[3] = in[1], in[0], in[3], in[2]
	case "CDAB":
		out[0], out[1], out[2], out[3] = in[2], in[3], in[0], in[1]
	default:
		copy(out[:], in[:4])
	}
	return out[:]
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
