// Package cellsim serves a simulated cell PLC over Modbus TCP. It answers the
// read functions the cellio poller uses, so the cell I/O path can be run
// without hardware.
package cellsim

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/logging"
)

const (
	fnReadCoils          = 0x01
	fnReadDiscreteInputs = 0x02
	fnReadHoldingRegs    = 0x03
	fnReadInputRegs      = 0x04

	excIllegalFunction = 0x01
	excIllegalDataAddr = 0x02
	excIllegalDataVal  = 0x03

	tableSize = 65536
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// PLC holds the four Modbus tables and serves them to any number of clients.
type PLC struct {
	log *logrus.Entry

	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	holding  []uint16
	input    []uint16
	coils    []bool
	discrete []bool
}

func NewPLC(log logrus.FieldLogger) *PLC {
	return &PLC{
		log:      logging.Component(log, "cellsim"),
		holding:  make([]uint16, tableSize),
		input:    make([]uint16, tableSize),
		coils:    make([]bool, tableSize),
		discrete: make([]bool, tableSize),
		quit:     make(chan struct{}),
	}
}

// Listen starts accepting connections on address; ":0" picks a free port.
func (p *PLC) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	p.listener = l
	p.log.WithField("addr", l.Addr().String()).Info("simulated plc listening")

	p.wg.Add(1)
	go p.acceptLoop()
	return nil
}

// Addr is the bound address, valid after Listen.
func (p *PLC) Addr() *net.TCPAddr {
	return p.listener.Addr().(*net.TCPAddr)
}

func (p *PLC) acceptLoop() {
	defer p.wg.Done()
	for {
		c, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.quit:
				return
			default:
			}
			p.log.WithError(err).Debug("accept")
			continue
		}
		p.wg.Add(1)
		go p.serve(c)
	}
}

// serve answers MBAP-framed requests until the peer hangs up.
func (p *PLC) serve(c net.Conn) {
	defer p.wg.Done()
	defer c.Close()
	go func() {
		<-p.quit
		c.Close()
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(c, header); err != nil {
			return
		}
		length := int(binary.BigEndian.Uint16(header[4:6]))
		if length < 2 {
			continue
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(c, pdu); err != nil {
			return
		}

		resp := p.handle(pdu)
		frame := make([]byte, 7+len(resp))
		copy(frame[0:2], header[0:2])
		binary.BigEndian.PutUint16(frame[4:6], uint16(len(resp)+1))
		frame[6] = header[6]
		copy(frame[7:], resp)
		if _, err := c.Write(frame); err != nil {
			return
		}
	}
}

func (p *PLC) handle(pdu []byte) []byte {
	fn := pdu[0]
	var (
		data []byte
		err  error
	)
	switch fn {
	case fnReadCoils:
		data, err = p.readBits(p.coils, pdu)
	case fnReadDiscreteInputs:
		data, err = p.readBits(p.discrete, pdu)
	case fnReadHoldingRegs:
		data, err = p.readRegisters(p.holding, pdu)
	case fnReadInputRegs:
		data, err = p.readRegisters(p.input, pdu)
	default:
		return []byte{fn | 0x80, excIllegalFunction}
	}
	if err != nil {
		return []byte{fn | 0x80, exceptionCode(err)}
	}
	return append([]byte{fn, byte(len(data))}, data...)
}

func span(pdu []byte, maxQty int) (start, qty int, err error) {
	if len(pdu) < 5 {
		return 0, 0, errInvalidPDULen
	}
	start = int(binary.BigEndian.Uint16(pdu[1:3]))
	qty = int(binary.BigEndian.Uint16(pdu[3:5]))
	if qty == 0 || qty > maxQty {
		return 0, 0, errInvalidQty
	}
	if start+qty > tableSize {
		return 0, 0, errOutOfRange
	}
	return start, qty, nil
}

func (p *PLC) readBits(table []bool, pdu []byte) ([]byte, error) {
	start, qty, err := span(pdu, 2000)
	if err != nil {
		return nil, err
	}
	out := make([]byte, (qty+7)/8)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := 0; i < qty; i++ {
		if table[start+i] {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out, nil
}

func (p *PLC) readRegisters(table []uint16, pdu []byte) ([]byte, error) {
	start, qty, err := span(pdu, 125)
	if err != nil {
		return nil, err
	}
	out := make([]byte, qty*2)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := 0; i < qty; i++ {
		binary.BigEndian.PutUint16(out[i*2:], table[start+i])
	}
	return out, nil
}

func exceptionCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return excIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return excIllegalDataVal
	default:
		return excIllegalFunction
	}
}

// Close stops the listener, drops every client and waits for them to exit.
func (p *PLC) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		if p.listener != nil {
			p.listener.Close()
		}
	})
	p.wg.Wait()
}
