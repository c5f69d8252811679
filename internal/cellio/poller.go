package cellio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/config"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/metrics"
)

// link is a Modbus transport the poller can open and close.
type link interface {
	Connect() error
	Close() error
}

// Poller reads the cell PLC's points on a fixed interval and reports the
// ones whose value changed.
type Poller struct {
	// OnChange receives every changed value from the polling goroutine.
	OnChange func(Value)

	cfg     config.CellIOConfig
	log     *logrus.Entry
	metrics *metrics.Collector
	filter  *changeFilter
	now     func() time.Time

	// dial builds the transport; replaced in tests.
	dial func() (link, registerReader, string, error)

	mu   sync.RWMutex
	last map[string]Value
}

func NewPoller(cfg config.CellIOConfig, log logrus.FieldLogger, m *metrics.Collector) *Poller {
	p := &Poller{
		cfg:     cfg,
		log:     logging.Component(log, "cellio"),
		metrics: m,
		filter:  newChangeFilter(cfg.CacheTTL),
		now:     time.Now,
		last:    make(map[string]Value),
	}
	p.dial = p.dialModbus
	return p
}

func (p *Poller) dialModbus() (link, registerReader, string, error) {
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := p.cfg.Connection
	switch strings.ToLower(strings.TrimSpace(p.cfg.Protocol)) {
	case "modbus-tcp", "tcp":
		addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
		h := mb.NewTCPClientHandler(addr)
		h.Timeout = timeout
		h.SlaveId = p.cfg.SlaveID
		return h, mb.NewClient(h), addr, nil
	case "modbus-rtu", "rtu":
		if strings.TrimSpace(c.SerialPort) == "" {
			return nil, nil, "", errors.New("serial_port is required for RTU")
		}
		h := mb.NewRTUClientHandler(c.SerialPort)
		if c.BaudRate > 0 {
			h.BaudRate = c.BaudRate
		}
		if c.DataBits > 0 {
			h.DataBits = c.DataBits
		}
		if c.StopBits > 0 {
			h.StopBits = c.StopBits
		}
		if parity := strings.ToUpper(strings.TrimSpace(c.Parity)); parity != "" {
			h.Parity = parity
		}
		h.Timeout = timeout
		h.SlaveId = p.cfg.SlaveID
		return h, mb.NewClient(h), c.SerialPort, nil
	default:
		return nil, nil, "", fmt.Errorf("protocol %s not implemented", p.cfg.Protocol)
	}
}

// Run connects, polls until ctx is done and closes the link.
func (p *Poller) Run(ctx context.Context) error {
	h, reader, addr, err := p.dial()
	if err != nil {
		return err
	}
	log := p.log.WithField("addr", addr)

	retry := max(p.cfg.RetryCount, 0)
	for attempt := 0; ; attempt++ {
		err := h.Connect()
		if err == nil {
			break
		}
		if attempt == retry {
			return fmt.Errorf("connect %s: %w", addr, err)
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("plc connect failed")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer h.Close()
	log.Info("plc connected")

	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx, h, reader); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("plc poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, h link, r registerReader) error {
	for _, pt := range p.cfg.Points {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := readPoint(r, pt, p.now())
		if err != nil {
			// one reconnect, then one more read
			if recErr := p.reconnect(ctx, h); recErr != nil {
				return fmt.Errorf("read point %s@%d: %w", pt.Name, pt.Address, err)
			}
			if v, err = readPoint(r, pt, p.now()); err != nil {
				return fmt.Errorf("read point %s@%d: %w", pt.Name, pt.Address, err)
			}
		}
		p.record(v)
	}
	return nil
}

func (p *Poller) record(v Value) {
	p.mu.Lock()
	p.last[v.Name] = v
	p.mu.Unlock()
	p.metrics.CellPoint(v.Name, v.Value)

	if !p.filter.Changed(v.Name+"|"+v.Register, v.Value) {
		return
	}
	p.log.WithFields(logrus.Fields{"point": v.Name, "value": v.Value, "unit": v.Unit}).Info("cell signal changed")
	if p.OnChange != nil {
		p.OnChange(v)
	}
}

func (p *Poller) reconnect(ctx context.Context, h link) error {
	_ = h.Close()
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.Connect()
}

// Snapshot returns the latest reading of every point.
func (p *Poller) Snapshot() map[string]Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Value, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}
