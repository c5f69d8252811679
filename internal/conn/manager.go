package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/logging"
	"palletizer-control/internal/metrics"
	"palletizer-control/internal/protocol"
)

var (
	ErrNotConnected     = errors.New("controller not connected")
	ErrRetriesExhausted = errors.New("controller reconnect attempts exhausted")
)

// State is the lifecycle position of the controller link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	}
	return "unknown"
}

// Direction of a frame passed to Manager.Tap.
const (
	DirIn  = "in"
	DirOut = "out"
)

type Options struct {
	URL            string
	MaxRetries     int
	ReconnectDelay time.Duration
	SettleDelay    time.Duration
	PingInterval   time.Duration
	QueueSize      int
	Logger         logrus.FieldLogger
	Metrics        *metrics.Collector
}

// Manager owns the single link to the controller and reconnects it when it drops.
// The hook fields must be set before Run.
type Manager struct {
	// OnOpen runs once per connection after the settle delay.
	OnOpen func(ctx context.Context)
	// OnResponse receives response envelopes inline on the read loop.
	OnResponse func(env protocol.Envelope)
	// OnInbound receives request and message envelopes in arrival order
	// from a single worker.
	OnInbound func(ctx context.Context, env protocol.Envelope)
	// Tap observes every decoded frame in both directions.
	Tap func(dir string, env protocol.Envelope, size int)

	opts    Options
	dialer  Dialer
	log     *logrus.Entry
	metrics *metrics.Collector
	queue   chan protocol.Envelope

	mu  sync.Mutex
	cur Transport

	state     atomic.Int32
	retries   atomic.Int64
	exhausted atomic.Bool
}

func NewManager(d Dialer, opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Manager{
		opts:    opts,
		dialer:  d,
		log:     logging.Component(opts.Logger, "conn"),
		metrics: opts.Metrics,
		queue:   make(chan protocol.Envelope, opts.QueueSize),
	}
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Retries is the number of consecutive failed connection attempts.
func (m *Manager) Retries() int { return int(m.retries.Load()) }

// Exhausted reports whether Run gave up after MaxRetries.
func (m *Manager) Exhausted() bool { return m.exhausted.Load() }

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) != s {
		m.log.WithField("state", s.String()).Debug("state changed")
	}
	m.metrics.SetConnState(int(s))
}

// Run connects and keeps the link up until ctx is done. It makes at most
// 1+MaxRetries consecutive attempts without a successful open, then returns
// ErrRetriesExhausted. Run is the only place that reconnects.
func (m *Manager) Run(ctx context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.drain(ctx, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			m.setState(Disconnected)
			return nil
		}
		m.setState(Connecting)
		t, err := m.dialer.Dial(ctx, m.opts.URL)
		if err == nil {
			failures = 0
			m.retries.Store(0)
			m.serve(ctx, t)
			if ctx.Err() != nil {
				m.setState(Disconnected)
				return nil
			}
			m.log.WithField("url", m.opts.URL).Warn("connection closed")
		} else {
			m.log.WithField("url", m.opts.URL).WithError(err).Warn("connect failed")
		}

		failures++
		m.retries.Store(int64(failures))
		if failures > m.opts.MaxRetries {
			m.exhausted.Store(true)
			m.setState(Disconnected)
			m.log.WithFields(logrus.Fields{"url": m.opts.URL, "attempt": failures}).Error("giving up on controller")
			return ErrRetriesExhausted
		}

		m.setState(Backoff)
		m.metrics.IncReconnect()
		m.log.WithFields(logrus.Fields{"attempt": failures, "delay": m.opts.ReconnectDelay}).Info("reconnecting")
		select {
		case <-time.After(m.opts.ReconnectDelay):
		case <-ctx.Done():
			m.setState(Disconnected)
			return nil
		}
	}
}

// serve runs one connection until it fails or ctx is done.
func (m *Manager) serve(ctx context.Context, t Transport) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.cur = t
	m.mu.Unlock()
	m.setState(Connected)
	m.log.WithField("url", m.opts.URL).Info("connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		_ = t.Close()
	}()

	if m.OnOpen != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-time.After(m.opts.SettleDelay):
			case <-connCtx.Done():
				return
			}
			m.OnOpen(connCtx)
		}()
	}

	if m.opts.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.keepalive(connCtx, t)
		}()
	}

	m.readLoop(connCtx, t)

	m.mu.Lock()
	m.cur = nil
	m.mu.Unlock()
	cancel()
	wg.Wait()
}

func (m *Manager) readLoop(ctx context.Context, t Transport) {
	for {
		b, err := t.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.log.WithError(err).Warn("read failed")
			}
			return
		}
		env, err := protocol.Decode(b)
		if err != nil {
			m.metrics.DecodeError()
			m.log.WithError(err).Warn("dropping frame")
			continue
		}
		m.metrics.PacketIn(string(env.Kind))
		if m.Tap != nil {
			m.Tap(DirIn, env, len(b))
		}
		m.log.WithFields(logrus.Fields{"packet": env.Name, "kind": env.Kind}).Debug("recv")

		if env.Kind == protocol.KindResponse {
			if m.OnResponse != nil {
				m.OnResponse(env)
			}
			continue
		}
		select {
		case m.queue <- env:
		default:
			m.log.WithField("packet", env.Name).Error("inbound queue full")
		}
	}
}

func (m *Manager) drain(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case env := <-m.queue:
			if m.OnInbound != nil {
				m.OnInbound(ctx, env)
			}
		}
	}
}

func (m *Manager) keepalive(ctx context.Context, t Transport) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Ping(); err != nil {
				m.log.WithError(err).Warn("ping failed")
				_ = t.Close()
				return
			}
		}
	}
}

// Send writes one envelope to the current connection.
func (m *Manager) Send(env protocol.Envelope) error {
	b, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	m.mu.Lock()
	t := m.cur
	m.mu.Unlock()
	if t == nil {
		return fmt.Errorf("send %s: %w", env.Name, ErrNotConnected)
	}
	if err := t.WriteMessage(b); err != nil {
		return fmt.Errorf("send %s: %w", env.Name, err)
	}
	m.metrics.PacketOut(string(env.Kind))
	if m.Tap != nil {
		m.Tap(DirOut, env, len(b))
	}
	m.log.WithFields(logrus.Fields{"packet": env.Name, "kind": env.Kind}).Debug("sent")
	return nil
}
