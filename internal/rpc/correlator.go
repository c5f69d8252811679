package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/logging"
	"palletizer-control/internal/metrics"
	"palletizer-control/internal/protocol"
)

// ErrTimeout is returned when no matching response arrived in time.
var ErrTimeout = errors.New("rpc timeout")

// Sender writes one envelope to the controller.
type Sender interface {
	Send(env protocol.Envelope) error
}

type waiter struct {
	id   string
	name string
	ch   chan protocol.Envelope
}

// Correlator pairs outbound requests with their responses. Each call carries a
// fresh packet_id; responses without an id fall back to the oldest waiter of
// the same packet name.
type Correlator struct {
	send    Sender
	log     *logrus.Entry
	metrics *metrics.Collector

	mu     sync.Mutex
	byID   map[string]*waiter
	byName map[string][]*waiter
}

func NewCorrelator(s Sender, log logrus.FieldLogger, m *metrics.Collector) *Correlator {
	return &Correlator{
		send:    s,
		log:     logging.Component(log, "rpc"),
		metrics: m,
		byID:    make(map[string]*waiter),
		byName:  make(map[string][]*waiter),
	}
}

// Call sends a request and waits for its response, the timeout, or ctx.
// It never retries.
func (c *Correlator) Call(ctx context.Context, name string, payload any, timeout time.Duration) (protocol.Envelope, error) {
	env, err := protocol.New(name, protocol.KindRequest, payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	env.ID = uuid.NewString()

	w := &waiter{id: env.ID, name: name, ch: make(chan protocol.Envelope, 1)}
	c.register(w)
	defer c.remove(w)

	start := time.Now()
	if err := c.send.Send(env); err != nil {
		c.metrics.RPC(name, "error", time.Since(start))
		return protocol.Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-w.ch:
		c.metrics.RPC(name, "ok", time.Since(start))
		return resp, nil
	case <-timer.C:
		c.metrics.RPC(name, "timeout", time.Since(start))
		c.log.WithFields(logrus.Fields{"packet": name, "packet_id": env.ID, "timeout": timeout}).Warn("no response")
		return protocol.Envelope{}, fmt.Errorf("%s: %w", name, ErrTimeout)
	case <-ctx.Done():
		c.metrics.RPC(name, "error", time.Since(start))
		return protocol.Envelope{}, ctx.Err()
	}
}

// Notify sends an envelope that expects no answer.
func (c *Correlator) Notify(name string, kind protocol.Kind, payload any) error {
	env, err := protocol.New(name, kind, payload)
	if err != nil {
		return err
	}
	return c.send.Send(env)
}

// Resolve hands a response to its waiter and reports whether one was waiting.
// A response whose id matches no waiter is dropped.
func (c *Correlator) Resolve(env protocol.Envelope) bool {
	c.mu.Lock()
	var w *waiter
	if env.ID != "" {
		w = c.byID[env.ID]
	} else if q := c.byName[env.Name]; len(q) > 0 {
		w = q[0]
	}
	if w != nil {
		c.removeLocked(w)
	}
	c.mu.Unlock()

	if w == nil {
		c.log.WithFields(logrus.Fields{"packet": env.Name, "packet_id": env.ID}).Debug("unmatched response")
		return false
	}
	w.ch <- env
	return true
}

// Pending is the number of calls waiting for a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *Correlator) register(w *waiter) {
	c.mu.Lock()
	c.byID[w.id] = w
	c.byName[w.name] = append(c.byName[w.name], w)
	c.mu.Unlock()
}

func (c *Correlator) remove(w *waiter) {
	c.mu.Lock()
	c.removeLocked(w)
	c.mu.Unlock()
}

func (c *Correlator) removeLocked(w *waiter) {
	delete(c.byID, w.id)
	q := c.byName[w.name]
	for i, x := range q {
		if x == w {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(c.byName, w.name)
	} else {
		c.byName[w.name] = q
	}
}
