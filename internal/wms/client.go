package wms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"palletizer-control/internal/config"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/logging"
)

// Notice is the body posted to the warehouse system for each placed box.
type Notice struct {
	WarehouseCode string `json:"WH_CD"`
	PalletNo      bool   `json:"PALLET_NO"`
	HAWBNo        string `json:"HAWB_NO"`
	Deconsol      string `json:"DECONSOL"`
	WorkerID      string `json:"WORKERID"`
	ArrivalPort   string `json:"ARR_PORT"`
}

var _ jobs.PlacementNotifier = (*Client)(nil)

// Client posts placement notices to the robot's external connection URL.
// Posts run in the background behind a circuit breaker.
type Client struct {
	cfg     config.WMSConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Entry

	wg sync.WaitGroup
}

func New(cfg config.WMSConfig, log logrus.FieldLogger) *Client {
	l := logging.Component(log, "wms")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  l,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "wms",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("wms breaker state changed")
			},
		}),
	}
}

// Eligible reports whether a placement on this robot is sent at all.
func (c *Client) Eligible(p jobs.Placement) bool {
	switch {
	case !c.cfg.Enabled:
		return false
	case !p.Robot.EnableExtConnection:
		return false
	case p.Robot.ExtConnectionURL == "":
		return false
	}
	return slices.Contains(c.cfg.Platforms, p.Robot.Platform)
}

// NotifyPlacement posts the notice asynchronously. It never blocks ingestion.
func (c *Client) NotifyPlacement(ctx context.Context, p jobs.Placement) {
	if !c.Eligible(p) {
		c.log.WithFields(logrus.Fields{"serial": p.Robot.Serial, "platform": p.Robot.Platform}).Debug("placement not forwarded")
		return
	}
	n := Notice{
		WarehouseCode: p.BoxBarcode,
		HAWBNo:        p.PalletBarcode,
		Deconsol:      p.Chute,
		WorkerID:      p.Robot.Serial,
	}
	url := p.Robot.ExtConnectionURL
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Post(ctx, url, n); err != nil {
			c.log.WithError(err).WithField("url", url).Warn("placement notice failed")
		}
	}()
}

// Post sends one notice synchronously through the breaker.
func (c *Client) Post(ctx context.Context, url string, n Notice) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, url, n)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("wms unavailable: %w", err)
	}
	return err
}

func (c *Client) post(ctx context.Context, url string, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	if c.cfg.SessionUser != "" {
		req.Header.Set("sessionUser", c.cfg.SessionUser)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("wms status %d: %s", resp.StatusCode, bytes.TrimSpace(reply))
	}
	if len(bytes.TrimSpace(reply)) > 0 && !json.Valid(reply) {
		return errors.New("wms reply is not json")
	}
	c.log.WithFields(logrus.Fields{"box": n.WarehouseCode, "pallet": n.HAWBNo}).Debug("placement notice sent")
	return nil
}

// Wait blocks until background posts finish.
func (c *Client) Wait() { c.wg.Wait() }
