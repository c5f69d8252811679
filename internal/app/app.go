package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/api"
	"palletizer-control/internal/cellio"
	"palletizer-control/internal/config"
	"palletizer-control/internal/conn"
	"palletizer-control/internal/db"
	"palletizer-control/internal/dispatch"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/journal"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/metrics"
	"palletizer-control/internal/protocol"
	"palletizer-control/internal/robot"
	"palletizer-control/internal/rpc"
	"palletizer-control/internal/wms"
)

// App is the assembled engine: store, controller link, job service and HTTP API.
type App struct {
	cfg config.RootConfig
	log *logrus.Entry

	Metrics    *metrics.Collector
	Store      *db.DB
	Conn       *conn.Manager
	RPC        *rpc.Correlator
	Robot      *robot.Client
	Jobs       *jobs.Service
	Dispatcher *dispatch.Dispatcher
	WMS        *wms.Client
	Journal    *journal.Journal
	Cell       *cellio.Poller
	API        *api.Server
}

// New assembles the engine and dials the controller over websocket.
func New(cfg config.RootConfig, log logrus.FieldLogger) (*App, error) {
	return NewWithDialer(cfg, log, conn.WebsocketDialer{HandshakeTimeout: cfg.Controller.HandshakeTimeout})
}

// NewWithDialer assembles the engine on top of d.
func NewWithDialer(cfg config.RootConfig, log logrus.FieldLogger, d conn.Dialer) (*App, error) {
	a := &App{cfg: cfg, log: logging.Component(log, "app")}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	store, err := db.Open(cfg.Storage.DBPath, db.Options{
		BusyTimeout:   cfg.Storage.BusyTimeout,
		RetryAttempts: cfg.Storage.Retry.Attempts,
		RetryDelay:    cfg.Storage.Retry.Delay,
		Logger:        log,
		OnRetry:       a.Metrics.StoreRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.Journal = j
	}

	a.Conn = conn.NewManager(d, conn.Options{
		URL:            cfg.Controller.URL,
		MaxRetries:     cfg.Controller.MaxRetries,
		ReconnectDelay: cfg.Controller.ReconnectDelay,
		SettleDelay:    cfg.Controller.SettleDelay,
		PingInterval:   cfg.Controller.PingInterval,
		QueueSize:      cfg.Controller.QueueSize,
		Logger:         log,
		Metrics:        a.Metrics,
	})
	a.RPC = rpc.NewCorrelator(a.Conn, log, a.Metrics)
	a.Robot = robot.NewClient(a.RPC, store, cfg.Controller.Timeouts, log)
	a.Robot.OnCatalog(func(list []protocol.JobInfo) {
		a.log.WithField("jobs", len(list)).Debug("job catalog pushed")
	})
	a.WMS = wms.New(cfg.WMS, log)
	a.Jobs = jobs.NewService(store, jobs.Options{
		Logger:             log,
		Metrics:            a.Metrics,
		Commander:          a.Robot,
		Notifier:           a.WMS,
		CalibrationTimeout: cfg.HTTP.CalibrationTimeout,
		Location:           cfg.Report.Location(),
	})
	a.Dispatcher = dispatch.New(a.Conn, a.Jobs, a.Robot, log)

	a.Conn.OnResponse = func(env protocol.Envelope) {
		if !a.RPC.Resolve(env) {
			a.log.WithFields(logrus.Fields{"packet": env.Name, "packet_id": env.ID}).Debug("response without waiter")
		}
	}
	a.Conn.OnInbound = a.Dispatcher.Handle
	a.Conn.OnOpen = func(ctx context.Context) {
		if err := a.Robot.RequestRobotInfo(ctx); err != nil {
			a.log.WithError(err).Warn("robot info request failed")
		}
	}
	if a.Journal != nil {
		a.Conn.Tap = a.Journal.Tap
	}

	if cfg.CellIO.Enabled {
		a.Cell = cellio.NewPoller(cfg.CellIO, log, a.Metrics)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	a.API = api.New(api.Deps{
		Jobs:        a.Jobs,
		Jogger:      robot.NewJogger(a.Robot),
		Health:      a.Conn,
		Metrics:     a.Metrics,
		MetricsPath: metricsPath,
		Logger:      log,
	})
	return a, nil
}

// Run serves until ctx is done, then shuts the HTTP server down within the
// configured grace period. An exhausted controller link is logged; the API
// keeps serving and reports it on /healthz.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Conn.Run(ctx); err != nil {
			a.log.WithError(err).Error("controller link stopped")
		}
	}()

	if a.Cell != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Cell.Run(ctx); err != nil {
				a.log.WithError(err).Error("cell io stopped")
			}
		}()
	}

	srv := &http.Server{Addr: a.cfg.HTTP.Listen, Handler: a.API.Handler()}
	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownGrace)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown")
	}
	wg.Wait()
	a.WMS.Wait()
	a.log.Info("stopped")
	return runErr
}

// Close releases the journal and the store.
func (a *App) Close() {
	if a.Journal != nil {
		a.Journal.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
