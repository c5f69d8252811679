package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's Prometheus series on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	connState    prometheus.Gauge
	reconnects   prometheus.Counter
	packetsIn    *prometheus.CounterVec
	packetsOut   *prometheus.CounterVec
	decodeErrors prometheus.Counter
	rpcCalls     *prometheus.CounterVec
	rpcLatency   *prometheus.HistogramVec
	storeRetries prometheus.Counter
	loadingRate  *prometheus.GaugeVec
	loadHeight   *prometheus.GaugeVec
	cellPoint    *prometheus.GaugeVec
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "palletizer_conn_state",
			Help: "Controller connection state (0 disconnected, 1 connecting, 2 connected, 3 backoff)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "palletizer_reconnects_total",
			Help: "Reconnect attempts to the controller",
		}),
		packetsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "palletizer_packets_in_total",
			Help: "Envelopes received from the controller",
		}, []string{"kind"}),
		packetsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "palletizer_packets_out_total",
			Help: "Envelopes sent to the controller",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "palletizer_decode_errors_total",
			Help: "Frames dropped because they could not be decoded",
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "palletizer_rpc_calls_total",
			Help: "Outbound request/response exchanges by result",
		}, []string{"name", "result"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "palletizer_rpc_latency_seconds",
			Help:    "Time until the controller answered an outbound request",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "palletizer_store_retries_total",
			Help: "Store operations retried after a transient failure",
		}),
		loadingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "palletizer_job_loading_rate",
			Help: "Last computed loading rate of the active job per slot",
		}, []string{"slot"}),
		loadHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "palletizer_job_load_height",
			Help: "Last computed stack height of the active job per slot",
		}, []string{"slot"}),
		cellPoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "palletizer_cell_point_value",
			Help: "Last value read from a cell PLC point",
		}, []string{"point"}),
	}
	c.reg.MustRegister(
		c.connState, c.reconnects, c.packetsIn, c.packetsOut, c.decodeErrors,
		c.rpcCalls, c.rpcLatency, c.storeRetries, c.loadingRate, c.loadHeight, c.cellPoint,
	)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) SetConnState(state int) {
	if c == nil {
		return
	}
	c.connState.Set(float64(state))
}

func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

func (c *Collector) PacketIn(kind string) {
	if c == nil {
		return
	}
	c.packetsIn.WithLabelValues(kind).Inc()
}

func (c *Collector) PacketOut(kind string) {
	if c == nil {
		return
	}
	c.packetsOut.WithLabelValues(kind).Inc()
}

func (c *Collector) DecodeError() {
	if c == nil {
		return
	}
	c.decodeErrors.Inc()
}

// RPC records one finished exchange; result is ok, timeout or error.
func (c *Collector) RPC(name, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.rpcCalls.WithLabelValues(name, result).Inc()
	if result == "ok" {
		c.rpcLatency.WithLabelValues(name).Observe(d.Seconds())
	}
}

// StoreRetry matches the db.Options.OnRetry signature.
func (c *Collector) StoreRetry(string) {
	if c == nil {
		return
	}
	c.storeRetries.Inc()
}

func (c *Collector) JobOccupancy(slot string, height, rate float64) {
	if c == nil {
		return
	}
	c.loadHeight.WithLabelValues(slot).Set(height)
	c.loadingRate.WithLabelValues(slot).Set(rate)
}

func (c *Collector) CellPoint(name string, v float64) {
	if c == nil {
		return
	}
	c.cellPoint.WithLabelValues(name).Set(v)
}
