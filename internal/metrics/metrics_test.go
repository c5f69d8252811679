package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestCollectorExposesSeries(t *testing.T) {
	c := New()
	c.SetConnState(2)
	c.IncReconnect()
	c.PacketIn("request")
	c.PacketOut("response")
	c.DecodeError()
	c.RPC("/morow/gripperControl", "ok", 20*time.Millisecond)
	c.RPC("/morow/gripperControl", "timeout", time.Second)
	c.StoreRetry("insert box position")
	c.JobOccupancy("p1", 250, 10)
	c.CellPoint("pallet_present_p1", 1)

	body := scrape(t, c)
	for _, want := range []string{
		"palletizer_conn_state 2",
		"palletizer_reconnects_total 1",
		`palletizer_packets_in_total{kind="request"} 1`,
		`palletizer_packets_out_total{kind="response"} 1`,
		"palletizer_decode_errors_total 1",
		`palletizer_rpc_calls_total{name="/morow/gripperControl",result="timeout"} 1`,
		`palletizer_rpc_latency_seconds_count{name="/morow/gripperControl"} 1`,
		"palletizer_store_retries_total 1",
		`palletizer_job_load_height{slot="p1"} 250`,
		`palletizer_job_loading_rate{slot="p1"} 10`,
		`palletizer_cell_point_value{point="pallet_present_p1"} 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetConnState(1)
		c.IncReconnect()
		c.PacketIn("message")
		c.RPC("x", "ok", time.Millisecond)
		c.StoreRetry("op")
		c.JobOccupancy("p2", 1, 1)
		c.CellPoint("p", 1)
	})
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
