package wms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palletizer-control/internal/config"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

func testConfig() config.WMSConfig {
	return config.WMSConfig{
		Enabled:     true,
		APIKey:      "key-1",
		SessionUser: "user-1",
		Timeout:     time.Second,
		Platforms:   []string{"CBR2PAL", "CHRIS2"},
	}
}

func placement(url string) jobs.Placement {
	return jobs.Placement{
		Robot:         model.Robot{Serial: "SN-1", Platform: "CHRIS2", EnableExtConnection: true, ExtConnectionURL: url},
		Slot:          protocol.SlotP1,
		BoxBarcode:    "BX-1",
		PalletBarcode: "PLT-1",
		Chute:         "CH-3",
	}
}

func TestNotifyPlacementPosts(t *testing.T) {
	var (
		mu      sync.Mutex
		got     Notice
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c := New(testConfig(), nil)
	c.NotifyPlacement(context.Background(), placement(srv.URL))
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, Notice{WarehouseCode: "BX-1", HAWBNo: "PLT-1", Deconsol: "CH-3", WorkerID: "SN-1"}, got)
	assert.Equal(t, "key-1", headers.Get("api-key"))
	assert.Equal(t, "user-1", headers.Get("sessionUser"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestEligible(t *testing.T) {
	c := New(testConfig(), nil)
	p := placement("http://wms.local/notify")
	assert.True(t, c.Eligible(p))

	other := p
	other.Robot.Platform = "CMP"
	assert.False(t, c.Eligible(other))

	off := p
	off.Robot.EnableExtConnection = false
	assert.False(t, c.Eligible(off))

	noURL := p
	noURL.Robot.ExtConnectionURL = ""
	assert.False(t, c.Eligible(noURL))

	cfg := testConfig()
	cfg.Enabled = false
	assert.False(t, New(cfg, nil).Eligible(p))
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(testConfig(), nil)
	for i := 0; i < 5; i++ {
		err := c.Post(context.Background(), srv.URL, Notice{WarehouseCode: "BX"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	}
	err := c.Post(context.Background(), srv.URL, Notice{WarehouseCode: "BX"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wms unavailable")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, calls)
}
