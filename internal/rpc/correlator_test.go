package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palletizer-control/internal/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	err  error
	// onSend runs after the envelope is recorded.
	onSend func(env protocol.Envelope)
}

func (s *recordingSender) Send(env protocol.Envelope) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()
	if s.onSend != nil {
		s.onSend(env)
	}
	return nil
}

func TestCallResolvesById(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, nil, nil)
	s.onSend = func(env protocol.Envelope) {
		go func() {
			resp, _ := protocol.Reply(env, protocol.Success{Success: true})
			c.Resolve(resp)
		}()
	}

	resp, err := c.Call(context.Background(), protocol.PacketGripperControl, protocol.GripperControlRequest{SerialNumber: "SN", Ch: 1, Cmd: true}, time.Second)
	require.NoError(t, err)
	var body protocol.Success
	require.NoError(t, resp.Unmarshal(&body))
	assert.True(t, body.Success)
	require.Len(t, s.sent, 1)
	assert.NotEmpty(t, s.sent[0].ID)
	assert.Equal(t, protocol.KindRequest, s.sent[0].Kind)
	assert.Zero(t, c.Pending())
}

func TestCallTimesOut(t *testing.T) {
	c := NewCorrelator(&recordingSender{}, nil, nil)
	start := time.Now()
	_, err := c.Call(context.Background(), protocol.PacketGripperControl, nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, c.Pending())
}

func TestCallSendFailure(t *testing.T) {
	boom := errors.New("not connected")
	c := NewCorrelator(&recordingSender{err: boom}, nil, nil)
	_, err := c.Call(context.Background(), protocol.PacketGetRobotInfo, nil, time.Second)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Pending())
}

func TestConcurrentCallsPairCorrectly(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, nil, nil)

	results := make([]string, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Call(context.Background(), protocol.PacketJobSettingInfo, nil, time.Second)
			if err == nil {
				results[i] = resp.ID
			}
		}(i)
	}
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sent) == 2
	}, time.Second, time.Millisecond)

	s.mu.Lock()
	sent := append([]protocol.Envelope(nil), s.sent...)
	s.mu.Unlock()
	// answer in reverse order
	for i := len(sent) - 1; i >= 0; i-- {
		resp, err := protocol.Reply(sent[i], protocol.Success{Success: true})
		require.NoError(t, err)
		assert.True(t, c.Resolve(resp))
	}
	wg.Wait()
	assert.ElementsMatch(t, []string{sent[0].ID, sent[1].ID}, results)
}

func TestResolveFallsBackToName(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, nil, nil)
	s.onSend = func(env protocol.Envelope) {
		go func() {
			resp, _ := protocol.New(env.Name, protocol.KindResponse, protocol.Success{Success: true})
			c.Resolve(resp)
		}()
	}
	_, err := c.Call(context.Background(), protocol.PacketPreviousJobInfo, nil, time.Second)
	require.NoError(t, err)
}

func TestResolveDropsUnknown(t *testing.T) {
	c := NewCorrelator(&recordingSender{}, nil, nil)
	resp, err := protocol.New(protocol.PacketGripperControl, protocol.KindResponse, nil)
	require.NoError(t, err)
	assert.False(t, c.Resolve(resp))
	resp.ID = "nobody"
	assert.False(t, c.Resolve(resp))
}

func TestNotify(t *testing.T) {
	s := &recordingSender{}
	c := NewCorrelator(s, nil, nil)
	require.NoError(t, c.Notify(protocol.PacketHoldToRun, protocol.KindMessage, protocol.ButtonHoldMessage{Count: 1}))
	require.Len(t, s.sent, 1)
	assert.Equal(t, protocol.KindMessage, s.sent[0].Kind)
	assert.Empty(t, s.sent[0].ID)
	assert.Zero(t, c.Pending())
}
