package robot

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palletizer-control/internal/config"
	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

type sent struct {
	name    string
	kind    protocol.Kind
	payload any
}

type fakeCaller struct {
	mu        sync.Mutex
	sent      []sent
	responses map[string]any
	err       error
}

func (f *fakeCaller) Call(_ context.Context, name string, payload any, _ time.Duration) (protocol.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{name, protocol.KindRequest, payload})
	if f.err != nil {
		return protocol.Envelope{}, f.err
	}
	body, ok := f.responses[name]
	if !ok {
		body = protocol.Success{Success: true}
	}
	return protocol.New(name, protocol.KindResponse, body)
}

func (f *fakeCaller) Notify(name string, kind protocol.Kind, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{name, kind, payload})
	return nil
}

func (f *fakeCaller) named(name string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *fakeCaller, *db.DB) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "robot_test.sqlite"), db.Options{RetryAttempts: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	caller := &fakeCaller{responses: map[string]any{}}
	return NewClient(caller, store, config.RPCTimeouts{}, nil), caller, store
}

func seedRobot(t *testing.T, store *db.DB, serial string) *model.Robot {
	t.Helper()
	r := &model.Robot{Serial: serial, OperatingSpeed: 70}
	require.NoError(t, db.CreateRobot(context.Background(), store, r))
	return r
}

func seedSlots(t *testing.T, store *db.DB, robotID int64) map[protocol.Slot]*model.Job {
	t.Helper()
	ctx := context.Background()
	loc := "CH-7"
	g := &model.JobGroup{Name: "Order 7", Location: &loc, EnableConcurrent: true}
	require.NoError(t, db.CreateJobGroup(ctx, store, g))
	out := make(map[protocol.Slot]*model.Job)
	for _, slot := range protocol.Slots {
		j := &model.Job{RobotID: robotID, JobGroupID: &g.ID, JobBoxes: `[{"name":"small","width":20,"height":30,"length":10}]`}
		require.NoError(t, db.CreateJob(ctx, store, j))
		barcode := "PLT-" + string(slot)
		require.NoError(t, db.CreateJobPallet(ctx, store, &model.JobPallet{
			JobID: j.ID, IsUse: true, Location: slot.Location(), Width: 1100, Length: 1200, Height: 150,
			LoadingHeight: 1500, PalletBarcode: &barcode, PalletSpecName: "T11", BoxGroupName: "Group-" + string(slot),
		}))
		out[slot] = j
	}
	return out
}

func TestBuildJobSetting(t *testing.T) {
	ctx := context.Background()
	c, _, store := newTestClient(t)
	r := seedRobot(t, store, "SN-1")
	slots := seedSlots(t, store, r.ID)

	req, ok, err := c.BuildJobSetting(ctx, "SN-1", protocol.SenderRPM)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "Group-p1", req.BoxGroupName)
	assert.True(t, req.EnableConcurrent)
	assert.Equal(t, protocol.SenderRPM, req.SenderID)
	require.Len(t, req.Boxes, 1)
	assert.Equal(t, "SMALL", req.Boxes[0].Name)
	assert.Equal(t, []float64{10, 20, 30}, req.Boxes[0].Size)
	require.Len(t, req.Pallets, 4)

	p1 := req.Pallets[0]
	assert.Equal(t, "p1", p1.Location)
	assert.Equal(t, "CH-7", p1.ChuteNo)
	assert.Equal(t, "PLT-p1", p1.PalletBarcode)
	assert.Equal(t, "T11", p1.PalletSpecName)
	assert.Equal(t, []float64{1200, 1100, 150}, p1.Size)

	aux := req.Pallets[2]
	assert.Equal(t, "aux_p1", aux.Location)
	assert.Equal(t, "Order 7", aux.OrderGroup)
	assert.Empty(t, aux.ChuteNo)
	assert.Empty(t, aux.PalletBarcode)
	assert.Equal(t, "", aux.PalletSpecName)
	assert.Equal(t, strconv.FormatInt(slots[protocol.SlotAuxP1].ID, 10), req.AuxP1JobID)
}

func TestSendJobSettingNeedsEverySlot(t *testing.T) {
	ctx := context.Background()
	c, caller, store := newTestClient(t)
	seedRobot(t, store, "SN-1")

	ok, err := c.SendJobSetting(ctx, "SN-1", protocol.SenderCPM)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, caller.named(protocol.PacketJobSettingInfo))

	_, err = c.SendJobSetting(ctx, "SN-404", protocol.SenderCPM)
	assert.ErrorIs(t, err, jobs.ErrRobotNotFound)
}

func TestSendPreviousJobInfo(t *testing.T) {
	ctx := context.Background()
	c, caller, store := newTestClient(t)
	r := seedRobot(t, store, "SN-1")
	slots := seedSlots(t, store, r.ID)
	require.NoError(t, db.InsertBoxPosition(ctx, store, &model.BoxPosition{
		JobID: slots[protocol.SlotP2].ID, BoxID: 4, BoxName: "small", IsLoading: true, LoadingOrder: 1,
		X: 1, Y: 2, Z: 3, Length: 10, Width: 20, Height: 30, CreatedAt: time.Now(),
	}))

	ok, err := c.SendPreviousJobInfo(ctx, "SN-1")
	require.NoError(t, err)
	require.True(t, ok)

	got := caller.named(protocol.PacketPreviousJobInfo)
	require.Len(t, got, 1)
	req := got[0].payload.(protocol.PreviousJobInfoRequest)
	assert.Equal(t, "Order 7", req.Name)
	assert.Equal(t, "CH-7", req.Location)
	assert.Empty(t, req.P1BoxList)
	require.Len(t, req.P2BoxList, 1)
	assert.Equal(t, "p2", req.P2BoxList[0].PalletLocation)
	assert.Equal(t, []float64{1, 2, 3}, req.P2BoxList[0].Position)
}

func TestRequestRobotInfo(t *testing.T) {
	ctx := context.Background()
	c, caller, store := newTestClient(t)
	seedRobot(t, store, "SN-1")
	caller.responses[protocol.PacketGetRobotInfo] = protocol.RobotInfoResponse{
		SerialNumber: "SN-1", MorowVersion: "2.1", Platform: "cmp",
		Application: "depalletizing", Project: "chris",
	}
	var catalog []protocol.JobInfo
	c.OnCatalog(func(l []protocol.JobInfo) { catalog = l })

	require.NoError(t, c.RequestRobotInfo(ctx))

	r, err := db.GetRobotBySerial(ctx, store, "SN-1")
	require.NoError(t, err)
	assert.Equal(t, "2.1", r.MorowVersion)
	assert.Equal(t, "CMP", r.Platform)
	assert.Equal(t, "DEPALLETIZING", r.Application)
	assert.True(t, r.IsUseBarcode)

	_, err = db.FindPalletGroup(ctx, store, jobs.DepalGroupName, jobs.DepalGroupLocation)
	require.NoError(t, err)
	assert.Equal(t, []protocol.JobInfo{{Name: "DEPAL", Location: "D8"}}, catalog)
	require.Len(t, caller.named(protocol.PacketReceiveJobInfo), 1)

	// second handshake does not duplicate the group
	require.NoError(t, c.RequestRobotInfo(ctx))
	groups, err := db.ListPalletGroups(ctx, store)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestRequestRobotInfoUnknownSerial(t *testing.T) {
	c, caller, store := newTestClient(t)
	caller.responses[protocol.PacketGetRobotInfo] = protocol.RobotInfoResponse{SerialNumber: "SN-9", Application: "PALLETIZING"}

	require.NoError(t, c.RequestRobotInfo(context.Background()))
	robots, err := db.ListRobots(context.Background(), store)
	require.NoError(t, err)
	assert.Empty(t, robots)
}

func TestGripperControlAndSpeed(t *testing.T) {
	ctx := context.Background()
	c, caller, store := newTestClient(t)
	seedRobot(t, store, "SN-1")

	caller.responses[protocol.PacketGripperControl] = protocol.Success{Success: false}
	ok, err := c.GripperControl(ctx, "SN-1", 1, true)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetSpeed(ctx, "SN-1"))
	got := caller.named(protocol.PacketSystemControl)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.KindRequest, got[0].kind)
	assert.Equal(t, protocol.SystemControlRequest{SerialNumber: "SN-1", Type: "operationSpeed", Value: 70}, got[0].payload)

	caller.err = errors.New("timeout")
	_, err = c.GripperControl(ctx, "SN-1", 1, true)
	assert.Error(t, err)
}

func TestJoggerPressAndReset(t *testing.T) {
	ctx := context.Background()
	c, caller, _ := newTestClient(t)
	j := NewJogger(c)
	j.now = func() time.Time { return time.Unix(1700000000, 0) }

	up, ok := LookupJog("lift-up")
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		n, err := j.Press(ctx, "SN-1", up)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Len(t, caller.named(protocol.PacketControlWord), 1)
	beats := caller.named(protocol.PacketHoldToRun)
	require.Len(t, beats, 3)
	assert.Equal(t, protocol.KindMessage, beats[2].kind)
	assert.Equal(t, protocol.ButtonHoldMessage{Stamp: 1700000000, Count: 2}, beats[2].payload)

	// other robots and axes keep their own counters
	assert.Equal(t, 0, j.Count("SN-2", AxisLift))
	assert.Equal(t, 0, j.Count("SN-1", AxisGripper))

	j.Reset("SN-1", AxisLift)
	_, err := j.Press(ctx, "SN-1", up)
	require.NoError(t, err)
	words := caller.named(protocol.PacketControlWord)
	require.Len(t, words, 2)
	assert.Equal(t, protocol.ControlWordRequest{SerialNumber: "SN-1", Command: protocol.CmdOperationStart, Job: protocol.JobLiftUp}, words[1].payload)

	_, ok = LookupJog("lift-sideways")
	assert.False(t, ok)
}

func TestPushJobCatalogNotifiesListeners(t *testing.T) {
	ctx := context.Background()
	c, caller, store := newTestClient(t)
	require.NoError(t, db.CreatePalletGroup(ctx, store, &model.PalletGroup{Name: "Order 7", Location: "CH-7"}))

	var first, second []protocol.JobInfo
	late := 0
	c.OnCatalog(func(l []protocol.JobInfo) {
		first = l
		// registering from inside a callback must not deadlock
		c.OnCatalog(func([]protocol.JobInfo) { late++ })
	})
	c.OnCatalog(func(l []protocol.JobInfo) { second = l })

	require.NoError(t, c.PushJobCatalog(ctx))
	want := []protocol.JobInfo{{Name: "Order 7", Location: "CH-7"}}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)
	assert.Zero(t, late, "listeners added during a push wait for the next push")
	require.Len(t, caller.named(protocol.PacketReceiveJobInfo), 1)

	require.NoError(t, c.PushJobCatalog(ctx))
	assert.Equal(t, 1, late)
}
