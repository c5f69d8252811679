package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (s *recordingSender) Send(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordingSender) last(t *testing.T) protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

type fakeController struct {
	settingOK bool
	senders   []string
	prevCalls int
	speeds    []string
	catalogs  int
}

func (f *fakeController) SendJobSetting(_ context.Context, _ string, sender string) (bool, error) {
	f.senders = append(f.senders, sender)
	return f.settingOK, nil
}

func (f *fakeController) SendPreviousJobInfo(context.Context, string) (bool, error) {
	f.prevCalls++
	return false, nil
}

func (f *fakeController) SetSpeed(_ context.Context, serial string) error {
	f.speeds = append(f.speeds, serial)
	return nil
}

func (f *fakeController) PushJobCatalog(context.Context) error {
	f.catalogs++
	return nil
}

type fixture struct {
	d     *Dispatcher
	out   *recordingSender
	ctl   *fakeController
	store *db.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "dispatch_test.sqlite"), db.Options{RetryAttempts: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	out := &recordingSender{}
	ctl := &fakeController{}
	svc := jobs.NewService(store, jobs.Options{})
	return fixture{d: New(out, svc, ctl, nil), out: out, ctl: ctl, store: store}
}

func (f fixture) request(t *testing.T, name string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(name, protocol.KindRequest, payload)
	require.NoError(t, err)
	f.d.Handle(context.Background(), env)
	return env
}

func (f fixture) robot(t *testing.T, serial string) *model.Robot {
	t.Helper()
	r, err := db.GetRobotBySerial(context.Background(), f.store, serial)
	require.NoError(t, err)
	return r
}

func replySuccess(t *testing.T, env protocol.Envelope) bool {
	t.Helper()
	var s protocol.Success
	require.NoError(t, json.Unmarshal(env.Payload, &s))
	return s.Success
}

func seedRobot(t *testing.T, store *db.DB, serial string) *model.Robot {
	t.Helper()
	r := &model.Robot{Serial: serial}
	require.NoError(t, db.CreateRobot(context.Background(), store, r))
	return r
}

func seedJob(t *testing.T, store *db.DB, robotID int64, slot protocol.Slot) *model.Job {
	t.Helper()
	ctx := context.Background()
	g := &model.JobGroup{Name: "G1"}
	require.NoError(t, db.CreateJobGroup(ctx, store, g))
	j := &model.Job{RobotID: robotID, JobGroupID: &g.ID, JobBoxes: "[]"}
	require.NoError(t, db.CreateJob(ctx, store, j))
	require.NoError(t, db.CreateJobPallet(ctx, store, &model.JobPallet{
		JobID: j.ID, IsUse: true, Location: slot.Location(),
		Width: 1000, Length: 1000, Height: 150, LoadingHeight: 1150,
	}))
	return j
}

func TestSystemInfoRegistersRobot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(t, protocol.PacketSystemInfo, protocol.SystemInfoRequest{SerialNumber: "SN-1", SoftwareVersion: "1.4"})
	resp := f.out.last(t)
	assert.Equal(t, protocol.KindResponse, resp.Kind)
	assert.Equal(t, req.Name, resp.Name)
	assert.True(t, replySuccess(t, resp))

	r := f.robot(t, "SN-1")
	assert.Equal(t, "1.4", r.MorowVersion)
	assert.Equal(t, -1, r.IsCameraCalibration)
	var hashes int
	require.NoError(t, f.store.Get(&hashes, "SELECT COUNT(*) FROM admin_passwords WHERE robot_id = ?", r.ID))
	assert.Equal(t, 1, hashes)

	// a new serial renames the cell's robot
	f.request(t, protocol.PacketSystemInfo, protocol.SystemInfoRequest{SerialNumber: "SN-2", SoftwareVersion: "1.5"})
	robots, err := db.ListRobots(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, robots, 1)
	assert.Equal(t, "SN-2", robots[0].Serial)
	assert.Equal(t, "1.5", robots[0].MorowVersion)
}

func TestSystemStatus(t *testing.T) {
	f := newFixture(t)
	seedRobot(t, f.store, "SN-1")

	f.request(t, protocol.PacketSystemStatus, protocol.SystemStatusRequest{SerialNumber: "SN-1", Type: "toolStatus", Value: 3})
	f.request(t, protocol.PacketSystemStatus, protocol.SystemStatusRequest{SerialNumber: "SN-1", Type: "operationSpeed", Value: 40})
	f.request(t, protocol.PacketSystemStatus, protocol.SystemStatusRequest{SerialNumber: "SN-1", Type: "LoadSpeed", Value: 1})
	f.request(t, protocol.PacketSystemStatus, protocol.SystemStatusRequest{SerialNumber: "SN-1", Type: "mystery", Value: 1})

	r := f.robot(t, "SN-1")
	assert.True(t, r.ToolStatus)
	assert.Equal(t, 40, r.OperatingSpeed)
	assert.Equal(t, []string{"SN-1"}, f.ctl.speeds)
	assert.Len(t, f.out.sent, 4)
	for _, env := range f.out.sent {
		assert.True(t, replySuccess(t, env))
	}
}

func TestAlarms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := seedRobot(t, f.store, "SN-1")

	f.request(t, protocol.PacketBasicAlarm, protocol.BasicAlarmRequest{
		SerialNumber: "SN-1", Level: protocol.LevelError, Category: protocol.CategoryGripper,
		MessageKey: 42, Param: json.RawMessage(`{"axis":2}`),
	})
	assert.True(t, replySuccess(t, f.out.last(t)))
	logs, err := db.UncheckedLogs(ctx, f.store, r.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 42, logs[0].MessageKey)
	assert.JSONEq(t, `{"axis":2}`, logs[0].Param)

	f.request(t, protocol.PacketBasicAlarm, protocol.BasicAlarmRequest{SerialNumber: "SN-404"})
	assert.False(t, replySuccess(t, f.out.last(t)))

	f.request(t, protocol.PacketEventAlarm, protocol.EventAlarmRequest{SerialNumber: "SN-1", MessageKey: 7})
	assert.True(t, replySuccess(t, f.out.last(t)))
	assert.Equal(t, 7, f.robot(t, "SN-1").EventAlarmCode)
}

func TestUpdateJobStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := seedRobot(t, f.store, "SN-1")
	j := seedJob(t, f.store, r.ID, protocol.SlotP2)

	f.request(t, protocol.PacketUpdateJobStatus, protocol.UpdateJobStatusRequest{SerialNumber: "SN-1", PalletLocation: "p2"})
	assert.Empty(t, f.out.sent)

	f.request(t, protocol.PacketUpdateJobStatus, protocol.UpdateJobStatusRequest{SerialNumber: "SN-1", PalletLocation: "우측", BPH: 310})
	assert.True(t, replySuccess(t, f.out.last(t)))
	got, err := db.GetJob(ctx, f.store, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 310.0, got.BPH)
}

func TestWorkingBoxAndSaveDB(t *testing.T) {
	f := newFixture(t)
	r := seedRobot(t, f.store, "SN-1")
	seedJob(t, f.store, r.ID, protocol.SlotP1)

	f.request(t, protocol.PacketSaveDB, protocol.SaveDBRequest{SerialNumber: "SN-1"})
	var empty protocol.SaveDBResponse
	require.NoError(t, json.Unmarshal(f.out.last(t).Payload, &empty))
	assert.False(t, empty.Success)

	seedJob(t, f.store, r.ID, protocol.SlotP2)
	f.request(t, protocol.PacketCurrentWorkingBox, protocol.CurrentWorkingBoxRequest{
		SerialNumber: "SN-1", IsLoading: true,
		Current: &protocol.WorkingBox{Name: "A", BoxID: 5, PalletLocation: "p1", Position: []float64{0, 0, 0}, Length: []float64{100, 100, 100}},
	})
	assert.True(t, replySuccess(t, f.out.last(t)))

	f.request(t, protocol.PacketSaveDB, protocol.SaveDBRequest{SerialNumber: "SN-1"})
	var resp protocol.SaveDBResponse
	require.NoError(t, json.Unmarshal(f.out.last(t).Payload, &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.P1BoxList, 1)
	assert.Equal(t, int64(5), resp.P1BoxList[0].BoxID)
	assert.Empty(t, resp.P2BoxList)
}

func TestCallJobAndPrevJob(t *testing.T) {
	f := newFixture(t)

	f.request(t, protocol.PacketCallJob, protocol.CallJobRequest{SerialNumber: "SN-1", SenderID: protocol.SenderCPM})
	assert.False(t, replySuccess(t, f.out.last(t)))
	f.ctl.settingOK = true
	f.request(t, protocol.PacketCallJob, protocol.CallJobRequest{SerialNumber: "SN-1", SenderID: protocol.SenderCPM})
	assert.True(t, replySuccess(t, f.out.last(t)))
	assert.Equal(t, []string{protocol.SenderCPM, protocol.SenderCPM}, f.ctl.senders)

	// success only reflects the absence of an error
	f.request(t, protocol.PacketCallPrevJob, protocol.CallJobRequest{SerialNumber: "SN-1"})
	assert.True(t, replySuccess(t, f.out.last(t)))
	assert.Equal(t, 1, f.ctl.prevCalls)
}

func TestDeleteJob(t *testing.T) {
	f := newFixture(t)
	r := seedRobot(t, f.store, "SN-1")
	seedJob(t, f.store, r.ID, protocol.SlotP1)
	seedJob(t, f.store, r.ID, protocol.SlotP2)

	f.request(t, protocol.PacketDeleteJob, protocol.DeleteJobRequest{ID: "SN-1"})
	assert.True(t, replySuccess(t, f.out.last(t)))
	var n int
	require.NoError(t, f.store.Get(&n, "SELECT COUNT(*) FROM job_pallets"))
	assert.Zero(t, n)

	f.request(t, protocol.PacketDeleteJob, protocol.DeleteJobRequest{ID: "SN-404"})
	assert.False(t, replySuccess(t, f.out.last(t)))
}

func TestJobInfoListCallPushesCatalog(t *testing.T) {
	f := newFixture(t)
	f.request(t, protocol.PacketJobInfoListCall, nil)
	assert.Equal(t, 1, f.ctl.catalogs)
	assert.Empty(t, f.out.sent)
}

func TestBarcodeCheckEchoesID(t *testing.T) {
	f := newFixture(t)
	env, err := protocol.New(protocol.PacketBarcodeCheck, protocol.KindRequest, protocol.BarcodeCheckRequest{Barcode: "880123"})
	require.NoError(t, err)
	env.ID = "call-1"
	f.d.Handle(context.Background(), env)

	resp := f.out.last(t)
	assert.Equal(t, "call-1", resp.ID)
	assert.JSONEq(t, `{"RES":true,"ERR_CD":0,"result_msg":"OK"}`, string(resp.Payload))
}

func TestStatusWordAndUnknownPackets(t *testing.T) {
	f := newFixture(t)
	seedRobot(t, f.store, "SN-1")

	msg, err := protocol.New(protocol.PacketStatusWord, protocol.KindMessage, protocol.StatusWordMessage{SerialNumber: "SN-1", Num: 3})
	require.NoError(t, err)
	f.d.Handle(context.Background(), msg)
	assert.Equal(t, 3, f.robot(t, "SN-1").Status)

	f.request(t, "/cmp_UI/Unknown", nil)
	unknownMsg, err := protocol.New("/cmp_UI/Unknown", protocol.KindMessage, nil)
	require.NoError(t, err)
	f.d.Handle(context.Background(), unknownMsg)
	assert.Empty(t, f.out.sent)
}
