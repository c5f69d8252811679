package robot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/config"
	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

// Caller is the outbound half of the protocol engine.
type Caller interface {
	Call(ctx context.Context, name string, payload any, timeout time.Duration) (protocol.Envelope, error)
	Notify(name string, kind protocol.Kind, payload any) error
}

var _ jobs.Commander = (*Client)(nil)

// Client issues the controller-facing operations of one cell.
type Client struct {
	rpc      Caller
	db       *db.DB
	log      *logrus.Entry
	timeouts config.RPCTimeouts

	mu        sync.Mutex
	listeners []func([]protocol.JobInfo)
}

func NewClient(rpc Caller, store *db.DB, timeouts config.RPCTimeouts, log logrus.FieldLogger) *Client {
	return &Client{
		rpc:      rpc,
		db:       store,
		log:      logging.Component(log, "robot"),
		timeouts: timeouts,
	}
}

// OnCatalog registers fn to receive every pushed job-location catalog.
func (c *Client) OnCatalog(fn func([]protocol.JobInfo)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// RequestRobotInfo performs the identity handshake and stores the reported
// versions on the known robot. Unknown serials are left alone; SystemInfo
// creates robots.
func (c *Client) RequestRobotInfo(ctx context.Context) error {
	resp, err := c.rpc.Call(ctx, protocol.PacketGetRobotInfo, struct{}{}, c.timeouts.RobotInfo)
	if err != nil {
		return fmt.Errorf("robot info: %w", err)
	}
	var info protocol.RobotInfoResponse
	if err := resp.Unmarshal(&info); err != nil {
		return fmt.Errorf("robot info: %w", err)
	}
	project := strings.ToUpper(info.Project)
	application := strings.ToUpper(info.Application)
	update := db.RobotUpdate{
		"morow_version":    info.MorowVersion,
		"vision_version":   info.VisionVersion,
		"docker_version":   info.DockerVersion,
		"firmware_version": info.FirmwareVersion,
		"platform":         strings.ToUpper(info.Platform),
		"application":      application,
		"project":          project,
		"is_use_barcode":   project == protocol.ProjectChris,
	}

	log := c.log.WithField("serial", info.SerialNumber)
	r, err := db.GetRobotBySerial(ctx, c.db, info.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("robot info for unknown serial")
		return nil
	}
	if err != nil {
		return err
	}
	err = c.db.Retry(ctx, "store robot info", func() error {
		return db.UpdateRobot(ctx, c.db, r.ID, update)
	})
	if err != nil {
		return err
	}
	if _, err := db.EnsureAdminPassword(ctx, c.db, r.ID, db.DefaultAdminPassword); err != nil {
		log.WithError(err).Warn("seed admin password")
	}
	log.WithFields(logrus.Fields{"application": application, "project": project}).Info("robot info stored")

	if application != protocol.ApplicationDepalletizing {
		return nil
	}
	if err := c.ensureDepalGroup(ctx); err != nil {
		return err
	}
	return c.PushJobCatalog(ctx)
}

func (c *Client) ensureDepalGroup(ctx context.Context) error {
	return c.db.RetryTx(ctx, "ensure depal group", func(tx *sqlx.Tx) error {
		_, err := db.FindPalletGroup(ctx, tx, jobs.DepalGroupName, jobs.DepalGroupLocation)
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return db.CreatePalletGroup(ctx, tx, &model.PalletGroup{Name: jobs.DepalGroupName, Location: jobs.DepalGroupLocation})
	})
}

// PushJobCatalog sends every pallet group as a job-location entry and hands
// the same list to the registered listeners.
func (c *Client) PushJobCatalog(ctx context.Context) error {
	groups, err := db.ListPalletGroups(ctx, c.db)
	if err != nil {
		return err
	}
	list := make([]protocol.JobInfo, 0, len(groups))
	for _, g := range groups {
		list = append(list, protocol.JobInfo{Name: g.Name, Location: g.Location})
	}
	if err := c.rpc.Notify(protocol.PacketReceiveJobInfo, protocol.KindRequest, protocol.JobInfoListRequest{JobList: list, Count: len(list)}); err != nil {
		return fmt.Errorf("push job catalog: %w", err)
	}

	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(list)
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, serial string) (*model.Robot, error) {
	var (
		r   *model.Robot
		err error
	)
	if serial == "" {
		r, err = db.FirstRobot(ctx, c.db)
	} else {
		r, err = db.GetRobotBySerial(ctx, c.db, serial)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrRobotNotFound
	}
	return r, err
}

// SendJobSetting describes the four slot jobs to the controller. It returns
// false without sending when any slot has no active job.
func (c *Client) SendJobSetting(ctx context.Context, serial, senderID string) (bool, error) {
	req, ok, err := c.BuildJobSetting(ctx, serial, senderID)
	if err != nil || !ok {
		return false, err
	}
	if _, err := c.rpc.Call(ctx, protocol.PacketJobSettingInfo, req, c.timeouts.JobSetting); err != nil {
		return false, err
	}
	c.log.WithFields(logrus.Fields{"serial": req.SerialNumber, "sender": senderID}).Info("job setting delivered")
	return true, nil
}

// BuildJobSetting assembles the job-setting request from the active slot jobs.
func (c *Client) BuildJobSetting(ctx context.Context, serial, senderID string) (protocol.JobSettingInfoRequest, bool, error) {
	r, err := c.lookup(ctx, serial)
	if err != nil {
		return protocol.JobSettingInfoRequest{}, false, err
	}
	slots, err := jobs.SlotJobs(ctx, c.db, r.ID)
	if errors.Is(err, jobs.ErrNoActiveJobs) {
		c.log.WithField("serial", r.Serial).Warn("job setting needs an active job in every slot")
		return protocol.JobSettingInfoRequest{}, false, nil
	}
	if err != nil {
		return protocol.JobSettingInfoRequest{}, false, err
	}

	p1 := slots[protocol.SlotP1]
	req := protocol.JobSettingInfoRequest{
		SerialNumber: r.Serial,
		P1JobID:      strconv.FormatInt(p1.ID, 10),
		P2JobID:      strconv.FormatInt(slots[protocol.SlotP2].ID, 10),
		AuxP1JobID:   strconv.FormatInt(slots[protocol.SlotAuxP1].ID, 10),
		AuxP2JobID:   strconv.FormatInt(slots[protocol.SlotAuxP2].ID, 10),
		SenderID:     senderID,
	}
	if p1.JobPallet != nil {
		req.BoxGroupName = p1.JobPallet.BoxGroupName
	}
	if p1.JobGroup != nil {
		req.EnableConcurrent = p1.JobGroup.EnableConcurrent
	}
	req.Boxes, err = catalogBoxes(p1.JobBoxes)
	if err != nil {
		return protocol.JobSettingInfoRequest{}, false, fmt.Errorf("job %d boxes: %w", p1.ID, err)
	}
	for _, slot := range protocol.Slots {
		p, err := slotPallet(slot, slots[slot])
		if err != nil {
			return protocol.JobSettingInfoRequest{}, false, err
		}
		req.Pallets = append(req.Pallets, p)
	}
	return req, true, nil
}

func slotPallet(slot protocol.Slot, j *model.Job) (protocol.JobPallet, error) {
	boxes, err := catalogBoxes(j.JobBoxes)
	if err != nil {
		return protocol.JobPallet{}, fmt.Errorf("job %d boxes: %w", j.ID, err)
	}
	p := protocol.JobPallet{Location: string(slot), JobBoxes: boxes}
	if j.JobGroup != nil {
		p.OrderGroup = j.JobGroup.Name
	}
	jp := j.JobPallet
	if jp == nil {
		p.Size = []float64{0, 0, 0}
		return p, nil
	}
	p.Size = []float64{jp.Length, jp.Width, jp.Height}
	p.LoadingHeight = jp.LoadingHeight
	p.IsBuffer = jp.IsBuffer
	p.IsError = jp.IsError
	p.IsUsed = jp.IsUse
	p.LoadingPatternName = jp.LoadingPatternName
	p.BoxGroupName = jp.BoxGroupName
	// only the two main slots carry chute and pallet identity
	if slot == protocol.SlotP1 || slot == protocol.SlotP2 {
		if j.JobGroup != nil && j.JobGroup.Location != nil {
			p.ChuteNo = *j.JobGroup.Location
		}
		if jp.PalletBarcode != nil {
			p.PalletBarcode = *jp.PalletBarcode
		}
		p.PalletSpecName = jp.PalletSpecName
	}
	return p, nil
}

// catalogBoxes converts a stored box catalog into controller boxes. An empty
// catalog yields an empty list.
func catalogBoxes(raw string) ([]protocol.Box, error) {
	out := []protocol.Box{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var list []model.JobBox
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	for _, b := range list {
		out = append(out, protocol.Box{Name: strings.ToUpper(b.Name), Size: []float64{b.Length, b.Width, b.Height}})
	}
	return out, nil
}

// SendPreviousJobInfo sends the boxes currently on each slot's pallet so the
// controller can resume stacking. It returns false without sending when any
// slot has no active job.
func (c *Client) SendPreviousJobInfo(ctx context.Context, serial string) (bool, error) {
	req, ok, err := c.BuildPreviousJobInfo(ctx, serial)
	if err != nil || !ok {
		return false, err
	}
	if _, err := c.rpc.Call(ctx, protocol.PacketPreviousJobInfo, req, c.timeouts.PreviousJob); err != nil {
		return false, err
	}
	c.log.WithField("serial", req.SerialNumber).Info("previous job info delivered")
	return true, nil
}

func (c *Client) BuildPreviousJobInfo(ctx context.Context, serial string) (protocol.PreviousJobInfoRequest, bool, error) {
	r, err := c.lookup(ctx, serial)
	if err != nil {
		return protocol.PreviousJobInfoRequest{}, false, err
	}
	slots, err := jobs.SlotJobs(ctx, c.db, r.ID)
	if errors.Is(err, jobs.ErrNoActiveJobs) {
		return protocol.PreviousJobInfoRequest{}, false, nil
	}
	if err != nil {
		return protocol.PreviousJobInfoRequest{}, false, err
	}
	req := protocol.PreviousJobInfoRequest{SerialNumber: r.Serial}
	if g := slots[protocol.SlotP1].JobGroup; g != nil {
		req.Name = g.Name
		if g.Location != nil {
			req.Location = *g.Location
		}
	}
	lists := map[protocol.Slot]*[]protocol.WorkingBox{
		protocol.SlotP1:    &req.P1BoxList,
		protocol.SlotP2:    &req.P2BoxList,
		protocol.SlotAuxP1: &req.AuxP1BoxList,
		protocol.SlotAuxP2: &req.AuxP2BoxList,
	}
	for slot, dst := range lists {
		boxes, err := jobs.WorkingBoxes(ctx, c.db, slots[slot].ID, slot)
		if err != nil {
			return protocol.PreviousJobInfoRequest{}, false, err
		}
		*dst = boxes
	}
	return req, true, nil
}

// ControlWord sends a command without waiting for an answer.
func (c *Client) ControlWord(_ context.Context, serial string, code protocol.CommandCode, job string) error {
	return c.rpc.Notify(protocol.PacketControlWord, protocol.KindRequest, protocol.ControlWordRequest{
		SerialNumber: serial,
		Command:      code,
		Job:          job,
	})
}

// ChangeSpeed sets the operating speed on the controller.
func (c *Client) ChangeSpeed(_ context.Context, serial string, value int) error {
	return c.rpc.Notify(protocol.PacketSystemControl, protocol.KindRequest, protocol.SystemControlRequest{
		SerialNumber: serial,
		Type:         "operationSpeed",
		Value:        value,
	})
}

// SetSpeed re-sends the stored operating speed of the robot.
func (c *Client) SetSpeed(ctx context.Context, serial string) error {
	r, err := db.GetRobotBySerial(ctx, c.db, serial)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrRobotNotFound
	}
	if err != nil {
		return err
	}
	return c.ChangeSpeed(ctx, serial, r.OperatingSpeed)
}

// GripperControl reports whether the controller confirmed the gripper command.
func (c *Client) GripperControl(ctx context.Context, serial string, ch int, cmd bool) (bool, error) {
	resp, err := c.rpc.Call(ctx, protocol.PacketGripperControl, protocol.GripperControlRequest{
		SerialNumber: serial,
		Ch:           ch,
		Cmd:          cmd,
	}, c.timeouts.Gripper)
	if err != nil {
		return false, err
	}
	var body protocol.Success
	if err := resp.Unmarshal(&body); err != nil {
		return false, err
	}
	return body.Success, nil
}

// ButtonState publishes one hold-to-run heartbeat.
func (c *Client) ButtonState(stamp int64, count int) error {
	return c.rpc.Notify(protocol.PacketHoldToRun, protocol.KindMessage, protocol.ButtonHoldMessage{Stamp: stamp, Count: count})
}
