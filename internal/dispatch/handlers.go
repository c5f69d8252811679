package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
	"palletizer-control/internal/protocol"
)

// systemStatusColumns maps SystemStatus types to robot columns.
var systemStatusColumns = map[string]string{
	"status":              "status",
	"operationSpeed":      "operating_speed",
	"robotPosition":       "robot_position",
	"liftPosition":        "lift_position",
	"isCameraCalibration": "is_camera_calibration",
}

// systemInfo registers the controller's serial. A cell holds one robot, so a
// different serial renames the existing robot instead of adding another.
func (d *Dispatcher) systemInfo(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.SystemInfoRequest](env)
	if err != nil {
		return success(false), err
	}
	var robotID int64
	err = d.db.RetryTx(ctx, "register robot", func(tx *sqlx.Tx) error {
		r, err := db.FirstRobot(ctx, tx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			r = &model.Robot{Serial: req.SerialNumber, MorowVersion: req.SoftwareVersion, IsCameraCalibration: -1}
			if err := db.CreateRobot(ctx, tx, r); err != nil {
				return err
			}
		case err != nil:
			return err
		case r.Serial != req.SerialNumber:
			err := db.UpdateRobot(ctx, tx, r.ID, db.RobotUpdate{
				"serial":                req.SerialNumber,
				"morow_version":         req.SoftwareVersion,
				"is_camera_calibration": -1,
				"status":                0,
			})
			if err != nil {
				return err
			}
		}
		robotID = r.ID
		_, err = db.EnsureAdminPassword(ctx, tx, r.ID, db.DefaultAdminPassword)
		return err
	})
	if err != nil {
		return success(false), err
	}
	d.log.WithFields(logrus.Fields{"serial": req.SerialNumber, "robot_id": robotID}).Info("robot registered")
	return success(true), nil
}

// systemStatus stores one status field. The controller always gets success.
func (d *Dispatcher) systemStatus(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.SystemStatusRequest](env)
	if err != nil {
		return success(true), err
	}
	r, err := db.GetRobotBySerial(ctx, d.db, req.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return success(true), fmt.Errorf("system status: %w", jobs.ErrRobotNotFound)
	}
	if err != nil {
		return success(true), err
	}

	update := db.RobotUpdate{}
	switch req.Type {
	case "toolStatus":
		update["tool_status"] = req.Value != 0
	case "LoadSpeed":
		if req.Value != 0 {
			if err := d.ctl.SetSpeed(ctx, r.Serial); err != nil {
				return success(true), fmt.Errorf("load speed: %w", err)
			}
		}
	default:
		col, ok := systemStatusColumns[req.Type]
		if !ok {
			d.log.WithField("type", req.Type).Warn("unknown system status type")
			return success(true), nil
		}
		update[col] = req.Value
	}
	if len(update) == 0 {
		return success(true), nil
	}
	err = d.db.Retry(ctx, "store system status", func() error {
		return db.UpdateRobot(ctx, d.db, r.ID, update)
	})
	return success(true), err
}

func (d *Dispatcher) basicAlarm(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.BasicAlarmRequest](env)
	if err != nil {
		return success(false), err
	}
	r, err := db.GetRobotBySerial(ctx, d.db, req.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return success(false), fmt.Errorf("basic alarm: %w", jobs.ErrRobotNotFound)
	}
	if err != nil {
		return success(false), err
	}
	param := string(req.Param)
	if param == "" {
		param = "null"
	}
	l := &model.Log{
		RobotID:    r.ID,
		Category:   req.Category,
		MessageKey: req.MessageKey,
		Param:      param,
		Level:      req.Level,
		Checked:    req.IsChecked,
	}
	err = d.db.Retry(ctx, "store alarm", func() error {
		return db.InsertLog(ctx, d.db, l)
	})
	if err != nil {
		return success(false), err
	}
	if req.Level >= protocol.LevelWarning {
		d.log.WithFields(logrus.Fields{"serial": r.Serial, "category": req.Category, "message_key": req.MessageKey, "level": req.Level}).Warn("robot alarm")
	}
	return success(true), nil
}

func (d *Dispatcher) eventAlarm(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.EventAlarmRequest](env)
	if err != nil {
		return success(false), err
	}
	r, err := db.GetRobotBySerial(ctx, d.db, req.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return success(true), nil
	}
	if err != nil {
		return success(false), err
	}
	err = d.db.Retry(ctx, "store event alarm", func() error {
		return db.UpdateRobot(ctx, d.db, r.ID, db.RobotUpdate{"event_alarm_code": req.MessageKey})
	})
	if err != nil {
		return success(false), err
	}
	d.log.WithFields(logrus.Fields{"serial": r.Serial, "message_key": req.MessageKey}).Info("event alarm")
	return success(true), nil
}

// updateJobStatus stores the controller's boxes-per-hour on the slot's job.
// An all-zero status carries nothing and is not answered.
func (d *Dispatcher) updateJobStatus(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.UpdateJobStatusRequest](env)
	if err != nil {
		return success(false), err
	}
	if req.Zero() {
		return nil, nil
	}
	slot, ok := protocol.ParseSlot(req.PalletLocation)
	if !ok {
		slot = protocol.SlotAuxP2
	}
	r, err := db.GetRobotBySerial(ctx, d.db, req.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return success(false), nil
	}
	if err != nil {
		return success(false), err
	}
	j, err := jobs.ActiveJob(ctx, d.db, r.ID, slot)
	if errors.Is(err, jobs.ErrNoActiveJobs) {
		return success(false), nil
	}
	if err != nil {
		return success(false), err
	}
	err = d.db.Retry(ctx, "store bph", func() error {
		return db.SetJobBPH(ctx, d.db, j.ID, req.BPH)
	})
	if err != nil {
		return success(false), err
	}
	return success(true), nil
}

// saveDB answers with the boxes currently on the two main pallets.
func (d *Dispatcher) saveDB(ctx context.Context, env protocol.Envelope) (any, error) {
	resp := protocol.SaveDBResponse{P1BoxList: []protocol.WorkingBox{}, P2BoxList: []protocol.WorkingBox{}}
	req, err := decode[protocol.SaveDBRequest](env)
	if err != nil {
		return resp, err
	}
	r, err := db.GetRobotBySerial(ctx, d.db, req.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, nil
	}
	if err != nil {
		return resp, err
	}
	for slot, dst := range map[protocol.Slot]*[]protocol.WorkingBox{
		protocol.SlotP1: &resp.P1BoxList,
		protocol.SlotP2: &resp.P2BoxList,
	} {
		j, err := jobs.ActiveJob(ctx, d.db, r.ID, slot)
		if errors.Is(err, jobs.ErrNoActiveJobs) {
			return protocol.SaveDBResponse{P1BoxList: []protocol.WorkingBox{}, P2BoxList: []protocol.WorkingBox{}}, nil
		}
		if err != nil {
			return resp, err
		}
		if *dst, err = jobs.WorkingBoxes(ctx, d.db, j.ID, slot); err != nil {
			return resp, err
		}
	}
	resp.Success = true
	return resp, nil
}

func (d *Dispatcher) currentWorkingBox(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.CurrentWorkingBoxRequest](env)
	if err != nil {
		return success(false), err
	}
	res, err := d.jobs.IngestBox(ctx, req)
	if err != nil {
		return success(false), err
	}
	return success(res.Success), nil
}

func (d *Dispatcher) callJob(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.CallJobRequest](env)
	if err != nil {
		return success(false), err
	}
	ok, err := d.ctl.SendJobSetting(ctx, req.SerialNumber, req.SenderID)
	return success(ok && err == nil), err
}

func (d *Dispatcher) callPrevJob(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.CallJobRequest](env)
	if err != nil {
		return success(false), err
	}
	if _, err := d.ctl.SendPreviousJobInfo(ctx, req.SerialNumber); err != nil {
		return success(false), err
	}
	return success(true), nil
}

// deleteJob removes every job of the robot whose serial is the request id.
func (d *Dispatcher) deleteJob(ctx context.Context, env protocol.Envelope) (any, error) {
	req, err := decode[protocol.DeleteJobRequest](env)
	if err != nil {
		return success(false), err
	}
	r, err := db.GetRobotBySerial(ctx, d.db, req.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return success(false), nil
	}
	if err != nil {
		return success(false), err
	}
	var n int64
	err = d.db.Retry(ctx, "delete robot jobs", func() error {
		n, err = db.DeleteRobotJobs(ctx, d.db, r.ID)
		return err
	})
	if err != nil {
		return success(false), err
	}
	d.log.WithFields(logrus.Fields{"serial": r.Serial, "deleted": n}).Info("robot jobs deleted")
	return success(true), nil
}

// jobInfoListCall is answered by pushing the catalog as a new request.
func (d *Dispatcher) jobInfoListCall(ctx context.Context, _ protocol.Envelope) (any, error) {
	return nil, d.ctl.PushJobCatalog(ctx)
}

func (d *Dispatcher) barcodeCheck(_ context.Context, env protocol.Envelope) (any, error) {
	if _, err := decode[protocol.BarcodeCheckRequest](env); err != nil {
		d.log.WithError(err).Debug("barcode check payload")
	}
	return protocol.BarcodeCheckResponse{RES: true, ErrCD: protocol.BoxInspectOK, ResultMsg: "OK"}, nil
}

func (d *Dispatcher) statusWord(ctx context.Context, env protocol.Envelope) (any, error) {
	msg, err := decode[protocol.StatusWordMessage](env)
	if err != nil {
		return nil, err
	}
	r, err := db.GetRobotBySerial(ctx, d.db, msg.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.Status == msg.Num {
		return nil, nil
	}
	return nil, d.db.Retry(ctx, "store status word", func() error {
		return db.UpdateRobot(ctx, d.db, r.ID, db.RobotUpdate{"status": msg.Num})
	})
}
