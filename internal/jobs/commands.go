package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"palletizer-control/internal/db"
	"palletizer-control/internal/protocol"
)

var (
	ErrNoController = errors.New("controller not available")
	ErrGripper      = errors.New("gripper command failed")
)

// CalibrationResult is the outcome of a camera calibration run.
type CalibrationResult int

const (
	CalibrationSucceeded CalibrationResult = iota
	CalibrationFailed
	// CalibrationInterrupted covers alarms raised during the run and timeouts.
	CalibrationInterrupted
)

func (s *Service) control(ctx context.Context, serial string, code protocol.CommandCode, job string) error {
	if s.cmd == nil {
		return ErrNoController
	}
	if err := s.cmd.ControlWord(ctx, serial, code, job); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"serial": serial, "command": code.String()}).Info("control word sent")
	return nil
}

// Command sends a plain control word to the robot.
func (s *Service) Command(ctx context.Context, serial string, code protocol.CommandCode, job string) error {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return err
	}
	return s.control(ctx, robot.Serial, code, job)
}

func (s *Service) Pause(ctx context.Context, serial string) error {
	return s.Command(ctx, serial, protocol.CmdOperationPause, "")
}

func (s *Service) Resume(ctx context.Context, serial string) error {
	return s.Command(ctx, serial, protocol.CmdOperationResume, "")
}

func (s *Service) Stop(ctx context.Context, serial string) error {
	return s.Command(ctx, serial, protocol.CmdOperationStop, "")
}

func (s *Service) ServoOff(ctx context.Context, serial string) error {
	return s.Command(ctx, serial, protocol.CmdServoOff, "")
}

func (s *Service) Shutdown(ctx context.Context, serial string) error {
	return s.Command(ctx, serial, protocol.CmdPowerOff, "")
}

// ServoOn powers the servos and clears the event alarm.
func (s *Service) ServoOn(ctx context.Context, serial string) error {
	return s.commandAndReset(ctx, serial, protocol.CmdServoOn, "")
}

// JobEndResume closes the job-end popup on the controller and clears the alarm.
func (s *Service) JobEndResume(ctx context.Context, serial string) error {
	return s.commandAndReset(ctx, serial, protocol.CmdSystemPopupClosed, protocol.JobEnd)
}

// ReleaseProtection resets a safe stop, stops the operation and clears the alarm.
func (s *Service) ReleaseProtection(ctx context.Context, serial string) error {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return err
	}
	if err := s.control(ctx, robot.Serial, protocol.CmdResetSafeStop, ""); err != nil {
		return err
	}
	if err := s.control(ctx, robot.Serial, protocol.CmdOperationStop, ""); err != nil {
		return err
	}
	return s.resetAlarm(ctx, robot.ID)
}

func (s *Service) commandAndReset(ctx context.Context, serial string, code protocol.CommandCode, job string) error {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return err
	}
	if err := s.control(ctx, robot.Serial, code, job); err != nil {
		return err
	}
	return s.resetAlarm(ctx, robot.ID)
}

// Gripper opens (attach=false) or closes the gripper and stores the tool status
// once the controller confirms.
func (s *Service) Gripper(ctx context.Context, serial string, attach bool) error {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return err
	}
	if s.cmd == nil {
		return ErrNoController
	}
	ok, err := s.cmd.GripperControl(ctx, robot.Serial, 1, attach)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGripper
	}
	return s.db.Retry(ctx, "store tool status", func() error {
		return db.UpdateRobot(ctx, s.db, robot.ID, db.RobotUpdate{"tool_status": attach})
	})
}

// SetSpeed stores the operating speed and forwards it to the controller.
func (s *Service) SetSpeed(ctx context.Context, serial string, value int) error {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return err
	}
	err = s.db.Retry(ctx, "store speed", func() error {
		return db.UpdateRobot(ctx, s.db, robot.ID, db.RobotUpdate{"operating_speed": value})
	})
	if err != nil {
		return err
	}
	if s.cmd == nil {
		return ErrNoController
	}
	return s.cmd.ChangeSpeed(ctx, robot.Serial, value)
}

// Calibrate starts a camera calibration and waits for the controller to
// report its result through the robot's calibration flag.
func (s *Service) Calibrate(ctx context.Context, serial string) (CalibrationResult, error) {
	robot, err := s.robot(ctx, s.db, serial)
	if err != nil {
		return CalibrationInterrupted, err
	}
	err = s.db.Retry(ctx, "reset calibration", func() error {
		return db.UpdateRobot(ctx, s.db, robot.ID, db.RobotUpdate{"is_camera_calibration": -1})
	})
	if err != nil {
		return CalibrationInterrupted, err
	}
	if err := s.control(ctx, robot.Serial, protocol.CmdOperationStart, protocol.JobCalibration); err != nil {
		return CalibrationInterrupted, err
	}

	deadline := time.NewTimer(s.calTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.calPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return CalibrationInterrupted, ctx.Err()
		case <-deadline.C:
			s.log.WithField("serial", robot.Serial).Warn("calibration timed out")
			return CalibrationInterrupted, nil
		case <-tick.C:
		}
		r, err := db.GetRobotBySerial(ctx, s.db, robot.Serial)
		if err != nil {
			return CalibrationInterrupted, err
		}
		if r.EventAlarmCode != protocol.EventAlarmNone {
			return CalibrationInterrupted, nil
		}
		switch r.IsCameraCalibration {
		case -1:
			continue
		case 1:
			return CalibrationSucceeded, nil
		case 0:
			return CalibrationFailed, nil
		default:
			return CalibrationInterrupted, nil
		}
	}
}
