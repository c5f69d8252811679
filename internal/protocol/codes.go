package protocol

import "strings"

// Slot is one of the four fixed pallet positions of a cell.
type Slot string

const (
	SlotP1    Slot = "p1"
	SlotP2    Slot = "p2"
	SlotAuxP1 Slot = "aux_p1"
	SlotAuxP2 Slot = "aux_p2"
)

// Stored JobPallet.location names of the slots.
const (
	LocationLeft     = "좌측"
	LocationRight    = "우측"
	LocationAuxLeft  = "보조(좌)"
	LocationAuxRight = "보조(우)"
)

// Slots lists the slots in controller order.
var Slots = []Slot{SlotP1, SlotP2, SlotAuxP1, SlotAuxP2}

// Location returns the stored location name of the slot.
func (s Slot) Location() string {
	switch s {
	case SlotP1:
		return LocationLeft
	case SlotP2:
		return LocationRight
	case SlotAuxP1:
		return LocationAuxLeft
	case SlotAuxP2:
		return LocationAuxRight
	}
	return ""
}

// ParseSlot accepts a slot code (p1) or a stored location name (좌측).
func ParseSlot(v string) (Slot, bool) {
	v = strings.TrimSpace(v)
	for _, s := range Slots {
		if v == string(s) || v == s.Location() {
			return s, true
		}
	}
	return "", false
}

// CommandCode is the numeric command carried by a control word.
type CommandCode int

const (
	CmdServoOn           CommandCode = 1
	CmdServoOff          CommandCode = 2
	CmdPowerOff          CommandCode = 3
	CmdOperationStart    CommandCode = 4
	CmdOperationResume   CommandCode = 5
	CmdOperationPause    CommandCode = 6
	CmdOperationStop     CommandCode = 7
	CmdResetSafeStop     CommandCode = 8
	CmdSystemPopupClosed CommandCode = 9
)

func (c CommandCode) String() string {
	switch c {
	case CmdServoOn:
		return "SERVOON"
	case CmdServoOff:
		return "SERVOOFF"
	case CmdPowerOff:
		return "CONTROL_POWER_OFF"
	case CmdOperationStart:
		return "OPERATION_START"
	case CmdOperationResume:
		return "CONTROL_OPERATION_RESUME"
	case CmdOperationPause:
		return "CONTROL_OPERATION_PAUSE"
	case CmdOperationStop:
		return "CONTROL_OPERATION_STOP"
	case CmdResetSafeStop:
		return "CONTROL_RESET_SAFE_STOP"
	case CmdSystemPopupClosed:
		return "SYSTEM_POPUP_CLOSED"
	}
	return "UNKNOWN"
}

// Sender ids carried by job-setting requests.
const (
	SenderRPM = "1"
	SenderCPM = "2"
)

// Log categories of basic alarms.
const (
	CategoryVision    = 0
	CategoryArm       = 1
	CategoryMobile    = 2
	CategoryAlgorithm = 3
	CategoryGripper   = 4
	CategoryFramework = 5
)

// Log levels of basic alarms.
const (
	LevelInfo    = 0
	LevelWarning = 1
	LevelError   = 2
)

const (
	EventAlarmNone = 0
	BoxInspectOK   = 0
)

// Application and project names reported by the controller.
const (
	ApplicationDepalletizing = "DEPALLETIZING"
	ProjectChris             = "CHRIS"
)

// GhostBoxName marks a synthetic placeholder box.
const GhostBoxName = "ghost"

// Jog and motion descriptors sent with OPERATION_START.
const (
	JobMotionTest      = `{"name":"cmp20_motion_test"}`
	JobCalibration     = `{"name":"validation_calibration"}`
	JobPositionHome    = `{"name":"robot_manual_control", "pos":"HOME"}`
	JobPositionPackage = `{"name":"robot_manual_control", "pos":"PACK"}`
	JobGripperUp       = `{"name":"robot_manual_control", "pos":"UP"}`
	JobGripperDown     = `{"name":"robot_manual_control", "pos":"DOWN"}`
	JobLiftUp          = `{"name":"lift_manual_control", "direction":"UP"}`
	JobLiftDown        = `{"name":"lift_manual_control", "direction":"DOWN"}`
	JobEnd             = "END_JOB"
)
