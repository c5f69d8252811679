package protocol

// Packet names handled as inbound requests.
const (
	PacketSystemInfo        = "/cmp_UI/SystemInfo"
	PacketSystemStatus      = "/cmp_UI/SystemStatus"
	PacketBasicAlarm        = "/cmp_UI/BasicAlarm"
	PacketEventAlarm        = "/cmp_UI/EventAlarm"
	PacketUpdateJobStatus   = "/cmp_UI/UpdateJobStatus"
	PacketSaveDB            = "/cmp_UI/SaveDB"
	PacketCurrentWorkingBox = "/cmp_UI/CurrentWorkingBox"
	PacketCallJob           = "cmp_UI/callJob"
	PacketCallPrevJob       = "cmp_UI/callPrevJob"
	PacketDeleteJob         = "/cmp_UI/deleteJob"
	PacketJobInfoListCall   = "/cmp_UI/JobInfoListCall"
	PacketBarcodeCheck      = "/cmp_UI/BarcodeCheck"
)

// Packet names handled as inbound messages.
const (
	PacketStatusWord = "/morow/statusword"
)

// Packet names issued by the engine.
const (
	PacketControlWord     = "/morow/controlword"
	PacketSystemControl   = "/morow/systemControl"
	PacketJobSettingInfo  = "/cmp_UI/JobSettingInfo"
	PacketPreviousJobInfo = "/cmp_UI/PreviousJobInfo"
	PacketGripperControl  = "/morow/gripperControl"
	PacketGetRobotInfo    = "/cmp_UI/getRobotInfo"
	PacketReceiveJobInfo  = "/morow/receiveJobInfo"
	PacketHoldToRun       = "/morow/hold2run"
)
