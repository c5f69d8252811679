package protocol

import "encoding/json"

// --------------------
// Shared records
// --------------------

// Box is one entry of a job's box catalog. Size is [length, width, height].
type Box struct {
	Name string    `json:"name"`
	Size []float64 `json:"size"`
}

// JobPallet describes one slot's pallet inside a job-setting request.
type JobPallet struct {
	OrderGroup         string    `json:"orderGroup"`
	PalletSpecName     string    `json:"palletSpecName"`
	Size               []float64 `json:"size"`
	JobBoxes           []Box     `json:"jobBoxes"`
	LoadingHeight      float64   `json:"loadingHeight"`
	IsBuffer           bool      `json:"isBuffer"`
	IsError            bool      `json:"isError"`
	IsUsed             bool      `json:"isUsed"`
	Location           string    `json:"location"`
	PalletBarcode      string    `json:"palletBarcode"`
	ChuteNo            string    `json:"chuteNo"`
	LoadingPatternName string    `json:"loadingPatternName"`
	BoxGroupName       string    `json:"boxGroupName"`
}

// WorkingBox is a box currently on a pallet. Position is [x, y, z] and
// Length is [length, width, height].
type WorkingBox struct {
	Name           string    `json:"name"`
	Barcode        string    `json:"barcode"`
	BoxID          int64     `json:"box_id"`
	LoadingOrder   int64     `json:"loading_order"`
	RotationType   int       `json:"rotation_type"`
	PalletLocation string    `json:"pallet_location"`
	JobID          string    `json:"job_id"`
	Position       []float64 `json:"position"`
	Length         []float64 `json:"length"`
}

// JobInfo is one entry of the job-location catalog.
type JobInfo struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Success is the common response body of inbound requests.
type Success struct {
	Success bool `json:"success"`
}

// --------------------
// Outbound requests
// --------------------

type ControlWordRequest struct {
	SerialNumber string      `json:"serial_number"`
	Command      CommandCode `json:"command"`
	Job          string      `json:"job"`
}

type SystemControlRequest struct {
	SerialNumber string `json:"serial_number"`
	Type         string `json:"type"`
	Value        int    `json:"value"`
}

type JobInfoListRequest struct {
	JobList []JobInfo `json:"jobList"`
	Count   int       `json:"count"`
}

type JobSettingInfoRequest struct {
	SerialNumber     string      `json:"serial_number"`
	P1JobID          string      `json:"p1_jobID"`
	P2JobID          string      `json:"p2_jobID"`
	AuxP1JobID       string      `json:"aux_p1_jobID"`
	AuxP2JobID       string      `json:"aux_p2_jobID"`
	Pallets          []JobPallet `json:"pallets"`
	BoxGroupName     string      `json:"box_group_name"`
	Boxes            []Box       `json:"boxes"`
	SenderID         string      `json:"sender_id"`
	EnableConcurrent bool        `json:"enable_concurrent"`
}

type PreviousJobInfoRequest struct {
	SerialNumber string       `json:"serial_number"`
	Name         string       `json:"name"`
	Location     string       `json:"location"`
	P1BoxList    []WorkingBox `json:"p1_box_list"`
	P2BoxList    []WorkingBox `json:"p2_box_list"`
	AuxP1BoxList []WorkingBox `json:"aux_p1_box_list"`
	AuxP2BoxList []WorkingBox `json:"aux_p2_box_list"`
}

type GripperControlRequest struct {
	SerialNumber string `json:"serial_number"`
	Ch           int    `json:"ch"`
	Cmd          bool   `json:"cmd"`
}

type RobotInfoResponse struct {
	SerialNumber    string `json:"serial_number"`
	MorowVersion    string `json:"morow_version"`
	VisionVersion   string `json:"vision_version"`
	DockerVersion   string `json:"docker_version"`
	FirmwareVersion string `json:"firmware_version"`
	Platform        string `json:"platform"`
	Application     string `json:"application"`
	Project         string `json:"project"`
}

// ButtonHoldMessage is the hold-to-run heartbeat published while a jog button is held.
type ButtonHoldMessage struct {
	Stamp int64 `json:"stamp"`
	Count int   `json:"count"`
}

// --------------------
// Inbound requests and messages
// --------------------

type SystemInfoRequest struct {
	SerialNumber    string `json:"serial_number"`
	SoftwareVersion string `json:"software_version"`
}

type SystemStatusRequest struct {
	SerialNumber string `json:"serial_number"`
	Type         string `json:"type"`
	Value        int    `json:"value"`
}

// BasicAlarmRequest carries Param verbatim; it is stored as JSON text.
type BasicAlarmRequest struct {
	SerialNumber string          `json:"serial_number"`
	Stamp        int64           `json:"stamp"`
	Level        int             `json:"level"`
	Category     int             `json:"category"`
	MessageKey   int             `json:"message_key"`
	Param        json.RawMessage `json:"param"`
	IsChecked    bool            `json:"isChecked"`
}

type EventAlarmRequest struct {
	SerialNumber string `json:"serial_number"`
	MessageKey   int    `json:"message_key"`
}

type UpdateJobStatusRequest struct {
	SerialNumber   string  `json:"serial_number"`
	LoadingRate    float64 `json:"LoadingRate"`
	LoadHeight     float64 `json:"LoadHeight"`
	BPH            float64 `json:"BPH"`
	PalletLocation string  `json:"pallet_location"`
}

// Zero reports whether the controller sent an all-zero status, which carries no update.
func (r UpdateJobStatusRequest) Zero() bool {
	return r.LoadingRate == 0 && r.LoadHeight == 0 && r.BPH == 0
}

type SaveDBRequest struct {
	SerialNumber string `json:"serial_number"`
}

type SaveDBResponse struct {
	P1BoxList []WorkingBox `json:"p1_box_list"`
	P2BoxList []WorkingBox `json:"p2_box_list"`
	Success   bool         `json:"success"`
}

type CurrentWorkingBoxRequest struct {
	SerialNumber string      `json:"serial_number"`
	Current      *WorkingBox `json:"current"`
	IsLoading    bool        `json:"isLoading"`
	PalletType   string      `json:"PalletType"`
	JobID        string      `json:"jobId"`
	LoadingRate  float64     `json:"LoadingRate"`
	LoadHeight   float64     `json:"LoadHeight"`
	BoxPH        float64     `json:"BoxPH"`
}

type CallJobRequest struct {
	SerialNumber string `json:"serial_number"`
	SenderID     string `json:"sender_id"`
}

type DeleteJobRequest struct {
	ID string `json:"id"`
}

type BarcodeCheckRequest struct {
	Barcode      string `json:"Barcode"`
	SerialNumber string `json:"serial_number"`
	BoxType      string `json:"box_type"`
}

type BarcodeCheckResponse struct {
	RES       bool   `json:"RES"`
	ErrCD     int    `json:"ERR_CD"`
	ResultMsg string `json:"result_msg"`
}

type StatusWordMessage struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
	Num          int    `json:"num"`
}
