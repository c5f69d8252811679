package model

import "time"

// Robot is one physical palletizing unit, keyed by its controller serial.
type Robot struct {
	ID                          int64     `db:"id" json:"id"`
	Serial                      string    `db:"serial" json:"serial"`
	Version                     string    `db:"version" json:"version"`
	Project                     string    `db:"project" json:"project"`
	Application                 string    `db:"application" json:"application"`
	Platform                    string    `db:"platform" json:"platform"`
	MorowVersion                string    `db:"morow_version" json:"morowVersion"`
	VisionVersion               string    `db:"vision_version" json:"visionVersion"`
	DockerVersion               string    `db:"docker_version" json:"dockerVersion"`
	FirmwareVersion             string    `db:"firmware_version" json:"firmwareVersion"`
	Connection                  bool      `db:"connection" json:"connection"`
	Status                      int       `db:"status" json:"status"`
	OperatingSpeed              int       `db:"operating_speed" json:"operatingSpeed"`
	RobotPosition               int       `db:"robot_position" json:"robotPosition"`
	LiftPosition                int       `db:"lift_position" json:"liftPosition"`
	ToolStatus                  bool      `db:"tool_status" json:"toolStatus"`
	EventAlarmCode              int       `db:"event_alarm_code" json:"eventAlarmCode"`
	IsCameraCalibration         int       `db:"is_camera_calibration" json:"isCameraCalibration"`
	IsCameraPositionCalibration int       `db:"is_camera_position_calibration" json:"isCameraPositionCalibration"`
	IsUseBarcode                bool      `db:"is_use_barcode" json:"isUseBarcode"`
	GripperPosition             int       `db:"gripper_position" json:"gripperPosition"`
	IsUseAdminPassword          bool      `db:"is_use_admin_password" json:"isUseAdminPassword"`
	EnableExtConnection         bool      `db:"enable_ext_connection" json:"enableExtConnection"`
	ExtConnectionURL            string    `db:"ext_connection_url" json:"extConnectionUrl"`
	CreatedAt                   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt                   time.Time `db:"updated_at" json:"updatedAt"`
}

// --------------------
// Catalog (configured by operators, read by job creation)
// --------------------

type PalletSpecification struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Width     float64   `db:"width" json:"width"`
	Length    float64   `db:"length" json:"length"`
	Height    float64   `db:"height" json:"height"`
	Overhang  int       `db:"overhang" json:"overhang"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type LoadingPattern struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	IsSelectable bool      `db:"is_selectable" json:"isSelectable"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type BarcodeType struct {
	ID                  int64     `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	SampleData          string    `db:"sample_data" json:"sampleData"`
	ProductCodeLocation string    `db:"product_code_location" json:"productCodeLocation"`
	WeightLocation      string    `db:"weight_location" json:"weightLocation"`
	Unit                string    `db:"unit" json:"unit"`
	Digits              int       `db:"digits" json:"digits"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
}

type BoxGroup struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Box struct {
	ID             int64     `db:"id" json:"id"`
	BoxGroupID     int64     `db:"box_group_id" json:"boxGroupId"`
	Name           string    `db:"name" json:"name"`
	Width          float64   `db:"width" json:"width"`
	Height         float64   `db:"height" json:"height"`
	Length         float64   `db:"length" json:"length"`
	Weight         float64   `db:"weight" json:"weight"`
	LabelDirection int       `db:"label_direction" json:"labelDirection"`
	BarcodeTypeID  *int64    `db:"barcode_type_id" json:"barcodeTypeId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

type PalletGroup struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Location  string    `db:"location" json:"location"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Pallet is a configured slot template; job creation snapshots it into a JobPallet.
type Pallet struct {
	ID                    int64     `db:"id" json:"id"`
	PalletGroupID         int64     `db:"pallet_group_id" json:"palletGroupId"`
	IsBuffer              bool      `db:"is_buffer" json:"isBuffer"`
	IsUse                 bool      `db:"is_use" json:"isUse"`
	IsError               bool      `db:"is_error" json:"isError"`
	Location              string    `db:"location" json:"location"`
	IsInvoiceVisible      bool      `db:"is_invoice_visible" json:"isInvoiceVisible"`
	LoadingHeight         float64   `db:"loading_height" json:"loadingHeight"`
	OrderInformation      string    `db:"order_information" json:"orderInformation"`
	BoxGroupID            *int64    `db:"box_group_id" json:"boxGroupId"`
	PalletSpecificationID *int64    `db:"pallet_specification_id" json:"palletSpecificationId"`
	LoadingPatternID      *int64    `db:"loading_pattern_id" json:"loadingPatternId"`
	CreatedAt             time.Time `db:"created_at" json:"createdAt"`
}

// --------------------
// Jobs
// --------------------

type JobGroup struct {
	ID               int64     `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Location         *string   `db:"location" json:"location"`
	EnableConcurrent bool      `db:"enable_concurrent" json:"enableConcurrent"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// Job is one slot's unit of loading work. It is active while EndFlag is false.
type Job struct {
	ID                int64      `db:"id" json:"id"`
	RobotID           int64      `db:"robot_id" json:"robotId"`
	JobGroupID        *int64     `db:"job_group_id" json:"jobGroupId"`
	JobBoxes          string     `db:"job_boxes" json:"jobBoxes"`
	StartedAt         *time.Time `db:"started_at" json:"startedAt"`
	EndedAt           *time.Time `db:"ended_at" json:"endedAt"`
	EndFlag           bool       `db:"end_flag" json:"endFlag"`
	CurrentLoadHeight float64    `db:"current_load_height" json:"currentLoadHeight"`
	LoadingRate       float64    `db:"loading_rate" json:"loadingRate"`
	BPH               float64    `db:"bph" json:"bph"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`

	JobPallet *JobPallet `db:"-" json:"jobPallet,omitempty"`
	JobGroup  *JobGroup  `db:"-" json:"jobGroup,omitempty"`
}

// Ended reports whether the job reached its terminal state.
func (j Job) Ended() bool { return j.EndFlag && j.EndedAt != nil }

// JobPallet is the 1:1 physical pallet of a job. Names are copies taken at creation.
type JobPallet struct {
	ID                 int64     `db:"id" json:"id"`
	JobID              int64     `db:"job_id" json:"jobId"`
	IsBuffer           bool      `db:"is_buffer" json:"isBuffer"`
	IsUse              bool      `db:"is_use" json:"isUse"`
	IsError            bool      `db:"is_error" json:"isError"`
	Location           string    `db:"location" json:"location"`
	IsInvoiceVisible   bool      `db:"is_invoice_visible" json:"isInvoiceVisible"`
	LoadingHeight      float64   `db:"loading_height" json:"loadingHeight"`
	OrderInformation   string    `db:"order_information" json:"orderInformation"`
	LoadingPatternName string    `db:"loading_pattern_name" json:"loadingPatternName"`
	Width              float64   `db:"width" json:"width"`
	Height             float64   `db:"height" json:"height"`
	Length             float64   `db:"length" json:"length"`
	PalletBarcode      *string   `db:"pallet_barcode" json:"palletBarcode"`
	PalletSpecName     string    `db:"pallet_spec_name" json:"palletSpecName"`
	Overhang           int       `db:"overhang" json:"overhang"`
	BoxGroupName       string    `db:"box_group_name" json:"boxGroupName"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
}

// BoxPosition is an append-only placement (IsLoading) or removal marker.
type BoxPosition struct {
	ID           int64     `db:"id" json:"id"`
	JobID        int64     `db:"job_id" json:"jobId"`
	BoxID        int64     `db:"box_id" json:"boxId"`
	BoxBarcode   string    `db:"box_barcode" json:"boxBarcode"`
	BoxName      string    `db:"box_name" json:"boxName"`
	X            float64   `db:"x" json:"x"`
	Y            float64   `db:"y" json:"y"`
	Z            float64   `db:"z" json:"z"`
	Width        float64   `db:"width" json:"width"`
	Height       float64   `db:"height" json:"height"`
	Length       float64   `db:"length" json:"length"`
	RotationType int       `db:"rotation_type" json:"rotationType"`
	LoadingOrder int64     `db:"loading_order" json:"loadingOrder"`
	IsLoading    bool      `db:"is_loading" json:"isLoading"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// JobBox is one element of the serialized Job.JobBoxes catalog.
type JobBox struct {
	Name                  string  `json:"name"`
	Width                 float64 `json:"width"`
	Height                float64 `json:"height"`
	Length                float64 `json:"length"`
	Weight                float64 `json:"weight"`
	LabelDirection        int     `json:"labelDirection"`
	JobID                 int64   `json:"jobId"`
	BarcodeTypeName       string  `json:"barcodeTypeName,omitempty"`
	BarcodeSampleData     string  `json:"barcodeSampleData,omitempty"`
	BarcodeWeightLocation string  `json:"barcodeWeightLocation,omitempty"`
	BarcodeUnit           string  `json:"barcodeUnit,omitempty"`
	BarcodeDigits         *int    `json:"barcodeDigits,omitempty"`
}

// --------------------
// Logs and credentials
// --------------------

type Log struct {
	ID         int64     `db:"id" json:"id"`
	RobotID    int64     `db:"robot_id" json:"robotId"`
	Category   int       `db:"category" json:"category"`
	MessageKey int       `db:"message_key" json:"message_key"`
	Param      string    `db:"param" json:"param"`
	Level      int       `db:"level" json:"level"`
	Checked    bool      `db:"checked" json:"checked"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

type AdminPassword struct {
	ID           int64     `db:"id" json:"id"`
	RobotID      int64     `db:"robot_id" json:"robotId"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
