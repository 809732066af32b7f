package monitor

import (
	"time"
)

// WorkloadKind identifies one of the independent detection workloads
type WorkloadKind string

const (
	WorkloadFire       WorkloadKind = "fire"
	WorkloadOccupancy  WorkloadKind = "occupancy"
	WorkloadTailgating WorkloadKind = "tailgating"
	WorkloadNoAccess   WorkloadKind = "no_access"
)

// AggregationMode defines how a workload's daily series are presented
type AggregationMode string

const (
	// AggregatePerCamera - one daily series per camera
	AggregatePerCamera AggregationMode = "per_camera"
	// AggregateCombined - a single cross-camera series per day
	AggregateCombined AggregationMode = "combined"
)

// CameraHandle identifies one monitored source. Owned by the camera
// registry; the loop only holds a read-only reference for the session.
type CameraHandle struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 float32 `json:"x1"` // Left
	Y1 float32 `json:"y1"` // Top
	X2 float32 `json:"x2"` // Right
	Y2 float32 `json:"y2"` // Bottom
}

// Detection represents a single classified object instance in a frame
type Detection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"` // [0-1]
	BBox       BBox    `json:"bbox"`
}

// DetectionResult is the per-frame output handed to the aggregation
// engine and the alert debouncer. Ephemeral, never persisted as-is.
type DetectionResult struct {
	CameraID   string
	CameraName string
	Timestamp  time.Time
	Findings   []Detection
	// Count is the number of findings matching the workload's target
	// classes at or above its confidence threshold
	Count int
	// Frame is the JPEG the findings were produced from, kept so a
	// fired alert can attach a snapshot
	Frame []byte
}

// Event is the persisted record of a debounced alert firing.
// Immutable once written.
type Event struct {
	ID           string       `json:"id"`
	Kind         WorkloadKind `json:"kind"`
	CameraID     string       `json:"camera_id"`
	CameraName   string       `json:"camera_name"`
	Timestamp    time.Time    `json:"timestamp"`
	Date         string       `json:"date"`  // YYYY-MM-DD
	Month        string       `json:"month"` // YYYY-MM, for monthly history filters
	TimeOfDay    string       `json:"time"`  // HH:MM:SS
	FindingCount int          `json:"finding_count"`
	SnapshotKey  string       `json:"snapshot_key,omitempty"`
}

// MinutesPerDay and HoursPerDay size the daily bucket series
const (
	MinutesPerDay = 24 * 60
	HoursPerDay   = 24
)

// DailyAggregate holds one day of time-bucketed counts for a camera.
// MinuteCounts keeps the last observed sample per minute while HourlyMax
// keeps a running max per hour; the asymmetry matches the stored shape
// the dashboard charts expect.
type DailyAggregate struct {
	Kind         WorkloadKind `json:"kind"`
	Date         string       `json:"date"` // YYYY-MM-DD
	CameraID     string       `json:"camera_id"`
	MaxCount     int          `json:"max_count"`
	HourlyMax    []int        `json:"hourly_counts"` // len 24, never decreases within a day
	MinuteCounts []int        `json:"minute_counts"` // len 1440, last writer wins
	LastUpdated  time.Time    `json:"last_updated"`
	DocumentID   string       `json:"document_id"`
}

// NewDailyAggregate creates an empty aggregate for (kind, date, camera)
func NewDailyAggregate(kind WorkloadKind, date, cameraID, documentID string) *DailyAggregate {
	return &DailyAggregate{
		Kind:         kind,
		Date:         date,
		CameraID:     cameraID,
		HourlyMax:    make([]int, HoursPerDay),
		MinuteCounts: make([]int, MinutesPerDay),
		DocumentID:   documentID,
	}
}

// Recipient is one alert delivery target
type Recipient struct {
	ID   string `json:"chat_id"`
	Name string `json:"name"`
}

// AlertPayload is what a fired event fans out to each recipient
type AlertPayload struct {
	Kind         WorkloadKind
	CameraID     string
	CameraName   string
	Timestamp    time.Time
	FindingCount int
	Snapshot     []byte // annotated JPEG, may be nil
}

// FireDecision is the outcome of evaluating a result against the cooldown
type FireDecision struct {
	Fired bool
	Event *Event
}

// CameraStatus is a read-only snapshot of one camera's runtime state
type CameraStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Open        bool   `json:"open"`
	LastFrameOK bool   `json:"last_frame_ok"`
	Failures    int    `json:"consecutive_failures"`
}

// DateFormat layouts shared by aggregates and events
const (
	DateFormat  = "2006-01-02"
	MonthFormat = "2006-01"
	TimeFormat  = "15:04:05"
)
