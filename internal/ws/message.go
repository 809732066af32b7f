package ws

import (
	"time"

	"vigil/internal/monitor"
)

// AlertMessage represents a fired detection event broadcast
type AlertMessage struct {
	Type         string               `json:"type"` // "alert"
	EventID      string               `json:"event_id"`
	Kind         monitor.WorkloadKind `json:"kind"`
	CameraID     string               `json:"camera_id"`
	CameraName   string               `json:"camera_name"`
	Timestamp    time.Time            `json:"timestamp"`
	FindingCount int                  `json:"finding_count"`
	SnapshotKey  string               `json:"snapshot_key,omitempty"`
}

// NewAlertMessage creates an alert broadcast from a fired event
func NewAlertMessage(ev *monitor.Event) *AlertMessage {
	return &AlertMessage{
		Type:         "alert",
		EventID:      ev.ID,
		Kind:         ev.Kind,
		CameraID:     ev.CameraID,
		CameraName:   ev.CameraName,
		Timestamp:    ev.Timestamp,
		FindingCount: ev.FindingCount,
		SnapshotKey:  ev.SnapshotKey,
	}
}

// StatusMessage represents a workload status change broadcast
type StatusMessage struct {
	Type      string                 `json:"type"` // "status"
	Kind      monitor.WorkloadKind   `json:"kind"`
	Active    bool                   `json:"active"`
	Cameras   []monitor.CameraStatus `json:"cameras,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewStatusMessage creates a status broadcast
func NewStatusMessage(kind monitor.WorkloadKind, active bool, cameras []monitor.CameraStatus) *StatusMessage {
	return &StatusMessage{
		Type:      "status",
		Kind:      kind,
		Active:    active,
		Cameras:   cameras,
		Timestamp: time.Now(),
	}
}
