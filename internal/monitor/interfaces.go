package monitor

import (
	"context"
	"time"
)

// FrameSource opens camera addresses and yields frame readers.
// Implementations wrap FFmpeg streams, HTTP still endpoints, etc.
type FrameSource interface {
	// Open connects to the camera at address. The context bounds the
	// connection attempt; a camera that cannot be opened must not leak
	// resources.
	Open(ctx context.Context, address string) (FrameReader, error)
}

// FrameReader yields frames from one open camera
type FrameReader interface {
	// Read returns the next JPEG frame. The context bounds the read;
	// a camera exceeding it is treated as a read failure for the tick.
	Read(ctx context.Context) ([]byte, error)

	// Close releases the underlying capture resources. Safe to call
	// more than once.
	Close() error
}

// Detector runs inference on a frame and returns classified findings.
// The visual model behind it is an opaque capability.
type Detector interface {
	Infer(ctx context.Context, frame []byte) ([]Detection, error)
}

// Notifier attempts delivery of an alert payload to a single recipient
type Notifier interface {
	Send(ctx context.Context, recipient Recipient, payload AlertPayload) error
}

// EventStore is the persistence surface for aggregates and events.
// Upserts are tolerant of process restarts picking up existing day
// documents; event inserts are append-only.
type EventStore interface {
	UpsertAggregate(ctx context.Context, agg *DailyAggregate) error
	LoadAggregate(ctx context.Context, kind WorkloadKind, date, cameraID string) (*DailyAggregate, error)
	AggregatesForDate(ctx context.Context, kind WorkloadKind, date string) (map[string]*DailyAggregate, error)
	AggregateDates(ctx context.Context, kind WorkloadKind) ([]string, error)

	InsertEvent(ctx context.Context, ev *Event) error
	EventsByDate(ctx context.Context, kind WorkloadKind, date string) ([]*Event, error)
	EventsByMonth(ctx context.Context, kind WorkloadKind, month string) ([]*Event, error)
	EventDates(ctx context.Context, kind WorkloadKind) ([]string, error)
}

// SnapshotStore persists alert snapshot frames (e.g. to object storage)
type SnapshotStore interface {
	// SaveSnapshot stores data under key and returns the stored
	// location (key or URL)
	SaveSnapshot(ctx context.Context, key string, data []byte) (string, error)
}

// Settings persists small key-value toggles (the "detection active"
// flag, selected cameras, recipients)
type Settings interface {
	SaveSetting(ctx context.Context, key, value string) error
	Setting(ctx context.Context, key string) (string, error)
}

// Clock abstracts time so the tick loop and cooldowns can be driven
// deterministically in tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns a Clock backed by the real time package
func SystemClock() Clock { return systemClock{} }
