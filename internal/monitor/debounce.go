package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Debouncer decides whether an incoming detection result becomes a
// persisted event plus a notification fan-out, or is suppressed by an
// active cooldown. Cooldowns are tracked per camera: two cameras
// triggering together both fire and each enters its own cooldown, while
// the same camera firing twice within the window only notifies once.
// State is in-memory only; a restart forgets prior cooldowns.
type Debouncer struct {
	cfg      WorkloadConfig
	store    EventStore
	notifier Notifier
	clock    Clock
	status   *StatusLog

	// recipients is read on every fire so recipient list edits apply
	// without restarting the session
	recipients func() []Recipient

	// annotate optionally draws the findings onto the snapshot frame
	annotate func(frame []byte, findings []Detection) []byte

	snapshots SnapshotStore // optional
	bus       *AlertBus     // optional

	mu        sync.Mutex
	lastFired map[string]time.Time // camera ID -> last firing
}

// DebouncerOption configures optional collaborators
type DebouncerOption func(*Debouncer)

// WithSnapshots stores the triggering frame for each fired event
func WithSnapshots(store SnapshotStore) DebouncerOption {
	return func(d *Debouncer) { d.snapshots = store }
}

// WithAnnotator draws findings onto snapshot frames before delivery
func WithAnnotator(fn func(frame []byte, findings []Detection) []byte) DebouncerOption {
	return func(d *Debouncer) { d.annotate = fn }
}

// WithAlertBus publishes fired events to live subscribers
func WithAlertBus(bus *AlertBus) DebouncerOption {
	return func(d *Debouncer) { d.bus = bus }
}

// NewDebouncer creates an alert debouncer for one workload. recipients
// may be nil when no direct notification channel is configured.
func NewDebouncer(cfg WorkloadConfig, store EventStore, notifier Notifier, recipients func() []Recipient, clock Clock, status *StatusLog, opts ...DebouncerOption) *Debouncer {
	if clock == nil {
		clock = SystemClock()
	}
	if recipients == nil {
		recipients = func() []Recipient { return nil }
	}
	d := &Debouncer{
		cfg:        cfg,
		store:      store,
		notifier:   notifier,
		clock:      clock,
		status:     status,
		recipients: recipients,
		lastFired:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Evaluate applies the cooldown state machine to one result. A result
// with no findings of interest never fires and never resets an active
// cooldown. Deterministic given (state, now, result).
func (d *Debouncer) Evaluate(ctx context.Context, result DetectionResult) FireDecision {
	if result.Count <= 0 {
		return FireDecision{}
	}

	now := d.clock.Now()

	d.mu.Lock()
	if last, ok := d.lastFired[result.CameraID]; ok && now.Sub(last) < d.cfg.CooldownDuration {
		d.mu.Unlock()
		return FireDecision{}
	}
	d.lastFired[result.CameraID] = now
	d.mu.Unlock()

	ev := d.fire(ctx, now, result)
	return FireDecision{Fired: true, Event: ev}
}

// fire persists the event and fans out to every recipient. Store and
// delivery failures are reported as status entries, never propagated to
// the loop.
func (d *Debouncer) fire(ctx context.Context, now time.Time, result DetectionResult) *Event {
	ev := &Event{
		ID:           uuid.NewString(),
		Kind:         d.cfg.Kind,
		CameraID:     result.CameraID,
		CameraName:   result.CameraName,
		Timestamp:    now,
		Date:         now.Format(DateFormat),
		Month:        now.Format(MonthFormat),
		TimeOfDay:    now.Format(TimeFormat),
		FindingCount: result.Count,
	}

	frame := result.Frame
	if d.annotate != nil && len(frame) > 0 {
		frame = d.annotate(frame, result.Findings)
	}

	if d.snapshots != nil && len(frame) > 0 {
		key := fmt.Sprintf("%s/%s/%s.jpg", d.cfg.Kind, ev.Date, ev.ID)
		location, err := d.snapshots.SaveSnapshot(ctx, key, frame)
		if err != nil {
			log.Printf("[Debounce] %s: snapshot upload failed for camera %s: %v", d.cfg.Kind, result.CameraName, err)
			d.record(now, "Snapshot upload failed for %s: %v", result.CameraName, err)
		} else {
			ev.SnapshotKey = location
		}
	}

	if err := d.store.InsertEvent(ctx, ev); err != nil {
		log.Printf("[Debounce] %s: failed to save event for camera %s: %v", d.cfg.Kind, result.CameraName, err)
		d.record(now, "Failed to save %s event for %s: %v", d.cfg.Kind, result.CameraName, err)
	}

	log.Printf("[Debounce] %s: event fired on camera %s (count=%d), cooldown %s",
		d.cfg.Kind, result.CameraName, result.Count, d.cfg.CooldownDuration)

	payload := AlertPayload{
		Kind:         d.cfg.Kind,
		CameraID:     result.CameraID,
		CameraName:   result.CameraName,
		Timestamp:    now,
		FindingCount: result.Count,
		Snapshot:     frame,
	}

	if d.notifier != nil {
		for _, r := range d.recipients() {
			// One attempt per recipient; a failure is recorded but does
			// not block the others
			if err := d.notifier.Send(ctx, r, payload); err != nil {
				d.record(now, "Error sending to %s (Chat ID: %s): %v", r.Name, r.ID, err)
			} else {
				d.record(now, "Alert sent to %s (Chat ID: %s)", r.Name, r.ID)
			}
		}
	}

	if d.bus != nil {
		d.bus.Publish(ev)
	}

	return ev
}

func (d *Debouncer) record(now time.Time, format string, args ...interface{}) {
	if d.status != nil {
		d.status.Record(now, format, args...)
	}
}
