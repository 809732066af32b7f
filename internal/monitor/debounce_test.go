package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func debounceConfig(cooldown time.Duration) WorkloadConfig {
	return WorkloadConfig{
		Kind:                WorkloadNoAccess,
		TargetClasses:       []string{"person"},
		ConfidenceThreshold: 0.5,
		CooldownDuration:    cooldown,
	}
}

func countedResult(cameraID string, count int) DetectionResult {
	return DetectionResult{
		CameraID:   cameraID,
		CameraName: cameraID,
		Findings:   persons(count),
		Count:      count,
	}
}

func TestEvaluateCooldownBoundary(t *testing.T) {
	cooldown := 10 * time.Second
	cases := []struct {
		name      string
		sinceFire time.Duration
		wantFire  bool
	}{
		{"immediately after", time.Nanosecond, false},
		{"just inside window", cooldown - time.Second, false},
		{"exactly at expiry", cooldown, true},
		{"after expiry", cooldown + time.Second, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			clock := newFakeClock(testStart())
			d := NewDebouncer(debounceConfig(cooldown), store, nil, nil, clock, nil)
			ctx := context.Background()

			if got := d.Evaluate(ctx, countedResult("cam-1", 1)); !got.Fired {
				t.Fatal("first evaluation did not fire")
			}

			clock.Advance(tc.sinceFire)
			got := d.Evaluate(ctx, countedResult("cam-1", 1))
			if got.Fired != tc.wantFire {
				t.Errorf("Fired = %v at +%v, want %v", got.Fired, tc.sinceFire, tc.wantFire)
			}
		})
	}
}

func TestEvaluatePerCameraCooldowns(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock(testStart())
	d := NewDebouncer(debounceConfig(time.Minute), store, nil, nil, clock, nil)
	ctx := context.Background()

	// Two cameras triggering in the same tick both fire
	if got := d.Evaluate(ctx, countedResult("cam-1", 2)); !got.Fired {
		t.Error("cam-1 did not fire")
	}
	if got := d.Evaluate(ctx, countedResult("cam-2", 1)); !got.Fired {
		t.Error("cam-2 did not fire despite cam-1's cooldown")
	}

	// Each camera holds its own cooldown
	clock.Advance(10 * time.Second)
	if got := d.Evaluate(ctx, countedResult("cam-1", 2)); got.Fired {
		t.Error("cam-1 fired inside its cooldown")
	}
	if got := store.eventCount(); got != 2 {
		t.Errorf("persisted %d events, want 2", got)
	}
}

func TestEvaluateZeroCountNeverFiresNorResets(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock(testStart())
	cooldown := 10 * time.Second
	d := NewDebouncer(debounceConfig(cooldown), store, nil, nil, clock, nil)
	ctx := context.Background()

	if got := d.Evaluate(ctx, countedResult("cam-1", 0)); got.Fired {
		t.Fatal("zero count fired")
	}
	if got := d.Evaluate(ctx, countedResult("cam-1", 1)); !got.Fired {
		t.Fatal("first positive count did not fire")
	}

	// Empty ticks inside the window must not extend or reset it
	clock.Advance(cooldown / 2)
	d.Evaluate(ctx, countedResult("cam-1", 0))
	clock.Advance(cooldown / 2)
	if got := d.Evaluate(ctx, countedResult("cam-1", 1)); !got.Fired {
		t.Error("cooldown was reset by a zero-count tick")
	}
}

func TestFirePersistsEventAndNotifies(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock(testStart())
	notifier := &fakeNotifier{}
	status := NewStatusLog(10)
	recipients := func() []Recipient {
		return []Recipient{
			{ID: "100", Name: "Operations"},
			{ID: "200", Name: "Security"},
		}
	}
	d := NewDebouncer(debounceConfig(time.Minute), store, notifier, recipients, clock, status)

	got := d.Evaluate(context.Background(), countedResult("cam-1", 2))
	if !got.Fired || got.Event == nil {
		t.Fatalf("Evaluate() = %+v, want a fired event", got)
	}

	ev := got.Event
	if ev.ID == "" {
		t.Error("event has no ID")
	}
	if ev.Kind != WorkloadNoAccess || ev.CameraID != "cam-1" || ev.FindingCount != 2 {
		t.Errorf("event = %+v, want kind/camera/count preserved", ev)
	}
	if ev.Date != testStart().Format(DateFormat) || ev.TimeOfDay != testStart().Format(TimeFormat) {
		t.Errorf("event date/time = %s/%s, want %s/%s", ev.Date, ev.TimeOfDay,
			testStart().Format(DateFormat), testStart().Format(TimeFormat))
	}
	if store.eventCount() != 1 {
		t.Fatalf("persisted %d events, want 1", store.eventCount())
	}

	delivered := notifier.delivered()
	if len(delivered) != 2 {
		t.Fatalf("delivered to %d recipients, want 2", len(delivered))
	}
	entries := status.Entries()
	if len(entries) != 2 {
		t.Fatalf("status log has %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Message, "Alert sent to ") {
			t.Errorf("unexpected status message %q", e.Message)
		}
	}
}

func TestFireRecipientFailureDoesNotBlockOthers(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock(testStart())
	notifier := &fakeNotifier{failFor: map[string]error{"100": errors.New("chat not found")}}
	status := NewStatusLog(10)
	recipients := func() []Recipient {
		return []Recipient{
			{ID: "100", Name: "Operations"},
			{ID: "200", Name: "Security"},
		}
	}
	d := NewDebouncer(debounceConfig(time.Minute), store, notifier, recipients, clock, status)

	got := d.Evaluate(context.Background(), countedResult("cam-1", 1))
	if !got.Fired {
		t.Fatal("Evaluate() did not fire")
	}

	if delivered := notifier.delivered(); len(delivered) != 1 || delivered[0] != "200" {
		t.Errorf("delivered = %v, want just 200", delivered)
	}

	// Most recent first: the success for 200, then the failure for 100
	entries := status.Entries()
	if len(entries) != 2 {
		t.Fatalf("status log has %d entries, want 2", len(entries))
	}
	if !strings.HasPrefix(entries[0].Message, "Alert sent to Security") {
		t.Errorf("entries[0] = %q, want the delivery success", entries[0].Message)
	}
	if !strings.HasPrefix(entries[1].Message, "Error sending to Operations") {
		t.Errorf("entries[1] = %q, want the delivery failure", entries[1].Message)
	}
}

func TestFireStoreFailureStillNotifies(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("disk full")
	clock := newFakeClock(testStart())
	notifier := &fakeNotifier{}
	status := NewStatusLog(10)
	recipients := func() []Recipient {
		return []Recipient{{ID: "100", Name: "Operations"}}
	}
	d := NewDebouncer(debounceConfig(time.Minute), store, notifier, recipients, clock, status)

	got := d.Evaluate(context.Background(), countedResult("cam-1", 1))
	if !got.Fired {
		t.Fatal("Evaluate() did not fire")
	}
	if delivered := notifier.delivered(); len(delivered) != 1 {
		t.Errorf("delivered = %v, want the delivery attempted despite the store failure", delivered)
	}
}

func TestStatusLogBounded(t *testing.T) {
	log := NewStatusLog(3)
	base := testStart()
	for i := 0; i < 5; i++ {
		log.Record(base.Add(time.Duration(i)*time.Second), "entry %d", i)
	}

	entries := log.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() len = %d, want 3", len(entries))
	}
	want := []string{"entry 4", "entry 3", "entry 2"}
	for i, w := range want {
		if entries[i].Message != w {
			t.Errorf("Entries()[%d] = %q, want %q", i, entries[i].Message, w)
		}
	}
}
