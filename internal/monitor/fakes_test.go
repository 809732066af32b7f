package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeClock drives time by hand. After advances the clock by the full
// wait and returns an already-fired channel so loop tests never sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// fakeReader yields scripted frames; a nil script entry is a read
// error. Once the script runs out it keeps returning frame, or fails
// every read when failAll is set.
type fakeReader struct {
	mu      sync.Mutex
	script  [][]byte
	frame   []byte
	failAll bool
	reads   int
	closes  int
}

func (r *fakeReader) Read(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reads++
	if len(r.script) > 0 {
		next := r.script[0]
		r.script = r.script[1:]
		if next == nil {
			return nil, errors.New("read failed")
		}
		return next, nil
	}
	if r.failAll {
		return nil, errors.New("read failed")
	}
	return r.frame, nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *fakeReader) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

func (r *fakeReader) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// fakeSource hands out pre-built readers by address; unknown addresses
// fail to open
type fakeSource struct {
	readers map[string]*fakeReader
}

func (s *fakeSource) Open(ctx context.Context, address string) (FrameReader, error) {
	if r, ok := s.readers[address]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("connect to %s: connection refused", address)
}

type detectStep struct {
	findings []Detection
	err      error
}

// fakeDetector returns scripted results per call, then the default
type fakeDetector struct {
	mu     sync.Mutex
	script []detectStep
	def    []Detection
	calls  int
}

func (d *fakeDetector) Infer(ctx context.Context, frame []byte) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if len(d.script) > 0 {
		step := d.script[0]
		d.script = d.script[1:]
		return step.findings, step.err
	}
	return d.def, nil
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func persons(n int) []Detection {
	out := make([]Detection, n)
	for i := range out {
		out[i] = Detection{Class: "person", Confidence: 0.9}
	}
	return out
}

func aggKey(kind WorkloadKind, date, cameraID string) string {
	return string(kind) + "|" + date + "|" + cameraID
}

// fakeStore is an in-memory EventStore with failure injection
type fakeStore struct {
	mu         sync.Mutex
	aggregates map[string]*DailyAggregate
	events     []*Event
	upserts    int

	upsertErr error
	loadErr   error
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{aggregates: make(map[string]*DailyAggregate)}
}

func copyAggregate(agg *DailyAggregate) *DailyAggregate {
	cp := *agg
	cp.HourlyMax = append([]int(nil), agg.HourlyMax...)
	cp.MinuteCounts = append([]int(nil), agg.MinuteCounts...)
	return &cp
}

func (s *fakeStore) UpsertAggregate(ctx context.Context, agg *DailyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	s.aggregates[aggKey(agg.Kind, agg.Date, agg.CameraID)] = copyAggregate(agg)
	return nil
}

func (s *fakeStore) LoadAggregate(ctx context.Context, kind WorkloadKind, date, cameraID string) (*DailyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	agg, ok := s.aggregates[aggKey(kind, date, cameraID)]
	if !ok {
		return nil, nil
	}
	return copyAggregate(agg), nil
}

func (s *fakeStore) AggregatesForDate(ctx context.Context, kind WorkloadKind, date string) (map[string]*DailyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*DailyAggregate)
	for _, agg := range s.aggregates {
		if agg.Kind == kind && agg.Date == date {
			out[agg.CameraID] = copyAggregate(agg)
		}
	}
	return out, nil
}

func (s *fakeStore) AggregateDates(ctx context.Context, kind WorkloadKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var dates []string
	for _, agg := range s.aggregates {
		if agg.Kind == kind && !seen[agg.Date] {
			seen[agg.Date] = true
			dates = append(dates, agg.Date)
		}
	}
	return dates, nil
}

func (s *fakeStore) InsertEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

func (s *fakeStore) EventsByDate(ctx context.Context, kind WorkloadKind, date string) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, ev := range s.events {
		if ev.Kind == kind && ev.Date == date {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) EventsByMonth(ctx context.Context, kind WorkloadKind, month string) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, ev := range s.events {
		if ev.Kind == kind && ev.Month == month {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) EventDates(ctx context.Context, kind WorkloadKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var dates []string
	for _, ev := range s.events {
		if ev.Kind == kind && !seen[ev.Date] {
			seen[ev.Date] = true
			dates = append(dates, ev.Date)
		}
	}
	return dates, nil
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *fakeStore) storedAggregate(kind WorkloadKind, date, cameraID string) *DailyAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.aggregates[aggKey(kind, date, cameraID)]
	if !ok {
		return nil
	}
	return copyAggregate(agg)
}

// fakeNotifier records deliveries and fails for chosen recipient IDs
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]error
}

func (n *fakeNotifier) Send(ctx context.Context, recipient Recipient, payload AlertPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err, ok := n.failFor[recipient.ID]; ok {
		return err
	}
	n.sent = append(n.sent, recipient.ID)
	return nil
}

func (n *fakeNotifier) delivered() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

// fakeSettings is an in-memory Settings store
type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: make(map[string]string)}
}

func (s *fakeSettings) SaveSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *fakeSettings) Setting(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}
