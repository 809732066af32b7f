package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Aggregator folds per-frame counts into per-day time series: a
// 1440-slot minute series holding the last observed sample per minute
// and a 24-slot hour series holding a running max per hour. One working
// document per (date, camera), created lazily on the first sample and
// rolled over at local midnight. All samples are reflected; the
// aggregator never suppresses or rate-limits.
type Aggregator struct {
	kind  WorkloadKind
	store EventStore
	clock Clock

	mu   sync.Mutex
	open map[string]*aggState // camera ID -> current day's working copy
}

type aggState struct {
	agg *DailyAggregate
	// lastPersisted bounds write volume to at most one upsert per
	// distinct observed minute
	lastPersisted int
}

// NewAggregator creates an aggregation engine for one workload
func NewAggregator(kind WorkloadKind, store EventStore, clock Clock) *Aggregator {
	if clock == nil {
		clock = SystemClock()
	}
	return &Aggregator{
		kind:  kind,
		store: store,
		clock: clock,
		open:  make(map[string]*aggState),
	}
}

// Update folds one detection result into the camera's daily series and
// persists the document if the minute has advanced. A store failure is
// returned as a warning; the in-memory series is updated regardless.
func (a *Aggregator) Update(ctx context.Context, result DetectionResult) error {
	date := result.Timestamp.Format(DateFormat)
	hour := result.Timestamp.Hour()
	minute := hour*60 + result.Timestamp.Minute()

	a.mu.Lock()
	defer a.mu.Unlock()

	st, err := a.working(ctx, date, result.CameraID)

	st.agg.MinuteCounts[minute] = result.Count
	if result.Count > st.agg.HourlyMax[hour] {
		st.agg.HourlyMax[hour] = result.Count
	}
	if result.Count > st.agg.MaxCount {
		st.agg.MaxCount = result.Count
	}
	st.agg.LastUpdated = result.Timestamp

	if minute == st.lastPersisted {
		return err
	}
	st.lastPersisted = minute

	if werr := a.store.UpsertAggregate(ctx, st.agg); werr != nil {
		return fmt.Errorf("failed to persist aggregate for %s/%s: %w", date, result.CameraID, werr)
	}
	return err
}

// working returns the current day's document for a camera, loading an
// existing day document from the store (restart pickup) or creating a
// fresh one. A load failure degrades to a fresh in-memory document and
// is reported alongside the update.
func (a *Aggregator) working(ctx context.Context, date, cameraID string) (*aggState, error) {
	st, ok := a.open[cameraID]
	if ok && st.agg.Date == date {
		return st, nil
	}

	var loadErr error
	agg, err := a.store.LoadAggregate(ctx, a.kind, date, cameraID)
	if err != nil {
		loadErr = fmt.Errorf("failed to load aggregate for %s/%s: %w", date, cameraID, err)
		agg = nil
	}
	if agg == nil {
		agg = NewDailyAggregate(a.kind, date, cameraID, uuid.NewString())
	}
	// Stored documents may predate the minute series
	agg.MinuteCounts = resize(agg.MinuteCounts, MinutesPerDay)
	agg.HourlyMax = resize(agg.HourlyMax, HoursPerDay)

	st = &aggState{agg: agg, lastPersisted: -1}
	a.open[cameraID] = st
	return st, loadErr
}

// resize pads or truncates a bucket series to the expected length
func resize(buckets []int, n int) []int {
	if len(buckets) == n {
		return buckets
	}
	out := make([]int, n)
	copy(out, buckets)
	return out
}

// Query returns the persisted per-camera aggregates for a date. Used by
// historical views, not by the live loop.
func (a *Aggregator) Query(ctx context.Context, date string) (map[string]*DailyAggregate, error) {
	return a.store.AggregatesForDate(ctx, a.kind, date)
}

// Combined returns a single cross-camera view for a date: element-wise
// sums of the minute and hour series and the max of per-camera maxima.
func (a *Aggregator) Combined(ctx context.Context, date string) (*DailyAggregate, error) {
	perCamera, err := a.store.AggregatesForDate(ctx, a.kind, date)
	if err != nil {
		return nil, err
	}

	combined := NewDailyAggregate(a.kind, date, "", uuid.NewString())
	for _, agg := range perCamera {
		for m := 0; m < MinutesPerDay && m < len(agg.MinuteCounts); m++ {
			combined.MinuteCounts[m] += agg.MinuteCounts[m]
		}
		for h := 0; h < HoursPerDay && h < len(agg.HourlyMax); h++ {
			combined.HourlyMax[h] += agg.HourlyMax[h]
		}
		if agg.MaxCount > combined.MaxCount {
			combined.MaxCount = agg.MaxCount
		}
		if agg.LastUpdated.After(combined.LastUpdated) {
			combined.LastUpdated = agg.LastUpdated
		}
	}
	return combined, nil
}

// AvailableDates returns the dates with stored data, most recent first
func (a *Aggregator) AvailableDates(ctx context.Context) ([]string, error) {
	dates, err := a.store.AggregateDates(ctx, a.kind)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Today returns the working copy for a camera's current day, if any.
// Used by the live stats view.
func (a *Aggregator) Today(cameraID string) *DailyAggregate {
	date := a.clock.Now().Format(DateFormat)

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.open[cameraID]
	if !ok || st.agg.Date != date {
		return nil
	}

	cp := *st.agg
	cp.MinuteCounts = append([]int(nil), st.agg.MinuteCounts...)
	cp.HourlyMax = append([]int(nil), st.agg.HourlyMax...)
	return &cp
}
