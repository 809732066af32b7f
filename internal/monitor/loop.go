package monitor

import (
	"context"
	"log"
	"sync"
)

// Loop runs the bounded-rate polling loop for one workload: it sweeps a
// fixed set of cameras every tick, runs the detector on each frame and
// hands the results to the aggregation engine and, for event-style
// workloads, the alert debouncer.
type Loop struct {
	cfg      WorkloadConfig
	source   FrameSource
	detector Detector
	agg      *Aggregator
	debounce *Debouncer
	clock    Clock
	status   *StatusLog
}

// NewLoop creates a monitoring loop. agg and debounce may be nil when
// the workload does not use them; status may be nil to skip fault
// reporting.
func NewLoop(cfg WorkloadConfig, source FrameSource, detector Detector, agg *Aggregator, debounce *Debouncer, clock Clock, status *StatusLog) *Loop {
	if clock == nil {
		clock = SystemClock()
	}
	return &Loop{
		cfg:      cfg.withDefaults(),
		source:   source,
		detector: detector,
		agg:      agg,
		debounce: debounce,
		clock:    clock,
		status:   status,
	}
}

// cameraState tracks one camera for the lifetime of a session
type cameraState struct {
	handle      CameraHandle
	reader      FrameReader // nil once the camera is dropped or never opened
	failures    int
	lastFrameOK bool
}

// Session is the live state of one run of the loop over a fixed camera
// set, from start to stop. Exclusively owned by its run goroutine; at
// most one session per workload is active at a time.
type Session struct {
	loop     *Loop
	cameras  []*cameraState // registration order
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex // guards err and camera state reads from other goroutines
	err      error
}

// Start opens one frame source per handle and begins the tick loop.
// A handle whose source fails to open is recorded as failed and
// excluded from the polling set; if no source opens the call fails
// with ErrNoActiveCameras and holds no resources.
func (l *Loop) Start(ctx context.Context, handles []CameraHandle) (*Session, error) {
	s, err := l.open(ctx, handles)
	if err != nil {
		return nil, err
	}

	go s.run(ctx)
	return s, nil
}

// open builds the session without launching the run goroutine
func (l *Loop) open(ctx context.Context, handles []CameraHandle) (*Session, error) {
	s := &Session{
		loop:   l,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	opened := 0
	for _, h := range handles {
		cam := &cameraState{handle: h}

		openCtx, cancel := context.WithTimeout(ctx, l.cfg.OpenTimeout)
		reader, err := l.source.Open(openCtx, h.Address)
		cancel()

		if err != nil {
			log.Printf("[Monitor] %s: failed to open camera %s: %v", l.cfg.Kind, h.Name, err)
			l.record("Failed to open camera %s: %v", h.Name, err)
		} else {
			cam.reader = reader
			cam.lastFrameOK = true
			opened++
		}
		s.cameras = append(s.cameras, cam)
	}

	if opened == 0 {
		return nil, ErrNoActiveCameras
	}

	log.Printf("[Monitor] %s: session started with %d/%d cameras", l.cfg.Kind, opened, len(handles))
	return s, nil
}

// run drives ticks until stopped, cancelled, or every camera is lost.
// Sources are released on every exit path.
func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)
	defer s.releaseAll()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		started := s.loop.clock.Now()
		s.sweep(ctx)

		if s.activeCount() == 0 {
			s.setErr(ErrAllCamerasLost)
			log.Printf("[Monitor] %s: session stopped: %v", s.loop.cfg.Kind, ErrAllCamerasLost)
			return
		}

		// Sleep the remainder of the tick interval; if processing
		// overran, proceed immediately without a catch-up burst
		elapsed := s.loop.clock.Now().Sub(started)
		if wait := s.loop.cfg.TickInterval - elapsed; wait > 0 {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-s.loop.clock.After(wait):
			}
		}
	}
}

// sweep performs one tick: a non-blocking read and detection pass over
// every open camera, in registration order
func (s *Session) sweep(ctx context.Context) {
	l := s.loop

	for _, cam := range s.cameras {
		if cam.reader == nil {
			continue
		}

		readCtx, cancel := context.WithTimeout(ctx, l.cfg.ReadTimeout)
		frame, err := cam.reader.Read(readCtx)
		cancel()

		if err != nil {
			s.mu.Lock()
			cam.lastFrameOK = false
			cam.failures++
			dropped := cam.failures >= l.cfg.MaxReadFailures
			s.mu.Unlock()

			if dropped {
				if cerr := cam.reader.Close(); cerr != nil {
					log.Printf("[Monitor] %s: error closing camera %s: %v", l.cfg.Kind, cam.handle.Name, cerr)
				}
				s.mu.Lock()
				cam.reader = nil
				s.mu.Unlock()
				log.Printf("[Monitor] %s: dropping camera %s after %d consecutive read failures",
					l.cfg.Kind, cam.handle.Name, l.cfg.MaxReadFailures)
				l.record("Camera %s dropped after repeated read failures", cam.handle.Name)
			}
			continue
		}

		s.mu.Lock()
		cam.failures = 0
		cam.lastFrameOK = true
		s.mu.Unlock()

		findings, err := l.detector.Infer(ctx, frame)
		if err != nil {
			// Soft failure: treat as zero findings for this tick
			log.Printf("[Monitor] %s: detection error for camera %s: %v", l.cfg.Kind, cam.handle.Name, err)
			findings = nil
		}

		result := DetectionResult{
			CameraID:   cam.handle.ID,
			CameraName: cam.handle.Name,
			Timestamp:  l.clock.Now(),
			Findings:   findings,
			Count:      l.cfg.CountOfInterest(findings),
			Frame:      frame,
		}

		if l.agg != nil {
			if err := l.agg.Update(ctx, result); err != nil {
				log.Printf("[Monitor] %s: aggregate write failed for camera %s: %v", l.cfg.Kind, cam.handle.Name, err)
				l.record("Aggregate write failed for %s: %v", cam.handle.Name, err)
			}
		}
		if l.debounce != nil {
			l.debounce.Evaluate(ctx, result)
		}
	}
}

// activeCount returns how many cameras still have an open reader
func (s *Session) activeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, cam := range s.cameras {
		if cam.reader != nil {
			n++
		}
	}
	return n
}

// releaseAll closes every remaining open reader exactly once
func (s *Session) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cam := range s.cameras {
		if cam.reader != nil {
			if err := cam.reader.Close(); err != nil {
				log.Printf("[Monitor] %s: error closing camera %s: %v", s.loop.cfg.Kind, cam.handle.Name, err)
			}
			cam.reader = nil
		}
	}
}

// Stop requests a cooperative stop and waits for the in-flight tick to
// finish and all sources to be released. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

// Done is closed when the session has ended and released its sources
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Err reports why the session ended, once Done is closed. Nil for a
// requested stop.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// CameraStates returns a snapshot of per-camera runtime state
func (s *Session) CameraStates() []CameraStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CameraStatus, 0, len(s.cameras))
	for _, cam := range s.cameras {
		out = append(out, CameraStatus{
			ID:          cam.handle.ID,
			Name:        cam.handle.Name,
			Open:        cam.reader != nil,
			LastFrameOK: cam.lastFrameOK,
			Failures:    cam.failures,
		})
	}
	return out
}

func (l *Loop) record(format string, args ...interface{}) {
	if l.status != nil {
		l.status.Record(l.clock.Now(), format, args...)
	}
}
