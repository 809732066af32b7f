package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vigil/internal/auth"
	"vigil/internal/camera"
	"vigil/internal/database"
	"vigil/internal/monitor"
	"vigil/internal/ws"
)

type stubSource struct{}

func (stubSource) Open(ctx context.Context, address string) (monitor.FrameReader, error) {
	return nil, errors.New("connection refused")
}

type stubDetector struct{}

func (stubDetector) Infer(ctx context.Context, frame []byte) ([]monitor.Detection, error) {
	return nil, nil
}

type stubNotifier struct{}

func (stubNotifier) Send(ctx context.Context, recipient monitor.Recipient, payload monitor.AlertPayload) error {
	return nil
}

func testServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	registry, err := camera.NewRegistry(db, db)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	manager := monitor.NewManager(monitor.Deps{
		Source:     stubSource{},
		Detector:   stubDetector{},
		Store:      db,
		Notifier:   stubNotifier{},
		Recipients: func() []monitor.Recipient { return nil },
		Settings:   db,
		Status:     monitor.NewStatusLog(10),
	})

	return New(db, registry, manager, auth.NewAuthenticator(auth.Config{}),
		ws.NewAlertHub(), monitor.NewStatusLog(10), nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCameraCRUD(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/cameras",
		map[string]string{"name": "Entrance", "address": "rtsp://cam/stream"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add camera: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created database.CameraRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created camera: %v", err)
	}
	if created.ID == "" || created.Name != "Entrance" {
		t.Fatalf("unexpected camera: %+v", created)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/cameras", nil)
	var listed []database.CameraRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("list = %+v, want the created camera", listed)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/cameras/"+created.ID,
		map[string]string{"name": "Lobby", "address": "rtsp://cam/stream"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update camera: status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/cameras/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete camera: status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/api/cameras/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing camera: status = %d, want 404", rec.Code)
	}
}

func TestAddCameraValidation(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/cameras", map[string]string{"name": "NoAddress"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListWorkloads(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/workloads", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []workloadView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode workloads: %v", err)
	}
	if len(views) != 4 {
		t.Fatalf("got %d workloads, want 4", len(views))
	}
	for _, v := range views {
		if v.Active {
			t.Errorf("workload %s reported active with no sessions", v.Kind)
		}
		if v.Kind == monitor.WorkloadOccupancy && v.AlertsEnabled {
			t.Errorf("occupancy should not have alerts enabled")
		}
	}
}

func TestStartWorkloadWithoutCameras(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/workloads/fire/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestWorkloadUnknownKind(t *testing.T) {
	handler := testServer(t).Handler()

	for _, path := range []string{
		"/api/workloads/loitering/start",
		"/api/workloads/loitering/stop",
		"/api/workloads/loitering/status",
	} {
		rec := doJSON(t, handler, http.MethodPost, path, nil)
		if path == "/api/workloads/loitering/status" {
			rec = doJSON(t, handler, http.MethodGet, path, nil)
		}
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
	}
}

func TestStopWorkloadNotRunning(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/workloads/fire/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCameraSelectionRoundTrip(t *testing.T) {
	srv := testServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/cameras",
		map[string]string{"name": "Dock", "address": "rtsp://dock/stream"})
	var created database.CameraRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode camera: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/workloads/fire/cameras", []string{created.ID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("save selection: status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/workloads/fire/cameras", nil)
	var handles []monitor.CameraHandle
	if err := json.Unmarshal(rec.Body.Bytes(), &handles); err != nil {
		t.Fatalf("decode selection: %v", err)
	}
	if len(handles) != 1 || handles[0].ID != created.ID {
		t.Fatalf("selection = %+v, want the saved camera", handles)
	}
}

func TestOccupancyRequiresDate(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/occupancy", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOccupancyLiveMissing(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/occupancy/live?camera_id=cam-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestEventsByDate(t *testing.T) {
	srv := testServer(t)
	handler := srv.Handler()

	ev := &monitor.Event{
		ID:           "evt-1",
		Kind:         monitor.WorkloadFire,
		CameraID:     "cam-1",
		CameraName:   "Entrance",
		Timestamp:    time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		Date:         "2025-06-15",
		TimeOfDay:    "10:30:00",
		FindingCount: 2,
	}
	if err := srv.db.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/events/fire?date=2025-06-15", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []*monitor.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt-1" {
		t.Fatalf("events = %+v, want evt-1", events)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/events/fire?date=2025-01-01", nil)
	var empty []*monitor.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &empty); err != nil {
		t.Fatalf("decode empty events: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("got %d events for a date with none", len(empty))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/events/fire", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no date or month: status = %d, want 400", rec.Code)
	}
}

func TestRecipientsRoundTrip(t *testing.T) {
	handler := testServer(t).Handler()

	recipients := []monitor.Recipient{
		{ID: "100", Name: "Security"},
		{ID: "200", Name: "Operations"},
	}
	rec := doJSON(t, handler, http.MethodPut, "/api/recipients", recipients)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("save recipients: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/recipients", nil)
	var got []monitor.Recipient
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode recipients: %v", err)
	}
	if len(got) != 2 || got[0].ID != "100" || got[1].Name != "Operations" {
		t.Fatalf("recipients = %+v", got)
	}
}

func TestRecipientsRequireChatID(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodPut, "/api/recipients",
		[]monitor.Recipient{{Name: "No Chat ID"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLoginDisabled(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/login",
		map[string]string{"username": "admin", "password": "secret"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 when auth is disabled", rec.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	srv := testServer(t)

	// testServer disables auth; rebuild the authenticator with it on
	srv.authn = auth.NewAuthenticator(auth.Config{
		Enabled:   true,
		Username:  "admin",
		Password:  "secret",
		JWTSecret: "test-secret",
	})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/cameras", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/login",
		map[string]string{"username": "admin", "password": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	authed := httptest.NewRecorder()
	handler.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Fatalf("authenticated: status = %d, want 200", authed.Code)
	}
}

func TestUpdateWorkloadOverride(t *testing.T) {
	handler := testServer(t).Handler()

	rec := doJSON(t, handler, http.MethodPut, "/api/workloads/fire",
		monitor.WorkloadOverride{ConfidenceThreshold: 0.9, CooldownSeconds: 30, AlertsEnabled: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var view workloadView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode workload: %v", err)
	}
	if view.ConfidenceThreshold != 0.9 || view.CooldownSeconds != 30 {
		t.Fatalf("view = %+v, want the override applied", view)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/workloads/fire",
		monitor.WorkloadOverride{ConfidenceThreshold: 1.5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range threshold: status = %d, want 400", rec.Code)
	}
}
