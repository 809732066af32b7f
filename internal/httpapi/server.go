package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"vigil/internal/auth"
	"vigil/internal/camera"
	"vigil/internal/database"
	"vigil/internal/detection"
	"vigil/internal/monitor"
	"vigil/internal/ws"
)

const recipientsKey = "alert.recipients"

// Server exposes the dashboard API: camera management, workload
// control, occupancy queries and event history
type Server struct {
	db       *database.Database
	registry *camera.Registry
	manager  *monitor.Manager
	authn    *auth.Authenticator
	hub      *ws.AlertHub
	status   *monitor.StatusLog
	detector *detection.YOLODetector
}

// New creates the API server
func New(db *database.Database, registry *camera.Registry, manager *monitor.Manager,
	authn *auth.Authenticator, hub *ws.AlertHub, status *monitor.StatusLog,
	detector *detection.YOLODetector) *Server {
	return &Server{
		db:       db,
		registry: registry,
		manager:  manager,
		authn:    authn,
		hub:      hub,
		status:   status,
		detector: detector,
	}
}

// Handler builds the route table. The login endpoint, health check and
// websocket upgrade stay outside the auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("/ws/alerts", ws.NewHandler(s.hub))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/cameras", s.handleListCameras)
	api.HandleFunc("POST /api/cameras", s.handleAddCamera)
	api.HandleFunc("PUT /api/cameras/{id}", s.handleUpdateCamera)
	api.HandleFunc("DELETE /api/cameras/{id}", s.handleDeleteCamera)

	api.HandleFunc("GET /api/workloads", s.handleListWorkloads)
	api.HandleFunc("PUT /api/workloads/{kind}", s.handleUpdateWorkload)
	api.HandleFunc("POST /api/workloads/{kind}/start", s.handleStartWorkload)
	api.HandleFunc("POST /api/workloads/{kind}/stop", s.handleStopWorkload)
	api.HandleFunc("GET /api/workloads/{kind}/status", s.handleWorkloadStatus)
	api.HandleFunc("GET /api/workloads/{kind}/cameras", s.handleGetSelection)
	api.HandleFunc("PUT /api/workloads/{kind}/cameras", s.handleSetSelection)

	api.HandleFunc("GET /api/occupancy/dates", s.handleOccupancyDates)
	api.HandleFunc("GET /api/occupancy/live", s.handleOccupancyLive)
	api.HandleFunc("GET /api/occupancy", s.handleOccupancy)

	api.HandleFunc("GET /api/events/{kind}", s.handleEvents)
	api.HandleFunc("GET /api/events/{kind}/dates", s.handleEventDates)

	api.HandleFunc("GET /api/status", s.handleStatusLog)
	api.HandleFunc("GET /api/recipients", s.handleGetRecipients)
	api.HandleFunc("PUT /api/recipients", s.handleSetRecipients)

	mux.Handle("/api/", auth.Middleware(s.authn)(api))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.authn.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthDisabled) {
			writeError(w, http.StatusBadRequest, "authentication is disabled")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if s.detector != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if health, err := s.detector.Health(ctx); err != nil {
			out["detector"] = map[string]interface{}{"status": "unreachable", "error": err.Error()}
		} else {
			out["detector"] = health
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleAddCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "name and address are required")
		return
	}

	record, err := s.registry.Add(r.Context(), req.Name, req.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := s.registry.Update(r.Context(), r.PathValue("id"), req.Name, req.Address)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type workloadView struct {
	Kind                monitor.WorkloadKind    `json:"kind"`
	TargetClasses       []string                `json:"target_classes"`
	ConfidenceThreshold float32                 `json:"confidence_threshold"`
	CooldownSeconds     float64                 `json:"cooldown_seconds"`
	AggregationMode     monitor.AggregationMode `json:"aggregation_mode"`
	AlertsEnabled       bool                    `json:"alerts_enabled"`
	Active              bool                    `json:"active"`
}

func (s *Server) handleListWorkloads(w http.ResponseWriter, r *http.Request) {
	var out []workloadView
	for _, kind := range []monitor.WorkloadKind{
		monitor.WorkloadFire, monitor.WorkloadOccupancy,
		monitor.WorkloadTailgating, monitor.WorkloadNoAccess,
	} {
		cfg, ok := s.manager.Workload(kind)
		if !ok {
			continue
		}
		out = append(out, workloadView{
			Kind:                cfg.Kind,
			TargetClasses:       cfg.TargetClasses,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			CooldownSeconds:     cfg.CooldownDuration.Seconds(),
			AggregationMode:     cfg.AggregationMode,
			AlertsEnabled:       cfg.AlertsEnabled,
			Active:              s.manager.Active(kind),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateWorkload(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	var ov monitor.WorkloadOverride
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ov.ConfidenceThreshold < 0 || ov.ConfidenceThreshold > 1 {
		writeError(w, http.StatusBadRequest, "confidence_threshold must be within [0, 1]")
		return
	}

	if err := s.manager.SaveOverride(r.Context(), kind, ov); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cfg, _ := s.manager.Workload(kind)
	writeJSON(w, http.StatusOK, workloadView{
		Kind:                cfg.Kind,
		TargetClasses:       cfg.TargetClasses,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		CooldownSeconds:     cfg.CooldownDuration.Seconds(),
		AggregationMode:     cfg.AggregationMode,
		AlertsEnabled:       cfg.AlertsEnabled,
		Active:              s.manager.Active(kind),
	})
}

func (s *Server) workloadKind(r *http.Request) (monitor.WorkloadKind, bool) {
	kind := monitor.WorkloadKind(r.PathValue("kind"))
	_, ok := s.manager.Workload(kind)
	return kind, ok
}

func (s *Server) handleStartWorkload(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	handles, err := s.registry.Selection(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(handles) == 0 {
		writeError(w, http.StatusConflict, monitor.ErrNoActiveCameras.Error())
		return
	}

	// The session must outlive this request
	if err := s.manager.Start(context.Background(), kind, handles); err != nil {
		switch {
		case errors.Is(err, monitor.ErrWorkloadRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, monitor.ErrNoActiveCameras):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.hub.BroadcastStatus(kind, true, s.manager.CameraStates(kind))
	writeJSON(w, http.StatusOK, map[string]interface{}{"kind": kind, "active": true})
}

func (s *Server) handleStopWorkload(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	if err := s.manager.Stop(r.Context(), kind); err != nil {
		if errors.Is(err, monitor.ErrWorkloadNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.BroadcastStatus(kind, false, nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{"kind": kind, "active": false})
}

func (s *Server) handleWorkloadStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":    kind,
		"active":  s.manager.Active(kind),
		"cameras": s.manager.CameraStates(kind),
	})
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	handles, err := s.registry.Selection(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, handles)
}

func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.registry.SaveSelection(r.Context(), kind, ids); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOccupancyDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.manager.Aggregator(monitor.WorkloadOccupancy).AvailableDates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dates)
}

// handleOccupancy serves historical day series: per-camera documents,
// or the combined cross-camera view with ?combined=true
func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	agg := s.manager.Aggregator(monitor.WorkloadOccupancy)

	if r.URL.Query().Get("combined") == "true" {
		combined, err := agg.Combined(r.Context(), date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, combined)
		return
	}

	perCamera, err := agg.Query(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, perCamera)
}

// handleOccupancyLive serves the in-memory working copy of the current
// day for one camera
func (s *Server) handleOccupancyLive(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("camera_id")
	if cameraID == "" {
		writeError(w, http.StatusBadRequest, "camera_id is required")
		return
	}

	day := s.manager.Aggregator(monitor.WorkloadOccupancy).Today(cameraID)
	if day == nil {
		writeError(w, http.StatusNotFound, "no data for today")
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	var (
		events []*monitor.Event
		err    error
	)
	switch {
	case r.URL.Query().Get("date") != "":
		events, err = s.db.EventsByDate(r.Context(), kind, r.URL.Query().Get("date"))
	case r.URL.Query().Get("month") != "":
		events, err = s.db.EventsByMonth(r.Context(), kind, r.URL.Query().Get("month"))
	default:
		writeError(w, http.StatusBadRequest, "date or month is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*monitor.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEventDates(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.workloadKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}

	dates, err := s.db.EventDates(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, dates)
}

func (s *Server) handleStatusLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Entries())
}

// LoadRecipients reads the persisted alert recipient list
func LoadRecipients(ctx context.Context, settings monitor.Settings) []monitor.Recipient {
	raw, err := settings.Setting(ctx, recipientsKey)
	if err != nil || raw == "" {
		return nil
	}

	var recipients []monitor.Recipient
	if err := json.Unmarshal([]byte(raw), &recipients); err != nil {
		log.Printf("[API] Failed to unmarshal recipients: %v", err)
		return nil
	}
	return recipients
}

func (s *Server) handleGetRecipients(w http.ResponseWriter, r *http.Request) {
	recipients := LoadRecipients(r.Context(), s.db)
	if recipients == nil {
		recipients = []monitor.Recipient{}
	}
	writeJSON(w, http.StatusOK, recipients)
}

func (s *Server) handleSetRecipients(w http.ResponseWriter, r *http.Request) {
	var recipients []monitor.Recipient
	if err := json.NewDecoder(r.Body).Decode(&recipients); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, rec := range recipients {
		if rec.ID == "" {
			writeError(w, http.StatusBadRequest, "every recipient needs a chat_id")
			return
		}
	}

	data, err := json.Marshal(recipients)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.db.SaveSetting(r.Context(), recipientsKey, string(data)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
