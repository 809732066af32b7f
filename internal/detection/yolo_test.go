package detection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInferMapsDetections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("request path = %s, want /detect", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		if got := r.FormValue("conf_threshold"); got == "" {
			t.Error("missing conf_threshold field")
		}

		json.NewEncoder(w).Encode(YOLOResult{
			Detections: []YOLODetection{
				{Class: "person", Confidence: 0.91, BBox: []float32{10, 20, 110, 220}},
				{Class: "chair", Confidence: 0.44, BBox: []float32{0, 0, 50, 50}},
			},
			Count: 2,
		})
	}))
	defer server.Close()

	detector := NewYOLODetector(YOLOConfig{ServiceEndpoint: server.URL})
	findings, err := detector.Infer(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("Infer() returned %d findings, want 2", len(findings))
	}
	if findings[0].Class != "person" || findings[0].Confidence != 0.91 {
		t.Errorf("findings[0] = %+v, want person at 0.91", findings[0])
	}
	if findings[0].BBox.X2 != 110 || findings[0].BBox.Y2 != 220 {
		t.Errorf("findings[0].BBox = %+v, want corners preserved", findings[0].BBox)
	}
}

func TestInferServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	detector := NewYOLODetector(YOLOConfig{ServiceEndpoint: server.URL})
	if _, err := detector.Infer(context.Background(), []byte{0xFF, 0xD8}); err == nil {
		t.Fatal("Infer() error = nil, want failure on a 503")
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("request path = %s, want /health", r.URL.Path)
		}
		json.NewEncoder(w).Encode(YOLOHealthResponse{Status: "ok", ModelLoaded: true})
	}))
	defer server.Close()

	detector := NewYOLODetector(YOLOConfig{ServiceEndpoint: server.URL})
	health, err := detector.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !health.ModelLoaded {
		t.Error("ModelLoaded = false, want true")
	}
}
