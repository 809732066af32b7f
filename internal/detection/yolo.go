package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"vigil/internal/monitor"
)

// YOLODetector runs object detection through an external YOLO
// inference service
type YOLODetector struct {
	endpoint      string
	client        *http.Client
	confThreshold float32
	classesFilter string
}

// YOLODetection represents a single YOLO detection result
type YOLODetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// YOLOResult represents the YOLO detection response
type YOLOResult struct {
	Detections      []YOLODetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
	ModelSize       string          `json:"model_size"`
	ConfThreshold   float32         `json:"conf_threshold"`
}

// YOLOHealthResponse represents the health check response
type YOLOHealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// YOLOConfig holds configuration for the detector
type YOLOConfig struct {
	ServiceEndpoint     string
	ConfidenceThreshold float32
	ClassesFilter       string
}

// NewYOLODetector creates a new YOLO-backed detector
func NewYOLODetector(cfg YOLOConfig) *YOLODetector {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		// Ask the service for everything at low confidence; the
		// workloads apply their own thresholds
		threshold = 0.25
	}
	return &YOLODetector{
		endpoint: cfg.ServiceEndpoint,
		client: &http.Client{
			Timeout: 15 * time.Second, // Longer timeout for GPU inference
		},
		confThreshold: threshold,
		classesFilter: cfg.ClassesFilter,
	}
}

// Infer posts a frame to the inference service and returns the
// classified findings
func (yd *YOLODetector) Infer(ctx context.Context, frame []byte) ([]monitor.Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	fw.Write(frame)

	w.WriteField("conf_threshold", fmt.Sprintf("%.3f", yd.confThreshold))
	if yd.classesFilter != "" {
		w.WriteField("classes_filter", yd.classesFilter)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yd.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := yd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detection failed: %s", string(body))
	}

	var result YOLOResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	findings := make([]monitor.Detection, 0, len(result.Detections))
	for _, det := range result.Detections {
		finding := monitor.Detection{
			Class:      det.Class,
			Confidence: det.Confidence,
		}
		if len(det.BBox) == 4 {
			finding.BBox = monitor.BBox{X1: det.BBox[0], Y1: det.BBox[1], X2: det.BBox[2], Y2: det.BBox[3]}
		}
		findings = append(findings, finding)
	}
	return findings, nil
}

// Health returns the inference service's health information
func (yd *YOLODetector) Health(ctx context.Context) (*YOLOHealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yd.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := yd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check detection service health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection service health check returned status %d", resp.StatusCode)
	}

	var health YOLOHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

var _ monitor.Detector = (*YOLODetector)(nil)
