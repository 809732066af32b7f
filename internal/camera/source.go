package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"vigil/internal/monitor"
)

// Source opens camera addresses as frame readers. RTSP and HTTP video
// streams are decoded through an FFmpeg subprocess; plain HTTP image
// endpoints are polled directly.
type Source struct {
	fps    int
	client *http.Client
}

// NewSource creates a frame source decoding at the given capture rate
func NewSource(fps int) *Source {
	if fps <= 0 {
		fps = 4
	}
	return &Source{
		fps:    fps,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Open connects to the camera at address
func (s *Source) Open(ctx context.Context, address string) (monitor.FrameReader, error) {
	if isHTTPImageEndpoint(address) {
		return s.openHTTPPoll(ctx, address)
	}
	return openFFmpeg(ctx, address, s.fps)
}

func isHTTPImageEndpoint(address string) bool {
	return (strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://")) &&
		(strings.Contains(address, ".jpg") || strings.Contains(address, ".jpeg") || strings.Contains(address, "image"))
}

// httpPollReader fetches a still image per read
type httpPollReader struct {
	address string
	client  *http.Client
}

func (s *Source) openHTTPPoll(ctx context.Context, address string) (monitor.FrameReader, error) {
	r := &httpPollReader{address: address, client: s.client}

	// Fetch once so a dead endpoint fails at open time
	if _, err := r.Read(ctx); err != nil {
		return nil, fmt.Errorf("failed to open image endpoint %s: %w", address, err)
	}
	return r, nil
}

func (r *httpPollReader) Read(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.address, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image endpoint returned status %d", resp.StatusCode)
	}

	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return frame, nil
}

func (r *httpPollReader) Close() error {
	return nil
}

// ffmpegReader decodes a stream through an FFmpeg subprocess into
// individual JPEG frames. A pump goroutine keeps only the most recent
// frame; Read never waits on decoding backlog.
type ffmpegReader struct {
	cmd    *exec.Cmd
	frames chan []byte
	stopCh chan struct{}
	once   sync.Once
}

func ffmpegArgs(address string, fps int) []string {
	if strings.HasPrefix(address, "rtsp://") {
		return []string{
			"-rtsp_transport", "tcp",
			"-i", address,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", fps),
			"-q:v", "5",
			"-",
		}
	}
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return []string{
			"-i", address,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", fps),
			"-q:v", "5",
			"-",
		}
	}
	// V4L2 device (USB camera)
	return []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", address,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

func openFFmpeg(ctx context.Context, address string, fps int) (monitor.FrameReader, error) {
	cmd := exec.Command("ffmpeg", ffmpegArgs(address, fps)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg for %s: %w", address, err)
	}

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	r := &ffmpegReader{
		cmd:    cmd,
		frames: make(chan []byte, 1),
		stopCh: make(chan struct{}),
	}
	go r.pump(stdout)

	// A dead camera leaves ffmpeg running without ever producing output,
	// so a successful Start alone proves nothing. Demand a first frame
	// within the caller's open deadline.
	if err := r.awaitFirstFrame(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("no frame from %s: %w", address, err)
	}

	return r, nil
}

// awaitFirstFrame blocks until the pump has decoded a frame, then puts
// it back for the first Read
func (r *ffmpegReader) awaitFirstFrame(ctx context.Context) error {
	select {
	case frame, ok := <-r.frames:
		if !ok {
			return errors.New("stream closed")
		}
		select {
		case r.frames <- frame:
		default:
		}
		return nil
	case <-r.stopCh:
		return errors.New("stream closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump extracts JPEG frames from the FFmpeg pipe, keeping only the
// most recent one
func (r *ffmpegReader) pump(stdout io.Reader) {
	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		n, err := stdout.Read(chunk)
		if err != nil {
			if err != io.EOF {
				log.Printf("[Camera] Error reading ffmpeg output: %v", err)
			}
			return
		}
		frameBuffer = append(frameBuffer, chunk[:n]...)

		for {
			frame := extractJPEGFrame(&frameBuffer)
			if frame == nil {
				break
			}
			select {
			case r.frames <- frame:
			default:
				// Stale frame still queued, replace it
				select {
				case <-r.frames:
				default:
				}
				select {
				case r.frames <- frame:
				default:
				}
			}
		}
	}
}

func (r *ffmpegReader) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-r.frames:
		if !ok {
			return nil, errors.New("stream closed")
		}
		return frame, nil
	case <-r.stopCh:
		return nil, errors.New("stream closed")
	case <-ctx.Done():
		return nil, fmt.Errorf("no frame available: %w", ctx.Err())
	}
}

func (r *ffmpegReader) Close() error {
	r.once.Do(func() {
		close(r.stopCh)
		if r.cmd != nil && r.cmd.Process != nil {
			r.cmd.Process.Kill()
			go r.cmd.Wait()
		}
	})
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

var _ monitor.FrameSource = (*Source)(nil)
