package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"vigil/internal/monitor"
)

const defaultAPIBase = "https://api.telegram.org"

// Bot delivers alert notifications through the Telegram Bot API. It
// performs single delivery attempts only; retry and rate limiting are
// the caller's concern.
type Bot struct {
	mu         sync.RWMutex
	botToken   string
	enabled    bool
	apiBase    string
	httpClient *http.Client
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	Enabled  bool
}

// TelegramResponse represents the response from the Telegram API
type TelegramResponse struct {
	OK          bool        `json:"ok"`
	Result      interface{} `json:"result,omitempty"`
	ErrorCode   int         `json:"error_code,omitempty"`
	Description string      `json:"description,omitempty"`
}

// NewBot creates a new Telegram bot instance
func NewBot(config Config) *Bot {
	return &Bot{
		botToken:   config.BotToken,
		enabled:    config.Enabled,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsEnabled returns whether the bot is enabled
func (tb *Bot) IsEnabled() bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.enabled
}

// UpdateConfig updates the bot configuration
func (tb *Bot) UpdateConfig(config Config) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.botToken = config.BotToken
	tb.enabled = config.Enabled
}

// kindLabels maps workload kinds to human-readable alert titles
var kindLabels = map[monitor.WorkloadKind]string{
	monitor.WorkloadFire:       "Fire Detection Alert",
	monitor.WorkloadTailgating: "Tailgating Alert",
	monitor.WorkloadNoAccess:   "Restricted Access Alert",
}

// Send delivers one alert to one recipient. The snapshot frame is
// attached as a photo when present.
func (tb *Bot) Send(ctx context.Context, recipient monitor.Recipient, payload monitor.AlertPayload) error {
	tb.mu.RLock()
	enabled := tb.enabled
	token := tb.botToken
	tb.mu.RUnlock()

	if !enabled {
		return fmt.Errorf("telegram bot is disabled")
	}
	if token == "" {
		return fmt.Errorf("telegram bot token not configured")
	}
	if recipient.ID == "" {
		return fmt.Errorf("recipient has no chat ID")
	}

	label, ok := kindLabels[payload.Kind]
	if !ok {
		label = "Detection Alert"
	}

	// Format time with timezone to match UI display
	zoneName, _ := payload.Timestamp.Zone()
	timestamp := fmt.Sprintf("%s %s", payload.Timestamp.Format("2 Jan 2006, 15:04:05"), zoneName)

	message := fmt.Sprintf(
		"🚨 <b>%s</b>\n\n"+
			"📹 Camera: %s\n"+
			"👥 Detections: %d\n"+
			"🕐 Time: %s",
		label,
		payload.CameraName,
		payload.FindingCount,
		timestamp,
	)

	if len(payload.Snapshot) > 0 {
		return tb.sendPhoto(ctx, recipient.ID, payload.Snapshot, message)
	}
	return tb.sendMessage(ctx, recipient.ID, message)
}

// SendTestMessage sends a test message to verify the bot configuration
func (tb *Bot) SendTestMessage(ctx context.Context, chatID string) error {
	now := time.Now()
	zoneName, _ := now.Zone()
	timestamp := fmt.Sprintf("%s %s", now.Format("2 Jan 2006, 15:04:05"), zoneName)

	message := fmt.Sprintf(
		"🤖 <b>Vigil Test Message</b>\n\n"+
			"✅ Telegram bot is working correctly!\n"+
			"🕐 Test sent at: %s",
		timestamp,
	)

	return tb.sendMessage(ctx, chatID, message)
}

// sendMessage sends a text message to a chat
func (tb *Bot) sendMessage(ctx context.Context, chatID, message string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	return tb.sendTelegramRequest(ctx, "sendMessage", payload)
}

// sendPhoto sends a photo using multipart form data
func (tb *Bot) sendPhoto(ctx context.Context, chatID string, photoData []byte, caption string) error {
	url := fmt.Sprintf("%s/bot%s/sendPhoto", tb.base(), tb.token())

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "alert_frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// sendTelegramRequest sends a generic request to the Telegram API
func (tb *Bot) sendTelegramRequest(ctx context.Context, method string, payload map[string]interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", tb.base(), tb.token(), method)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return nil
}

// GetBotInfo retrieves information about the bot
func (tb *Bot) GetBotInfo(ctx context.Context) (map[string]interface{}, error) {
	if tb.token() == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	url := fmt.Sprintf("%s/bot%s/getMe", tb.base(), tb.token())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	if result, ok := telegramResp.Result.(map[string]interface{}); ok {
		return result, nil
	}
	return nil, fmt.Errorf("unexpected response format")
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled && config.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when enabled")
	}
	return nil
}

func (tb *Bot) base() string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.apiBase
}

func (tb *Bot) token() string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.botToken
}

var _ monitor.Notifier = (*Bot)(nil)
