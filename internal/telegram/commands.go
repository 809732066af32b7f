package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"vigil/internal/database"
	"vigil/internal/monitor"
)

// WorkloadController is the slice of the workload manager the command
// handler needs. Defined here to avoid importing the manager directly.
type WorkloadController interface {
	Workload(kind monitor.WorkloadKind) (monitor.WorkloadConfig, bool)
	Active(kind monitor.WorkloadKind) bool
	CameraStates(kind monitor.WorkloadKind) []monitor.CameraStatus
	Start(ctx context.Context, kind monitor.WorkloadKind, handles []monitor.CameraHandle) error
	Stop(ctx context.Context, kind monitor.WorkloadKind) error
}

// CameraDirectory lists registered cameras and per-workload selections
type CameraDirectory interface {
	List() []*database.CameraRecord
	Selection(ctx context.Context, kind monitor.WorkloadKind) ([]monitor.CameraHandle, error)
}

// EventLog reads back persisted detection events for command responses
type EventLog interface {
	EventsByDate(ctx context.Context, kind monitor.WorkloadKind, date string) ([]*monitor.Event, error)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage represents a Telegram message (extended for command handling)
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *TelegramUser `json:"from,omitempty"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramUser represents a Telegram user
type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// GetUpdatesResponse represents the response from getUpdates
type GetUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []Update `json:"result,omitempty"`
	ErrorCode   int      `json:"error_code,omitempty"`
	Description string   `json:"description,omitempty"`
}

var commandKinds = []monitor.WorkloadKind{
	monitor.WorkloadFire,
	monitor.WorkloadOccupancy,
	monitor.WorkloadTailgating,
	monitor.WorkloadNoAccess,
}

// CommandHandler polls the Telegram API for commands from recipients
// and lets them inspect and control workloads from chat
type CommandHandler struct {
	bot        *Bot
	controller WorkloadController
	cameras    CameraDirectory
	events     EventLog
	recipients func() []monitor.Recipient

	mu           sync.Mutex
	lastUpdateID int64
	startTime    time.Time
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot *Bot,
	controller WorkloadController,
	cameras CameraDirectory,
	events EventLog,
	recipients func() []monitor.Recipient,
) *CommandHandler {
	return &CommandHandler{
		bot:        bot,
		controller: controller,
		cameras:    cameras,
		events:     events,
		recipients: recipients,
		startTime:  time.Now(),
	}
}

// StartPolling runs the polling loop until the context is cancelled
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if !ch.bot.IsEnabled() {
		return fmt.Errorf("telegram bot is disabled")
	}
	if ch.bot.token() == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	log.Println("[Telegram] Command handler polling started")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Telegram] Command handler stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil {
				log.Printf("[Telegram] Failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes updates from Telegram
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=1", ch.bot.base(), ch.bot.token(), offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ch.bot.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var updatesResp GetUpdatesResponse
	if err := json.Unmarshal(body, &updatesResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !updatesResp.OK {
		return fmt.Errorf("telegram API error %d: %s", updatesResp.ErrorCode, updatesResp.Description)
	}

	for _, update := range updatesResp.Result {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update)
		}
	}

	return nil
}

// authorized reports whether the chat belongs to a configured recipient
func (ch *CommandHandler) authorized(chatID string) bool {
	for _, r := range ch.recipients() {
		if r.ID == chatID {
			return true
		}
	}
	return false
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if !ch.authorized(chatID) {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %s", chatID)
		return
	}

	if msg.Text == "" || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Strip bot username suffix if present (e.g. /status@vigilbot)
	if atIndex := strings.Index(command, "@"); atIndex != -1 {
		command = command[:atIndex]
	}

	var response string
	switch command {
	case "/start":
		response = ch.handleStart(chatID)
	case "/help":
		response = ch.handleHelp()
	case "/status":
		response = ch.handleStatus()
	case "/cameras":
		response = ch.handleCameras()
	case "/workloads":
		response = ch.handleWorkloads()
	case "/enable":
		response = ch.handleEnable(ctx, args)
	case "/disable":
		response = ch.handleDisable(ctx, args)
	case "/events":
		response = ch.handleEvents(ctx, args)
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if response != "" {
		if err := ch.bot.sendMessage(ctx, chatID, response); err != nil {
			log.Printf("[Telegram] Failed to send reply: %v", err)
		}
	}
}

func (ch *CommandHandler) handleStart(chatID string) string {
	return "🤖 <b>Welcome to Vigil!</b>\n\n" +
		"I'm your surveillance dashboard bot. I'll notify you when detections fire.\n\n" +
		fmt.Sprintf("Your chat ID is <code>%s</code>.\n", chatID) +
		"Use /help to see available commands."
}

func (ch *CommandHandler) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"<b>System</b>\n" +
		"/status - Active workloads and camera health\n" +
		"/cameras - List all registered cameras\n" +
		"/workloads - List workload configurations\n\n" +
		"<b>Control</b>\n" +
		"/enable &lt;workload&gt; - Start a workload on its selected cameras\n" +
		"/disable &lt;workload&gt; - Stop a workload\n\n" +
		"<b>History</b>\n" +
		"/events &lt;workload&gt; [date] - Detection events (default: today)\n\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	var sb strings.Builder
	sb.WriteString("🖥 <b>System Status</b>\n\n")
	sb.WriteString(fmt.Sprintf("Uptime: %s\n\n", time.Since(ch.startTime).Round(time.Second)))

	activeCount := 0
	for _, kind := range commandKinds {
		if !ch.controller.Active(kind) {
			continue
		}
		activeCount++
		sb.WriteString(fmt.Sprintf("🟢 <b>%s</b>\n", kind))
		for _, cam := range ch.controller.CameraStates(kind) {
			icon := "✅"
			if !cam.Open {
				icon = "❌"
			} else if !cam.LastFrameOK {
				icon = "⚠️"
			}
			sb.WriteString(fmt.Sprintf("  %s %s\n", icon, cam.Name))
		}
	}
	if activeCount == 0 {
		sb.WriteString("No workloads running.")
	}
	return sb.String()
}

func (ch *CommandHandler) handleCameras() string {
	cameras := ch.cameras.List()
	if len(cameras) == 0 {
		return "📹 No cameras registered."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📹 <b>Cameras (%d)</b>\n\n", len(cameras)))
	for _, cam := range cameras {
		sb.WriteString(fmt.Sprintf("• %s\n", cam.Name))
	}
	return sb.String()
}

func (ch *CommandHandler) handleWorkloads() string {
	var sb strings.Builder
	sb.WriteString("⚙️ <b>Workloads</b>\n\n")
	for _, kind := range commandKinds {
		cfg, ok := ch.controller.Workload(kind)
		if !ok {
			continue
		}
		state := "stopped"
		if ch.controller.Active(kind) {
			state = "running"
		}
		sb.WriteString(fmt.Sprintf("<b>%s</b> (%s)\n", cfg.Kind, state))
		sb.WriteString(fmt.Sprintf("  classes: %s, threshold: %.2f\n",
			strings.Join(cfg.TargetClasses, ", "), cfg.ConfidenceThreshold))
		if cfg.AlertsEnabled {
			sb.WriteString(fmt.Sprintf("  alerts on, cooldown %s\n", cfg.CooldownDuration))
		}
	}
	return sb.String()
}

// parseKind resolves a command argument to a known workload
func (ch *CommandHandler) parseKind(args []string) (monitor.WorkloadKind, string) {
	if len(args) == 0 {
		return "", "Usage: specify a workload (fire, occupancy, tailgating, no_access)."
	}
	kind := monitor.WorkloadKind(strings.ToLower(args[0]))
	if _, ok := ch.controller.Workload(kind); !ok {
		return "", fmt.Sprintf("Unknown workload: %s", args[0])
	}
	return kind, ""
}

func (ch *CommandHandler) handleEnable(ctx context.Context, args []string) string {
	kind, errMsg := ch.parseKind(args)
	if errMsg != "" {
		return errMsg
	}

	handles, err := ch.cameras.Selection(ctx, kind)
	if err != nil {
		return fmt.Sprintf("Failed to load camera selection: %v", err)
	}
	if len(handles) == 0 {
		return fmt.Sprintf("No cameras selected for %s.", kind)
	}

	// The session must outlive this command
	if err := ch.controller.Start(context.Background(), kind, handles); err != nil {
		return fmt.Sprintf("Failed to start %s: %v", kind, err)
	}
	return fmt.Sprintf("🟢 Started %s on %d camera(s).", kind, len(handles))
}

func (ch *CommandHandler) handleDisable(ctx context.Context, args []string) string {
	kind, errMsg := ch.parseKind(args)
	if errMsg != "" {
		return errMsg
	}

	if err := ch.controller.Stop(ctx, kind); err != nil {
		return fmt.Sprintf("Failed to stop %s: %v", kind, err)
	}
	return fmt.Sprintf("🔴 Stopped %s.", kind)
}

func (ch *CommandHandler) handleEvents(ctx context.Context, args []string) string {
	kind, errMsg := ch.parseKind(args)
	if errMsg != "" {
		return errMsg
	}

	date := time.Now().Format("2006-01-02")
	if len(args) > 1 {
		date = args[1]
	}

	events, err := ch.events.EventsByDate(ctx, kind, date)
	if err != nil {
		return fmt.Sprintf("Failed to load events: %v", err)
	}
	if len(events) == 0 {
		return fmt.Sprintf("📋 No %s events on %s.", kind, date)
	}

	const maxListed = 10
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>%s events on %s</b>\n\n", kind, date))
	for i, ev := range events {
		if i == maxListed {
			sb.WriteString(fmt.Sprintf("… and %d more\n", len(events)-maxListed))
			break
		}
		sb.WriteString(fmt.Sprintf("• %s  %s (%d detections)\n", ev.TimeOfDay, ev.CameraName, ev.FindingCount))
	}
	return sb.String()
}
