package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration, loaded from environment
// variables
type Config struct {
	HTTPAddr string
	DBPath   string

	// Frame capture rate per camera
	CaptureFPS int

	// StatusLogSize bounds the delivery/fault log shown to the UI
	StatusLogSize int

	Auth     AuthConfig
	Detector DetectorConfig
	Telegram TelegramConfig
	MQTT     MQTTConfig
	Storage  StorageConfig
}

// AuthConfig configures operator login for the dashboard API
type AuthConfig struct {
	Enabled  bool
	Username string
	// Password may be plaintext or a bcrypt hash
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// DetectorConfig points at the inference service
type DetectorConfig struct {
	Endpoint      string
	ClassesFilter string
}

// TelegramConfig configures the alert notification bot
type TelegramConfig struct {
	BotToken string
	Enabled  bool
}

// MQTTConfig configures the optional event publisher. Disabled when
// Host is empty.
type MQTTConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// StorageConfig configures the optional snapshot object store.
// Disabled when Endpoint is empty.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Load reads configuration from the environment
func Load() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		DBPath:        getenv("DB_PATH", "vigil.db"),
		CaptureFPS:    getenvInt("CAPTURE_FPS", 4),
		StatusLogSize: getenvInt("STATUS_LOG_SIZE", 50),
		Auth: AuthConfig{
			Enabled:   getenv("AUTH_ENABLED", "false") == "true",
			Username:  getenv("AUTH_USERNAME", "admin"),
			Password:  os.Getenv("AUTH_PASSWORD"),
			JWTSecret: os.Getenv("JWT_SECRET"),
			JWTExpiry: getenvDuration("JWT_EXPIRY", 24*time.Hour),
		},
		Detector: DetectorConfig{
			Endpoint:      getenv("YOLO_ENDPOINT", "http://localhost:8000"),
			ClassesFilter: os.Getenv("YOLO_CLASSES_FILTER"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			Enabled:  getenv("TELEGRAM_ENABLED", "false") == "true",
		},
		MQTT: MQTTConfig{
			Host:        os.Getenv("MQTT_HOST"),
			Port:        getenvInt("MQTT_PORT", 1883),
			Username:    os.Getenv("MQTT_USERNAME"),
			Password:    os.Getenv("MQTT_PASSWORD"),
			ClientID:    getenv("MQTT_CLIENT_ID", "vigil"),
			TopicPrefix: getenv("MQTT_TOPIC_PREFIX", "vigil"),
		},
		Storage: StorageConfig{
			Endpoint:      os.Getenv("MINIO_ENDPOINT"),
			AccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:     os.Getenv("MINIO_SECRET_KEY"),
			Bucket:        getenv("MINIO_BUCKET", "vigil-snapshots"),
			UseSSL:        getenv("MINIO_USE_SSL", "false") == "true",
			PublicBaseURL: os.Getenv("MINIO_PUBLIC_BASE_URL"),
		},
	}
}

// Validate reports configuration combinations that cannot work
func (c Config) Validate() error {
	if c.Detector.Endpoint == "" {
		return fmt.Errorf("YOLO_ENDPOINT is required")
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		return fmt.Errorf("AUTH_PASSWORD is required when AUTH_ENABLED=true")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED=true")
	}
	if c.Storage.Endpoint != "" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			return x
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
