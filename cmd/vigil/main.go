package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vigil/internal/auth"
	"vigil/internal/camera"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/detection"
	"vigil/internal/httpapi"
	"vigil/internal/monitor"
	"vigil/internal/notify"
	"vigil/internal/snapshot"
	"vigil/internal/telegram"
	"vigil/internal/ws"
)

func main() {
	// Load .env if present; real environments set variables directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[Main] Failed to load .env: %v", err)
	}

	// Setup logger. Replace logger with your own log package of choice.
	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[vigil] ", log.Ltime)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	db, err := database.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	registry, err := camera.NewRegistry(db, db)
	if err != nil {
		logger.Fatalf("failed to load cameras: %v", err)
	}

	detector := detection.NewYOLODetector(detection.YOLOConfig{
		ServiceEndpoint: cfg.Detector.Endpoint,
		ClassesFilter:   cfg.Detector.ClassesFilter,
	})

	bot := telegram.NewBot(telegram.Config{
		BotToken: cfg.Telegram.BotToken,
		Enabled:  cfg.Telegram.Enabled,
	})

	bus := monitor.NewAlertBus()
	hub := ws.NewAlertHub()
	unsubscribeHub := bus.Subscribe(hub)
	defer unsubscribeHub()

	// The MQTT publisher and snapshot store are optional integrations
	var snapshots monitor.SnapshotStore
	if cfg.Storage.Endpoint != "" {
		store, err := snapshot.NewStore(snapshot.Config{
			Endpoint:      cfg.Storage.Endpoint,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			Bucket:        cfg.Storage.Bucket,
			UseSSL:        cfg.Storage.UseSSL,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			logger.Fatalf("failed to connect to object storage: %v", err)
		}
		snapshots = store
	}

	if cfg.MQTT.Host != "" {
		publisher, err := notify.NewPublisher(notify.Config{
			Host:        cfg.MQTT.Host,
			Port:        cfg.MQTT.Port,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			logger.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer publisher.Close()
		unsubscribeMQTT := bus.Subscribe(publisher)
		defer unsubscribeMQTT()
	}

	status := monitor.NewStatusLog(cfg.StatusLogSize)
	manager := monitor.NewManager(monitor.Deps{
		Source:   camera.NewSource(cfg.CaptureFPS),
		Detector: detector,
		Store:    db,
		Notifier: bot,
		Recipients: func() []monitor.Recipient {
			return httpapi.LoadRecipients(context.Background(), db)
		},
		Snapshots: snapshots,
		Annotate:  snapshot.Annotate,
		Bus:       bus,
		Settings:  db,
		Status:    status,
	})

	if err := manager.LoadOverrides(context.Background()); err != nil {
		logger.Printf("failed to load workload overrides: %v", err)
	}

	authenticator := auth.NewAuthenticator(auth.Config{
		Enabled:   cfg.Auth.Enabled,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTExpiry: cfg.Auth.JWTExpiry,
	})
	server := httpapi.New(db, registry, manager, authenticator, hub, status, detector)

	commandCtx, stopCommands := context.WithCancel(context.Background())
	defer stopCommands()
	if bot.IsEnabled() {
		commands := telegram.NewCommandHandler(bot, manager, registry, db, func() []monitor.Recipient {
			return httpapi.LoadRecipients(context.Background(), db)
		})
		go func() {
			if err := commands.StartPolling(commandCtx); err != nil {
				logger.Printf("telegram command handler: %v", err)
			}
		}()
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Printf("HTTP server listening on %s", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown: %v", err)
		}
	}()

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	manager.StopAll(stopCtx)

	wg.Wait()
	logger.Println("exited")
}
