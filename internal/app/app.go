package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	gmail "google.golang.org/api/gmail/v1"

	"inquiry-relay-go/internal/config"
	"inquiry-relay-go/internal/credential"
	"inquiry-relay-go/internal/database"
	"inquiry-relay-go/internal/generation"
	"inquiry-relay-go/internal/handler"
	"inquiry-relay-go/internal/mail"
	"inquiry-relay-go/internal/metrics"
	"inquiry-relay-go/internal/notifier"
	"inquiry-relay-go/internal/portal"
	"inquiry-relay-go/internal/queue"
	"inquiry-relay-go/internal/repository"
	"inquiry-relay-go/internal/router"
	"inquiry-relay-go/internal/service"
	"inquiry-relay-go/internal/service/scheduler"
)

const shutdownTimeout = 30 * time.Second

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Inquiry Relay Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("Unknown log level %q, using info", cfg.Log.Level)
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	store := repository.New(db)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	q := queue.New(cfg.Queue.MaxRetries, queue.WithObserver(m))

	ctx := context.Background()

	var gmailService *gmail.Service
	if !cfg.Gmail.UseIMAP {
		scopes := []string{gmail.GmailReadonlyScope}
		if cfg.Notifier.Transport == "gmail" {
			scopes = append(scopes, gmail.GmailSendScope)
		}
		gmailService, err = mail.NewGmailService(ctx, &cfg.Gmail, scopes...)
		if err != nil {
			return err
		}
	}

	var source mail.Source
	if cfg.Gmail.UseIMAP {
		source = mail.NewIMAPSource(&cfg.Gmail, cfg.Poller.Lookback)
		logrus.Info("Using IMAP for inquiry polling")
	} else {
		source = mail.NewGmailSource(gmailService, cfg.Gmail.UserEmail)
		logrus.Info("Using Gmail API for inquiry polling")
	}

	transport, closeTransport, err := newTransport(cfg, gmailService)
	if err != nil {
		return err
	}
	n := notifier.New(transport)

	portalClient := portal.NewClient(cfg.Portal.BaseURL, cfg.Portal.Headless, credentialStore(&cfg.Portal))
	generator := generation.NewClient(
		cfg.Generation.BaseURL,
		cfg.Generation.APIKey,
		cfg.Generation.Model,
		cfg.Generation.MaxTokens,
		cfg.Generation.SystemPrompt,
	)

	orchestrator := service.NewOrchestrator(store, q, portalClient, generator, n, m, service.OrchestratorConfig{
		AutoSend:    cfg.Pipeline.AutoSend,
		CallTimeout: cfg.Pipeline.CallTimeout,
	})
	poller := service.NewPoller(source, store, q, n, m, service.PollerConfig{
		Filter:      cfg.Poller.Filter,
		TestMode:    cfg.Pipeline.TestMode,
		TestSender:  cfg.Pipeline.TestSender,
		CallTimeout: cfg.Pipeline.CallTimeout,
	})

	sched, err := scheduler.New(cfg.Poller.Schedule, poller)
	if err != nil {
		return err
	}

	if _, err := orchestrator.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted inquiries: %w", err)
	}

	// an item that is already in flight finishes even after shutdown starts
	processItem := queue.HandlerFunc(func(ctx context.Context, item queue.Item) error {
		return orchestrator.Process(context.WithoutCancel(ctx), item)
	})

	queueCtx, stopQueue := context.WithCancel(ctx)
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		q.Run(queueCtx, processItem)
	}()

	h := handler.NewHandlers(store, q, sched, generator, prometheus.DefaultGatherer)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		stopQueue()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	stopQueue()
	select {
	case <-queueDone:
	case <-shutdownCtx.Done():
		logrus.Warn("Timed out waiting for the in-flight inquiry; it will be recovered on restart")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := portalClient.ReleaseSession(shutdownCtx); err != nil {
		logrus.Errorf("Failed to release portal session: %v", err)
	}
	if err := source.Close(); err != nil {
		logrus.Errorf("Failed to close mail source: %v", err)
	}
	if closeTransport != nil {
		if err := closeTransport.Close(); err != nil {
			logrus.Errorf("Failed to close notifier transport: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// newTransport builds the configured notifier transport and, when it holds a
// connection, the closer for it
func newTransport(cfg *config.Config, gmailService *gmail.Service) (notifier.Transport, io.Closer, error) {
	switch cfg.Notifier.Transport {
	case "gmail":
		logrus.Info("Sending notifications through Gmail")
		return notifier.NewGmailTransport(gmailService, cfg.Gmail.UserEmail,
			cfg.Notifier.ErrorDestination, cfg.Notifier.ApprovalDestination), nil, nil
	case "amqp":
		client, err := notifier.DialAMQP(cfg.Notifier.AMQPURL, cfg.Notifier.AMQPExchange)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create AMQP notifier: %w", err)
		}
		logrus.Info("Publishing notifications to RabbitMQ")
		return notifier.NewAMQPTransport(client, cfg.Notifier.AMQPExchange), client, nil
	default:
		return notifier.LogTransport{}, nil, nil
	}
}

// credentialStore reads portal credentials from the OS keyring, falling back
// to configuration
func credentialStore(cfg *config.PortalConfig) credential.Store {
	fallback := credential.Static{
		credential.PortalUsernameKey: cfg.Username,
		credential.PortalPasswordKey: cfg.Password,
	}

	ring, err := credential.OpenKeyring(cfg.KeyringService)
	if err != nil {
		logrus.Warnf("Keyring unavailable, using configured portal credentials: %v", err)
		return fallback
	}
	return credential.Chain{ring, fallback}
}
