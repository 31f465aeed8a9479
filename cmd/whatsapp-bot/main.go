// ABOUTME: Entry point for the whatsapp-bot message routing service
// ABOUTME: Serves the inbound webhook and seeds businesses and agents

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/TomiGarbe/whatsapp-bot/internal/ai"
	"github.com/TomiGarbe/whatsapp-bot/internal/catalog"
	"github.com/TomiGarbe/whatsapp-bot/internal/config"
	"github.com/TomiGarbe/whatsapp-bot/internal/dedupe"
	"github.com/TomiGarbe/whatsapp-bot/internal/flow"
	"github.com/TomiGarbe/whatsapp-bot/internal/intent"
	"github.com/TomiGarbe/whatsapp-bot/internal/messaging"
	"github.com/TomiGarbe/whatsapp-bot/internal/router"
	"github.com/TomiGarbe/whatsapp-bot/internal/store"
	"github.com/TomiGarbe/whatsapp-bot/internal/support"
	"github.com/TomiGarbe/whatsapp-bot/internal/webhook"
)

// Version is set at build time.
var version = "dev"

// getConfigPath returns the path to the service config file.
// Priority: WHATSAPP_BOT_CONFIG env var > ./config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WHATSAPP_BOT_CONFIG"); envPath != "" {
		return envPath
	}
	return "config.yaml"
}

func main() {
	// A missing .env file is fine: config falls back to the process env.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: whatsapp-bot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                              Start the webhook server")
		fmt.Println("  seed --business NAME [--agent PHONE]  Create a business and optional agent")
		fmt.Println("  health                             Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "seed":
		err = runSeed(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info("starting whatsapp-bot",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	aiProvider, err := buildAIProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("creating ai provider: %w", err)
	}
	messenger, err := buildMessenger(cfg.Messaging, logger)
	if err != nil {
		return fmt.Errorf("creating messaging provider: %w", err)
	}

	flowManager, err := flow.NewManager(st, catalog.NewMockDataSource(), cfg.Bot.Mode, logger)
	if err != nil {
		return fmt.Errorf("creating flow manager: %w", err)
	}
	humanSupport := support.New(st, messenger, logger)
	msgRouter := router.New(st, intent.NewEngine(), flowManager, humanSupport, aiProvider, messenger, nil, logger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	dedupeCache := dedupe.New(10*time.Minute, 10000)
	defer dedupeCache.Close()
	webhook.NewHandler(msgRouter, dedupeCache, logger).Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildAIProvider(cfg config.AIConfig) (ai.Provider, error) {
	switch cfg.Provider {
	case "azure":
		return ai.NewAzureProvider(ai.AzureConfig{
			Endpoint:   cfg.Azure.Endpoint,
			APIKey:     cfg.Azure.APIKey,
			Deployment: cfg.Azure.Deployment,
			APIVersion: cfg.Azure.APIVersion,
		})
	case "mock":
		return ai.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %s", cfg.Provider)
	}
}

func buildMessenger(cfg config.MessagingConfig, logger *slog.Logger) (messaging.Provider, error) {
	switch cfg.Provider {
	case "whatsapp":
		return messaging.NewWhatsAppProvider(messaging.WhatsAppConfig{
			BaseURL:       cfg.WhatsApp.BaseURL,
			AccessToken:   cfg.WhatsApp.AccessToken,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			APIVersion:    cfg.WhatsApp.APIVersion,
		})
	case "mock":
		return messaging.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown messaging provider: %s", cfg.Provider)
	}
}

// runSeed creates a business and, optionally, an active agent for it.
// Prints the business ID so it can be passed in webhook payloads.
func runSeed(ctx context.Context) error {
	var businessName, agentPhone, agentName string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--business", "-b":
			if i+1 >= len(args) {
				return fmt.Errorf("--business requires a value")
			}
			businessName = args[i+1]
			i++
		case "--agent", "-a":
			if i+1 >= len(args) {
				return fmt.Errorf("--agent requires a value")
			}
			agentPhone = args[i+1]
			i++
		case "--agent-name":
			if i+1 >= len(args) {
				return fmt.Errorf("--agent-name requires a value")
			}
			agentName = args[i+1]
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if businessName == "" {
		return fmt.Errorf("--business flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	business := &store.Business{
		ID:        uuid.New().String(),
		Name:      businessName,
		CreatedAt: time.Now(),
	}
	if err := st.CreateBusiness(ctx, business); err != nil {
		return fmt.Errorf("creating business: %w", err)
	}
	fmt.Printf("Created business %q\n", businessName)
	fmt.Printf("  ID: %s\n", business.ID)

	if agentPhone != "" {
		if agentName == "" {
			agentName = "Asesor"
		}
		agent := &store.Agent{
			ID:         uuid.New().String(),
			BusinessID: business.ID,
			Name:       agentName,
			Contact:    agentPhone,
			IsActive:   true,
			CreatedAt:  time.Now(),
		}
		if err := st.CreateAgent(ctx, agent); err != nil {
			return fmt.Errorf("creating agent: %w", err)
		}
		fmt.Printf("Created agent %q\n", agentName)
		fmt.Printf("  ID:      %s\n", agent.ID)
		fmt.Printf("  Contact: %s\n", agentPhone)
	}

	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
