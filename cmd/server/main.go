package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/journalsync/internal/api"
	"github.com/org/journalsync/internal/auth"
	"github.com/org/journalsync/internal/entitlement"
	"github.com/org/journalsync/internal/inference"
	"github.com/org/journalsync/internal/llm"
	"github.com/org/journalsync/internal/quota"
	"github.com/org/journalsync/internal/storage"
	syncengine "github.com/org/journalsync/internal/sync"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	DataDir       string `yaml:"data_dir"`
	LogLevel      string `yaml:"log_level"`

	JWTSecret       string `yaml:"jwt_secret"`
	AccessTTLMin    int    `yaml:"access_ttl_minutes"`
	RefreshTTLDays  int    `yaml:"refresh_ttl_days"`
	GoogleClientID  string `yaml:"google_client_id"`
	AppleClientID   string `yaml:"apple_client_id"`
	KeyRotationDays int    `yaml:"key_rotation_days"`

	FreeDailyLimit int `yaml:"free_daily_limit"`
	PaidDailyLimit int `yaml:"paid_daily_limit"`

	GeminiAPIKey    string `yaml:"gemini_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	AppleSharedSecret  string `yaml:"apple_shared_secret"`
	AndroidPackageName string `yaml:"android_package_name"`
	GooglePlayToken    string `yaml:"google_play_token"`

	RateLimit int `yaml:"rate_limit"`
	RateBurst int `yaml:"rate_burst"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("JOURNALSYNC_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:      ":8080",
		MigrationsDir:   "migrations",
		DataDir:         "data",
		LogLevel:        "info",
		AccessTTLMin:    30,
		RefreshTTLDays:  30,
		KeyRotationDays: 30,
		FreeDailyLimit:  10,
		PaidDailyLimit:  5000,
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("JOURNALSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("JOURNALSYNC_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("jwt_secret must be configured (or JOURNALSYNC_JWT_SECRET env var)")
	}

	ctx := context.Background()

	// Connect to database
	master, err := storage.NewPostgresMaster(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer master.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	partitions := storage.NewPostgresPartitions(master.Pool())

	// Auth
	tokens := auth.NewTokenManager(cfg.JWTSecret,
		time.Duration(cfg.AccessTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTTLDays)*24*time.Hour)
	var oauthVerifiers []auth.Verifier
	if cfg.GoogleClientID != "" {
		oauthVerifiers = append(oauthVerifiers, auth.NewGoogleVerifier(cfg.GoogleClientID))
	}
	if cfg.AppleClientID != "" {
		oauthVerifiers = append(oauthVerifiers, auth.NewAppleVerifier(cfg.AppleClientID))
	}
	if len(oauthVerifiers) == 0 {
		log.Warn().Msg("no oauth providers configured, sign-in will be rejected")
	}
	authSvc := auth.NewService(master, partitions, tokens, oauthVerifiers...)

	// Entitlements
	var receiptVerifiers []entitlement.ReceiptVerifier
	if cfg.AppleSharedSecret != "" {
		receiptVerifiers = append(receiptVerifiers, entitlement.NewAppleReceiptVerifier(cfg.AppleSharedSecret))
	}
	if cfg.AndroidPackageName != "" && cfg.GooglePlayToken != "" {
		receiptVerifiers = append(receiptVerifiers, entitlement.NewGoogleReceiptVerifier(cfg.AndroidPackageName, cfg.GooglePlayToken))
	}
	entitlements := entitlement.NewService(master, receiptVerifiers...)

	// Sync engine
	engine := syncengine.NewEngine(partitions, authSvc, entitlements)

	// Inference broker
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}
	keyring, err := inference.NewKeyring(cfg.DataDir, time.Duration(cfg.KeyRotationDays)*24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize inference keyring")
	}

	provider, err := llm.FromConfig(llm.Config{
		GeminiAPIKey:    cfg.GeminiAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	})
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			log.Fatal().Err(err).Msg("failed to configure llm provider")
		}
		log.Warn().Msg("no llm api key configured, inference requests will fail")
	}
	runner := inference.NewTaskRunner(provider)
	ledger := quota.NewLedger(master, cfg.FreeDailyLimit, cfg.PaidDailyLimit)
	broker := inference.NewBroker(keyring, runner, ledger, entitlements)

	// Create server
	srv := api.NewServer(api.Config{
		ListenAddr: cfg.ListenAddr,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	}, authSvc, engine, broker, entitlements)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
