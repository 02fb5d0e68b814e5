package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"medintake-chatbot/internal/config"
	"medintake-chatbot/internal/core"
	"medintake-chatbot/internal/db"
	httpserver "medintake-chatbot/internal/http"
	"medintake-chatbot/internal/llm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medintake",
		Short: "Medical intake chat relay",
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL must be set")
			}
			ctx := cmd.Context()
			conn, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(ctx, conn); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("Schema applied.")
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Log every transcript save announced by PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL must be set")
			}
			logger := newLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			notifier := db.NewNotifier(cfg.DatabaseURL, cfg.NotifyChannel, logger)
			saves, err := notifier.Listen(ctx)
			if err != nil {
				return err
			}
			logger.Info().Str("channel", cfg.NotifyChannel).Msg("watching transcript saves")
			for sessionID := range saves {
				logger.Info().Str("session_id", sessionID).Msg("transcript saved")
			}
			return nil
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (db.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendFile:
		return db.NewFileStore(cfg.FileStoreDir)
	case config.BackendPostgres:
		conn, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return db.NewPostgresStore(conn, cfg.NotifyChannel), nil
	case config.BackendMongo:
		return db.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		logger.Warn().Msg("using in-memory store; records are lost on restart")
		return db.NewMemoryStore(), nil
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			logger.Warn().Err(err).Msg("sentry disabled")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
		return err
	}
	defer store.Close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	llmClient := llm.NewOpenAIClient(llm.Config{
		BaseURL:        cfg.UpstreamBaseURL,
		APIKey:         cfg.UpstreamAPIKey,
		Model:          cfg.UpstreamModel,
		Temperature:    cfg.UpstreamTemperature,
		ConnectTimeout: cfg.UpstreamConnectTimeout,
		ReadTimeout:    cfg.UpstreamReadTimeout,
	}, logger)
	chatService := core.NewChatService(llmClient, store, logger)
	srv := httpserver.NewServer(chatService, logger, cfg.CORSOrigins)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	logger.Info().Msg("server stopped gracefully")
	return nil
}
