package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/refermed/refermed/internal/config"
	"github.com/refermed/refermed/internal/domain/identity"
	"github.com/refermed/refermed/internal/domain/messaging"
	"github.com/refermed/refermed/internal/domain/referral"
	"github.com/refermed/refermed/internal/platform/auth"
	"github.com/refermed/refermed/internal/platform/db"
	"github.com/refermed/refermed/internal/platform/middleware"
	"github.com/refermed/refermed/internal/platform/notification"
	"github.com/refermed/refermed/internal/platform/otp"
	"github.com/refermed/refermed/internal/platform/realtime"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "refermed-server",
		Short: "Medical referral coordination API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Verification code store: Redis when configured, in-memory otherwise.
	otpTTL := time.Duration(cfg.OTPTTLMinutes) * time.Minute
	var codes otp.Store
	if cfg.RedisURL != "" {
		store, err := otp.NewRedisStore(ctx, cfg.RedisURL, otpTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer store.Close()
		codes = store
		logger.Info().Msg("using redis verification-code store")
	} else {
		codes = otp.NewMemoryStore(otpTTL)
		logger.Warn().Msg("REDIS_URL not set; using in-memory verification-code store")
	}

	// Notifications. The log sender stands in for an SMTP relay in development.
	notifier := notification.NewManager(
		&notification.LogEmailSender{Logger: logger},
		nil,
		notification.NewTemplateEngine(),
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// The auth flow (register, verify, login) is public; everything else sits
	// behind the token middleware on /api/v1.
	public := e.Group("/api/v1")
	api := e.Group("/api/v1")

	jwtCfg := auth.JWTConfig{SigningKey: []byte(cfg.JWTSecret)}
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		api.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	public.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(middleware.RateLimit(rateLimitCfg))

	// Audit middleware
	api.Use(middleware.Audit(logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// -- Register Domain Handlers --

	// Identity domain
	identityRepo := identity.NewRepoPG(pool)
	identitySvc := identity.NewService(identityRepo, codes, notifier, jwtCfg, otpTTL, logger)
	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterRoutes(public, api)

	// Referral domain. Lifecycle events fan out to the participants by email.
	referralRepo := referral.NewRepoPG(pool)
	referralSink := referral.NewNotificationSink(identitySvc, notifier)
	referralSvc := referral.NewService(referralRepo, identitySvc, referralSink, logger)
	referralHandler := referral.NewHandler(referralSvc)
	referralHandler.RegisterRoutes(api)

	// Messaging domain
	registry := realtime.NewRegistry()
	roomRepo := messaging.NewRoomRepoPG(pool)
	messageRepo := messaging.NewMessageRepoPG(pool)
	messagingSvc := messaging.NewService(roomRepo, referralRepo)
	router := messaging.NewRouter(roomRepo, messageRepo, registry, logger)
	messagingHandler := messaging.NewHandler(messagingSvc, router)
	messagingHandler.RegisterRoutes(api)

	// WebSocket endpoint; the message router doubles as the room gateway.
	wsHandler := realtime.NewHandler(registry, router, logger)
	wsHandler.RegisterRoutes(api)

	// Notification inspection endpoints, admin only
	ops := api.Group("", auth.RequireRole("admin"))
	notificationHandler := notification.NewHandler(notifier)
	notificationHandler.RegisterRoutes(ops)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown: stop accepting requests, then drain live websockets.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	registry.Shutdown()
	logger.Info().Msg("server stopped")
	return nil
}
