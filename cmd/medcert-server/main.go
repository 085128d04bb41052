package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medcert/medcert/internal/config"
	"github.com/medcert/medcert/internal/domain/attestation"
	"github.com/medcert/medcert/internal/domain/auditevent"
	"github.com/medcert/medcert/internal/domain/certificate"
	"github.com/medcert/medcert/internal/domain/intake"
	"github.com/medcert/medcert/internal/domain/issuance"
	"github.com/medcert/medcert/internal/domain/outbox"
	"github.com/medcert/medcert/internal/domain/retryqueue"
	"github.com/medcert/medcert/internal/platform/alerting"
	"github.com/medcert/medcert/internal/platform/auth"
	"github.com/medcert/medcert/internal/platform/blobstore"
	"github.com/medcert/medcert/internal/platform/db"
	"github.com/medcert/medcert/internal/platform/middleware"
	"github.com/medcert/medcert/internal/platform/notification"
	"github.com/medcert/medcert/internal/platform/render"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medcert-server",
		Short: "Medical certificate issuance API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the issuance API server",
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

// sweepCmd runs one pass of the background work usually driven by a cron
// entry: deliver pending outbox emails and replay due retry tickets.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one delivery and retry sweep, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := buildApp(cfg, pool, logger)

			sent, err := app.outboxSvc.Dispatch(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("outbox dispatch failed")
			}
			retried, err := app.sweeper.Sweep(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("retry sweep failed")
			}
			logger.Info().Int("emails", sent).Int("retries", retried).Msg("sweep complete")
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// app holds the wired services the server and sweep commands share.
type app struct {
	intakeSvc     *intake.Service
	locks         *intake.LockManager
	certSvc       *certificate.Service
	attestSvc     *attestation.Service
	issuanceSvc   *issuance.Service
	outboxSvc     *outbox.Service
	sweeper       *retryqueue.Sweeper
	auditEmitter  *auditevent.Emitter
	rateLimitCfg  middleware.RateLimitConfig
	intakeHandler *intake.Handler
	certHandler   *certificate.Handler
	attHandler    *attestation.Handler
	issHandler    *issuance.Handler
	outHandler    *outbox.Handler
	retryHandler  *retryqueue.Handler
	auditHandler  *auditevent.Handler
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *app {
	alerter := alerting.NewLogAlerter(logger)

	// Repositories
	intakeRepo := intake.NewIntakeRepoPG(pool)
	certRepo := certificate.NewCertificateRepoPG(pool)
	recordRepo := attestation.NewRecordRepoPG(pool)
	dateChangeRepo := attestation.NewDateChangeRepoPG(pool)
	ticketRepo := retryqueue.NewTicketRepoPG(pool)
	outboxRepo := outbox.NewOutboxRepoPG(pool)
	auditRepo := auditevent.NewAuditEventRepoPG(pool)
	draftRepo := issuance.NewDraftRepoPG(pool)
	docRepo := issuance.NewGeneratedDocRepoPG(pool)

	// Platform services
	emitter := auditevent.NewEmitter(auditRepo, logger)
	store := blobstore.NewMemoryStore(cfg.BlobBaseURL, []byte(cfg.BlobSignKey))
	sender := notification.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	templates := notification.NewTemplateEngine()

	var renderer render.Renderer
	if cfg.RenderURL != "" {
		renderer = render.NewHTTPRenderer(cfg.RenderURL, cfg.RenderTimeout())
	} else {
		// Development only; Validate rejects a missing RENDER_URL elsewhere.
		renderer = &render.MockRenderer{}
	}

	// Domain services
	outboxSvc := outbox.NewService(outboxRepo, certRepo, sender, templates, emitter, alerter, logger)
	intakeSvc := intake.NewService(intakeRepo, emitter, outboxSvc, logger)
	locks := intake.NewLockManager(intakeRepo, logger)
	certSvc := certificate.NewService(certRepo, store, logger)
	attestSvc := attestation.NewService(recordRepo, dateChangeRepo, emitter, logger)
	checker := issuance.NewChecker(intakeRepo, draftRepo, docRepo, store, alerter, logger)

	issuanceSvc := issuance.NewService(issuance.ServiceParams{
		Intakes:  intakeRepo,
		Certs:    certRepo,
		Drafts:   draftRepo,
		Docs:     docRepo,
		Locks:    locks,
		Checker:  checker,
		Attest:   attestSvc,
		Renderer: renderer,
		Store:    store,
		Mailer:   outboxSvc,
		Retries:  nil, // set below; the sweeper needs the service first
		Tx:       db.NewTransactor(pool),
		Audit:    emitter,
		Logger:   logger,
	})
	sweeper := retryqueue.NewSweeper(ticketRepo, issuanceSvc, alerter, logger)
	issuanceSvc.SetRetryEnqueuer(sweeper)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerMinute: cfg.IssuanceRatePerMinute,
		BurstSize:         cfg.IssuanceRateBurst,
	}
	if rateLimitCfg.RequestsPerMinute <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	return &app{
		intakeSvc:     intakeSvc,
		locks:         locks,
		certSvc:       certSvc,
		attestSvc:     attestSvc,
		issuanceSvc:   issuanceSvc,
		outboxSvc:     outboxSvc,
		sweeper:       sweeper,
		auditEmitter:  emitter,
		rateLimitCfg:  rateLimitCfg,
		intakeHandler: intake.NewHandler(intakeSvc, locks),
		certHandler:   certificate.NewHandler(certSvc),
		attHandler:    attestation.NewHandler(attestSvc),
		issHandler:    issuance.NewHandler(issuanceSvc),
		outHandler:    outbox.NewHandler(outboxSvc),
		retryHandler:  retryqueue.NewHandler(sweeper),
		auditHandler:  auditevent.NewHandler(emitter),
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app := buildApp(cfg, pool, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Public verification endpoint: no auth, pharmacists and employers
	// check certificates by code.
	public := e.Group("/public")

	// Authenticated API
	api := e.Group("/api/v1")
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	app.intakeHandler.RegisterRoutes(api)
	app.certHandler.RegisterRoutes(api, public)
	app.attHandler.RegisterRoutes(api)
	app.issHandler.RegisterRoutes(api, app.rateLimitCfg)
	app.outHandler.RegisterRoutes(api)
	app.retryHandler.RegisterRoutes(api)
	app.auditHandler.RegisterRoutes(api)

	// Background sweeper: outbox delivery plus generation retries.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := app.outboxSvc.Dispatch(sweepCtx); err != nil {
					logger.Error().Err(err).Msg("outbox dispatch failed")
				}
				if _, err := app.sweeper.Sweep(sweepCtx); err != nil {
					logger.Error().Err(err).Msg("retry sweep failed")
				}
			}
		}
	}()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
