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

	"github.com/medequip/dmeflow/internal/config"
	"github.com/medequip/dmeflow/internal/domain/cases"
	"github.com/medequip/dmeflow/internal/domain/claim"
	"github.com/medequip/dmeflow/internal/domain/device"
	"github.com/medequip/dmeflow/internal/domain/quote"
	"github.com/medequip/dmeflow/internal/domain/ticket"
	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/middleware"
	"github.com/medequip/dmeflow/internal/platform/sequence"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dmeflow-server",
		Short: "DME reimbursement workflow API server",
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
		Short: "Start the workflow API server",
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

			fmt.Printf("Applied %d migration(s).\n", count)
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
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() && cfg.AuthSecret == "" {
		logger.Warn().Msg("AUTH_SECRET not set; running with development auth bypass")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.AuthSecret)))
	}

	e.GET("/health", db.HealthHandler(pool))

	// Shared platform pieces
	txr := db.NewPoolRunner(pool)
	allocator := sequence.NewPGAllocator(pool)
	intentRepo := workflow.NewIntentRepoPG(pool)

	// Case engine
	caseRepo := cases.NewRepoPG(pool)
	prescriptionSrc := cases.NewPrescriptionSourcePG(pool)
	caseSvc := cases.NewService(caseRepo, prescriptionSrc, allocator, intentRepo, txr)

	// The orchestrator routes intents from the other engines back through
	// the case engine's validated entry point.
	orchestrator := workflow.NewOrchestrator(caseSvc, intentRepo)

	// Quote engine
	quoteRepo := quote.NewRepoPG(pool)
	codeSrc := quote.NewCodeSourcePG(pool)
	quoteCaseSrc := quote.NewCaseSourcePG(pool)
	quoteSvc := quote.NewService(quoteRepo, codeSrc, quoteCaseSrc, allocator, orchestrator, txr, cfg.QuoteValidityDays)

	// Claim engine
	claimRepo := claim.NewRepoPG(pool)
	quoteSrc := claim.NewQuoteSourcePG(pool)
	claimCaseSrc := claim.NewCaseSourcePG(pool)
	docSrc := claim.NewDocumentSourcePG(pool)
	claimSvc := claim.NewService(claimRepo, quoteSrc, claimCaseSrc, docSrc, allocator, orchestrator, txr)

	// Ticket engine
	ticketRepo := ticket.NewRepoPG(pool)
	ticketDeviceSrc := ticket.NewDeviceSourcePG(pool)
	techSrc := ticket.NewTechnicianSourcePG(pool)
	ticketSvc := ticket.NewService(ticketRepo, ticketDeviceSrc, techSrc, allocator, txr)

	// Device registry
	deviceRepo := device.NewRepoPG(pool)
	deviceSvc := device.NewService(deviceRepo, txr)

	apiV1 := e.Group("/api/v1")
	cases.NewHandler(caseSvc).RegisterRoutes(apiV1)
	quote.NewHandler(quoteSvc).RegisterRoutes(apiV1)
	claim.NewHandler(claimSvc).RegisterRoutes(apiV1)
	ticket.NewHandler(ticketSvc).RegisterRoutes(apiV1)
	device.NewHandler(deviceSvc).RegisterRoutes(apiV1)

	// Expiry sweep: overdue PENDING_APPROVAL quotes are superseded on a
	// fixed interval. The sweep is idempotent, so overlap with the
	// approval path is harmless.
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := quoteSvc.ProcessExpiredQuotes(sweepCtx)
				if err != nil {
					logger.Error().Err(err).Msg("quote expiry sweep failed")
					continue
				}
				if n > 0 {
					logger.Info().Int("superseded", n).Msg("quote expiry sweep")
				}
			}
		}
	}()

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
