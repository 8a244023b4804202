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

	"github.com/mchcare/mchcare/internal/config"
	"github.com/mchcare/mchcare/internal/domain/checkup"
	"github.com/mchcare/mchcare/internal/domain/immunization"
	"github.com/mchcare/mchcare/internal/domain/patient"
	"github.com/mchcare/mchcare/internal/domain/prenatal"
	"github.com/mchcare/mchcare/internal/domain/vaccine"
	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/db"
	"github.com/mchcare/mchcare/internal/platform/httpx"
	"github.com/mchcare/mchcare/internal/platform/logging"
	"github.com/mchcare/mchcare/internal/platform/metrics"
	"github.com/mchcare/mchcare/internal/platform/middleware"
	"github.com/mchcare/mchcare/internal/platform/notification"
	"github.com/mchcare/mchcare/internal/platform/redislock"
	"github.com/mchcare/mchcare/internal/platform/sandbox"
	"github.com/mchcare/mchcare/internal/platform/sms"
	"github.com/mchcare/mchcare/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mchcare-server",
		Short: "Maternal and child health clinic API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(seedCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			target, _ := cmd.Flags().GetInt("to")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies all)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
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
	})

	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark today's unattended checkups as missed and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg)
			n, err := newSweeper(cfg, pool, logger).RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Printf("Marked %d checkup(s) as missed.\n", n)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the vaccine catalog and demo families into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.Mothers, _ = cmd.Flags().GetInt("mothers")
			seedCfg.ChildrenPerMother, _ = cmd.Flags().GetInt("children")
			seedCfg.InitialStock, _ = cmd.Flags().GetInt("stock")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			tx := db.NewTransactor(pool)
			vaccineRepo := vaccine.NewVaccineRepoPG(pool)
			movementRepo := vaccine.NewMovementRepoPG(pool)
			vaccineSvc := vaccine.NewService(vaccineRepo, movementRepo, vaccine.NewLedger(vaccineRepo, movementRepo, tx), tx)

			ctx = auth.WithUser(ctx, "system", "Seeder", auth.RoleAdmin)
			res, err := sandbox.NewSeeder(seedCfg, sandbox.NewStorePG(pool), vaccineSvc, tx, newLogger(cfg)).Seed(ctx)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Seeded %d vaccine(s) (%d already present), %d mother(s), %d child(ren).\n",
				res.Vaccines, res.VaccinesSkipped, res.Mothers, res.Children)
			return nil
		},
	}
	defaults := sandbox.DefaultSeedConfig()
	cmd.Flags().Int("mothers", defaults.Mothers, "Number of mothers to generate")
	cmd.Flags().Int("children", defaults.ChildrenPerMother, "Children generated per mother")
	cmd.Flags().Int("stock", defaults.InitialStock, "Opening stock for each catalog vaccine")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one from the clock)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.Timezone)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Dev:        cfg.IsDev(),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

func newSweeper(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *checkup.Sweeper {
	return checkup.NewSweeper(checkup.NewRepoPG(pool), checkup.SweepConfig{
		CutoffHour: cfg.SweepCutoffHour,
		Interval:   cfg.SweepInterval,
		Location:   cfg.Location(),
	}, logger)
}

// smsSender keeps a disabled client from reaching the SMS service as a
// non-nil interface holding a nil pointer.
func smsSender(c *sms.Client) notification.SMSSender {
	if c == nil {
		return nil
	}
	return c
}

func clock(loc *time.Location) func() time.Time {
	return func() time.Time { return time.Now().In(loc) }
}

// newEcho builds the server with the global middleware chain, the error
// handler and the health check. The returned group is authenticated; domain
// routes are registered on it by the caller. m may be nil.
func newEcho(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpx.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if m != nil {
		e.Use(m.Middleware())
		e.GET("/metrics", m.Handler())
	}
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	return e, e.Group("/api/v1", authMW)
}

func runServer() error {
	ctx := context.Background()
	cfg, pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := newLogger(cfg)
	logger.Info().Str("timezone", cfg.Timezone).Msg("connected to database")
	loc := cfg.Location()
	tx := db.NewTransactor(pool)

	// Notifications and SMS
	smsClient, err := sms.NewFromConfig(sms.Config{
		Enabled:    cfg.SMSEnabled,
		APIKey:     cfg.SMSIRAPIKey,
		SecretKey:  cfg.SMSIRSecretKey,
		TemplateID: cfg.SMSIRTemplateID,
	})
	if err != nil {
		return err
	}
	notifyRepo := notification.NewRepoPG(pool)
	dispatcher := notification.NewDispatcher(
		notification.NewStaffSink(notifyRepo, notification.NewRecipientsPG(pool)),
		notification.NewSMSService(smsSender(smsClient), notification.NewSMSLogRepoPG(pool), cfg.SMSDefaultRegion),
		cfg.SMSSenderTag,
		logger,
	)
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(version)
		dispatcher.WithObserver(m)
	}
	defer dispatcher.Wait()

	directory := patient.NewDirectoryPG(pool)

	// Vaccine inventory
	vaccineRepo := vaccine.NewVaccineRepoPG(pool)
	movementRepo := vaccine.NewMovementRepoPG(pool)
	vaccineSvc := vaccine.NewService(vaccineRepo, movementRepo, vaccine.NewLedger(vaccineRepo, movementRepo, tx), tx)

	// Immunizations
	immSvc := immunization.NewService(immunization.NewRepoPG(pool), vaccineSvc.Ledger(), directory, tx, dispatcher)
	immSvc.SetClock(clock(loc))

	// Prenatal records
	prenatalSvc := prenatal.NewService(prenatal.NewRecordRepoPG(pool), prenatal.NewVisitRepoPG(pool), directory, tx)
	prenatalSvc.SetClock(clock(loc))

	// Checkups
	checkupSvc := checkup.NewService(checkup.NewRepoPG(pool), directory, prenatalSvc, tx, dispatcher)
	checkupSvc.SetClock(clock(loc))

	var sweeper *checkup.Sweeper
	if cfg.SweepEnabled {
		sweeper = newSweeper(cfg, pool, logger)
		if m != nil {
			sweeper.WithObserver(m)
		}
		if cfg.RedisURL != "" {
			rdb, err := redislock.NewClient(ctx, cfg.RedisURL)
			if err != nil {
				logger.Warn().Err(err).Msg("redis unavailable; sweep runs without a cross-instance lock")
			} else {
				defer rdb.Close()
				sweeper.WithLocker(redislock.New(rdb))
			}
		}
	}

	e, apiV1 := newEcho(cfg, logger, m)
	vaccine.NewHandler(vaccineSvc).RegisterRoutes(apiV1)
	immunization.NewHandler(immSvc).RegisterRoutes(apiV1)
	prenatal.NewHandler(prenatalSvc).RegisterRoutes(apiV1)
	checkup.NewHandler(checkupSvc, sweeper).RegisterRoutes(apiV1)
	notification.NewHandler(notifyRepo).RegisterRoutes(apiV1)
	e.GET("/health/db", db.HealthHandler(pool, migrations.FS))

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	if sweeper != nil {
		go sweeper.Start(bgCtx)
	}

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
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
