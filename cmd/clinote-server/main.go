package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/clinote/clinote/internal/config"
	"github.com/clinote/clinote/internal/domain/auditlog"
	"github.com/clinote/clinote/internal/domain/encounter"
	"github.com/clinote/clinote/internal/domain/identity"
	"github.com/clinote/clinote/internal/domain/notegen"
	"github.com/clinote/clinote/internal/platform/apierror"
	"github.com/clinote/clinote/internal/platform/auth"
	"github.com/clinote/clinote/internal/platform/db"
	"github.com/clinote/clinote/internal/platform/genai"
	"github.com/clinote/clinote/internal/platform/middleware"
	"github.com/clinote/clinote/internal/platform/phi"
	"github.com/clinote/clinote/internal/platform/telemetry"
	"github.com/clinote/clinote/migrations"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// devSigningKey is only used when ENV=development and JWT_SECRET_KEY is unset.
const devSigningKey = "clinote-development-signing-key-do-not-use"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clinote-server",
		Short:        "Clinote clinical documentation API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	return rootCmd
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

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func signingKey(cfg *config.Config) []byte {
	if cfg.JWTSecretKey == "" && cfg.IsDev() {
		return []byte(devSigningKey)
	}
	return []byte(cfg.JWTSecretKey)
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "clinote-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var revocations auth.RevocationStore
	if cfg.RedisURL != "" {
		rdb, err := auth.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		revocations = auth.NewRedisRevocationStore(rdb)
		logger.Info().Msg("using redis token revocation store")
	} else {
		mem := auth.NewMemoryRevocationStore(time.Minute)
		defer mem.Close()
		revocations = mem
		logger.Warn().Msg("REDIS_URL not set, revoked tokens are kept in memory")
	}

	key := signingKey(cfg)
	if cfg.JWTSecretKey == "" {
		logger.Warn().Msg("JWT_SECRET_KEY not set, using development signing key")
	}
	tokens, err := auth.NewTokenIssuer(key, cfg.JWTIssuer, cfg.AccessTokenTTL())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token issuer")
	}

	gen, err := genai.NewClient(genai.Config{
		APIKey:            cfg.GeminiAPIKey,
		Model:             cfg.GeminiModel,
		BaseURL:           cfg.GeminiBaseURL,
		RequestsPerMinute: cfg.AIRateLimitRPM,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create model client")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set, note generation is disabled")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierror.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware(otel.GetTracerProvider(), otel.GetMeterProvider()))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	e.GET("/health", db.LivenessHandler("clinote"))
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api")
	api.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  key,
		Revocations: revocations,
		Skipper:     auth.AuthSkipper,
		Logger:      logger,
	}))

	// Identity
	identitySvc := identity.NewService(identity.NewRepo(pool), tokens, revocations, logger)
	identity.NewHandler(identitySvc).RegisterRoutes(api)

	// Encounters (with optional transcript encryption)
	encounterRepo := encounter.NewRepo(pool)
	cipher, err := phi.NewCipherFromHex(cfg.PHIEncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create PHI cipher")
	}
	if cipher != nil {
		encounterRepo = encounter.NewRepoWithEncryption(pool, cipher)
		logger.Info().Msg("transcript encryption enabled")
	} else {
		logger.Warn().Msg("PHI_ENCRYPTION_KEY not set, transcripts are stored unencrypted")
	}
	encounterSvc := encounter.NewService(
		encounterRepo,
		auditlog.NewRepo(pool),
		db.NewTransactor(pool),
		logger,
		cfg.ViewAuditMode,
	)
	encounter.NewHandler(encounterSvc).RegisterRoutes(api)

	// Note generation
	notegen.NewHandler(notegen.NewService(gen, logger)).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// migrationsFS returns the embedded migrations unless dir is set.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationsFS(dir)))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				mig, err := m.Down(ctx)
				if err != nil {
					return err
				}
				if mig == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No applied migrations to revert.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reverted migration %d (%s).\n", mig.Version, mig.Name)
				return nil
			})
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := identity.RegisterInput{}
			in.Email, _ = cmd.Flags().GetString("email")
			in.Name, _ = cmd.Flags().GetString("name")
			in.Password, _ = cmd.Flags().GetString("password")
			in.Role, _ = cmd.Flags().GetString("role")

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

			logger := newLogger(cfg.Env, cmd.ErrOrStderr())
			svc := identity.NewService(identity.NewRepo(pool), nil, nil, logger)
			u, err := svc.Register(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s, role %s).\n", u.ID, u.Email, u.Role)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("role", auth.RoleProvider, "Role: provider, staff or admin")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("password")
	cmd.AddCommand(createCmd)

	return cmd
}
