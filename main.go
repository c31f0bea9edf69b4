package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/auth"
	"github.com/MGallo-Code/murmur/internal/captcha"
	"github.com/MGallo-Code/murmur/internal/config"
	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/mail"
	"github.com/MGallo-Code/murmur/internal/metrics"
	"github.com/MGallo-Code/murmur/internal/seed"
	"github.com/MGallo-Code/murmur/internal/session"
	"github.com/MGallo-Code/murmur/internal/social"
	"github.com/MGallo-Code/murmur/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Cancel ctx on SIGINT/SIGTERM; commands shut down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, nil, nil)
		},
	}

	root := &cobra.Command{
		Use:           "murmur",
		Short:         "Micro-blogging server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	root.AddCommand(serve,
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := setup()
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Fill the database with sample users, posts, and follows",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := setup()
				if err != nil {
					return err
				}
				return seedDB(cmd.Context(), cfg)
			},
		},
	)
	return root
}

// setup loads .env and config, then installs the JSON logger.
func setup() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Include source location in log entries at debug level only.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))
	return cfg, nil
}

// openStore connects to Postgres and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.PostgresStore, error) {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to set up postgres store: %w", err)
	}
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	n, err := ps.Migrate(ctx, migrationsFS)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if n > 0 {
		slog.Info("migrations applied", "count", n)
	}
	return ps, nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	ps, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	ps.Close()
	return nil
}

func seedDB(ctx context.Context, cfg *config.Config) error {
	ps, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ps.Close()

	hasher, err := credential.NewHasher(credential.ParamsFor(cfg.AppEnv))
	if err != nil {
		return err
	}
	res, err := seed.Run(ctx, ps, social.NewService(ps), hasher, seed.DefaultOptions(cfg.SeedUsers))
	if err != nil {
		return err
	}
	slog.Info("seed complete", "users", res.Users, "microposts", res.Microposts, "follows", res.Follows)
	return nil
}

// outboundMailer picks SMTP when configured. Without SMTP, development and test
// log the links; production discards mail rather than writing tokens to the log.
func outboundMailer(cfg *config.Config) mail.Mailer {
	switch {
	case cfg.SMTPHost != "":
		return mail.NewSMTPMailer(mail.SMTPConfig{
			Host:              cfg.SMTPHost,
			Port:              cfg.SMTPPort,
			Username:          cfg.SMTPUsername,
			Password:          cfg.SMTPPassword,
			FromAddress:       cfg.SMTPFromAddress,
			ActivationURLBase: cfg.ActivationURLBase,
			ResetURLBase:      cfg.ResetURLBase,
		})
	case cfg.AppEnv == config.EnvDevelopment || cfg.AppEnv == config.EnvTest:
		return &mail.LogMailer{
			ActivationURLBase: cfg.ActivationURLBase,
			ResetURLBase:      cfg.ResetURLBase,
		}
	default:
		slog.Warn("SMTP_HOST not set; activation and reset emails will not be sent", "env", cfg.AppEnv)
		return &mail.NopMailer{}
	}
}

// newMailer puts the Redis queue in front of inner. A nil inner uses outboundMailer.
func newMailer(cfg *config.Config, rdb *redis.Client, inner mail.Mailer) (*mail.QueuedMailer, error) {
	if inner == nil {
		inner = outboundMailer(cfg)
	}
	key, err := session.DeriveKey([]byte(cfg.SecretKeyBase), "murmur mail queue")
	if err != nil {
		return nil, err
	}
	return mail.NewQueuedMailer(inner, rdb, key, cfg.MailQueueMax)
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
// inner overrides the outbound mailer behind the queue; nil chooses from cfg.
func run(ctx context.Context, cfg *config.Config, ready chan<- string, inner mail.Mailer) error {
	ps, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ps.Close()

	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()

	hasher, err := credential.NewHasher(credential.ParamsFor(cfg.AppEnv))
	if err != nil {
		return err
	}
	mailer, err := newMailer(cfg, rdb, inner)
	if err != nil {
		return fmt.Errorf("failed to set up mailer: %w", err)
	}

	// Worker stops when run() returns.
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.MailWorker {
		go mailer.StartWorker(workerCtx)
	}

	accounts := account.NewService(ps, hasher, mailer)
	sessions, err := session.NewManager(accounts, session.Config{
		Secret: []byte(cfg.SecretKeyBase),
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up sessions: %w", err)
	}

	h := &auth.Handler{
		Accounts: accounts,
		Social:   social.NewService(ps),
		Sessions: sessions,
		Checks: map[string]auth.HealthChecker{
			"postgres": ps,
			"redis":    store.NewRedisHealth(rdb),
		},
	}
	if cfg.TurnstileSecret != "" {
		h.Captcha = captcha.NewTurnstile(cfg.TurnstileSecret)
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("murmur listening", "addr", ln.Addr().String(), "env", cfg.AppEnv)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Stops accepting connections and waits for in-flight requests.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from the smoke tests.
func buildRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.CheckHealth)
	r.Handle("/metrics", metrics.Handler())

	// Logout only drops privilege, so it skips the CSRF check. A browser restored
	// from the remember cookies has not seen its new token yet.
	r.With(h.Sessions.Load).Delete("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		// Load resolves the session; RequireCSRF needs the resolved user.
		// DO NOT RUN RequireCSRF BEFORE Load
		r.Use(h.Sessions.Load)
		r.Use(h.Sessions.RequireCSRF)

		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Get("/account_activations/{token}/edit", h.EditActivation)
		r.Post("/password_resets", h.CreatePasswordReset)
		r.Get("/password_resets/{token}/edit", h.EditPasswordReset)
		r.Patch("/password_resets/{token}", h.UpdatePasswordReset)
		r.Get("/users/{id}", h.ShowUser)

		// Logged-in routes
		r.Group(func(r chi.Router) {
			r.Use(h.Sessions.RequireUser)
			r.Get("/users", h.ListUsers)
			r.Patch("/users/{id}", h.UpdateUser)
			r.Delete("/users/{id}", h.DeleteUser)
			r.Get("/users/{id}/following", h.Following)
			r.Get("/users/{id}/followers", h.Followers)
			r.Get("/feed", h.Feed)
			r.Post("/microposts", h.CreateMicropost)
			r.Delete("/microposts/{id}", h.DeleteMicropost)
			r.Post("/relationships", h.CreateRelationship)
			r.Delete("/relationships/{followed_id}", h.DeleteRelationship)
		})
	})

	return r
}
