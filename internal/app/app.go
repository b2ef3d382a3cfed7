// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	agentspostgres "github.com/bissquit/listing-dispatch/internal/agents/postgres"
	"github.com/bissquit/listing-dispatch/internal/assignment"
	assignmentpostgres "github.com/bissquit/listing-dispatch/internal/assignment/postgres"
	"github.com/bissquit/listing-dispatch/internal/config"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/identity/jwt"
	"github.com/bissquit/listing-dispatch/internal/notifications"
	"github.com/bissquit/listing-dispatch/internal/notifications/email"
	"github.com/bissquit/listing-dispatch/internal/notifications/mattermost"
	"github.com/bissquit/listing-dispatch/internal/notifications/sms"
	"github.com/bissquit/listing-dispatch/internal/notifications/telegram"
	"github.com/bissquit/listing-dispatch/internal/pkg/ctxlog"
	"github.com/bissquit/listing-dispatch/internal/pkg/httputil"
	"github.com/bissquit/listing-dispatch/internal/pkg/metrics"
	"github.com/bissquit/listing-dispatch/internal/pkg/postgres"
	propertiespostgres "github.com/bissquit/listing-dispatch/internal/properties/postgres"
	"github.com/bissquit/listing-dispatch/internal/version"
	"github.com/bissquit/listing-dispatch/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupTimeout bounds building senders and routes once the database is up.
const setupTimeout = 30 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	assignments   *assignment.Service
}

// New creates a new application instance. Offers left pending by a previous
// process are recovered before New returns when assignment.recover_on_start is set.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(migrations.FS, cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go metrics.CollectDBPoolMetrics(metricsCtx, db, 15*time.Second)

	setupCtx, setupCancel := context.WithTimeout(context.Background(), setupTimeout)
	defer setupCancel()

	router, err := app.setupRouter(setupCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	if cfg.Assignment.RecoverOnStart {
		recoverCtx := ctxlog.WithLogger(context.Background(), logger)
		if err := app.assignments.Recover(recoverCtx); err != nil {
			db.Close()
			metricsCancel()
			return nil, fmt.Errorf("recover pending offers: %w", err)
		}
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// connectDatabase opens the pool within cfg.ConnectTimeout.
func connectDatabase(cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// No timeout may fire against a closing pool. Pending offers are
	// re-armed by the next process.
	a.assignments.Stop()

	a.metricsCancel()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Assignments returns the assignment service. Used in tests to drive timeouts.
func (a *App) Assignments() *assignment.Service {
	return a.assignments
}

func (a *App) setupNotifications(ctx context.Context) (*notifications.OfferNotifier, *notifications.PoolAlerter, error) {
	cfg := a.config.Notifications

	emailSender, err := email.NewSender(email.Config{
		Enabled:      cfg.Email.Enabled,
		SMTPHost:     cfg.Email.SMTPHost,
		SMTPPort:     cfg.Email.SMTPPort,
		SMTPUser:     cfg.Email.SMTPUser,
		SMTPPassword: cfg.Email.SMTPPassword,
		FromAddress:  cfg.Email.FromAddress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create email sender: %w", err)
	}

	smsSender, err := sms.NewSender(ctx, sms.Config{
		Enabled:  cfg.SMS.Enabled,
		Region:   cfg.SMS.Region,
		SenderID: cfg.SMS.SenderID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create sms sender: %w", err)
	}

	telegramSender, err := telegram.NewSender(telegram.Config{
		Enabled:   cfg.Telegram.Enabled,
		BotToken:  cfg.Telegram.BotToken,
		RateLimit: cfg.Telegram.RateLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create telegram sender: %w", err)
	}

	mattermostSender := mattermost.NewSender(mattermost.Config{
		Username: cfg.Mattermost.Username,
		IconURL:  cfg.Mattermost.IconURL,
		Channel:  cfg.Mattermost.Channel,
		Timeout:  cfg.Mattermost.Timeout,
	})

	slog.Info("notifications configured",
		"email_enabled", cfg.Email.Enabled,
		"sms_enabled", cfg.SMS.Enabled,
		"telegram_enabled", cfg.Telegram.Enabled,
		"ops_alerts_enabled", cfg.Mattermost.WebhookURL != "",
	)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("create notification renderer: %w", err)
	}

	// Only enabled channels are registered, so an agent reachable on none of
	// them yields an undelivered offer instead of a silent skip.
	senders := []notifications.Sender{mattermostSender}
	if cfg.Email.Enabled {
		senders = append(senders, emailSender)
	}
	if cfg.SMS.Enabled {
		senders = append(senders, smsSender)
	}
	if cfg.Telegram.Enabled {
		senders = append(senders, telegramSender)
	}
	dispatcher := notifications.NewDispatcher(senders...)

	var alerter *notifications.PoolAlerter
	if cfg.Mattermost.WebhookURL != "" {
		alerter = notifications.NewPoolAlerter(renderer, dispatcher, cfg.Mattermost.WebhookURL)
	}

	return notifications.NewOfferNotifier(renderer, dispatcher), alerter, nil
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	notifier, alerter, err := a.setupNotifications(ctx)
	if err != nil {
		return nil, err
	}

	propertyStore := propertiespostgres.NewStore(a.db)
	directory := agentspostgres.NewDirectory(a.db)
	repo := assignmentpostgres.NewRepository(a.db, propertyStore)

	opts := []assignment.Option{}
	if alerter != nil {
		opts = append(opts, assignment.WithAlerter(alerter))
	}

	a.assignments = assignment.NewService(
		repo,
		propertyStore,
		directory,
		notifier,
		assignment.TimerScheduler{},
		assignment.Config{
			Window:      a.config.Assignment.Window,
			MaxRounds:   a.config.Assignment.MaxRounds,
			SendTimeout: a.config.Assignment.SendTimeout,
			BaseURL:     a.config.Assignment.BaseURL,
		},
		opts...,
	)
	assignmentHandler := assignment.NewHandler(a.assignments)

	tokens := jwt.NewAuthenticator(jwt.Config{
		SecretKey: a.config.JWT.SecretKey,
		Issuer:    a.config.JWT.Issuer,
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(tokens))

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAgent))
			assignmentHandler.RegisterAgentRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			assignmentHandler.RegisterAdminRoutes(r)
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
