// Package server wires clients, services, handlers and routes, and owns the
// process lifecycle.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → clients (sqlite, Mercado Livre, Mercado Pago, OpenAI,
//	                Telegram, SMTP, PostHog, queue)
//	clients       → services (credential, pipeline, approval, listing,
//	                finance, billing, user, admin)
//	services      → handlers → routes
//
// Every client is built once in New. Optional integrations that are not
// configured are left as nil interfaces, and the services answer the
// matching operations with "service unavailable".
//
// ROUTE STRUCTURE:
//
//	public   /health, /metrics, /api/clerk-config, webhooks, static files
//	auth     /api/me*, /api/ml-auth-url, /api/ml-oauth-callback,
//	         /api/ml-status, /api/calculate-profit,
//	         /api/create-checkout-session
//	paid     /api/ml/*, /api/financial-panel*, /api/questions/*
//	admin    /api/admin/*
package server

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/mercado-insights/internal/auth"
	"github.com/sakif/mercado-insights/internal/billing"
	"github.com/sakif/mercado-insights/internal/config"
	"github.com/sakif/mercado-insights/internal/handler"
	"github.com/sakif/mercado-insights/internal/llm"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/middleware"
	"github.com/sakif/mercado-insights/internal/notify"
	sqliteRepo "github.com/sakif/mercado-insights/internal/repository/sqlite"
	"github.com/sakif/mercado-insights/internal/scheduler"
	"github.com/sakif/mercado-insights/internal/secret"
	"github.com/sakif/mercado-insights/internal/service"
	"github.com/sakif/mercado-insights/internal/telemetry"
	"github.com/sakif/mercado-insights/internal/worker"
)

const (
	webhookMercadoLivre = "/api/webhooks/mercadolivre"

	insightsTimeout  = 60 * time.Second
	retentionTimeout = 5 * time.Minute
	shutdownTimeout  = 30 * time.Second
)

// Server holds the router and every resource that must be released on
// shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger

	db        *sqliteRepo.DB
	telemetry telemetry.Telemetry
	scheduler *scheduler.Scheduler

	// Exactly one queue backend is set.
	pool        *worker.Pool
	asynqQueue  *worker.AsynqQueue
	asynqServer *worker.AsynqServer

	// stopBackground ends the JWKS refresh goroutine.
	stopBackground context.CancelFunc
}

// New builds every dependency from cfg. Nothing runs until Start.
func New(cfg config.Config, logger *slog.Logger) (_ *Server, err error) {
	bg, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:         chi.NewRouter(),
		config:         cfg,
		logger:         logger,
		stopBackground: cancel,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	box, err := secret.New(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("creating token sealer: %w", err)
	}
	s.db, err = sqliteRepo.New(cfg.DBPath, box)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s.telemetry = telemetry.NewNoop()
	if cfg.PostHog.Enabled() {
		if s.telemetry, err = telemetry.NewPostHog(cfg.PostHog.APIKey, cfg.PostHog.Endpoint); err != nil {
			return nil, fmt.Errorf("creating posthog client: %w", err)
		}
	}

	verifier, err := newVerifier(bg, cfg.Clerk)
	if err != nil {
		return nil, err
	}

	queue, err := s.newQueue()
	if err != nil {
		return nil, err
	}

	s.scheduler = scheduler.New(logger)
	if err := s.scheduler.Add("feedback-retention", cfg.FeedbackRetentionSchedule,
		scheduler.Retention(s.db, cfg.FeedbackRetention, retentionTimeout, logger)); err != nil {
		return nil, err
	}

	s.setupRoutes(verifier, queue)
	return s, nil
}

func newVerifier(ctx context.Context, cfg config.ClerkConfig) (auth.Verifier, error) {
	if cfg.JWKSURL != "" {
		v, err := auth.NewClerkVerifier(ctx, cfg.JWKSURL, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("creating clerk verifier: %w", err)
		}
		return v, nil
	}
	v, err := auth.NewTokenService(cfg.DevJWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating development verifier: %w", err)
	}
	return v, nil
}

// newQueue picks Redis-backed jobs when REDIS_URL is set and the in-process
// pool otherwise.
func (s *Server) newQueue() (worker.Queue, error) {
	w := s.config.Workers
	if s.config.RedisURL == "" {
		s.pool = worker.NewPool(worker.PoolConfig{
			Workers:    w.Count,
			QueueSize:  w.QueueSize,
			JobTimeout: w.JobTimeout,
		}, s.logger)
		return s.pool, nil
	}

	var err error
	if s.asynqQueue, err = worker.NewAsynqQueue(s.config.RedisURL, w.JobTimeout); err != nil {
		return nil, err
	}
	if s.asynqServer, err = worker.NewAsynqServer(s.config.RedisURL, w.Count, s.logger); err != nil {
		return nil, err
	}
	return s.asynqQueue, nil
}

func (s *Server) handleJob(kind string, h worker.Handler) {
	if s.pool != nil {
		s.pool.Handle(kind, h)
		return
	}
	s.asynqServer.Handle(kind, h)
}

func (s *Server) setupRoutes(verifier auth.Verifier, queue worker.Queue) {
	cfg := s.config
	timeout := cfg.HTTPClientTimeout

	// === Clients ===
	market := marketplace.New(marketplace.Config{
		BaseURL:   cfg.MercadoLivre.APIURL,
		Timeout:   timeout,
		RateLimit: cfg.MercadoLivre.RateLimit,
	}, s.logger)

	var provider service.OAuthProvider
	if cfg.MercadoLivre.Enabled() {
		provider = auth.NewMercadoLivreProvider(auth.MercadoLivreConfig{
			ClientID:     cfg.MercadoLivre.AppID,
			ClientSecret: cfg.MercadoLivre.SecretKey,
			RedirectURL:  cfg.MercadoLivre.RedirectURI,
			AuthURL:      cfg.MercadoLivre.AuthURL,
			APIURL:       cfg.MercadoLivre.APIURL,
			Timeout:      timeout,
		})
	} else {
		s.logger.Warn("ML_APP_ID not set, marketplace connection is disabled")
	}

	var (
		drafter  service.Drafter
		analyzer service.Analyzer
	)
	if cfg.OpenAI.Enabled() {
		llmConfig := llm.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: service.DraftTimeout,
		}
		drafter = llm.New(llmConfig)
		// Insights run inside the request and get the longer limit.
		llmConfig.Timeout = insightsTimeout
		analyzer = llm.New(llmConfig)
	} else {
		s.logger.Warn("OPENAI_API_KEY not set, drafts use the fallback answer")
	}

	var chat notify.ChatSender
	if cfg.Telegram.Enabled() {
		chat = notify.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.BotToken, timeout)
	}
	var mail notify.MailSender
	if cfg.SMTP.Enabled() {
		mail = notify.NewEmail(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  timeout,
		})
	}
	notifier := notify.NewNotifier(chat, mail, cfg.FrontendURL, s.logger)

	var gateway service.PaymentGateway
	if cfg.MercadoPago.Enabled() {
		gateway = billing.New(billing.Config{
			BaseURL:     cfg.MercadoPago.APIURL,
			AccessToken: cfg.MercadoPago.AccessToken,
			Timeout:     timeout,
		})
	}

	var directory service.EmailDirectory
	if cfg.Clerk.SecretKey != "" {
		directory = auth.NewClerkDirectory(cfg.Clerk.APIURL, cfg.Clerk.SecretKey, timeout)
	}

	// === Services ===
	users := service.NewUserService(s.db, directory, notifier, cfg.AdminEmails, s.logger)
	credentials := service.NewCredentialService(s.db, s.db, provider, market, s.telemetry, s.logger)
	pipeline := service.NewQuestionPipeline(service.PipelineDeps{
		Users:       s.db,
		Credentials: s.db,
		Questions:   s.db,
		Feedback:    s.db,
		Tokens:      credentials,
		Market:      market,
		Drafter:     drafter,
		Notifier:    notifier,
		Queue:       queue,
		Telemetry:   s.telemetry,
		Logger:      s.logger,
	})
	s.handleJob(service.JobProcessQuestion, pipeline.ProcessPayload)

	approvals := service.NewApprovalService(s.db, credentials, market, s.telemetry, s.logger)
	listings := service.NewListingService(credentials, market, s.db, s.logger)
	finances := service.NewFinanceService(credentials, market, s.db, analyzer, s.logger)
	payments := service.NewBillingService(gateway, s.db, s.db, s.telemetry, service.BillingConfig{
		PlanAmount:  cfg.MercadoPago.PlanValue,
		PlanReason:  cfg.MercadoPago.PlanReason,
		FrontendURL: cfg.FrontendURL,
		BackendURL:  cfg.BackendURL,
	}, s.logger)
	admin := service.NewAdminService(s.db, s.db)

	// === Handlers ===
	systemHandler := handler.NewSystemHandler(handler.ClerkPublicConfig{
		PublishableKey: cfg.Clerk.PublishableKey,
		FrontendAPI:    cfg.Clerk.FrontendAPI,
	}, s.db, s.logger)
	accountHandler := handler.NewAccountHandler(users, s.logger)
	connectHandler := handler.NewConnectHandler(credentials, s.logger)
	listingHandler := handler.NewListingHandler(listings, s.logger)
	questionHandler := handler.NewQuestionHandler(approvals, pipeline, s.logger)
	financeHandler := handler.NewFinanceHandler(finances, s.logger)
	billingHandler := handler.NewBillingHandler(payments, s.logger)
	adminHandler := handler.NewAdminHandler(admin, s.logger)

	// === Global middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === Public ===
	s.router.Get("/health", systemHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/api/clerk-config", systemHandler.HandleClerkConfig)
	s.router.Post(webhookMercadoLivre, questionHandler.HandleWebhook)
	s.router.Post(service.PaymentWebhookPath, billingHandler.HandleWebhook)

	// === Authenticated ===
	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(verifier, s.logger))
		r.Use(auth.RequireUser(users, s.logger))

		r.Get("/me", accountHandler.HandleMe)
		r.Put("/me/notifications", accountHandler.HandleUpdateNotifications)
		r.Post("/me/notifications/test", accountHandler.HandleTestNotification)

		r.Get("/ml-auth-url", connectHandler.HandleAuthURL)
		r.Post("/ml-oauth-callback", connectHandler.HandleCallback)
		r.Get("/ml-status", connectHandler.HandleStatus)

		r.Post("/calculate-profit", financeHandler.HandleCalculate)
		r.Post("/create-checkout-session", billingHandler.HandleCheckout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePaid(users))

			r.Get("/ml/items", listingHandler.HandleItems)
			r.Get("/ml/items/{itemID}", listingHandler.HandleItem)
			r.Get("/ml/orders", listingHandler.HandleOrders)
			r.Get("/ml/orders/{orderID}", listingHandler.HandleOrder)
			r.Get("/ml/questions", listingHandler.HandleQuestions)
			r.Get("/ml/search", listingHandler.HandleSearch)
			r.Get("/ml/compare/{itemID}", listingHandler.HandleCompare)
			r.Get("/ml/metrics", listingHandler.HandleMetrics)

			r.Get("/financial-panel", financeHandler.HandlePanel)
			r.Post("/financial-panel/costs", financeHandler.HandleSaveCosts)
			r.Post("/financial-panel/ai-insights", financeHandler.HandleInsights)

			r.Get("/questions/pending", questionHandler.HandlePending)
			r.Post("/questions/{questionID}/answer", questionHandler.HandleAnswer)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(users))

			r.Get("/admin/users", adminHandler.HandleUsers)
			r.Get("/admin/subscriptions", adminHandler.HandleSubscriptions)
		})
	})

	// === Static files ===
	s.router.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
}

func (s *Server) allowedOrigins() []string {
	if len(s.config.CORSOrigins) > 0 {
		return s.config.CORSOrigins
	}
	return []string{s.config.FrontendURL}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the background workers and the HTTP server, and blocks until
// SIGINT/SIGTERM or a listener failure. Shutdown order: stop accepting
// requests, drain background jobs, stop the scheduler, release clients.
// Workers and the scheduler are stopped before Close on every return path.
func (s *Server) Start() error {
	defer s.Close()

	if s.pool != nil {
		s.pool.Start()
	} else if err := s.asynqServer.Start(); err != nil {
		return err
	}
	s.scheduler.Start()
	defer s.stopBackgroundWork()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// AI insights run inside the request.
		WriteTimeout: insightsTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("env", s.config.Env),
			slog.String("database", s.config.DBPath),
			slog.Bool("redis", s.config.RedisURL != ""),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// stopBackgroundWork drains the job workers and the scheduler, each with
// its own shutdownTimeout. It returns only after every worker goroutine has
// exited, so Close never releases the database under a running job.
func (s *Server) stopBackgroundWork() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.pool != nil {
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Warn("worker pool did not drain", slog.String("error", err.Error()))
		}
	} else {
		s.asynqServer.Stop()
	}

	schedCtx, schedCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer schedCancel()
	if err := s.scheduler.Stop(schedCtx); err != nil {
		s.logger.Warn("scheduler did not stop in time", slog.String("error", err.Error()))
	}
	s.logger.Info("background work stopped")
}

// Close releases clients and the database. It is safe to call on a
// partially built Server.
func (s *Server) Close() {
	if s.asynqQueue != nil {
		if err := s.asynqQueue.Close(); err != nil {
			s.logger.Warn("closing asynq client", slog.String("error", err.Error()))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Close(); err != nil {
			s.logger.Warn("closing telemetry", slog.String("error", err.Error()))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}
	s.stopBackground()
}
