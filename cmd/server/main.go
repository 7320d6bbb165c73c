package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
	"github.com/interviewace/session-server/internal/database"
	"github.com/interviewace/session-server/internal/handler"
	"github.com/interviewace/session-server/internal/jobs"
	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/redis"
	"github.com/interviewace/session-server/internal/repository"
	"github.com/interviewace/session-server/internal/service"
	"github.com/interviewace/session-server/internal/sse"
)

const jsonBodyLimit = 1 << 20

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db.DB)
	deviceRepo := repository.NewDeviceConnectionRepository(db.DB)
	otpRepo := repository.NewEmailOTPRepository(db.DB)
	transcriptRepo := repository.NewTranscriptRepository(db.DB)
	documentRepo := repository.NewDocumentRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var store service.DocumentStore
	if s3Store := service.NewS3DocumentStore(cfg); s3Store != nil {
		store = s3Store
		log.Info().Str("bucket", cfg.S3Bucket).Msg("s3 document storage enabled")
	}

	var (
		answers     service.AnswerGenerator
		transcriber service.Transcriber
	)
	if openai := service.NewOpenAIClient(cfg); openai != nil {
		answers = openai
		transcriber = openai
	} else {
		log.Warn().Msg("OPENAI_API_KEY is empty: answers fall back and speech-to-text is disabled")
	}

	var mailer service.Mailer = service.LogMailer{}
	if cfg.ResendAPIKey != "" {
		mailer = service.NewResendMailer(cfg.ResendAPIKey, cfg.ResendBaseURL, cfg.EmailFrom)
	}

	var (
		stripe   service.StripeGateway
		razorpay service.RazorpayGateway
	)
	if cfg.StripeSecretKey != "" {
		stripe = service.NewStripeClient(cfg.StripeSecretKey, cfg.StripeAPIBaseURL)
	}
	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != "" {
		razorpay = service.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayAPIBaseURL)
	}

	notifications := service.NewNotificationService(mailer, cfg.AppBaseURL)
	lifecycleService := service.NewLifecycleService(db, sessionRepo, documentRepo, store, notifications, broker)
	transcriptionService := service.NewTranscriptionService(
		db, lifecycleService, sessionRepo, transcriptRepo, documentRepo, answers, broker,
	)
	speechService := service.NewSpeechService(transcriber, cfg.AudioSampleRate)
	deviceService := service.NewDeviceSyncService(lifecycleService, deviceRepo, broker)
	checkoutService := service.NewCheckoutService(lifecycleService, stripe, razorpay, cfg.AppBaseURL)
	paymentService := service.NewPaymentService(lifecycleService)
	tokenService := service.NewTokenService(cfg.JWTSecret, config.AuthTokenTTL)
	otpService := service.NewOTPService(db, otpRepo, notifications, tokenService)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)
	jsonBodyLimitMiddleware := middleware.NewBodyLimitMiddleware(jsonBodyLimit)
	uploadBodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxUploadBodySize)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	sessionCodeLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, service.SessionCodePolicy(cfg.SessionCodeAttempts))
	speechLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, service.SpeechPolicy)
	stripeSignatureMiddleware := middleware.NewStripeSignatureMiddleware(cfg.StripeWebhookSecret)
	razorpaySignatureMiddleware := middleware.NewRazorpaySignatureMiddleware(cfg.RazorpayWebhookSecret)

	sessionHandler := handler.NewSessionHandler(lifecycleService, transcriptionService)
	transcriptionHandler := handler.NewTranscriptionHandler(transcriptionService, speechService)
	deviceHandler := handler.NewDeviceHandler(deviceService)
	emailHandler := handler.NewEmailHandler(notifications, otpService, rateLimiter)
	checkoutHandler := handler.NewCheckoutHandler(checkoutService)
	webhookHandler := handler.NewWebhookHandler(paymentService)
	eventsHandler := handler.NewEventsHandler(broker, lifecycleService, transcriptionService)
	audioHandler := handler.NewAudioStreamHandler(
		lifecycleService, speechService, transcriptionService, cfg.AudioFlushSamples(), cfg.AudioSampleRate,
	)

	r := chi.NewRouter()

	r.Use(middleware.CORS)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
			"clients":   broker.TotalClients(),
		})
	})

	// Webhooks are signed by the provider and carry no bearer token.
	r.Route("/v1/stripe-webhook", func(r chi.Router) {
		r.Use(jsonBodyLimitMiddleware.Handler)
		r.Use(stripeSignatureMiddleware.Handler)
		r.Post("/", webhookHandler.Stripe)
	})
	r.Route("/v1/razorpay-webhook", func(r chi.Router) {
		r.Use(jsonBodyLimitMiddleware.Handler)
		r.Use(razorpaySignatureMiddleware.Handler)
		r.Post("/", webhookHandler.Razorpay)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(jsonBodyLimitMiddleware.Handler)

			r.Post("/v1/create-checkout-session", checkoutHandler.CreateCheckoutSession)
			r.Post("/v1/create-stripe-checkout", checkoutHandler.CreateStripeCheckout)
			r.Post("/v1/create-razorpay-order", checkoutHandler.CreateRazorpayOrder)
			r.Post("/v1/process-transcription", transcriptionHandler.ProcessTranscription)
			r.Post("/v1/generate-interview-answer", transcriptionHandler.GenerateAnswer)
			r.Post("/v1/cross-device-sync", deviceHandler.Sync)
			r.Post("/v1/send-otp-email", emailHandler.SendOTP)
			r.Post("/v1/verify-otp", emailHandler.VerifyOTP)
			r.Post("/v1/send-session-email", emailHandler.SendSessionEmail)
			r.Post("/v1/send-upload-link", emailHandler.SendUploadLink)
			r.With(sessionCodeLimitMiddleware.Handler).Post("/v1/verify-session-code", sessionHandler.VerifySessionCode)
			r.Mount("/v1/sessions", sessionHandler.Routes())
		})

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(uploadBodyLimitMiddleware.Handler)

			r.Post("/v1/process-session-assets", sessionHandler.ProcessAssets)
			r.With(speechLimitMiddleware.Handler).Post("/v1/speech-to-text", transcriptionHandler.SpeechToText)
		})

		// Long-lived streams: no request timeout.
		r.Get("/v1/sessions/{sessionID}/events", eventsHandler.ServeHTTP)
		r.Get("/v1/sessions/{sessionID}/audio", audioHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(sessionRepo, deviceRepo, otpRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
