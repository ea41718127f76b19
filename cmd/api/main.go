package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medagenda/citas-ai-platform/cmd/mainconfig"
	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/api/router"
	"github.com/medagenda/citas-ai-platform/internal/app/bootstrap"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/booking"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	appconfig "github.com/medagenda/citas-ai-platform/internal/config"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/internal/dedup"
	"github.com/medagenda/citas-ai-platform/internal/directory"
	"github.com/medagenda/citas-ai-platform/internal/http/handlers"
	"github.com/medagenda/citas-ai-platform/internal/notify"
	observemetrics "github.com/medagenda/citas-ai-platform/internal/observability/metrics"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/internal/reminders"
	"github.com/medagenda/citas-ai-platform/internal/subscriptions"
	"github.com/medagenda/citas-ai-platform/internal/tokens"
	"github.com/medagenda/citas-ai-platform/internal/webchat"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting citas-ai-platform API server", "env", cfg.Env, "port", cfg.Port)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, sqlDB, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	defer func() { _ = sqlDB.Close() }()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Stores.
	accountStore := accounts.NewStore(pool)
	bookingStore := bookings.NewStore(pool)
	paymentStore := payments.NewStore(pool)
	tokenStore := tokens.NewStore(pool)
	dedupStore := dedup.NewStore(pool)
	subscriptionStore := subscriptions.NewStore(pool)
	tierStore := subscriptions.NewTierStore(pool, subscriptionStore)
	directoryStore := directory.NewStore(pool)
	convStore := conversation.NewStore(sqlDB,
		time.Duration(cfg.ConversationTTLHours)*time.Hour, cfg.MaxConversationMessages)

	// CRM access: token manager + authenticated client + slot resolver.
	tokenManager := tokens.NewManager(tokenStore, tokens.OAuthConfig{
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		RedirectURI:  cfg.CRMRedirectURI,
		BaseURL:      cfg.CRMBaseURL,
	}, logger)
	crmClient := crm.NewClient(cfg.CRMBaseURL, tokenManager, logger)
	resolver := availability.NewResolver(crmClient, logger)

	// Outbound WhatsApp.
	sender := chatapp.NewClient(cfg.WhatsAppGraphBaseURL, cfg.WhatsAppAccessToken, logger)

	// Stripe.
	stripeClient := payments.NewStripeClient(cfg.StripeSecretKey, logger)
	checkout := payments.NewCheckoutService(stripeClient, paymentStore, cfg.PaymentSuccessURL, cfg.PaymentCancelURL)
	connect := payments.NewConnectService(stripeClient, accountStore)
	billing := payments.NewBillingService(stripeClient, accountStore, tierStore, logger)

	// Operator email notifications.
	notifier := notify.NewService(buildEmailSender(cfg, awsCfg, logger), logger)

	// Metrics (default Prometheus registry, exposed at /metrics).
	webhookMetrics := observemetrics.NewWebhookMetrics(nil)
	bookingMetrics := observemetrics.NewBookingMetrics(nil)

	pipeline := booking.NewPipeline(booking.Config{
		Bookings:         bookingStore,
		Payments:         paymentStore,
		Conversations:    convStore,
		Calendar:         crmClient,
		Slots:            resolver,
		Tenants:          accountStore,
		Messenger:        sender,
		Checkout:         checkout,
		Notifier:         notifier,
		Metrics:          bookingMetrics,
		TemplateName:     cfg.ConfirmationTemplate,
		TemplateLanguage: cfg.TemplateLanguage,
		Logger:           logger,
	})

	llmClient, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}
	assistant := conversation.NewAssistant(llmClient, cfg.LLMModel, cfg.LLMTemperature, logger)

	engine := conversation.NewEngine(convStore, assistant, sender, crmClient,
		resolver, bookingStore, pipeline, checkout, logger)

	// Inbound queue + publisher.
	queue, err := bootstrap.BuildQueue(cfg, sqs.NewFromConfig(awsCfg), logger)
	if err != nil {
		logger.Error("failed to build conversation queue", "error", err)
		os.Exit(1)
	}
	publisher := conversation.NewPublisher(queue, logger)

	// Web chat runs a second engine whose messenger pushes into the widget's
	// session registry instead of WhatsApp.
	webchatHandler := webchat.NewHandler(nil, accountStore, convStore, webchat.WidgetJS, logger)
	webMessenger := webchat.NewReplyMessenger(webchatHandler, logger)
	webEngine := conversation.NewEngine(convStore, assistant, webMessenger, crmClient,
		resolver, bookingStore, pipeline, checkout, logger)
	webchatHandler.Bind(webEngine)

	// Stripe webhooks.
	stripeWebhook := payments.NewPlatformWebhookHandler(cfg.StripeWebhookSecret,
		paymentStore, accountStore, pipeline, dedupStore, logger)
	syncer := subscriptions.NewSyncer(subscriptionStore, accountStore, logger)
	subscriptionWebhook := payments.NewSubscriptionWebhookHandler(
		cfg.StripeSubscriptionWebhookSecret, syncer, dedupStore, logger)

	// OAuth connect flow needs Redis for its one-shot state tokens.
	var oauthHandler *handlers.OAuthHandler
	if redisClient != nil {
		oauthHandler = handlers.NewOAuthHandler(tokenManager,
			tokens.NewStateStore(redisClient), tokenStore, accountStore, logger)
	} else {
		logger.Warn("redis unavailable, OAuth connect flow disabled")
	}

	// Public doctor directory.
	slotsService := directory.NewSlotsService(directoryStore, accountStore, crmClient, logger)
	directoryHandler := handlers.NewDirectoryHandler(directoryStore, slotsService, pipeline, logger)

	healthHandler := handlers.NewHealthHandler(buildPingers(pool, redisClient)...)

	routerCfg := &router.Config{
		Logger:              logger,
		WhatsAppWebhook:     handlers.NewWhatsAppWebhookHandler(publisher, cfg.WhatsAppVerifyToken, webhookMetrics, logger),
		StripeWebhook:       stripeWebhook,
		SubscriptionWebhook: subscriptionWebhook,
		OAuth:               oauthHandler,
		Directory:           directoryHandler,
		Webchat:             webchatHandler,
		Health:              healthHandler,
		MetricsHandler:      promhttp.Handler(),
		AccountsAPI:         handlers.NewAccountsAPIHandler(accountStore, sender, logger),
		PaymentsAPI:         handlers.NewPaymentsAPIHandler(accountStore, connect, billing, tierStore, logger),
		BookingsAPI:         handlers.NewBookingsAPIHandler(bookingStore, logger),
		Admin:               handlers.NewAdminHandler(accountStore, convStore, billing, tierStore, nil, logger),
		APIKeyHeader:        cfg.APIKeyHeader,
		APIKeys:             cfg.APIKeys,
		AdminJWTSecret:      cfg.AdminJWTSecret,
	}
	if cfg.EnableRateLimiting {
		routerCfg.DirectoryRateLimit = float64(cfg.RateLimitPerMinute) / 60
		routerCfg.DirectoryRateBurst = cfg.RateLimitPerMinute
	}

	// With the in-memory queue the worker must live in this process: jobs
	// never leave it.
	var worker *conversation.Worker
	if cfg.UseMemoryQueue {
		deduper := dedup.New(dedupStore, cfg.EnableMessageDeduplication,
			time.Duration(cfg.MessageDeduplicationTTLHours)*time.Hour, logger)
		go deduper.RunSweeper(ctx, cfg.DedupSweepInterval)
		worker = buildInlineWorker(cfg, engine, queue, accountStore, sender, deduper, redisClient, crmClient, convStore, logger)
		worker.Start(ctx)
		logger.Info("inline conversation worker started", "workers", cfg.WorkerCount)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server stopped")
}

// buildEmailSender picks the configured provider, falling back to a logged
// no-op so booking flows never depend on email.
func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); s != nil {
			return s
		}
	case "ses":
		if cfg.EmailFromAddress != "" {
			if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
				FromEmail: cfg.EmailFromAddress,
				FromName:  cfg.EmailFromName,
			}, logger); s != nil {
				return s
			}
		}
	}
	logger.Warn("operator email not configured, using stub sender", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger)
}

func buildPingers(pool *pgxpool.Pool, redisClient *redis.Client) []handlers.Pinger {
	pingers := []handlers.Pinger{{
		Name: "postgres",
		Ping: pool.Ping,
	}}
	if redisClient != nil {
		pingers = append(pingers, handlers.Pinger{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return pingers
}

func buildInlineWorker(
	cfg *appconfig.Config,
	engine *conversation.Engine,
	queue conversation.Queue,
	tenants conversation.TenantResolver,
	sender *chatapp.Client,
	deduper *dedup.Deduper,
	redisClient *redis.Client,
	crmClient *crm.Client,
	convStore *conversation.Store,
	logger *logging.Logger,
) *conversation.Worker {
	opts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithAccessGate(subscriptions.NewGate(cfg.SubscriptionEnforcementEnabled, logger)),
		conversation.WithDeduper(deduper),
	}
	if redisClient != nil {
		router := reminders.NewRouter(reminders.NewContextStore(redisClient), crmClient, convStore, sender, logger)
		opts = append(opts, conversation.WithReminderRouter(router))
	}
	return conversation.NewWorker(engine, queue, tenants, sender, logger, opts...)
}
