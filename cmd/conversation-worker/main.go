package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/medagenda/citas-ai-platform/cmd/mainconfig"
	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/app/bootstrap"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/booking"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	appconfig "github.com/medagenda/citas-ai-platform/internal/config"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/internal/dedup"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/internal/reminders"
	"github.com/medagenda/citas-ai-platform/internal/subscriptions"
	"github.com/medagenda/citas-ai-platform/internal/tokens"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// The worker binary consumes inbound WhatsApp jobs from SQS and runs the full
// conversation stack: gate, dedup, reminder routing, engine, booking pipeline.
// It shares all configuration with the API server and can scale independently.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting conversation worker", "env", cfg.Env, "workers", cfg.WorkerCount)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
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

	accountStore := accounts.NewStore(pool)
	bookingStore := bookings.NewStore(pool)
	paymentStore := payments.NewStore(pool)
	dedupStore := dedup.NewStore(pool)
	convStore := conversation.NewStore(sqlDB,
		time.Duration(cfg.ConversationTTLHours)*time.Hour, cfg.MaxConversationMessages)

	tokenManager := tokens.NewManager(tokens.NewStore(pool), tokens.OAuthConfig{
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		RedirectURI:  cfg.CRMRedirectURI,
		BaseURL:      cfg.CRMBaseURL,
	}, logger)
	crmClient := crm.NewClient(cfg.CRMBaseURL, tokenManager, logger)
	resolver := availability.NewResolver(crmClient, logger)

	sender := chatapp.NewClient(cfg.WhatsAppGraphBaseURL, cfg.WhatsAppAccessToken, logger)

	stripeClient := payments.NewStripeClient(cfg.StripeSecretKey, logger)
	checkout := payments.NewCheckoutService(stripeClient, paymentStore, cfg.PaymentSuccessURL, cfg.PaymentCancelURL)

	pipeline := booking.NewPipeline(booking.Config{
		Bookings:         bookingStore,
		Payments:         paymentStore,
		Conversations:    convStore,
		Calendar:         crmClient,
		Slots:            resolver,
		Tenants:          accountStore,
		Messenger:        sender,
		Checkout:         checkout,
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

	queue, err := bootstrap.BuildQueue(cfg, sqs.NewFromConfig(awsCfg), logger)
	if err != nil {
		logger.Error("failed to build conversation queue", "error", err)
		os.Exit(1)
	}

	deduper := dedup.New(dedupStore, cfg.EnableMessageDeduplication,
		time.Duration(cfg.MessageDeduplicationTTLHours)*time.Hour, logger)
	go deduper.RunSweeper(ctx, cfg.DedupSweepInterval)

	opts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithAccessGate(subscriptions.NewGate(cfg.SubscriptionEnforcementEnabled, logger)),
		conversation.WithDeduper(deduper),
	}
	if redisClient != nil {
		router := reminders.NewRouter(reminders.NewContextStore(redisClient), crmClient, convStore, sender, logger)
		opts = append(opts, conversation.WithReminderRouter(router))
	} else {
		logger.Warn("redis unavailable, reminder replies fall through to the engine")
	}

	worker := conversation.NewWorker(engine, queue, accountStore, sender, logger, opts...)
	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
