package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/medagenda/citas-ai-platform/cmd/mainconfig"
	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/app/bootstrap"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	appconfig "github.com/medagenda/citas-ai-platform/internal/config"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/internal/reminders"
	"github.com/medagenda/citas-ai-platform/internal/tokens"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// The reminder job runs once per invocation (cron or manual): it walks every
// active tenant and sends the WhatsApp reminder template for today's
// appointments. Exit code 0 is a clean run, 1 a run with per-appointment
// errors, 2 a run that could not start.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	timezone := flag.String("timezone", cfg.DefaultTimezone, "IANA timezone the batch day window uses")
	dryRun := flag.Bool("dry-run", false, "log what would be sent without sending")
	flag.Parse()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(reminders.ExitFatal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	pool, sqlDB, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("failed to open postgres", "error", err)
		os.Exit(reminders.ExitFatal)
	}
	defer pool.Close()
	defer func() { _ = sqlDB.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(reminders.ExitFatal)
	}

	tokenManager := tokens.NewManager(tokens.NewStore(pool), tokens.OAuthConfig{
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		RedirectURI:  cfg.CRMRedirectURI,
		BaseURL:      cfg.CRMBaseURL,
	}, logger)

	dispatcherCfg := reminders.DispatcherConfig{
		Accounts:         accounts.NewStore(pool),
		Calendar:         crm.NewClient(cfg.CRMBaseURL, tokenManager, logger),
		Sender:           chatapp.NewClient(cfg.WhatsAppGraphBaseURL, cfg.WhatsAppAccessToken, logger),
		Sent:             reminders.NewSentStore(pool),
		Runs:             reminders.NewRunStore(dynamodb.NewFromConfig(awsCfg), cfg.ReminderRunsTable, logger),
		TemplateName:     cfg.ReminderTemplate,
		TemplateLanguage: cfg.TemplateLanguage,
		Logger:           logger,
	}

	// Reply contexts live in Redis. Without it reminders still go out, the
	// patient's reply just lands on the conversation engine instead.
	if redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		dispatcherCfg.Contexts = reminders.NewContextStore(redisClient)
	} else {
		logger.Warn("redis unavailable, reminder reply contexts disabled")
	}

	_, code := reminders.NewDispatcher(dispatcherCfg).Run(ctx, *timezone, *dryRun)
	os.Exit(code)
}
