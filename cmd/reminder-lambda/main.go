package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
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

// reminderEvent is the EventBridge schedule payload. Both fields are
// optional: an empty invocation runs the default timezone for real.
type reminderEvent struct {
	Timezone string `json:"timezone"`
	DryRun   bool   `json:"dry_run"`
}

type reminderResult struct {
	RunID        string `json:"run_id"`
	Accounts     int    `json:"accounts"`
	Appointments int    `json:"appointments"`
	Sent         int    `json:"sent"`
	Errors       int    `json:"errors"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dispatcher, cleanup, err := buildDispatcher(ctx, cfg, logger)
	cancel()
	if err != nil {
		panic(err)
	}
	defer cleanup()

	lambda.Start(func(ctx context.Context, evt reminderEvent) (reminderResult, error) {
		tz := evt.Timezone
		if tz == "" {
			tz = cfg.DefaultTimezone
		}
		stats, code := dispatcher.Run(ctx, tz, evt.DryRun)
		result := reminderResult{
			RunID:        stats.RunID,
			Accounts:     stats.TotalAccounts,
			Appointments: stats.TotalAppointments,
			Sent:         stats.RemindersSent,
			Errors:       len(stats.Errors),
		}
		if code == reminders.ExitFatal {
			return result, fmt.Errorf("reminder batch failed to run (run_id %s)", stats.RunID)
		}
		return result, nil
	})
}

func buildDispatcher(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*reminders.Dispatcher, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	pool, sqlDB, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	cleanup := func() {
		pool.Close()
		_ = sqlDB.Close()
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load AWS config: %w", err)
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
	if redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		dispatcherCfg.Contexts = reminders.NewContextStore(redisClient)
	} else {
		logger.Warn("redis unavailable, reminder reply contexts disabled")
	}

	return reminders.NewDispatcher(dispatcherCfg), cleanup, nil
}
