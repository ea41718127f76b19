package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/medagenda/citas-ai-platform/internal/config"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// BuildLLMClient selects the configured LLM provider and, when a fallback
// provider is set, chains it behind the primary.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	primary, err := buildProvider(ctx, cfg.LLMProvider, cfg, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: primary llm: %w", err)
	}

	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		logger.Info("llm client ready", "provider", cfg.LLMProvider)
		return primary, nil
	}

	fallback, err := buildProvider(ctx, fallbackName, cfg, awsCfg)
	if err != nil {
		logger.Warn("fallback llm unavailable, continuing without it",
			"provider", fallbackName, "error", err)
		return primary, nil
	}
	logger.Info("llm client ready", "provider", cfg.LLMProvider, "fallback", fallbackName)
	return conversation.NewFallbackLLMClient(primary, fallback, logger), nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg aws.Config) (conversation.LLMClient, error) {
	switch name {
	case "openai", "":
		return conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	case "gemini":
		return conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, fmt.Errorf("BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// BuildQueue returns the conversation job transport: in-memory for local
// single-process runs, SQS otherwise.
func BuildQueue(cfg *appconfig.Config, sqsClient *sqs.Client, logger *logging.Logger) (conversation.Queue, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory conversation queue")
		return conversation.NewMemoryQueue(64), nil
	}
	if strings.TrimSpace(cfg.ConversationQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: CONVERSATION_QUEUE_URL is required without USE_MEMORY_QUEUE")
	}
	return conversation.NewSQSQueue(sqsClient, cfg.ConversationQueueURL), nil
}
