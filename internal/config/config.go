package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	UseMemoryQueue bool
	WorkerCount    int

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// WhatsApp Business (chat platform)
	WhatsAppVerifyToken  string
	WhatsAppAccessToken  string
	WhatsAppGraphBaseURL string
	TemplateLanguage     string
	ConfirmationTemplate string
	ReminderTemplate     string

	// CRM (LeadConnector-compatible)
	CRMClientID     string
	CRMClientSecret string
	CRMBaseURL      string
	CRMRedirectURI  string

	// LLM providers
	LLMProvider         string
	LLMFallbackProvider string
	LLMModel            string
	LLMTemperature      float64
	OpenAIAPIKey        string
	GeminiAPIKey        string
	BedrockModelID      string

	// Payments (Stripe)
	StripeSecretKey               string
	StripeWebhookSecret           string
	StripeSubscriptionWebhookSecret string
	PaymentSuccessURL             string
	PaymentCancelURL              string

	// API surface
	APIKeyHeader       string
	APIKeys            []string
	AdminJWTSecret     string
	EnableRateLimiting bool
	RateLimitPerMinute int

	// Conversation policy
	ConversationTTLHours    int
	MaxConversationMessages int

	// Locale defaults
	DefaultTimezone    string
	DefaultCountryCode string

	// Subscription gate
	SubscriptionEnforcementEnabled bool
	SubscriptionGracePeriodDays    int

	// Message deduplication
	EnableMessageDeduplication   bool
	MessageDeduplicationTTLHours int
	DedupSweepInterval           time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ConversationQueueURL string
	ReminderRunsTable    string

	// Email
	EmailProvider     string
	EmailFromAddress  string
	EmailFromName     string
	SendGridAPIKey    string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		WhatsAppVerifyToken:  getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAccessToken:  getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppGraphBaseURL: getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com/v18.0"),
		TemplateLanguage:     getEnv("TEMPLATE_LANGUAGE", "es_MX"),
		ConfirmationTemplate: getEnv("CONFIRMATION_TEMPLATE_NAME", "confirmacion_cita"),
		ReminderTemplate:     getEnv("REMINDER_TEMPLATE_NAME", "recordatorio_cita"),

		CRMClientID:     getEnv("CRM_CLIENT_ID", ""),
		CRMClientSecret: getEnv("CRM_CLIENT_SECRET", ""),
		CRMBaseURL:      getEnv("CRM_API_BASE_URL", "https://services.leadconnectorhq.com"),
		CRMRedirectURI:  getEnv("CRM_OAUTH_REDIRECT_URI", ""),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		LLMModel:            getEnv("LLM_MODEL", ""),
		LLMTemperature:      getEnvAsFloat("LLM_TEMPERATURE", 0.2),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),

		StripeSecretKey:                 getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:             getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSubscriptionWebhookSecret: getEnv("STRIPE_SUBSCRIPTION_WEBHOOK_SECRET", ""),
		PaymentSuccessURL:               getEnv("PAYMENT_SUCCESS_URL", ""),
		PaymentCancelURL:                getEnv("PAYMENT_CANCEL_URL", ""),

		APIKeyHeader:       getEnv("API_KEY_HEADER", "X-API-Key"),
		APIKeys:            getEnvAsList("API_KEYS"),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		EnableRateLimiting: getEnvAsBool("ENABLE_RATE_LIMITING", true),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),

		ConversationTTLHours:    getEnvAsInt("CONVERSATION_TTL_HOURS", 24),
		MaxConversationMessages: getEnvAsInt("MAX_CONVERSATION_MESSAGES", 50),

		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "America/Mexico_City"),
		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "52"),

		SubscriptionEnforcementEnabled: getEnvAsBool("SUBSCRIPTION_ENFORCEMENT_ENABLED", false),
		SubscriptionGracePeriodDays:    getEnvAsInt("SUBSCRIPTION_GRACE_PERIOD_DAYS", 0),

		EnableMessageDeduplication:   getEnvAsBool("ENABLE_MESSAGE_DEDUPLICATION", true),
		MessageDeduplicationTTLHours: getEnvAsInt("MESSAGE_DEDUPLICATION_TTL_HOURS", 24),
		DedupSweepInterval:           getEnvAsDuration("DEDUP_SWEEP_INTERVAL", time.Hour),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		ReminderRunsTable:    getEnv("REMINDER_RUNS_TABLE", "reminder_job_runs"),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Citas AI"),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
	}
}

// Validate reports secrets the API surface cannot run without. Missing
// secrets are a configuration error at startup, not at first use.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.WhatsAppVerifyToken == "" {
		missing = append(missing, "WHATSAPP_VERIFY_TOKEN")
	}
	if c.WhatsAppAccessToken == "" {
		missing = append(missing, "WHATSAPP_ACCESS_TOKEN")
	}
	if c.CRMClientID == "" || c.CRMClientSecret == "" {
		missing = append(missing, "CRM_CLIENT_ID/CRM_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, trimming blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
