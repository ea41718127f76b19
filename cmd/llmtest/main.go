package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/medagenda/citas-ai-platform/cmd/mainconfig"
	"github.com/medagenda/citas-ai-platform/internal/app/bootstrap"
	appconfig "github.com/medagenda/citas-ai-platform/internal/config"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// llmtest smoke-tests the configured LLM provider (and its fallback) with a
// realistic booking conversation, without the rest of the platform running.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New("error")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := conversation.LLMRequest{
		System: []string{
			"Eres la asistente de citas del Dr. Hernández, dermatólogo en Guadalajara. Responde breve y amable.",
		},
		Messages: []conversation.ChatMessage{
			{Role: conversation.ChatRoleUser, Content: "Hola, quisiera una cita para revisión de lunares"},
			{Role: conversation.ChatRoleAssistant, Content: "¡Hola! Con gusto te ayudo a agendar tu revisión de lunares. ¿Qué día y hora te acomodan?"},
			{Role: conversation.ChatRoleUser, Content: "¿Tienes algo el jueves por la tarde?"},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	}

	divider := strings.Repeat("=", 60)
	fmt.Println(divider)
	fmt.Printf("LLM Provider Test (provider=%s fallback=%s)\n", cfg.LLMProvider, orNone(cfg.LLMFallbackProvider))
	fmt.Println(divider)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		fmt.Printf("❌ Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	client, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		fmt.Printf("❌ Failed to build LLM client: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("❌ Completion failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Response (%v):\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   %s\n", resp.Text)
	fmt.Printf("   Tokens: in=%d, out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)

	fmt.Println(divider)
	fmt.Println("If a fallback provider is configured, force a failure (bad primary")
	fmt.Println("key) and rerun to watch 'primary LLM failed, attempting fallback'.")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
