package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/medagenda/citas-ai-platform/internal/config"
)

func TestBuildQueueMemory(t *testing.T) {
	cfg := &appconfig.Config{UseMemoryQueue: true}
	queue, err := BuildQueue(cfg, nil, nil)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if queue == nil {
		t.Fatal("expected a queue")
	}
}

func TestBuildQueueRequiresURL(t *testing.T) {
	cfg := &appconfig.Config{}
	if _, err := BuildQueue(cfg, nil, nil); err == nil {
		t.Fatal("expected an error without a queue URL")
	}
}

func TestBuildLLMClientOpenAI(t *testing.T) {
	cfg := &appconfig.Config{LLMProvider: "openai", OpenAIAPIKey: "sk-test"}
	client, err := BuildLLMClient(context.Background(), cfg, aws.Config{}, nil)
	if err != nil {
		t.Fatalf("BuildLLMClient: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client")
	}
}

func TestBuildLLMClientUnknownProvider(t *testing.T) {
	cfg := &appconfig.Config{LLMProvider: "watson"}
	if _, err := BuildLLMClient(context.Background(), cfg, aws.Config{}, nil); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}
