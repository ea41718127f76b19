package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

const runTTL = 24 * time.Hour

// RunStats is the persisted outcome of one reminder batch.
type RunStats struct {
	RunID             string   `dynamodbav:"runId" json:"runId"`
	Timezone          string   `dynamodbav:"timezone" json:"timezone"`
	StartedAt         string   `dynamodbav:"startedAt" json:"startedAt"`
	FinishedAt        string   `dynamodbav:"finishedAt" json:"finishedAt"`
	TotalAccounts     int      `dynamodbav:"totalAccounts" json:"totalAccounts"`
	TotalAppointments int      `dynamodbav:"totalAppointments" json:"totalAppointments"`
	RemindersSent     int      `dynamodbav:"remindersSent" json:"remindersSent"`
	Errors            []string `dynamodbav:"errors,omitempty" json:"errors,omitempty"`
	DryRun            bool     `dynamodbav:"dryRun" json:"dryRun"`
	ExpiresAt         int64    `dynamodbav:"expiresAt,omitempty" json:"-"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// RunStore persists batch run records to DynamoDB with a 24h TTL attribute.
type RunStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewRunStore(client dynamoAPI, tableName string, logger *logging.Logger) *RunStore {
	if client == nil {
		panic("reminders: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("reminders: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RunStore{client: client, tableName: tableName, logger: logger}
}

// Save writes the run record.
func (s *RunStore) Save(ctx context.Context, stats *RunStats) error {
	if stats == nil {
		return errors.New("reminders: run stats cannot be nil")
	}
	if stats.ExpiresAt == 0 {
		stats.ExpiresAt = time.Now().UTC().Add(runTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(stats)
	if err != nil {
		return fmt.Errorf("reminders: marshal run: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("reminders: persist run: %w", err)
	}
	return nil
}
