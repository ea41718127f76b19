package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

const msgApology = "Lo siento, tuve un problema procesando tu mensaje. ¿Puedes intentarlo de nuevo en un momento?"

const msgSubscriptionRequired = "Este número no tiene una suscripción activa. El consultorio debe activar su plan para seguir atendiendo por WhatsApp."

// TenantResolver maps a WhatsApp phone number id to its account.
type TenantResolver interface {
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*accounts.Account, error)
}

// AccessGate decides whether a tenant may use the conversation engine.
type AccessGate interface {
	Allow(tenant *accounts.Account) bool
}

// ReminderRouter gets first claim on inbound messages from patients with an
// active reminder context. Returns true when it handled the message.
type ReminderRouter interface {
	Handle(ctx context.Context, tenant *accounts.Account, msg chatapp.InboundMessage) (bool, error)
}

// MessageDeduper suppresses redelivered messages before they reach the
// engine. *dedup.Deduper satisfies it.
type MessageDeduper interface {
	ShouldProcess(ctx context.Context, tenantKey, messageID string) bool
}

const (
	defaultWorkerCount = 2
	defaultWaitSeconds = 2
	defaultBatchSize   = 5
	maxWaitSeconds     = 20
	maxBatchSize       = 10
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	gate             AccessGate
	reminders        ReminderRouter
	dedup            MessageDeduper
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxBatchSize {
			size = maxBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithAccessGate wires subscription enforcement in front of the engine.
func WithAccessGate(gate AccessGate) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.gate = gate
	}
}

// WithReminderRouter wires the reminder reply router ahead of the engine.
func WithReminderRouter(router ReminderRouter) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.reminders = router
	}
}

// WithDeduper drops redelivered messages before any reply is produced.
func WithDeduper(d MessageDeduper) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.dedup = d
	}
}

// Worker consumes inbound-message jobs and runs them through the gate, the
// reminder router and the engine, in that order.
type Worker struct {
	engine    *Engine
	queue     queueClient
	tenants   TenantResolver
	messenger Messenger
	gate      AccessGate
	reminders ReminderRouter
	dedup     MessageDeduper
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

func NewWorker(engine *Engine, queue queueClient, tenants TenantResolver, messenger Messenger, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if tenants == nil {
		panic("conversation: tenant resolver cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		engine:    engine,
		queue:     queue,
		tenants:   tenants,
		messenger: messenger,
		gate:      cfg.gate,
		reminders: cfg.reminders,
		dedup:     cfg.dedup,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleJob(ctx, msg)
		}
	}
}

func (w *Worker) handleJob(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode conversation job", "error", err, "queue_message_id", msg.ID)
		w.deleteJob(msg)
		return
	}

	if err := w.process(ctx, payload.Message); err != nil {
		w.logger.Error("conversation turn failed",
			"error", err, "job_id", payload.ID, "phone_number_id", payload.Message.PhoneNumberID)
		w.apologize(ctx, payload.Message)
	}
	w.deleteJob(msg)
}

func (w *Worker) process(ctx context.Context, msg chatapp.InboundMessage) error {
	tenant, err := w.tenants.GetByPhoneNumberID(ctx, msg.PhoneNumberID)
	if err != nil {
		return err
	}

	if w.dedup != nil && !w.dedup.ShouldProcess(ctx, tenant.ID, msg.MessageID) {
		return nil
	}

	if w.gate != nil && !w.gate.Allow(tenant) {
		w.logger.Info("inbound message blocked by subscription gate",
			"tenant_id", tenant.ID, "subscription_status", string(tenant.Subscription.Status))
		_, err := w.messenger.SendText(ctx, tenant.PhoneNumberID, msg.From, msgSubscriptionRequired)
		return err
	}

	if w.reminders != nil {
		handled, err := w.reminders.Handle(ctx, tenant, msg)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	return w.engine.HandleMessage(ctx, tenant, msg)
}

func (w *Worker) apologize(ctx context.Context, msg chatapp.InboundMessage) {
	if msg.From == "" || msg.PhoneNumberID == "" {
		return
	}
	if _, err := w.messenger.SendText(ctx, msg.PhoneNumberID, msg.From, msgApology); err != nil {
		w.logger.Warn("apology send failed", "error", err, "phone_number_id", msg.PhoneNumberID)
	}
}

func (w *Worker) deleteJob(msg queueMessage) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, msg.ReceiptHandle); err != nil {
		w.logger.Warn("failed to delete conversation job", "error", err, "queue_message_id", msg.ID)
	}
}
