package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

var llmTracer = otel.Tracer("citas.internal.conversation.llm")

var llmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "citas",
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "Latency of LLM calls by operation",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
	},
	[]string{"operation"},
)

var llmTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "citas",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Token usage by operation and direction",
	},
	[]string{"operation", "direction"},
)

func init() {
	prometheus.MustRegister(llmLatency)
	prometheus.MustRegister(llmTokensTotal)
}

const defaultSystemPrompt = `Eres la asistente virtual de un consultorio médico. Atiendes por WhatsApp en español, con calidez y mensajes cortos. Tu único objetivo es agendar citas: pregunta el nombre del paciente, el motivo de la consulta y la fecha y hora deseadas. No des consejos médicos ni diagnósticos. No inventes horarios ni precios.`

const intentPromptTemplate = `Extrae la información de cita de la conversación. Hoy es %s (zona horaria %s).

Responde SOLO con un objeto JSON, sin texto adicional:
{"has_appointment_info": true|false, "name": "nombre del paciente o vacío", "reason": "motivo de la consulta o vacío", "datetime": "fecha y hora deseadas en formato ISO 8601 (YYYY-MM-DDTHH:MM:SS) en la zona horaria local, o vacío", "email": "correo si lo dio, o vacío", "raw_datetime": "la fecha/hora tal como la escribió el paciente, o vacío"}

Reglas: si el paciente no dijo año, usa el año en curso. "mañana" es el día siguiente a hoy. has_appointment_info es true solo si hay al menos una fecha u hora deseada.`

const namePromptTemplate = `¿El paciente ha dicho su nombre en esta conversación? Responde SOLO con JSON: {"name": "nombre completo o vacío"}. No uses el nombre del doctor ni el del consultorio.`

// Extraction is the structured-intent pass output, pre-validation.
type Extraction struct {
	HasAppointmentInfo bool   `json:"has_appointment_info"`
	Name               string `json:"name"`
	Reason             string `json:"reason"`
	Datetime           string `json:"datetime"`
	Email              string `json:"email"`
	RawDatetime        string `json:"raw_datetime"`
}

// Assistant is the LLM service: conversational turn generation plus the two
// structured extraction passes.
type Assistant struct {
	client      LLMClient
	model       string
	temperature float32
	logger      *logging.Logger
	now         func() time.Time
}

func NewAssistant(client LLMClient, model string, temperature float64, logger *logging.Logger) *Assistant {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Assistant{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		logger:      logger,
		now:         time.Now,
	}
}

// Reply generates the next assistant message for a conversation that does not
// yet have a complete appointment intent.
func (a *Assistant) Reply(ctx context.Context, tenant *accounts.Account, history []ChatMessage) (string, error) {
	ctx, span := llmTracer.Start(ctx, "llm.reply")
	defer span.End()
	span.SetAttributes(attribute.String("citas.tenant_id", tenant.ID))

	system := []string{defaultSystemPrompt}
	if strings.TrimSpace(tenant.CustomPrompt) != "" {
		system = append(system, tenant.CustomPrompt)
	}

	resp, err := a.complete(ctx, "reply", LLMRequest{
		Model:       a.model,
		System:      system,
		Messages:    history,
		MaxTokens:   400,
		Temperature: a.temperature,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return resp.Text, nil
}

// ExtractIntent runs the structured pass over the dialogue. Parse failures on
// the model output degrade to "no appointment info" rather than erroring the
// turn.
func (a *Assistant) ExtractIntent(ctx context.Context, tenant *accounts.Account, history []ChatMessage) (Extraction, error) {
	ctx, span := llmTracer.Start(ctx, "llm.extract_intent")
	defer span.End()
	span.SetAttributes(attribute.String("citas.tenant_id", tenant.ID))

	loc := tenant.Location()
	now := a.now().In(loc)
	prompt := fmt.Sprintf(intentPromptTemplate, now.Format("Monday 2006-01-02 15:04"), loc.String())

	resp, err := a.complete(ctx, "extract_intent", LLMRequest{
		Model:       a.model,
		System:      []string{prompt},
		Messages:    history,
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil {
		span.RecordError(err)
		return Extraction{}, err
	}

	var extraction Extraction
	if err := decodeJSONReply(resp.Text, &extraction); err != nil {
		a.logger.Warn("intent extraction returned unparseable output", "error", err)
		return Extraction{}, nil
	}
	return extraction, nil
}

// ExtractName is the cheap first pass so the CRM contact exists before the
// intent is complete.
func (a *Assistant) ExtractName(ctx context.Context, history []ChatMessage) (string, error) {
	ctx, span := llmTracer.Start(ctx, "llm.extract_name")
	defer span.End()

	resp, err := a.complete(ctx, "extract_name", LLMRequest{
		Model:       a.model,
		System:      []string{namePromptTemplate},
		Messages:    history,
		MaxTokens:   60,
		Temperature: 0,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var parsed struct {
		Name string `json:"name"`
	}
	if err := decodeJSONReply(resp.Text, &parsed); err != nil {
		return "", nil
	}
	return strings.TrimSpace(parsed.Name), nil
}

func (a *Assistant) complete(ctx context.Context, operation string, req LLMRequest) (LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	started := time.Now()
	resp, err := a.client.Complete(callCtx, req)
	llmLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		return LLMResponse{}, err
	}

	llmTokensTotal.WithLabelValues(operation, "input").Add(float64(resp.Usage.InputTokens))
	llmTokensTotal.WithLabelValues(operation, "output").Add(float64(resp.Usage.OutputTokens))
	return resp, nil
}

// decodeJSONReply parses a model reply that may wrap its JSON in markdown
// fences or surrounding prose.
func decodeJSONReply(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if fenced := extractFencedBlock(trimmed); fenced != "" {
		trimmed = fenced
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("conversation: no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), out); err != nil {
		return fmt.Errorf("conversation: decode reply: %w", err)
	}
	return nil
}

func extractFencedBlock(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return ""
	}
	rest := text[open+3:]
	if newline := strings.Index(rest, "\n"); newline >= 0 {
		// Skip an optional language tag like ```json.
		rest = rest[newline+1:]
	}
	closing := strings.Index(rest, "```")
	if closing < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:closing])
}

// ParseIntentTime interprets the extraction's datetime in the tenant's
// timezone. A missing year defaults to the current one; instants in the past
// are rejected.
func (a *Assistant) ParseIntentTime(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	layouts := []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	}
	var parsed time.Time
	var ok bool
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			parsed, ok = t, true
			break
		}
	}
	if !ok {
		// Model omitted the year despite instructions.
		for _, layout := range []string{"01-02T15:04", "01-02 15:04"} {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				parsed = time.Date(a.now().In(loc).Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
				ok = true
				break
			}
		}
	}
	if !ok {
		return time.Time{}, false
	}
	if parsed.Before(a.now().In(loc)) {
		return time.Time{}, false
	}
	return parsed, true
}
