package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/internal/phone"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

var dispatcherTracer = otel.Tracer("citas.internal.reminders")

var remindersSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "citas",
		Subsystem: "reminders",
		Name:      "sent_total",
		Help:      "Appointment reminders delivered, by tenant.",
	},
	[]string{"tenant_id"},
)

func init() {
	prometheus.MustRegister(remindersSentTotal)
}

// Batch exit codes.
const (
	ExitOK     = 0
	ExitErrors = 1
	ExitFatal  = 2
)

type accountSource interface {
	ListActive(ctx context.Context) ([]accounts.Account, error)
}

// calendarSource is the CRM surface the batch reads.
type calendarSource interface {
	ListAppointments(ctx context.Context, tenantID, locationID, calendarID string, start, end time.Time) ([]crm.CalendarEvent, error)
	GetContact(ctx context.Context, tenantID, contactID string) (*crm.Contact, error)
}

type templateSender interface {
	SendTemplate(ctx context.Context, phoneNumberID, to, name, language string, params chatapp.TemplateParams) (string, error)
}

type sentRecorder interface {
	AlreadySent(ctx context.Context, appointmentID string) (bool, error)
	MarkSent(ctx context.Context, appointmentID, tenantID, phone string) error
}

type contextOpener interface {
	Set(ctx context.Context, phone string, ac ActiveContext) error
}

type runSink interface {
	Save(ctx context.Context, stats *RunStats) error
}

// Dispatcher walks every active tenant once a day and sends the reminder
// template for each of today's appointments, opening a reply context per
// send. Failures isolate: a bad tenant or appointment never stops the walk.
type Dispatcher struct {
	accounts accountSource
	calendar calendarSource
	sender   templateSender
	sent     sentRecorder
	contexts contextOpener
	runs     runSink

	templateName     string
	templateLanguage string
	logger           *logging.Logger
	now              func() time.Time
}

// DispatcherConfig wires the batch's collaborators.
type DispatcherConfig struct {
	Accounts accountSource
	Calendar calendarSource
	Sender   templateSender
	Sent     sentRecorder
	Contexts contextOpener
	Runs     runSink

	TemplateName     string
	TemplateLanguage string
	Logger           *logging.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Accounts == nil {
		panic("reminders: account source required")
	}
	if cfg.Calendar == nil {
		panic("reminders: calendar source required")
	}
	if cfg.Sender == nil {
		panic("reminders: template sender required")
	}
	if cfg.Sent == nil {
		panic("reminders: sent store required")
	}
	if cfg.TemplateName == "" {
		cfg.TemplateName = "recordatorio_cita"
	}
	if cfg.TemplateLanguage == "" {
		cfg.TemplateLanguage = "es_MX"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Dispatcher{
		accounts:         cfg.Accounts,
		calendar:         cfg.Calendar,
		sender:           cfg.Sender,
		sent:             cfg.Sent,
		contexts:         cfg.Contexts,
		runs:             cfg.Runs,
		templateName:     cfg.TemplateName,
		templateLanguage: cfg.TemplateLanguage,
		logger:           cfg.Logger,
		now:              time.Now,
	}
}

// Run executes one daily batch in the given timezone and returns the stats
// plus the process exit code.
func (d *Dispatcher) Run(ctx context.Context, tz string, dryRun bool) (*RunStats, int) {
	ctx, span := dispatcherTracer.Start(ctx, "reminders.run")
	defer span.End()
	span.SetAttributes(attribute.String("citas.timezone", tz), attribute.Bool("citas.dry_run", dryRun))

	stats := &RunStats{
		RunID:     uuid.NewString(),
		Timezone:  tz,
		StartedAt: d.now().UTC().Format(time.RFC3339),
		DryRun:    dryRun,
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		d.logger.Error("invalid reminder timezone", "timezone", tz, "error", err)
		return stats, ExitFatal
	}

	tenants, err := d.accounts.ListActive(ctx)
	if err != nil {
		d.logger.Error("failed to list active tenants", "error", err)
		return stats, ExitFatal
	}
	stats.TotalAccounts = len(tenants)

	start, end := dayWindow(d.now().In(loc))
	for i := range tenants {
		d.runTenant(ctx, &tenants[i], loc, start, end, dryRun, stats)
	}

	stats.FinishedAt = d.now().UTC().Format(time.RFC3339)
	d.persistRun(ctx, stats)

	d.logger.Info("reminder batch finished",
		"run_id", stats.RunID,
		"accounts", stats.TotalAccounts,
		"appointments", stats.TotalAppointments,
		"sent", stats.RemindersSent,
		"errors", len(stats.Errors),
		"dry_run", dryRun)

	if len(stats.Errors) > 0 {
		return stats, ExitErrors
	}
	return stats, ExitOK
}

func (d *Dispatcher) runTenant(ctx context.Context, tenant *accounts.Account, loc *time.Location, start, end time.Time, dryRun bool, stats *RunStats) {
	events, err := d.calendar.ListAppointments(ctx, tenant.ID, tenant.LocationID, tenant.CalendarID, start, end)
	if err != nil {
		stats.addError(fmt.Sprintf("tenant %s: list appointments: %v", tenant.ID, err))
		return
	}

	for _, ev := range events {
		// Blocks and ad-hoc events have no appointmentStatus; cancelled
		// appointments need no reminder.
		if ev.AppointmentStatus == "" || strings.EqualFold(ev.AppointmentStatus, "cancelled") {
			continue
		}
		stats.TotalAppointments++
		delivered, err := d.remindOne(ctx, tenant, loc, ev, dryRun)
		if err != nil {
			stats.addError(fmt.Sprintf("tenant %s appointment %s: %v", tenant.ID, ev.ID, err))
			continue
		}
		if delivered {
			stats.RemindersSent++
		}
	}
}

func (d *Dispatcher) remindOne(ctx context.Context, tenant *accounts.Account, loc *time.Location, ev crm.CalendarEvent, dryRun bool) (bool, error) {
	if ev.ContactID == "" {
		return false, nil
	}
	contact, err := d.calendar.GetContact(ctx, tenant.ID, ev.ContactID)
	if err != nil {
		return false, fmt.Errorf("load contact: %w", err)
	}
	canonical := phone.Canonicalize(contact.Phone)
	if canonical == "" {
		d.logger.Debug("skipping reminder for contact without phone",
			"tenant_id", tenant.ID, "appointment_id", ev.ID, "contact_id", ev.ContactID)
		return false, nil
	}

	sent, err := d.sent.AlreadySent(ctx, ev.ID)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	if sent {
		return false, nil
	}

	startAt, ok := ev.Start()
	if !ok {
		return false, fmt.Errorf("unparseable start time %q", ev.StartTime)
	}
	clock := availability.FormatSpanishTime(startAt.In(loc))

	service := ev.Title
	if service == "" {
		service = tenant.Name
	}

	if dryRun {
		d.logger.Info("dry run: would send reminder",
			"tenant_id", tenant.ID, "appointment_id", ev.ID, "phone", canonical, "time", clock)
		return false, nil
	}

	params := chatapp.TemplateParams{Body: []string{contact.DisplayName(), clock, service}}
	if _, err := d.sender.SendTemplate(ctx, tenant.PhoneNumberID, canonical, d.templateName, d.templateLanguage, params); err != nil {
		return false, fmt.Errorf("send template: %w", err)
	}

	if err := d.sent.MarkSent(ctx, ev.ID, tenant.ID, canonical); err != nil {
		return true, fmt.Errorf("record sent: %w", err)
	}
	if d.contexts != nil {
		if err := d.contexts.Set(ctx, canonical, ActiveContext{
			AppointmentID: ev.ID,
			TenantID:      tenant.ID,
			CreatedAt:     d.now().UTC(),
		}); err != nil {
			// The reminder went out; a missing reply window only degrades
			// reply routing, so log and keep going.
			d.logger.Warn("failed to open reminder context",
				"tenant_id", tenant.ID, "appointment_id", ev.ID, "error", err)
		}
	}

	remindersSentTotal.WithLabelValues(tenant.ID).Inc()
	return true, nil
}

func (d *Dispatcher) persistRun(ctx context.Context, stats *RunStats) {
	if d.runs == nil {
		return
	}
	if err := d.runs.Save(ctx, stats); err != nil {
		d.logger.Error("failed to persist reminder run", "run_id", stats.RunID, "error", err)
	}
}

func (s *RunStats) addError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// dayWindow is [00:00, 23:59:59.999999] of now's local day.
func dayWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.Add(24*time.Hour - time.Microsecond)
	return start.UTC(), end.UTC()
}
