package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/internal/phone"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

type conversationAdmin interface {
	ListByPhone(ctx context.Context, tenantID, phone string) ([]conversation.Conversation, error)
	DeleteByPhone(ctx context.Context, tenantID, phone string) (int64, error)
}

type subscriptionAssigner interface {
	AdminAssignSubscription(ctx context.Context, tenant *accounts.Account, tier *payments.TierPricing, interval string) (string, error)
}

// AdminHandler is the JWT-guarded operator surface: conversation inspection
// and purge (data deletion requests come in by phone number), manual
// subscription assignment, and a metrics snapshot.
type AdminHandler struct {
	tenants       accountStore
	conversations conversationAdmin
	billing       subscriptionAssigner
	tiers         tierCatalog
	gatherer      prometheus.Gatherer
	logger        *logging.Logger
}

func NewAdminHandler(tenants accountStore, conversations conversationAdmin, billing subscriptionAssigner, tiers tierCatalog, gatherer prometheus.Gatherer, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &AdminHandler{
		tenants:       tenants,
		conversations: conversations,
		billing:       billing,
		tiers:         tiers,
		gatherer:      gatherer,
		logger:        logger,
	}
}

type conversationSummary struct {
	ID        string                `json:"id"`
	Session   int                   `json:"session"`
	Status    string                `json:"status"`
	Messages  []conversationMessage `json:"messages"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

type conversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GetConversations handles GET /admin/conversations/{phone}?account_id=.
func (h *AdminHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	tenantID, phoneNumber, ok := h.conversationTarget(w, r)
	if !ok {
		return
	}

	list, err := h.conversations.ListByPhone(r.Context(), tenantID, phoneNumber)
	if err != nil {
		h.logger.Error("conversation list failed", "error", err, "account_id", tenantID)
		apperrors.WriteJSON(w, err)
		return
	}

	out := make([]conversationSummary, 0, len(list))
	for _, conv := range list {
		summary := conversationSummary{
			ID:        conv.ID,
			Session:   conv.Session,
			Status:    string(conv.Status),
			Messages:  make([]conversationMessage, 0, len(conv.Messages)),
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
			ExpiresAt: conv.ExpiresAt,
		}
		for _, msg := range conv.Messages {
			summary.Messages = append(summary.Messages, conversationMessage{
				Role:      msg.Role,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			})
		}
		out = append(out, summary)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":    tenantID,
		"phone":         phone.Display(phoneNumber),
		"conversations": out,
		"count":         len(out),
	})
}

// DeleteConversations handles DELETE /admin/conversations/{phone}?account_id=.
// This is the data-deletion path, so it reports exactly how many sessions
// were removed.
func (h *AdminHandler) DeleteConversations(w http.ResponseWriter, r *http.Request) {
	tenantID, phoneNumber, ok := h.conversationTarget(w, r)
	if !ok {
		return
	}

	deleted, err := h.conversations.DeleteByPhone(r.Context(), tenantID, phoneNumber)
	if err != nil {
		h.logger.Error("conversation purge failed", "error", err, "account_id", tenantID)
		apperrors.WriteJSON(w, err)
		return
	}

	h.logger.Info("conversations purged", "account_id", tenantID, "phone", phoneNumber, "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": tenantID,
		"phone":      phone.Display(phoneNumber),
		"deleted":    deleted,
	})
}

func (h *AdminHandler) conversationTarget(w http.ResponseWriter, r *http.Request) (tenantID, phoneNumber string, ok bool) {
	q := r.URL.Query()
	switch {
	case q.Get("account_id") != "":
		tenantID = q.Get("account_id")
		if _, err := h.tenants.Get(r.Context(), tenantID); err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "account not found"))
				return "", "", false
			}
			apperrors.WriteJSON(w, err)
			return "", "", false
		}
	default:
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "account_id query parameter is required"))
		return "", "", false
	}

	phoneNumber = phone.Canonicalize(chi.URLParam(r, "phone"))
	if phoneNumber == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "phone path parameter is required"))
		return "", "", false
	}
	return tenantID, phoneNumber, true
}

type assignSubscriptionRequest struct {
	TierID   string `json:"tier_id"`
	Interval string `json:"interval"`
}

// AssignSubscription handles POST /admin/accounts/{id}/subscription/assign:
// a no-checkout subscription for partners and internal accounts.
func (h *AdminHandler) AssignSubscription(w http.ResponseWriter, r *http.Request) {
	tenant, ok := loadAccount(w, r, h.tenants)
	if !ok {
		return
	}

	var req assignSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if req.TierID == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "tier_id is required"))
		return
	}
	if req.Interval == "" {
		req.Interval = "month"
	}

	tier, err := h.tiers.Pricing(r.Context(), req.TierID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	subscriptionID, err := h.billing.AdminAssignSubscription(r.Context(), tenant, tier, req.Interval)
	if err != nil {
		h.logger.Error("subscription assignment failed", "error", err, "account_id", tenant.ID, "tier_id", req.TierID)
		apperrors.WriteJSON(w, err)
		return
	}

	h.logger.Info("subscription assigned", "account_id", tenant.ID, "tier_id", req.TierID, "subscription_id", subscriptionID)
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id":      tenant.ID,
		"tier_id":         req.TierID,
		"subscription_id": subscriptionID,
	})
}

// Stats handles GET /admin/stats: a coarse snapshot of the service's own
// counters, aggregated across label sets. The full series stay on /metrics.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	families, err := h.gatherer.Gather()
	if err != nil {
		h.logger.Error("metrics gather failed", "error", err)
		apperrors.WriteJSON(w, err)
		return
	}

	counters := make(map[string]float64)
	for _, fam := range families {
		if fam.GetType() != dto.MetricType_COUNTER {
			continue
		}
		total := 0.0
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		counters[fam.GetName()] = total
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at": time.Now().UTC(),
		"counters":     counters,
	})
}
