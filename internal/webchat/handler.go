// Package webchat embeds the booking assistant on the web: a websocket
// widget (with an HTTP fallback) that feeds the same conversation engine the
// WhatsApp channel uses. A web session gets a synthetic phone identity so
// the session store and engine need no channel awareness.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/chatapp"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Processor runs one conversation turn. *conversation.Engine satisfies it.
type Processor interface {
	HandleMessage(ctx context.Context, tenant *accounts.Account, msg chatapp.InboundMessage) error
}

type tenantResolver interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
}

type historyLister interface {
	ListByPhone(ctx context.Context, tenantID, phone string) ([]conversation.Conversation, error)
}

// Handler manages web chat sessions and routes their messages through the
// engine. Replies come back via the session registry: the engine's messenger
// (see ReplyMessenger) pushes to whichever connection owns the session.
type Handler struct {
	engine   Processor
	tenants  tenantResolver
	history  historyLister
	widgetJS []byte
	logger   *logging.Logger

	mu       sync.RWMutex
	sessions map[string]sessionSink // synthetic phone -> active sink
}

type sessionSink func(OutboundMessage)

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what the widget receives.
type OutboundMessage struct {
	Type      string   `json:"type"` // "message", "typing", "history", "session", "pong", "error"
	Text      string   `json:"text,omitempty"`
	Role      string   `json:"role,omitempty"`
	Options   []string `json:"options,omitempty"` // quick-reply button titles
	SessionID string   `json:"session_id,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`

	Messages []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is one transcript entry in history responses.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func NewHandler(engine Processor, tenants tenantResolver, history historyLister, widgetJS []byte, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:   engine,
		tenants:  tenants,
		history:  history,
		widgetJS: widgetJS,
		logger:   logger,
		sessions: make(map[string]sessionSink),
	}
}

// Bind attaches the conversation engine after construction. The engine's
// messenger pushes into this handler's session registry, so the two reference
// each other and wiring is two-phase: handler, then messenger, then engine,
// then Bind.
func (h *Handler) Bind(engine Processor) {
	h.engine = engine
}

// SessionPhone is the synthetic phone identity of a web session. The prefix
// keeps web sessions out of any real phone number space.
func SessionPhone(sessionID string) string {
	return "web-" + sessionID
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades GET /webchat/ws?account_id&session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing account_id parameter"})
		return
	}
	tenant, err := h.tenants.Get(r.Context(), accountID)
	if err != nil {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "unknown account"})
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	sessionPhone := SessionPhone(sessionID)

	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	if history := h.loadHistory(r.Context(), tenant.ID, sessionPhone); len(history) > 0 {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
	}

	var sendMu sync.Mutex
	sink := func(msg OutboundMessage) {
		sendMu.Lock()
		defer sendMu.Unlock()
		_ = websocket.JSON.Send(conn, msg)
	}
	h.register(sessionPhone, sink)
	defer h.unregister(sessionPhone)

	h.logger.Info("webchat connection opened", "account_id", tenant.ID, "session_id", sessionID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat connection closed", "account_id", tenant.ID, "error", err)
			return
		}

		if msg.Type == "ping" {
			sink(OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		sink(OutboundMessage{Type: "typing"})
		h.runTurn(r.Context(), tenant, sessionID, msg.Text, sink)
	}
}

func (h *Handler) runTurn(ctx context.Context, tenant *accounts.Account, sessionID, text string, sink sessionSink) {
	inbound := chatapp.InboundMessage{
		MessageID:     "webchat-" + uuid.NewString(),
		From:          SessionPhone(sessionID),
		PhoneNumberID: tenant.PhoneNumberID,
		Type:          chatapp.TypeText,
		Text:          text,
	}
	if err := h.engine.HandleMessage(ctx, tenant, inbound); err != nil {
		h.logger.Error("webchat turn failed", "error", err, "account_id", tenant.ID, "session_id", sessionID)
		sink(OutboundMessage{Type: "error", Text: "Lo siento, algo salió mal. Intenta de nuevo."})
	}
}

// HandleMessage is the HTTP fallback: POST /webchat/message. The engine runs
// synchronously, so when the session has no open websocket the replies are
// collected and returned in the response body.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "account_id and text are required", http.StatusBadRequest)
		return
	}
	tenant, err := h.tenants.Get(r.Context(), req.AccountID)
	if err != nil {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	sessionPhone := SessionPhone(req.SessionID)

	var (
		bufMu   sync.Mutex
		replies []OutboundMessage
	)
	buffered := h.registerIfAbsent(sessionPhone, func(msg OutboundMessage) {
		bufMu.Lock()
		defer bufMu.Unlock()
		replies = append(replies, msg)
	})
	if buffered {
		defer h.unregister(sessionPhone)
	}

	sink := func(msg OutboundMessage) { h.push(sessionPhone, msg) }
	h.runTurn(r.Context(), tenant, req.SessionID, req.Text, sink)

	bufMu.Lock()
	defer bufMu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": req.SessionID,
		"replies":    replies,
	})
}

// HandleHistory returns the transcript: GET /webchat/history?account_id&session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	sessionID := r.URL.Query().Get("session")
	if accountID == "" || sessionID == "" {
		http.Error(w, "account_id and session parameters required", http.StatusBadRequest)
		return
	}

	history := h.loadHistory(r.Context(), accountID, SessionPhone(sessionID))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": history})
}

// HandleWidgetJS serves the embeddable widget script.
func (h *Handler) HandleWidgetJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(h.widgetJS)
}

func (h *Handler) loadHistory(ctx context.Context, tenantID, sessionPhone string) []HistoryMessage {
	if h.history == nil {
		return nil
	}
	convs, err := h.history.ListByPhone(ctx, tenantID, sessionPhone)
	if err != nil {
		h.logger.Warn("webchat history load failed", "error", err, "account_id", tenantID)
		return nil
	}
	var out []HistoryMessage
	for _, conv := range convs {
		for _, msg := range conv.Messages {
			if msg.Role == conversation.RoleSystem {
				continue
			}
			out = append(out, HistoryMessage{
				Role:      msg.Role,
				Text:      msg.Content,
				Timestamp: msg.CreatedAt.Format(time.RFC3339),
			})
		}
	}
	return out
}

func (h *Handler) register(sessionPhone string, sink sessionSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionPhone] = sink
}

// registerIfAbsent installs sink only when the session has no live
// connection, reporting whether it did.
func (h *Handler) registerIfAbsent(sessionPhone string, sink sessionSink) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionPhone]; ok {
		return false
	}
	h.sessions[sessionPhone] = sink
	return true
}

func (h *Handler) unregister(sessionPhone string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionPhone)
}

// push delivers a frame to whichever sink owns the session, dropping it when
// the session went away.
func (h *Handler) push(sessionPhone string, msg OutboundMessage) {
	h.mu.RLock()
	sink, ok := h.sessions[sessionPhone]
	h.mu.RUnlock()
	if !ok {
		return
	}
	sink(msg)
}
