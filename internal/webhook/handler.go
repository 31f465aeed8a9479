// ABOUTME: HTTP webhook receiving inbound messaging events
// ABOUTME: Normalizes flat, list and nested provider payloads into router events

package webhook

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomiGarbe/whatsapp-bot/internal/dedupe"
	"github.com/TomiGarbe/whatsapp-bot/internal/router"
)

// Handler exposes the inbound webhook over HTTP.
type Handler struct {
	router routeFunc
	dedupe *dedupe.Cache
	logger *slog.Logger
}

type routeFunc func(ctx *gin.Context, event *router.Event) error

// NewHandler creates a webhook handler backed by the given router.
// A nil dedupe cache disables redelivery suppression.
func NewHandler(r *router.Router, cache *dedupe.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		router: func(c *gin.Context, event *router.Event) error {
			return r.Route(c.Request.Context(), event)
		},
		dedupe: cache,
		logger: logger.With("component", "webhook"),
	}
}

// Register installs the webhook routes on a gin engine.
func (h *Handler) Register(engine *gin.Engine) {
	engine.GET("/health", h.handleHealth)
	engine.POST("/webhook/messages", h.handleMessages)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleMessages(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	events := normalize(raw)
	if len(events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no messages in payload"})
		return
	}

	processed := 0
	for _, event := range events {
		if h.dedupe != nil && event.MessageID != "" && h.dedupe.Check(event.MessageID) {
			h.logger.Debug("skipping redelivered message", "message_id", event.MessageID)
			continue
		}
		if err := h.router(c, event); err != nil {
			if errors.Is(err, router.ErrInvalidEvent) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			h.logger.Error("routing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "message routing failed"})
			return
		}
		// Mark only after successful routing so a failed delivery is not
		// treated as a duplicate when the provider redelivers it.
		if h.dedupe != nil && event.MessageID != "" {
			h.dedupe.Mark(event.MessageID)
		}
		processed++
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted", "processed": processed})
}

// normalize converts a raw webhook body into router events. Three payload
// shapes are accepted: a flat single-message object, an object carrying a
// top-level "messages" list, and the nested entry/changes/value structure
// used by WhatsApp Cloud webhooks. Top-level identity fields are inherited
// by every message in a batch.
func normalize(raw map[string]any) []*router.Event {
	base := eventFromMap(raw)

	if msgs, ok := raw["messages"].([]any); ok {
		return eventsFromList(msgs, base)
	}

	if entries, ok := raw["entry"].([]any); ok {
		var events []*router.Event
		for _, e := range entries {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			changes, _ := entry["changes"].([]any)
			for _, ch := range changes {
				change, ok := ch.(map[string]any)
				if !ok {
					continue
				}
				value, ok := change["value"].(map[string]any)
				if !ok {
					continue
				}
				msgs, _ := value["messages"].([]any)
				events = append(events, eventsFromList(msgs, base)...)
			}
		}
		return events
	}

	return []*router.Event{base}
}

func eventsFromList(msgs []any, base *router.Event) []*router.Event {
	var events []*router.Event
	for _, m := range msgs {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		events = append(events, inherit(eventFromMap(msg), base))
	}
	return events
}

func eventFromMap(m map[string]any) *router.Event {
	event := &router.Event{
		Phone:       stringField(m, "phone"),
		User:        stringField(m, "user"),
		From:        stringField(m, "from"),
		FromPhone:   stringField(m, "from_phone"),
		SenderPhone: stringField(m, "sender_phone"),
		WaID:        stringField(m, "wa_id"),
		Message:     stringField(m, "message"),
		Body:        stringField(m, "body"),
		BusinessID:  stringField(m, "business_id"),
		UserID:      stringField(m, "user_id"),
		SenderType:  stringField(m, "sender_type"),
		IsAgent:     boolField(m, "is_agent"),
		IsAdvisor:   boolField(m, "is_advisor"),
		FromMe:      boolField(m, "from_me"),
		MessageID:   stringField(m, "message_id"),
		Timestamp:   stringField(m, "timestamp"),
	}

	// "text" is either a plain string or a {"body": "..."} object.
	switch t := m["text"].(type) {
	case string:
		event.Text = t
	case map[string]any:
		event.Text = stringField(t, "body")
	}

	if event.MessageID == "" {
		event.MessageID = stringField(m, "id")
	}
	return event
}

// inherit copies identity fields from the batch envelope into a message event
// when the message itself did not carry them.
func inherit(event, base *router.Event) *router.Event {
	if event.BusinessID == "" {
		event.BusinessID = base.BusinessID
	}
	if event.UserID == "" {
		event.UserID = base.UserID
	}
	if event.SenderType == "" {
		event.SenderType = base.SenderType
	}
	event.IsAgent = event.IsAgent || base.IsAgent
	event.IsAdvisor = event.IsAdvisor || base.IsAdvisor
	event.FromMe = event.FromMe || base.FromMe
	return event
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
