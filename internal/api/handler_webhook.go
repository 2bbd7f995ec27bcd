package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"workbridge/contracts/mq"
	"workbridge/pkg/trace"
)

// SignatureHeader carries the HMAC-SHA256 of the raw webhook body, hex
// encoded, keyed with the shared webhook secret.
const SignatureHeader = "X-Escrow-Signature"

// Publisher is the slice of the MQ publisher the webhook needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type WebhookHandler struct {
	publisher Publisher
	secret    string
	logger    *zap.Logger
}

func NewWebhookHandler(publisher Publisher, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{publisher: publisher, secret: secret, logger: logger}
}

// HandleEscrowEvent handles POST /webhooks/escrow. The gateway delivers hold
// confirmations here; the handler only verifies the signature and hands the
// event to the queue, so a slow database never makes the gateway retry.
func (h *WebhookHandler) HandleEscrowEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader(SignatureHeader)) {
		h.logger.Warn("Webhook signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var event struct {
		HoldID  string `json:"hold_id"`
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.HoldID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if event.Outcome != mq.HoldOutcomeSucceeded && event.Outcome != mq.HoldOutcomeFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome"})
		return
	}

	payload := mq.EscrowHoldEventPayload{
		HoldID:     event.HoldID,
		Outcome:    event.Outcome,
		ReceivedAt: time.Now().UTC(),
		TraceID:    trace.FromContext(c.Request.Context()),
	}
	if err := h.publisher.PublishWithContext(c.Request.Context(), mq.RoutingKeyEscrowHoldEvent, payload); err != nil {
		h.logger.Error("Failed to enqueue webhook event",
			zap.String("hold_id", event.HoldID),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event not accepted"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
