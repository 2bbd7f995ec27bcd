package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workbridge/contracts/mq"
)

const webhookSecret = "whsec_test"

type capturePublisher struct {
	routingKey string
	payload    any
	err        error
}

func (p *capturePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.routingKey = routingKey
	p.payload = payload
	return p.err
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, pub *capturePublisher, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(pub, webhookSecret, zap.NewNop())
	r.POST("/webhooks/escrow", h.HandleEscrowEvent)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/escrow", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAccepted(t *testing.T) {
	pub := &capturePublisher{}
	body := []byte(`{"hold_id":"hold_abc","outcome":"succeeded"}`)

	w := postWebhook(t, pub, body, sign(body))
	assert.Equal(t, http.StatusAccepted, w.Code)

	assert.Equal(t, mq.RoutingKeyEscrowHoldEvent, pub.routingKey)
	payload, ok := pub.payload.(mq.EscrowHoldEventPayload)
	require.True(t, ok)
	assert.Equal(t, "hold_abc", payload.HoldID)
	assert.Equal(t, mq.HoldOutcomeSucceeded, payload.Outcome)
	assert.False(t, payload.ReceivedAt.IsZero())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	pub := &capturePublisher{}
	body := []byte(`{"hold_id":"hold_abc","outcome":"succeeded"}`)

	w := postWebhook(t, pub, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, pub.routingKey, "unverified events must not reach the queue")

	w = postWebhook(t, pub, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// signature of a different body
	w = postWebhook(t, pub, body, sign([]byte(`{"hold_id":"hold_other"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	pub := &capturePublisher{}

	body := []byte(`not json`)
	w := postWebhook(t, pub, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = []byte(`{"outcome":"succeeded"}`)
	w = postWebhook(t, pub, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = []byte(`{"hold_id":"hold_abc","outcome":"exploded"}`)
	w = postWebhook(t, pub, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, pub.routingKey)
}

func TestWebhookQueueDown(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker unreachable")}
	body := []byte(`{"hold_id":"hold_abc","outcome":"failed"}`)

	// 503 让网关稍后重投
	w := postWebhook(t, pub, body, sign(body))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
