package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "workbridge/contracts/mq"
	"workbridge/internal/apperr"
	"workbridge/pkg/metrics"
	"workbridge/pkg/mq"
	"workbridge/pkg/trace"
	"workbridge/pkg/util"
)

const maxRetries = 5

// holdReconciler is the slice of the escrow service this handler drives.
type holdReconciler interface {
	OnHoldEvent(ctx context.Context, holdID, outcome string) error
}

// EscrowHoldEventHandler consumes hold confirmations from the payment
// processor. Delivery is at-least-once, so the handler dedups on hold id and
// outcome and relies on the reconciler's idempotency for anything that slips
// through.
type EscrowHoldEventHandler struct {
	reconciler   holdReconciler
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	dlqPublisher *mq.Publisher
	logger       *zap.Logger
}

func NewEscrowHoldEventHandler(
	reconciler holdReconciler,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	dlqPublisher *mq.Publisher,
	logger *zap.Logger,
) *EscrowHoldEventHandler {
	return &EscrowHoldEventHandler{
		reconciler:   reconciler,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlqPublisher: dlqPublisher,
		logger:       logger,
	}
}

func (h *EscrowHoldEventHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	start := time.Now()
	defer func() {
		metrics.RecordMQConsumeLatency(mqcontracts.RoutingKeyEscrowHoldEvent, "escrow.hold.event.q", time.Since(start))
	}()

	var p mqcontracts.EscrowHoldEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// JSON decode 错误 - 不可重试，直接进 DLQ
		h.logger.Error("Invalid EscrowHoldEventPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		h.sendToDLQ(raw, "bad_payload: "+err.Error())
		return nil
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	ref := fmt.Sprintf("%s:%s", p.HoldID, p.Outcome)

	// Redis 去重（避免并发重复消费）
	if !h.deduper.AcquireOnce(ctx, "escrow_hold", ref) {
		h.logger.Info("Duplicate hold event skipped",
			zap.String("hold_id", p.HoldID),
			zap.String("outcome", p.Outcome),
		)
		return nil
	}

	retryKey := util.FormatRetryKey("escrow_hold", ref)
	retryCount, _ := h.retryCounter.IncrementAndGet(ctx, retryKey)

	h.logger.Info("Reconciling escrow hold event",
		zap.String("hold_id", p.HoldID),
		zap.String("outcome", p.Outcome),
		zap.Int64("retry", retryCount),
	)

	if err := h.reconciler.OnHoldEvent(ctx, p.HoldID, p.Outcome); err != nil {
		return h.handleReconcileError(ctx, err, raw, retryKey, retryCount, p)
	}

	h.retryCounter.Reset(ctx, retryKey)
	h.logger.Info("Hold event reconciled",
		zap.String("hold_id", p.HoldID),
		zap.String("outcome", p.Outcome),
	)
	return nil
}

func (h *EscrowHoldEventHandler) handleReconcileError(ctx context.Context, err error, raw json.RawMessage, retryKey string, retryCount int64, p mqcontracts.EscrowHoldEventPayload) error {
	// 孤儿事件：hold 对不上任何 payment，记录后 ack，等人工排查
	if apperr.Is(err, apperr.CodeOrphanEvent) {
		h.logger.Warn("Orphan hold event, no matching payment",
			zap.String("hold_id", p.HoldID),
			zap.String("outcome", p.Outcome),
		)
		h.sendToDLQ(raw, "orphan_event: "+err.Error())
		h.retryCounter.Reset(ctx, retryKey)
		return nil
	}

	isRetryable, errType := util.IsRetryableError(err)
	h.logger.Error("Hold event reconciliation failed",
		zap.String("hold_id", p.HoldID),
		zap.String("outcome", p.Outcome),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if retryCount > maxRetries {
		h.logger.Warn("Max retries exceeded, sending hold event to DLQ",
			zap.String("hold_id", p.HoldID),
		)
		h.sendToDLQ(raw, "max_retries: "+err.Error())
		h.retryCounter.Reset(ctx, retryKey)
		return nil
	}

	if !isRetryable {
		h.sendToDLQ(raw, errType+": "+err.Error())
		h.retryCounter.Reset(ctx, retryKey)
		return nil
	}

	// 可重试错误，nack 让 MQ 重投；释放去重 key，否则重投会被当作重复跳过
	h.deduper.Release(ctx, "escrow_hold", fmt.Sprintf("%s:%s", p.HoldID, p.Outcome))
	return err
}

func (h *EscrowHoldEventHandler) sendToDLQ(raw []byte, reason string) {
	if h.dlqPublisher == nil {
		return
	}
	if err := h.dlqPublisher.PublishToDLQ(mqcontracts.RoutingKeyEscrowHoldEvent, raw, reason); err != nil {
		h.logger.Error("Failed to publish hold event to DLQ", zap.Error(err))
	}
}
