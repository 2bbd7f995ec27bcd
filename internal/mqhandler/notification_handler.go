package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "workbridge/contracts/mq"
	"workbridge/internal/model"
	"workbridge/internal/repository"
	"workbridge/pkg/util"
)

// NotificationCreatedHandler materializes notification events into the
// notifications table so users can read them over HTTP.
type NotificationCreatedHandler struct {
	repo   *repository.NotificationRepository
	logger *zap.Logger
}

func NewNotificationCreatedHandler(repo *repository.NotificationRepository, logger *zap.Logger) *NotificationCreatedHandler {
	return &NotificationCreatedHandler{
		repo:   repo,
		logger: logger,
	}
}

func (h *NotificationCreatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.NotificationCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// JSON decode 错误 - 不可重试
		h.logger.Error("Failed to unmarshal notification payload (non-retryable)",
			zap.Error(err),
		)
		return nil
	}

	notif := &model.Notification{
		UserID:  p.UserID,
		Type:    p.Type,
		Content: p.Content,
	}
	if err := h.repo.Insert(ctx, notif); err != nil {
		isRetryable, errType := util.IsRetryableError(err)
		h.logger.Error("Failed to insert notification",
			zap.Int("user_id", p.UserID),
			zap.String("type", p.Type),
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Error(err),
		)
		if !isRetryable {
			return nil
		}
		return err
	}

	h.logger.Info("Notification created",
		zap.Int("user_id", p.UserID),
		zap.String("type", p.Type),
	)
	return nil
}
