package service

import (
	"context"

	"workbridge/contracts/mq"
	"workbridge/internal/repository"
	"workbridge/pkg/trace"
)

// notifyEvent builds the outbox event that fans a notification out to the
// worker. Written in the same transaction as the state change it announces.
func notifyEvent(ctx context.Context, userID int, notifType, content string) repository.OutboxEvent {
	return repository.OutboxEvent{
		AggregateType: "notification",
		AggregateID:   repository.AggregateID(userID),
		RoutingKey:    mq.RoutingKeyNotificationCreated,
		Payload: mq.NotificationCreatedPayload{
			UserID:  userID,
			Type:    notifType,
			Content: content,
			TraceID: trace.FromContext(ctx),
		},
	}
}
