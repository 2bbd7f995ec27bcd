package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"workbridge/pkg/outbox"
)

// OutboxEvent describes an event to be inserted into the outbox inside the
// same transaction as the business write that caused it.
type OutboxEvent struct {
	AggregateType string
	AggregateID   *int64
	RoutingKey    string
	Payload       any
}

// AggregateID 辅助函数：int 主键转 outbox aggregate id
func AggregateID(id int) *int64 {
	v := int64(id)
	return &v
}

func insertOutboxEvents(ctx context.Context, tx pgx.Tx, repo *outbox.Repository, events []OutboxEvent) error {
	for _, e := range events {
		if err := outbox.InsertEventInTx(ctx, tx, repo, e.AggregateType, e.AggregateID, e.RoutingKey, e.Payload); err != nil {
			return err
		}
	}
	return nil
}
