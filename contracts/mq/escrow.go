package mq

import "time"

// Routing keys for escrow gateway events.
const (
	RoutingKeyEscrowHoldEvent = "escrow.hold.event"
)

// Hold outcomes reported by the payment processor.
const (
	HoldOutcomeSucceeded = "succeeded"
	HoldOutcomeFailed    = "failed"
)

// Escrow hold 确认事件的 payload（at-least-once，可能重复投递）
type EscrowHoldEventPayload struct {
	HoldID     string    `json:"hold_id"`
	Outcome    string    `json:"outcome"`
	ReceivedAt time.Time `json:"received_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
