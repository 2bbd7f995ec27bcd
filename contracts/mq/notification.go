package mq

// Routing keys for notification events.
const (
	RoutingKeyNotificationCreated = "notification.created"
)

// Notification types emitted by the lifecycle engine.
const (
	NotificationTypeContractCreated   = "contract_created"
	NotificationTypeContractCompleted = "contract_completed"
	NotificationTypeContractCancelled = "contract_cancelled"
	NotificationTypeContractDisputed  = "contract_disputed"
	NotificationTypeBidAccepted       = "bid_accepted"
	NotificationTypeMilestoneStarted  = "milestone_started"
	NotificationTypePaymentRequested  = "payment_requested"
	NotificationTypePaymentFailed     = "payment_failed"
	NotificationTypeMilestonePaid     = "milestone_paid"
)

// 通知事件的 payload，由 outbox dispatcher 发布，worker 落库
type NotificationCreatedPayload struct {
	UserID  int    `json:"user_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	TraceID string `json:"trace_id,omitempty"`
}
