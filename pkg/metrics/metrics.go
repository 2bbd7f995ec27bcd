package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// Escrow gateway 调用延迟（毫秒）
	GatewayCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_gateway_call_latency_ms",
			Help:    "Escrow gateway call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"operation", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 生命周期状态迁移计数
	LifecycleTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transition_count",
			Help: "Total number of contract/milestone state transitions",
		},
		[]string{"entity", "to_state"}, // entity: contract, milestone, payment
	)

	// Escrow webhook 处理计数
	WebhookEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_webhook_event_count",
			Help: "Total number of escrow webhook events processed",
		},
		[]string{"outcome", "result"}, // result: applied, duplicate, orphan, failed
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of slow database queries",
		},
		[]string{"sql"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordGatewayCallLatency 记录 escrow gateway 调用延迟
func RecordGatewayCallLatency(operation, status string, duration time.Duration) {
	GatewayCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementLifecycleTransition 增加状态迁移计数
func IncrementLifecycleTransition(entity, toState string) {
	LifecycleTransitionCount.WithLabelValues(entity, toState).Inc()
}

// IncrementWebhookEvent 增加 webhook 事件计数
func IncrementWebhookEvent(outcome, result string) {
	WebhookEventCount.WithLabelValues(outcome, result).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(sql string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}
