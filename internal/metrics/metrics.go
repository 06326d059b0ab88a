package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 风险评估服务指标（进程级，注册到默认 registry，通过 /metrics 暴露）
var (
	// signalsTotal 评分次数，labels: source, level
	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "signals_total",
		Help:      "Risk signals produced, by source and level",
	}, []string{"source", "level"})

	// scoreLatency 单次评分耗时
	scoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "score_latency_seconds",
		Help:      "Risk scoring latency in seconds",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	}, []string{"source"})

	// transitionsTotal 状态迁移次数，labels: action, result (ok, rejected, error)
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "alert_transitions_total",
		Help:      "Alert state transitions, by action and result",
	}, []string{"action", "result"})

	// notificationsTotal 通知投递次数，labels: channel, reason, result
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "notifications_total",
		Help:      "Notification dispatch attempts, by channel, reason and result",
	}, []string{"channel", "reason", "result"})

	// sweepDuration SLA 巡检耗时
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "sweep_duration_seconds",
		Help:      "SLA sweep duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// sweepEscalations 巡检中升级的报警数
	sweepEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "sweep_escalations_total",
		Help:      "Alerts escalated by the SLA sweep",
	})

	// sweepSkipped 因未取得租约而跳过的巡检
	sweepSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "sweep_skipped_total",
		Help:      "Sweeps skipped because another instance holds the lease",
	})

	// messagesConsumed 聊天消息流消费次数，labels: result (ok, skipped, error)
	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "chat_messages_total",
		Help:      "Chat messages consumed from the ingest stream, by result",
	}, []string{"result"})

	// activeAlerts 最近一次巡检看到的未处理报警数
	activeAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wisefido",
		Subsystem: "risk",
		Name:      "active_alerts",
		Help:      "Open or escalated alerts seen by the last sweep",
	})
)

// 迁移结果标签
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultSkipped  = "skipped"
)

// RecordSignal 记录一次评分
func RecordSignal(source, level string, elapsed time.Duration) {
	signalsTotal.WithLabelValues(source, level).Inc()
	scoreLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// RecordTransition 记录一次状态迁移
func RecordTransition(action, result string) {
	transitionsTotal.WithLabelValues(action, result).Inc()
}

// RecordNotification 记录一次通知投递
func RecordNotification(channel, reason, result string) {
	notificationsTotal.WithLabelValues(channel, reason, result).Inc()
}

// RecordSweep 记录一次巡检
func RecordSweep(elapsed time.Duration, active, escalated int) {
	sweepDuration.Observe(elapsed.Seconds())
	activeAlerts.Set(float64(active))
	sweepEscalations.Add(float64(escalated))
}

// RecordSweepSkipped 记录一次跳过的巡检
func RecordSweepSkipped() {
	sweepSkipped.Inc()
}

// RecordMessage 记录一条聊天消息的处理结果
func RecordMessage(result string) {
	messagesConsumed.WithLabelValues(result).Inc()
}
