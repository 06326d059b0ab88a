package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wisefido-risk/internal/evaluator"
	"wisefido-risk/internal/metrics"
	"wisefido-risk/internal/models"
	"wisefido-risk/internal/notifier"
	"wisefido-risk/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxTransitionAttempts 并发冲突后重读重试的次数上限（目标状态仍可达时）
const maxTransitionAttempts = 3

// LifecycleOptions 报警生命周期参数
type LifecycleOptions struct {
	SweepConcurrency int           // 巡检并发上限，默认 8
	DispatchTimeout  time.Duration // 单次通知超时，默认 10秒
	Now              func() time.Time
}

// AlertLifecycle 报警状态机
// 职责：
// 1. 创建报警并发送首次通知
// 2. 确认 / 解决（乐观锁，状态只前进）
// 3. SLA 巡检升级
// 4. 每次状态变更写审计记录
type AlertLifecycle struct {
	store    repository.AlertStore
	notifier notifier.Notifier
	audit    repository.AuditSink
	logger   *zap.Logger
	opts     LifecycleOptions
}

// NewAlertLifecycle 创建报警状态机
func NewAlertLifecycle(
	store repository.AlertStore,
	n notifier.Notifier,
	audit repository.AuditSink,
	logger *zap.Logger,
	opts LifecycleOptions,
) *AlertLifecycle {
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = 8
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AlertLifecycle{
		store:    store,
		notifier: n,
		audit:    audit,
		logger:   logger,
		opts:     opts,
	}
}

// ============================================
// 创建
// ============================================

// CreateAlert 根据风险信号和策略创建报警
// 策略不要求报警时返回 ErrNoAlertWarranted；写入失败时不发通知、不写审计
func (l *AlertLifecycle) CreateAlert(ctx context.Context, signal models.RiskSignal, policy models.AlertPolicy, subjectID, actor string) (*models.Alert, error) {
	now := l.opts.Now()

	alert, err := evaluator.NewAlertBuilder(subjectID).BuildAlert(signal, policy, now)
	if err != nil {
		return nil, err
	}

	if err := l.store.CreateAlert(ctx, alert); err != nil {
		metrics.RecordTransition(string(models.AuditCreate), metrics.ResultError)
		l.logger.Error("Failed to create alert",
			zap.String("subject_id", subjectID),
			zap.String("level", string(signal.Level)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	metrics.RecordTransition(string(models.AuditCreate), metrics.ResultOK)

	if actor == "" {
		actor = models.SystemActor
	}
	l.recordAudit(ctx, models.AuditRecord{
		Actor:     actor,
		Action:    models.AuditCreate,
		AlertID:   alert.AlertID,
		ToState:   models.AlertOpen,
		Timestamp: now,
		Detail:    fmt.Sprintf("%s risk from %s (score %d)", signal.Level, signal.Source, signal.Score),
	})

	l.logger.Info("Alert created",
		zap.String("alert_id", alert.AlertID),
		zap.String("subject_id", subjectID),
		zap.String("level", string(alert.Trigger.Level)),
		zap.String("urgency", string(alert.Policy.Urgency)),
	)

	l.dispatch(ctx, l.notificationsFor(alert, models.NotifyInitial, []int{0}, now))

	return alert, nil
}

// ============================================
// 状态管理
// ============================================

// Acknowledge 确认报警（open / escalated -> acknowledged）
func (l *AlertLifecycle) Acknowledge(ctx context.Context, alertID, responder, note string) (*models.Alert, error) {
	responder = strings.TrimSpace(responder)
	if responder == "" {
		return nil, fmt.Errorf("%w: responder is required", models.ErrInvalidInput)
	}

	return l.transition(ctx, alertID, models.AuditAcknowledge, models.AlertAcknowledged, responder, note,
		func(a *models.Alert, now time.Time) {
			a.AcknowledgedBy = &responder
			a.AcknowledgedAt = &now
			if note != "" {
				n := note
				a.AcknowledgedNote = &n
			}
		})
}

// Resolve 解决报警（open / acknowledged / escalated -> resolved），必须填写处理总结
func (l *AlertLifecycle) Resolve(ctx context.Context, alertID, responder, summary string) (*models.Alert, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, models.ErrMissingSummary
	}
	responder = strings.TrimSpace(responder)
	if responder == "" {
		return nil, fmt.Errorf("%w: responder is required", models.ErrInvalidInput)
	}

	return l.transition(ctx, alertID, models.AuditResolve, models.AlertResolved, responder, summary,
		func(a *models.Alert, now time.Time) {
			a.ResolvedBy = &responder
			a.ResolvedAt = &now
			a.ResolutionSummary = &summary
		})
}

// transition 通用迁移：读取 -> 校验 -> 副本上修改 -> 条件写入
// 条件写入失败时重读：目标状态已不可达则返回对应的 TransitionError
func (l *AlertLifecycle) transition(
	ctx context.Context,
	alertID string,
	action models.AuditAction,
	target models.AlertState,
	actor, detail string,
	apply func(a *models.Alert, now time.Time),
) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert_id is required", models.ErrInvalidInput)
	}

	for attempt := 1; ; attempt++ {
		current, err := l.store.GetAlert(ctx, alertID)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				l.logger.Error("Failed to load alert",
					zap.String("alert_id", alertID),
					zap.Error(err),
				)
			}
			return nil, err
		}

		if !current.State.CanTransitionTo(target) {
			metrics.RecordTransition(string(action), metrics.ResultRejected)
			return nil, models.NewTransitionError(current)
		}

		now := l.opts.Now()
		next := current.Clone()
		apply(next, now)
		next.State = target
		next.UpdatedAt = now
		next.Version = current.Version + 1

		err = l.store.UpdateAlert(ctx, next, current.State, current.Version)
		if err == nil {
			metrics.RecordTransition(string(action), metrics.ResultOK)
			l.recordAudit(ctx, models.AuditRecord{
				Actor:     actor,
				Action:    action,
				AlertID:   alertID,
				FromState: current.State,
				ToState:   target,
				Timestamp: now,
				Detail:    detail,
			})
			l.logger.Info("Alert state changed",
				zap.String("alert_id", alertID),
				zap.String("from", string(current.State)),
				zap.String("to", string(target)),
				zap.String("actor", actor),
			)
			return next, nil
		}

		if !errors.Is(err, models.ErrStaleState) {
			metrics.RecordTransition(string(action), metrics.ResultError)
			l.logger.Error("Failed to update alert",
				zap.String("alert_id", alertID),
				zap.String("action", string(action)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to %s alert: %w", action, err)
		}

		if attempt >= maxTransitionAttempts {
			metrics.RecordTransition(string(action), metrics.ResultRejected)
			return nil, &models.TransitionError{AlertID: alertID, Kind: models.ErrStaleState, State: current.State}
		}
		l.logger.Debug("Alert changed concurrently, retrying",
			zap.String("alert_id", alertID),
			zap.String("action", string(action)),
			zap.Int("attempt", attempt),
		)
	}
}

// ============================================
// SLA 巡检
// ============================================

// SweepSLA 检查所有未处理报警的升级 SLA
// 对同一 now 重复调用是幂等的；每个超时区间只升级一次
func (l *AlertLifecycle) SweepSLA(ctx context.Context, now time.Time) (*models.SweepReport, error) {
	start := time.Now()

	candidates, undecodable, err := l.store.ListActiveAlerts(ctx)
	if err != nil {
		l.logger.Error("Failed to list active alerts for sweep", zap.Error(err))
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}

	// 无法解码的报警无法升级，计为失败
	report := &models.SweepReport{Checked: len(candidates) + undecodable, Failed: undecodable}
	var mu sync.Mutex

	// 状态迁移受并发上限约束；通知在组外投递，慢渠道不占用迁移名额
	var dispatches sync.WaitGroup
	g := errgroup.Group{}
	g.SetLimit(l.opts.SweepConcurrency)

	for _, alert := range candidates {
		alert := alert
		g.Go(func() error {
			escalated, pending, err := l.escalateIfDue(ctx, alert, now)
			if len(pending) > 0 {
				dispatches.Add(1)
				go func() {
					defer dispatches.Done()
					l.dispatch(ctx, pending)
				}()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				return nil
			}
			if escalated != nil {
				report.Escalated = append(report.Escalated, escalated)
			}
			return nil
		})
	}
	_ = g.Wait()
	dispatches.Wait()

	metrics.RecordSweep(time.Since(start), len(candidates), len(report.Escalated))

	if len(report.Escalated) > 0 || report.Failed > 0 {
		l.logger.Info("SLA sweep completed",
			zap.Time("now", now),
			zap.Int("checked", report.Checked),
			zap.Int("escalated", len(report.Escalated)),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// escalateIfDue 超过新的升级区间时升级，返回待投递的通知
func (l *AlertLifecycle) escalateIfDue(ctx context.Context, alert *models.Alert, now time.Time) (*models.Alert, []models.Notification, error) {
	breached := alert.BreachedIntervals(now)
	if breached <= alert.EscalationLevel {
		return nil, nil, nil
	}
	if !alert.State.CanTransitionTo(models.AlertEscalated) {
		return nil, nil, nil
	}

	prevLevel := alert.EscalationLevel
	next := alert.Clone()
	next.State = models.AlertEscalated
	next.EscalationLevel = breached
	next.EscalatedAt = &now
	next.UpdatedAt = now
	next.Version = alert.Version + 1

	if err := l.store.UpdateAlert(ctx, next, alert.State, alert.Version); err != nil {
		if errors.Is(err, models.ErrStaleState) {
			// 巡检期间已被确认/解决或被其他实例升级
			metrics.RecordTransition(string(models.AuditEscalate), metrics.ResultRejected)
			l.logger.Info("Skipping escalation, alert changed concurrently",
				zap.String("alert_id", alert.AlertID),
			)
			return nil, nil, nil
		}
		metrics.RecordTransition(string(models.AuditEscalate), metrics.ResultError)
		l.logger.Error("Failed to escalate alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
		return nil, nil, err
	}
	metrics.RecordTransition(string(models.AuditEscalate), metrics.ResultOK)

	l.recordAudit(ctx, models.AuditRecord{
		Actor:     models.SystemActor,
		Action:    models.AuditEscalate,
		AlertID:   alert.AlertID,
		FromState: alert.State,
		ToState:   models.AlertEscalated,
		Timestamp: now,
		Detail:    fmt.Sprintf("escalation level %d -> %d", prevLevel, breached),
	})

	l.logger.Warn("Alert escalated",
		zap.String("alert_id", alert.AlertID),
		zap.String("subject_id", alert.SubjectID),
		zap.Int("from_level", prevLevel),
		zap.Int("to_level", breached),
	)

	levels := escalationLevels(prevLevel, breached, len(next.Policy.EscalationContacts))
	return next, l.notificationsFor(next, models.NotifyEscalation, levels, now), nil
}

// escalationLevels 本次升级需要通知的级别
// 链内尚未通知的联系人各通知一次；越过链尾后每次升级只再通知链尾一次
func escalationLevels(prevLevel, breached, contacts int) []int {
	if contacts == 0 || breached <= prevLevel {
		return nil
	}
	top := breached
	if last := contacts - 1; top > last {
		top = last
	}
	var levels []int
	for level := prevLevel + 1; level < top; level++ {
		levels = append(levels, level)
	}
	return append(levels, breached)
}

// ============================================
// 查询
// ============================================

// GetAlert 获取单个报警
func (l *AlertLifecycle) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert_id is required", models.ErrInvalidInput)
	}
	return l.store.GetAlert(ctx, alertID)
}

// ListAlerts 查询报警列表
func (l *AlertLifecycle) ListAlerts(ctx context.Context, filters repository.AlertFilters, page, size int) ([]*models.Alert, int, error) {
	alerts, total, err := l.store.ListAlerts(ctx, filters, page, size)
	if err != nil {
		l.logger.Error("Failed to list alerts", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, total, nil
}

// ============================================
// 通知与审计
// ============================================

// notificationsFor 生成指定级别在每个渠道上的通知
func (l *AlertLifecycle) notificationsFor(alert *models.Alert, reason models.NotificationReason, levels []int, now time.Time) []models.Notification {
	var out []models.Notification
	for _, level := range levels {
		recipient, ok := alert.Policy.ContactForLevel(level)
		if !ok {
			return out
		}
		for _, channel := range alert.Policy.NotifyChannels {
			out = append(out, models.Notification{
				AlertID:         alert.AlertID,
				SubjectID:       alert.SubjectID,
				Level:           alert.Trigger.Level,
				Urgency:         alert.Policy.Urgency,
				Channel:         channel,
				Recipient:       recipient,
				Reason:          reason,
				EscalationLevel: level,
				Message:         notificationMessage(alert, reason, level),
				CreatedAt:       now,
			})
		}
	}
	return out
}

// dispatch 逐条投递；失败只记录，不影响状态
func (l *AlertLifecycle) dispatch(ctx context.Context, notifications []models.Notification) {
	if l.notifier == nil {
		return
	}
	for _, n := range notifications {
		dctx, cancel := context.WithTimeout(ctx, l.opts.DispatchTimeout)
		err := l.notifier.Notify(dctx, n)
		cancel()
		if err != nil {
			l.logger.Warn("Notification dispatch failed",
				zap.String("alert_id", n.AlertID),
				zap.String("channel", string(n.Channel)),
				zap.String("recipient", string(n.Recipient)),
				zap.String("reason", string(n.Reason)),
				zap.Int("escalation_level", n.EscalationLevel),
				zap.Error(err),
			)
		}
	}
}

// recordAudit 状态已提交后写审计，失败记录错误日志
func (l *AlertLifecycle) recordAudit(ctx context.Context, rec models.AuditRecord) {
	if l.audit == nil {
		return
	}
	if err := l.audit.RecordAudit(ctx, rec); err != nil {
		l.logger.Error("Failed to record audit",
			zap.String("alert_id", rec.AlertID),
			zap.String("action", string(rec.Action)),
			zap.String("actor", rec.Actor),
			zap.Error(err),
		)
	}
}

func notificationMessage(alert *models.Alert, reason models.NotificationReason, level int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Risk alert for subject %s", strings.ToUpper(string(alert.Trigger.Level)), alert.SubjectID)
	if len(alert.Trigger.Indicators) > 0 {
		fmt.Fprintf(&b, ": %s", evaluator.DescribeIndicators(alert.Trigger.Indicators))
	}
	if reason == models.NotifyEscalation {
		fmt.Fprintf(&b, ". Escalation level %d, not acknowledged since %s",
			level, alert.CreatedAt.UTC().Format(time.RFC3339))
	} else if due := alert.ResponseDueAt(); due != nil {
		fmt.Fprintf(&b, ". Respond by %s", due.UTC().Format(time.RFC3339))
	}
	return b.String()
}
