package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-risk/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository 报警仓库（PostgreSQL）
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	alert_id,
	subject_id,
	trigger_data,
	policy,
	state,
	created_at,
	updated_at,
	acknowledged_by,
	acknowledged_at,
	acknowledged_note,
	escalated_at,
	escalation_level,
	resolved_by,
	resolved_at,
	resolution_summary,
	version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var triggerData, policy []byte
	var ackBy, ackNote, resolvedBy, summary sql.NullString
	var ackAt, escalatedAt, resolvedAt sql.NullTime

	if err := row.Scan(
		&alert.AlertID,
		&alert.SubjectID,
		&triggerData,
		&policy,
		&alert.State,
		&alert.CreatedAt,
		&alert.UpdatedAt,
		&ackBy,
		&ackAt,
		&ackNote,
		&escalatedAt,
		&alert.EscalationLevel,
		&resolvedBy,
		&resolvedAt,
		&summary,
		&alert.Version,
	); err != nil {
		return nil, err
	}

	// 处理 JSONB 字段
	if err := json.Unmarshal(triggerData, &alert.Trigger); err != nil {
		return nil, fmt.Errorf("failed to decode trigger_data: %w", err)
	}
	if err := json.Unmarshal(policy, &alert.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}

	// 处理可空字段
	alert.AcknowledgedBy = nullString(ackBy)
	alert.AcknowledgedAt = nullTime(ackAt)
	alert.AcknowledgedNote = nullString(ackNote)
	alert.EscalatedAt = nullTime(escalatedAt)
	alert.ResolvedBy = nullString(resolvedBy)
	alert.ResolvedAt = nullTime(resolvedAt)
	alert.ResolutionSummary = nullString(summary)

	return &alert, nil
}

// GetAlert 根据 alert_id 获取单个报警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert_id is required", models.ErrInvalidInput)
	}

	query := `SELECT` + alertColumns + `
		FROM alerts
		WHERE alert_id = $1`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: alert_id=%s", models.ErrAlertNotFound, alertID)
		}
		return nil, fmt.Errorf("%w: failed to get alert: %w", models.ErrPersistence, err)
	}
	return alert, nil
}

// CreateAlert 创建报警
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("%w: alert is required", models.ErrInvalidInput)
	}

	triggerData, err := json.Marshal(alert.Trigger)
	if err != nil {
		return fmt.Errorf("failed to encode trigger_data: %w", err)
	}
	policy, err := json.Marshal(alert.Policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.SubjectID,
		triggerData,
		policy,
		alert.State,
		alert.CreatedAt,
		alert.UpdatedAt,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.AcknowledgedNote,
		alert.EscalatedAt,
		alert.EscalationLevel,
		alert.ResolvedBy,
		alert.ResolvedAt,
		alert.ResolutionSummary,
		alert.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create alert: %w", models.ErrPersistence, err)
	}
	return nil
}

// UpdateAlert 条件更新报警（state + version 作为乐观锁）
func (r *AlertsRepository) UpdateAlert(ctx context.Context, alert *models.Alert, expectedState models.AlertState, expectedVersion int64) error {
	if alert == nil || alert.AlertID == "" {
		return fmt.Errorf("%w: alert is required", models.ErrInvalidInput)
	}

	query := `
		UPDATE alerts SET
			state = $1,
			updated_at = $2,
			acknowledged_by = $3,
			acknowledged_at = $4,
			acknowledged_note = $5,
			escalated_at = $6,
			escalation_level = $7,
			resolved_by = $8,
			resolved_at = $9,
			resolution_summary = $10,
			version = $11
		WHERE alert_id = $12
		  AND state = $13
		  AND version = $14
	`

	result, err := r.db.ExecContext(ctx, query,
		alert.State,
		alert.UpdatedAt,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.AcknowledgedNote,
		alert.EscalatedAt,
		alert.EscalationLevel,
		alert.ResolvedBy,
		alert.ResolvedAt,
		alert.ResolutionSummary,
		alert.Version,
		alert.AlertID,
		expectedState,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update alert: %w", models.ErrPersistence, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get rows affected: %w", models.ErrPersistence, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: alert_id=%s expected state=%s version=%d",
			models.ErrStaleState, alert.AlertID, expectedState, expectedVersion)
	}
	return nil
}

// buildWhereClause 构建 WHERE 子句
func (r *AlertsRepository) buildWhereClause(filters AlertFilters, args *[]interface{}, argN *int) []string {
	var where []string

	if filters.SubjectID != nil {
		where = append(where, fmt.Sprintf("subject_id = $%d", *argN))
		*args = append(*args, *filters.SubjectID)
		*argN++
	}
	if len(filters.States) > 0 {
		placeholders := make([]string, len(filters.States))
		for i := range filters.States {
			placeholders[i] = fmt.Sprintf("$%d", *argN)
			*args = append(*args, filters.States[i])
			*argN++
		}
		where = append(where, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(filters.Levels) > 0 {
		placeholders := make([]string, len(filters.Levels))
		for i := range filters.Levels {
			placeholders[i] = fmt.Sprintf("$%d", *argN)
			*args = append(*args, filters.Levels[i])
			*argN++
		}
		where = append(where, fmt.Sprintf("trigger_data->>'level' IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filters.CreatedAfter != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", *argN))
		*args = append(*args, *filters.CreatedAfter)
		*argN++
	}
	if filters.CreatedBefore != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", *argN))
		*args = append(*args, *filters.CreatedBefore)
		*argN++
	}

	return where
}

// ListAlerts 列表查询（支持多条件过滤、分页，按创建时间倒序）
func (r *AlertsRepository) ListAlerts(ctx context.Context, filters AlertFilters, page, size int) ([]*models.Alert, int, error) {
	page, size = normalizePage(page, size)

	args := []interface{}{}
	argN := 1
	where := r.buildWhereClause(filters, &args, &argN)

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	// 1. 统计总数
	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM alerts %s`, whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to count alerts: %w", models.ErrPersistence, err)
	}

	// 2. 分页查询
	query := fmt.Sprintf(`SELECT %s
		FROM alerts
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, alertColumns, whereClause, argN, argN+1)
	args = append(args, size, (page-1)*size)

	alerts, _, err := r.queryAlerts(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// ListActiveAlerts 巡检候选：open/escalated 且配置了升级 SLA 的报警
// 无法解码的行不返回，但计入第二个返回值
func (r *AlertsRepository) ListActiveAlerts(ctx context.Context) ([]*models.Alert, int, error) {
	query := `SELECT` + alertColumns + `
		FROM alerts
		WHERE state IN ('open', 'escalated')
		  AND policy ? 'escalation_sla_sec'
		ORDER BY created_at ASC`

	return r.queryAlerts(ctx, query)
}

// queryAlerts 单行解析失败不影响其余报警，返回跳过的行数
func (r *AlertsRepository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, int, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to query alerts: %w", models.ErrPersistence, err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	skipped := 0
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			skipped++
			r.logger.Error("Failed to scan alert row", zap.Error(err))
			continue
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to iterate alerts: %w", models.ErrPersistence, err)
	}
	return alerts, skipped, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
