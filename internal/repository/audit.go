package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"wisefido-risk/internal/models"
	rediscommon "wisefido-risk/internal/redis"

	"go.uber.org/zap"
)

// AuditRepository 审计日志仓库（PostgreSQL）
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository 创建审计日志仓库
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// RecordAudit 写入一条审计记录
func (r *AuditRepository) RecordAudit(ctx context.Context, rec models.AuditRecord) error {
	query := `
		INSERT INTO alert_audit_log (
			alert_id,
			actor,
			action,
			from_state,
			to_state,
			detail,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var fromState interface{}
	if rec.FromState != "" {
		fromState = string(rec.FromState)
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.AlertID,
		rec.Actor,
		rec.Action,
		fromState,
		rec.ToState,
		rec.Detail,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to record audit: %w", models.ErrPersistence, err)
	}
	return nil
}

// ListAudit 查询报警的审计记录（按时间升序）
func (r *AuditRepository) ListAudit(ctx context.Context, alertID string) ([]models.AuditRecord, error) {
	query := `
		SELECT alert_id, actor, action, from_state, to_state, detail, created_at
		FROM alert_audit_log
		WHERE alert_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query audit log: %w", models.ErrPersistence, err)
	}
	defer rows.Close()

	records := []models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		var fromState, detail sql.NullString
		if err := rows.Scan(&rec.AlertID, &rec.Actor, &rec.Action, &fromState, &rec.ToState, &detail, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: failed to scan audit row: %w", models.ErrPersistence, err)
		}
		rec.FromState = models.AlertState(fromState.String)
		rec.Detail = detail.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate audit log: %w", models.ErrPersistence, err)
	}
	return records, nil
}

// MemoryAuditRepository 内存审计日志
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	records []models.AuditRecord
}

// NewMemoryAuditRepository 创建内存审计日志
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) RecordAudit(_ context.Context, rec models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryAuditRepository) ListAudit(_ context.Context, alertID string) ([]models.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.AuditRecord{}
	for _, rec := range r.records {
		if rec.AlertID == alertID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// StreamAuditSink 将审计记录发布到 Redis Stream，供下游合规系统消费
type StreamAuditSink struct {
	client *rediscommon.Client
	stream string
}

// NewStreamAuditSink 创建审计流输出
func NewStreamAuditSink(client *rediscommon.Client, stream string) *StreamAuditSink {
	return &StreamAuditSink{
		client: client,
		stream: stream,
	}
}

func (s *StreamAuditSink) RecordAudit(ctx context.Context, rec models.AuditRecord) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, rec); err != nil {
		return fmt.Errorf("failed to publish audit to stream %s: %w", s.stream, err)
	}
	return nil
}

// MultiAuditSink 依次写入多个审计输出，返回合并后的错误
type MultiAuditSink []AuditSink

func (m MultiAuditSink) RecordAudit(ctx context.Context, rec models.AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.RecordAudit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
