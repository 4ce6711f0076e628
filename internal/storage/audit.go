package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions.
const (
	ActionLogin       = "auth.login"
	ActionGroupLogin  = "auth.login_group"
	ActionReport      = "report.inactive_accounts"
	ActionAlertSent   = "monitor.alert"
	ActionAlertFailed = "monitor.alert_failed"
)

// Event is one audit record. Context must never carry credentials.
type Event struct {
	Actor   string
	Action  string
	Outcome string
	Context map[string]any
}

// AuditLog is a stored audit record.
type AuditLog struct {
	ID        int64           `json:"id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Outcome   string          `json:"outcome"`
	Context   json.RawMessage `json:"context,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// dbtx is the part of pgxpool.Pool used by AuditRepo.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AuditRepo manages audit log records.
type AuditRepo struct {
	db dbtx
}

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db.pool}
}

// Log inserts an audit log entry.
func (r *AuditRepo) Log(ctx context.Context, e Event) error {
	var ctxJSON []byte
	if len(e.Context) > 0 {
		var err error
		ctxJSON, err = json.Marshal(e.Context)
		if err != nil {
			return errors.Wrap(err, "marshal context")
		}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_logs (actor, action, outcome, context)
		VALUES ($1, $2, $3, $4)
	`, e.Actor, e.Action, e.Outcome, ctxJSON)
	if err != nil {
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, actor, action, outcome, context, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query audit logs")
	}
	defer rows.Close()

	var out []AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.Actor, &a.Action, &a.Outcome, &a.Context, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit log")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate audit logs")
	}
	return out, nil
}
