// Package audit provides the append-only audit log: a write-once recorder for
// privileged mutations and a read-side timeline for compliance review. No
// update or delete operations are exposed.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry represents a record stored in audit_logs.
type Entry struct {
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Details   map[string]any
	IP        string
	UserAgent string
	At        time.Time
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx, so entries can be
// written standalone or inside the transaction of the mutation they record.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Logger writes records into audit_logs.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger returns a new Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record persists the entry using the logger's own pool.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit: logger not initialised")
	}
	return l.RecordIn(ctx, l.pool, entry)
}

// RecordIn persists the entry through the given executor. Mutating services
// pass their open transaction so the audit row commits or rolls back together
// with the change it describes.
func (l *Logger) RecordIn(ctx context.Context, db Execer, entry Entry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit: entry requires action/entity/entity_id")
	}
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	var at any
	if !entry.At.IsZero() {
		at = entry.At
	}
	_, err = db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, details, ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, detailsJSON, entry.IP, entry.UserAgent, at)
	return err
}
