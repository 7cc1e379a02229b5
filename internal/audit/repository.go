package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed reads of audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TimelineWindow returns audit rows matching the filters, newest first.
func (r *Repository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, strings.Replace(cond, "?", placeholder(len(args)), 1))
	}
	if !filters.From.IsZero() {
		add("created_at >= ?", filters.From)
	}
	if !filters.To.IsZero() {
		add("created_at <= ?", filters.To)
	}
	if filters.ActorID > 0 {
		add("actor_id = ?", filters.ActorID)
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		add("entity = ?", entity)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		add("action = ?", action)
	}

	query := `SELECT id, actor_id, action, entity, entity_id, details, ip, user_agent, created_at FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC, id DESC LIMIT " + placeholder(len(args))
	args = append(args, offset)
	query += " OFFSET " + placeholder(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]TimelineRow, 0, limit)
	for rows.Next() {
		var (
			row     TimelineRow
			details []byte
		)
		if err := rows.Scan(&row.ID, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &details, &row.IP, &row.UserAgent, &row.At); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &row.Details)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
