package audit

import (
	"context"
	"fmt"
	"time"
)

// TimelineFilters narrows the audit timeline query.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is a single audit record as presented to reviewers.
type TimelineRow struct {
	ID        int64          `json:"id"`
	ActorID   int64          `json:"actorId"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	Details   map[string]any `json:"details"`
	IP        string         `json:"ip"`
	UserAgent string         `json:"userAgent"`
	At        time.Time      `json:"at"`
}

// PagingInfo describes timeline pagination.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// TimelineStore provides read access to audit_logs.
type TimelineStore interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	store TimelineStore
}

// NewService builds a timeline service.
func NewService(store TimelineStore) *Service {
	return &Service{store: store}
}

// Timeline fetches audit records with paging. Page sizes are clamped to keep
// review queries bounded.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.store.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
