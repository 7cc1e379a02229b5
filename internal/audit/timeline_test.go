package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineStore struct {
	rows    []TimelineRow
	filters TimelineFilters
	limit   int
	offset  int
}

func (s *stubTimelineStore) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	s.filters = filters
	s.limit = limit
	s.offset = offset
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func makeRows(n int) []TimelineRow {
	rows := make([]TimelineRow, n)
	for i := range rows {
		rows[i] = TimelineRow{ID: int64(n - i), Action: "role.create", Entity: "role", At: time.Now()}
	}
	return rows
}

func TestTimelineDefaultsAndHasNext(t *testing.T) {
	store := &stubTimelineStore{rows: makeRows(25)}
	svc := NewService(store)

	result, err := svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)

	assert.Len(t, result.Rows, 20)
	assert.Equal(t, 1, result.Paging.Page)
	assert.Equal(t, 20, result.Paging.PageSize)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Zero(t, result.Paging.PrevPage)
	// One extra row is fetched to detect the next page.
	assert.Equal(t, 21, store.limit)
}

func TestTimelineLastPage(t *testing.T) {
	store := &stubTimelineStore{rows: makeRows(25)}
	svc := NewService(store)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 2})
	require.NoError(t, err)

	assert.Len(t, result.Rows, 5)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, 20, store.offset)
}

func TestTimelineClampsPageSize(t *testing.T) {
	store := &stubTimelineStore{rows: makeRows(5)}
	svc := NewService(store)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 5000})
	require.NoError(t, err)
	assert.Equal(t, 100, result.Paging.PageSize)

	result, err = svc.Timeline(context.Background(), TimelineFilters{PageSize: -1, Page: -3})
	require.NoError(t, err)
	assert.Equal(t, 20, result.Paging.PageSize)
	assert.Equal(t, 1, result.Paging.Page)
}

func TestTimelinePassesFiltersThrough(t *testing.T) {
	store := &stubTimelineStore{}
	svc := NewService(store)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Timeline(context.Background(), TimelineFilters{
		Entity:  "role",
		Action:  "role.delete",
		ActorID: 7,
		From:    from,
	})
	require.NoError(t, err)
	assert.Equal(t, "role", store.filters.Entity)
	assert.Equal(t, "role.delete", store.filters.Action)
	assert.Equal(t, int64(7), store.filters.ActorID)
	assert.Equal(t, from, store.filters.From)
}
