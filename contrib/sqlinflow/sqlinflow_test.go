package sqlinflow_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexvasilkov/inflow-go/contrib/codec"
	"github.com/alexvasilkov/inflow-go/contrib/sqlinflow"
	"github.com/alexvasilkov/inflow-go/core/pager"
)

func newMockCache(t *testing.T) (*sqlinflow.Cache[string, int], sqlmock.Sqlmock, func()) {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(rawDB, "mysql")

	c := &sqlinflow.Cache[string, int]{
		DB:         db,
		Table:      "paged_items",
		StateTable: "paged_state",
		Codec:      codec.JSON{},
	}
	return c, mock, func() { _ = db.Close() }
}

func TestCache_Read_DecodesRows(t *testing.T) {
	c, mock, cleanup := newMockCache(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"seq", "payload"}).
		AddRow(int64(1), []byte(`"a"`)).
		AddRow(int64(2), []byte(`"b"`))
	mock.ExpectQuery("SELECT seq, payload FROM paged_items ORDER BY seq ASC LIMIT ?").
		WithArgs(10).
		WillReturnRows(rows)

	items, err := c.Read(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_Append_InsertsAfterCurrentMax(t *testing.T) {
	c, mock, cleanup := newMockCache(t)
	defer cleanup()

	mock.ExpectQuery("SELECT MAX\\(seq\\) FROM paged_items").
		WillReturnRows(sqlmock.NewRows([]string{"MAX(seq)"}).AddRow(int64(5)))
	mock.ExpectExec("INSERT INTO paged_items \\(seq, payload\\) VALUES \\(\\?, \\?\\)").
		WithArgs(int64(6), []byte(`"x"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := c.Append(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_DeleteAll(t *testing.T) {
	c, mock, cleanup := newMockCache(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM paged_items").WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, c.DeleteAll(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_WriteStateAndReadState(t *testing.T) {
	c, mock, cleanup := newMockCache(t)
	defer cleanup()

	nextKey := 42
	mock.ExpectExec("INSERT INTO paged_state").
		WithArgs(true, []byte("42"), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, c.WriteState(context.Background(), pager.PagingRemoteState[int]{
		HasNext: true,
		NextKey: &nextKey,
	}))

	mock.ExpectQuery("SELECT has_next, next_key, refresh_key FROM paged_state WHERE id = 1").
		WillReturnRows(sqlmock.NewRows([]string{"has_next", "next_key", "refresh_key"}).
			AddRow(true, []byte("42"), nil))

	state, err := c.ReadState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.HasNext)
	require.NotNil(t, state.NextKey)
	assert.Equal(t, 42, *state.NextKey)
	assert.Nil(t, state.RefreshKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_OnInvalidate_NotifyCallsListeners(t *testing.T) {
	c, _, cleanup := newMockCache(t)
	defer cleanup()

	calls := 0
	cancel := c.OnInvalidate(func() { calls++ })
	c.Notify()
	cancel()
	c.Notify()

	assert.Equal(t, 1, calls)
}
