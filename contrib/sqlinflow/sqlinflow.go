// Package sqlinflow implements pager.PagingCache on top of a MySQL
// table, the way the example pack's mysql package builds small
// query-building wrappers over jmoiron/sqlx and the
// go-sql-driver/mysql driver.
package sqlinflow

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/alexvasilkov/inflow-go/contrib/codec"
	"github.com/alexvasilkov/inflow-go/core/pager"
)

// Connect opens a pooled MySQL connection the way mysql.NewMysqlClient
// does: ParseTime enabled, a bounded pool, and utf8mb4 collation.
func Connect(cfg mysql.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "sqlinflow: open")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)
	return db, nil
}

// row is the on-disk shape of one paged item: an ordering key plus the
// item's codec-encoded payload.
type row struct {
	Seq     int64  `db:"seq"`
	Payload []byte `db:"payload"`
}

// stateRow is the single-row table holding the pager's remote cursor.
type stateRow struct {
	HasNext    bool    `db:"has_next"`
	NextKey    *[]byte `db:"next_key"`
	RefreshKey *[]byte `db:"refresh_key"`
}

// Cache is a MySQL-backed pager.PagingCache[T, K]. Items table and
// state table must already exist (see Schema for DDL matching this
// layout).
type Cache[T, K any] struct {
	DB         *sqlx.DB
	Table      string
	StateTable string
	Codec      codec.Codec

	rw sync.RWMutex

	subMu     sync.Mutex
	listeners map[int]func()
	nextSubID int
}

// Schema returns the DDL this Cache expects, for callers to run once
// during provisioning.
func Schema(table, stateTable string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (" +
		"seq BIGINT NOT NULL PRIMARY KEY, payload MEDIUMBLOB NOT NULL" +
		"); " +
		"CREATE TABLE IF NOT EXISTS " + stateTable + " (" +
		"id TINYINT NOT NULL PRIMARY KEY, has_next BOOLEAN NOT NULL, " +
		"next_key MEDIUMBLOB NULL, refresh_key MEDIUMBLOB NULL)"
}

// Exclusive serializes every other Exclusive call against this cache:
// readOnly callers share a read lock, mutating callers take it
// exclusively, mirroring pager.PagingCache's contract.
func (c *Cache[T, K]) Exclusive(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) error {
	if readOnly {
		c.rw.RLock()
		defer c.rw.RUnlock()
	} else {
		c.rw.Lock()
		defer c.rw.Unlock()
	}
	return fn(ctx)
}

func (c *Cache[T, K]) Read(ctx context.Context, maxItems int) ([]T, error) {
	var rows []row
	query := "SELECT seq, payload FROM " + c.Table + " ORDER BY seq ASC LIMIT ?"
	if err := c.DB.SelectContext(ctx, &rows, query, maxItems); err != nil {
		return nil, errors.Wrap(err, "sqlinflow: read")
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := c.Codec.Unmarshal(r.Payload, &v); err != nil {
			return nil, errors.Wrap(err, "sqlinflow: decode row")
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Cache[T, K]) Prepend(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	minSeq, err := c.boundary(ctx, "MIN")
	if err != nil {
		return err
	}
	// Lower sequence numbers sort first; items take the len(items)
	// sequence numbers just below the prior minimum, in order, so the
	// last item ends up immediately before it.
	seq := minSeq - int64(len(items))
	for _, item := range items {
		if err := c.insertAt(ctx, seq, item); err != nil {
			return err
		}
		seq++
	}
	return nil
}

func (c *Cache[T, K]) Append(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	maxSeq, err := c.boundary(ctx, "MAX")
	if err != nil {
		return err
	}
	seq := maxSeq + 1
	for _, item := range items {
		if err := c.insertAt(ctx, seq, item); err != nil {
			return err
		}
		seq++
	}
	return nil
}

func (c *Cache[T, K]) insertAt(ctx context.Context, seq int64, item T) error {
	payload, err := c.Codec.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "sqlinflow: encode row")
	}
	_, err = c.DB.ExecContext(ctx,
		"INSERT INTO "+c.Table+" (seq, payload) VALUES (?, ?)", seq, payload)
	if err != nil {
		return errors.Wrap(err, "sqlinflow: insert")
	}
	return nil
}

func (c *Cache[T, K]) boundary(ctx context.Context, fn string) (int64, error) {
	var v sql.NullInt64
	query := "SELECT " + fn + "(seq) FROM " + c.Table
	if err := c.DB.GetContext(ctx, &v, query); err != nil {
		return 0, errors.Wrap(err, "sqlinflow: boundary query")
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64, nil
}

// Delete removes every row whose encoded payload exactly matches one of
// items (identity is "same encoded bytes", matching spec §4.10's
// identity-provider role for a persisted cache).
func (c *Cache[T, K]) Delete(ctx context.Context, items []T) error {
	for _, item := range items {
		payload, err := c.Codec.Marshal(item)
		if err != nil {
			return errors.Wrap(err, "sqlinflow: encode row")
		}
		if _, err := c.DB.ExecContext(ctx,
			"DELETE FROM "+c.Table+" WHERE payload = ?", payload); err != nil {
			return errors.Wrap(err, "sqlinflow: delete")
		}
	}
	return nil
}

func (c *Cache[T, K]) DeleteAll(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, "DELETE FROM "+c.Table); err != nil {
		return errors.Wrap(err, "sqlinflow: delete all")
	}
	return nil
}

func (c *Cache[T, K]) WriteState(ctx context.Context, state pager.PagingRemoteState[K]) error {
	var nextKey, refreshKey *[]byte
	if state.NextKey != nil {
		b, err := c.Codec.Marshal(*state.NextKey)
		if err != nil {
			return errors.Wrap(err, "sqlinflow: encode next_key")
		}
		nextKey = &b
	}
	if state.RefreshKey != nil {
		b, err := c.Codec.Marshal(*state.RefreshKey)
		if err != nil {
			return errors.Wrap(err, "sqlinflow: encode refresh_key")
		}
		refreshKey = &b
	}

	_, err := c.DB.ExecContext(ctx,
		"INSERT INTO "+c.StateTable+" (id, has_next, next_key, refresh_key) VALUES (1, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE has_next = VALUES(has_next), next_key = VALUES(next_key), refresh_key = VALUES(refresh_key)",
		state.HasNext, nextKey, refreshKey)
	if err != nil {
		return errors.Wrap(err, "sqlinflow: write state")
	}
	return nil
}

func (c *Cache[T, K]) ReadState(ctx context.Context) (pager.PagingRemoteState[K], error) {
	var sr stateRow
	err := c.DB.GetContext(ctx, &sr,
		"SELECT has_next, next_key, refresh_key FROM "+c.StateTable+" WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return pager.PagingRemoteState[K]{}, nil
	}
	if err != nil {
		return pager.PagingRemoteState[K]{}, errors.Wrap(err, "sqlinflow: read state")
	}

	state := pager.PagingRemoteState[K]{HasNext: sr.HasNext}
	if sr.NextKey != nil {
		var k K
		if err := c.Codec.Unmarshal(*sr.NextKey, &k); err != nil {
			return pager.PagingRemoteState[K]{}, errors.Wrap(err, "sqlinflow: decode next_key")
		}
		state.NextKey = &k
	}
	if sr.RefreshKey != nil {
		var k K
		if err := c.Codec.Unmarshal(*sr.RefreshKey, &k); err != nil {
			return pager.PagingRemoteState[K]{}, errors.Wrap(err, "sqlinflow: decode refresh_key")
		}
		state.RefreshKey = &k
	}
	return state, nil
}

// OnInvalidate registers listener, invoked whenever Notify is called
// (e.g. from a binlog consumer or a cross-instance pub/sub handler
// wired up by the caller — sqlinflow itself has no opinion on the
// transport).
func (c *Cache[T, K]) OnInvalidate(listener func()) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.listeners == nil {
		c.listeners = make(map[int]func())
	}
	id := c.nextSubID
	c.nextSubID++
	c.listeners[id] = listener

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.listeners, id)
	}
}

// Notify fires every registered invalidation listener.
func (c *Cache[T, K]) Notify() {
	c.subMu.Lock()
	listeners := make([]func(), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.subMu.Unlock()

	for _, l := range listeners {
		l()
	}
}

var _ pager.PagingCache[int, int] = (*Cache[int, int])(nil)
