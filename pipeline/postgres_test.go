package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idealinvestse/shoppi-shop-finder/models"
)

type fakeBatchResults struct {
	execErr error
	execs   int
	closed  bool
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	r.execs++
	return pgconn.NewCommandTag("INSERT 0 1"), r.execErr
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (r *fakeBatchResults) QueryRow() pgx.Row {
	return nil
}

func (r *fakeBatchResults) Close() error {
	r.closed = true
	return nil
}

type fakeConn struct {
	execs   []string
	batches []*pgx.Batch
	results *fakeBatchResults
	closed  bool
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (c *fakeConn) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	c.batches = append(c.batches, b)
	if c.results == nil {
		c.results = &fakeBatchResults{}
	}
	return c.results
}

func (c *fakeConn) Close() {
	c.closed = true
}

func TestPostgresWriterCreatesTable(t *testing.T) {
	conn := &fakeConn{}
	_, err := newPostgresWriter(context.Background(), conn, "catalog_products")
	require.NoError(t, err)

	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0], `CREATE TABLE IF NOT EXISTS "catalog_products"`)
}

func TestPostgresWriterInsertsBatch(t *testing.T) {
	conn := &fakeConn{}
	w, err := newPostgresWriter(context.Background(), conn, "catalog_products")
	require.NoError(t, err)

	err = w.Write([]*models.ProductRecord{
		record("alpha", "Widget", "19.999", 3),
		record("alpha", "Gadget", "5", 0),
	})
	require.NoError(t, err)

	require.Len(t, conn.batches, 1)
	batch := conn.batches[0]
	assert.Equal(t, 2, batch.Len())
	queued := batch.QueuedQueries[0]
	assert.True(t, strings.HasPrefix(queued.SQL, `INSERT INTO "catalog_products"`))
	assert.Equal(t, []any{"alpha", "Widget", 20.0, 3, record("alpha", "Widget", "1", 1).DiscoveredAt}, queued.Arguments)
	assert.Equal(t, 2, conn.results.execs)
	assert.True(t, conn.results.closed)

	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	assert.True(t, conn.closed)
}

func TestPostgresWriterSurfacesInsertErrors(t *testing.T) {
	conn := &fakeConn{results: &fakeBatchResults{execErr: errors.New("unique violation")}}
	w, err := newPostgresWriter(context.Background(), conn, "catalog_products")
	require.NoError(t, err)

	err = w.Write([]*models.ProductRecord{record("alpha", "Widget", "1", 1)})
	require.ErrorContains(t, err, "unique violation")
	assert.True(t, conn.results.closed)
}

func TestPostgresWriterSkipsEmptyBatch(t *testing.T) {
	conn := &fakeConn{}
	w, err := newPostgresWriter(context.Background(), conn, "catalog_products")
	require.NoError(t, err)

	require.NoError(t, w.Write(nil))
	assert.Empty(t, conn.batches)
}
