package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idealinvestse/shoppi-shop-finder/models"
)

const postgresWriteTimeout = 30 * time.Second

// batchConn is the subset of *pgxpool.Pool the writer needs.
type batchConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// PostgresWriter inserts every flushed batch into a catalog table.
type PostgresWriter struct {
	conn      batchConn
	table     string
	insertSQL string
}

// NewPostgresWriter connects to dsn and ensures table exists.
func NewPostgresWriter(ctx context.Context, dsn, table string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	w, err := newPostgresWriter(ctx, pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

func newPostgresWriter(ctx context.Context, conn batchConn, table string) (*PostgresWriter, error) {
	ident := pgx.Identifier{table}.Sanitize()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            BIGSERIAL PRIMARY KEY,
	shop_name     TEXT NOT NULL,
	product_name  TEXT NOT NULL,
	price         NUMERIC(12, 2) NOT NULL,
	stock         INTEGER NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL
)`, ident)
	if _, err := conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", ident, err)
	}

	return &PostgresWriter{
		conn:  conn,
		table: table,
		insertSQL: fmt.Sprintf(
			"INSERT INTO %s (shop_name, product_name, price, stock, discovered_at) VALUES ($1, $2, $3, $4, $5)",
			ident,
		),
	}, nil
}

// Write inserts records in a single round trip.
func (pw *PostgresWriter) Write(records []*models.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(pw.insertSQL,
			r.ShopName,
			r.ProductName,
			r.Price.Round(2).InexactFloat64(),
			r.Stock,
			r.DiscoveredAt.UTC(),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresWriteTimeout)
	defer cancel()

	results := pw.conn.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert into %s: %w", pw.table, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

// Sync is a no-op: every batch is committed when Write returns.
func (pw *PostgresWriter) Sync() error {
	return nil
}

// Close releases the connection pool.
func (pw *PostgresWriter) Close() error {
	pw.conn.Close()
	return nil
}

// Validate is a no-op for the database sink.
func (pw *PostgresWriter) Validate() error {
	return nil
}
