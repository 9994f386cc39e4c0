package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/surface-mapper/internal/entity"
)

// PostgresStore persists crawl results to PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// SaveResult stores the crawled request and its discovered batch within a
// single transaction.
func (s *PostgresStore) SaveResult(ctx context.Context, res *entity.CrawlResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	req := res.Request
	_, err = tx.Exec(ctx,
		`INSERT INTO crawl_requests (id, parent_id, type, method, url, data, referer, action_trigger, out_of_scope, html, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   html = EXCLUDED.html, errors = EXCLUDED.errors, crawled_at = NOW()`,
		req.ID, req.ParentID, req.Type, req.Method, req.URL, req.Data,
		req.Referer, req.Trigger, req.OutOfScope, req.HTML, res.Errors,
	)
	if err != nil {
		return err
	}

	if len(res.Discovered) > 0 {
		batch := &pgx.Batch{}
		for _, d := range res.Discovered {
			batch.Queue(
				`INSERT INTO crawl_requests (id, parent_id, type, method, url, data, referer, action_trigger, out_of_scope)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (id) DO NOTHING`,
				d.ID, d.ParentID, d.Type, d.Method, d.URL, d.Data, d.Referer, d.Trigger, d.OutOfScope)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
