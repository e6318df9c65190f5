package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leca/dt-image-workflows/internal/model"
)

// PostgresDB implements Database on a pgx connection pool.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

var _ Database = (*PostgresDB)(nil)

// NewPostgresDB connects to databaseURL and runs migrations.
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.Pool.Close()
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Records returns the metadata store for collection c.
func (db *PostgresDB) Records(c model.Collection) Records {
	table, err := tableFor(c)
	if err != nil {
		return failedRecords{err: err}
	}
	return &pgRecords{pool: db.Pool, table: table}
}

type pgRecords struct {
	pool  *pgxpool.Pool
	table string
}

func (r *pgRecords) Exists(ctx context.Context, p model.Partition, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+r.table+` WHERE owner_id = $1 AND category = $2 AND id = $3)`,
		p.OwnerID, p.Category, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", r.table, err)
	}
	return exists, nil
}

func (r *pgRecords) Oldest(ctx context.Context, p model.Partition, limit int) ([]model.Record, error) {
	query := `
        SELECT owner_id, category, id, extension, blob_key, created_at
        FROM ` + r.table + `
        WHERE owner_id = $1 AND category = $2
        ORDER BY created_at ASC, seq ASC
        LIMIT $3
    `
	rows, err := r.pool.Query(ctx, query, p.OwnerID, p.Category, limit)
	if err != nil {
		return nil, fmt.Errorf("list oldest %s: %w", r.table, err)
	}
	return collectRecords(rows)
}

func (r *pgRecords) DeleteIDs(ctx context.Context, p model.Partition, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM `+r.table+` WHERE owner_id = $1 AND category = $2 AND id = ANY($3)`,
		p.OwnerID, p.Category, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.table, err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgRecords) Insert(ctx context.Context, rec model.Record) error {
	query := `
        INSERT INTO ` + r.table + ` (owner_id, category, id, extension, blob_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := r.pool.Exec(ctx, query,
		rec.OwnerID,
		rec.Category,
		rec.ID,
		rec.Extension,
		rec.BlobKey,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.table, err)
	}
	return nil
}

func (r *pgRecords) List(ctx context.Context, p model.Partition, limit, offset int) ([]model.Record, error) {
	query := `
        SELECT owner_id, category, id, extension, blob_key, created_at
        FROM ` + r.table + `
        WHERE owner_id = $1 AND category = $2
        ORDER BY created_at DESC, seq DESC
        LIMIT $3 OFFSET $4
    `
	rows, err := r.pool.Query(ctx, query, p.OwnerID, p.Category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.table, err)
	}
	return collectRecords(rows)
}

func (r *pgRecords) Get(ctx context.Context, p model.Partition, id string) (*model.Record, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT owner_id, category, id, extension, blob_key, created_at
        FROM `+r.table+`
        WHERE owner_id = $1 AND category = $2 AND id = $3`,
		p.OwnerID, p.Category, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.table, err)
	}
	return rec, nil
}

func (r *pgRecords) Delete(ctx context.Context, p model.Partition, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM `+r.table+` WHERE owner_id = $1 AND category = $2 AND id = $3`,
		p.OwnerID, p.Category, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRecords) Count(ctx context.Context, p model.Partition) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+r.table+` WHERE owner_id = $1 AND category = $2`,
		p.OwnerID, p.Category,
	).Scan(&count)
	return count, err
}

func (r *pgRecords) Categories(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT category FROM `+r.table+` WHERE owner_id = $1 ORDER BY category`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func collectRecords(rows pgx.Rows) ([]model.Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Record, error) {
		var rec model.Record
		var created int64
		err := row.Scan(&rec.OwnerID, &rec.Category, &rec.ID, &rec.Extension, &rec.BlobKey, &created)
		rec.CreatedAt = time.Unix(0, created).UTC()
		return rec, err
	})
}
