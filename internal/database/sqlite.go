package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leca/dt-image-workflows/internal/model"
	_ "modernc.org/sqlite"
)

// SQLiteDB implements Database backed by SQLite.
type SQLiteDB struct {
	db *sql.DB
}

var _ Database = (*SQLiteDB)(nil)

// NewSQLiteDB opens (or creates) an SQLite database at dsn and runs migrations.
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Records returns the metadata store for collection c.
func (s *SQLiteDB) Records(c model.Collection) Records {
	table, err := tableFor(c)
	if err != nil {
		return failedRecords{err: err}
	}
	return &sqliteRecords{db: s.db, table: table}
}

type sqliteRecords struct {
	db    *sql.DB
	table string
}

func (r *sqliteRecords) Exists(ctx context.Context, p model.Partition, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+r.table+` WHERE owner_id = ? AND category = ? AND id = ?`,
		p.OwnerID, p.Category, id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", r.table, err)
	}
	return true, nil
}

func (r *sqliteRecords) Oldest(ctx context.Context, p model.Partition, limit int) ([]model.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT owner_id, category, id, extension, blob_key, created_at
		FROM `+r.table+` WHERE owner_id = ? AND category = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`,
		p.OwnerID, p.Category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list oldest %s: %w", r.table, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *sqliteRecords) DeleteIDs(ctx context.Context, p model.Partition, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, p.OwnerID, p.Category)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM `+r.table+` WHERE owner_id = ? AND category = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.table, err)
	}
	return res.RowsAffected()
}

func (r *sqliteRecords) Insert(ctx context.Context, rec model.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO `+r.table+` (owner_id, category, id, extension, blob_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.OwnerID, rec.Category, rec.ID, rec.Extension, rec.BlobKey, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.table, err)
	}
	return nil
}

func (r *sqliteRecords) List(ctx context.Context, p model.Partition, limit, offset int) ([]model.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT owner_id, category, id, extension, blob_key, created_at
		FROM `+r.table+` WHERE owner_id = ? AND category = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		p.OwnerID, p.Category, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.table, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *sqliteRecords) Get(ctx context.Context, p model.Partition, id string) (*model.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_id, category, id, extension, blob_key, created_at
		FROM `+r.table+` WHERE owner_id = ? AND category = ? AND id = ?`,
		p.OwnerID, p.Category, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.table, err)
	}
	return rec, nil
}

func (r *sqliteRecords) Delete(ctx context.Context, p model.Partition, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM `+r.table+` WHERE owner_id = ? AND category = ? AND id = ?`,
		p.OwnerID, p.Category, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.table, err)
	}
	return checkRowsAffected(res)
}

func (r *sqliteRecords) Count(ctx context.Context, p model.Partition) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+r.table+` WHERE owner_id = ? AND category = ?`,
		p.OwnerID, p.Category,
	).Scan(&count)
	return count, err
}

func (r *sqliteRecords) Categories(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM `+r.table+` WHERE owner_id = ? ORDER BY category`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	rec := &model.Record{}
	var created int64
	if err := row.Scan(&rec.OwnerID, &rec.Category, &rec.ID, &rec.Extension, &rec.BlobKey, &created); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// failedRecords reports a configuration error from every method.
type failedRecords struct{ err error }

func (f failedRecords) Exists(context.Context, model.Partition, string) (bool, error) {
	return false, f.err
}
func (f failedRecords) Oldest(context.Context, model.Partition, int) ([]model.Record, error) {
	return nil, f.err
}
func (f failedRecords) DeleteIDs(context.Context, model.Partition, []string) (int64, error) {
	return 0, f.err
}
func (f failedRecords) Insert(context.Context, model.Record) error { return f.err }
func (f failedRecords) List(context.Context, model.Partition, int, int) ([]model.Record, error) {
	return nil, f.err
}
func (f failedRecords) Get(context.Context, model.Partition, string) (*model.Record, error) {
	return nil, f.err
}
func (f failedRecords) Delete(context.Context, model.Partition, string) error { return f.err }
func (f failedRecords) Count(context.Context, model.Partition) (int, error) { return 0, f.err }
func (f failedRecords) Categories(context.Context, string) ([]string, error) {
	return nil, f.err
}
