package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Set DT_TEST_DATABASE_URL to a disposable database to run this test.
func TestPostgresRecords(t *testing.T) {
	url := os.Getenv("DT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := NewPostgresDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DROP TABLE IF EXISTS history; DROP TABLE IF EXISTS selfies`)
		db.Close()
	})
	_, err = db.Pool.Exec(ctx, `TRUNCATE history, selfies`)
	require.NoError(t, err)

	runRecordsSuite(t, db)
}
