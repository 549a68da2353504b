package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/insightx/insightx/internal/domain"
)

func newDatasetDB(t *testing.T, rows int) (*sql.DB, domain.DatasetHandle) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE ds_test (merchant TEXT, amount REAL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < rows; i++ {
		merchant := fmt.Sprintf("m%02d", i%7)
		if _, err := db.Exec(`INSERT INTO ds_test (merchant, amount) VALUES (?, ?)`, merchant, float64(i)); err != nil {
			t.Fatalf("insert row: %v", err)
		}
	}
	return db, domain.DatasetHandle{Table: "ds_test"}
}

func TestRunEnforcesRowCapRegardlessOfLimit(t *testing.T) {
	db, handle := newDatasetDB(t, 40)
	sandbox := NewSandbox(db, 10)

	result, err := sandbox.Run(context.Background(), handle, "SELECT * FROM dataset LIMIT 100")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.RowCount != 10 {
		t.Fatalf("RowCount = %d, want cap of 10", result.RowCount)
	}
	if result.Summary != "10 rows, 2 columns" {
		t.Fatalf("Summary = %q", result.Summary)
	}
}

func TestRunReturnsOrderedColumnsAndRows(t *testing.T) {
	db, handle := newDatasetDB(t, 21)
	sandbox := NewSandbox(db, 0)

	result, err := sandbox.Run(context.Background(), handle,
		"SELECT merchant, count(*) AS n FROM dataset GROUP BY merchant ORDER BY n DESC LIMIT 5")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "merchant" || result.Columns[1] != "n" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if result.RowCount != 5 {
		t.Fatalf("RowCount = %d, want 5", result.RowCount)
	}
	var prev int64 = 1 << 40
	for _, row := range result.Rows {
		n, ok := row["n"].(int64)
		if !ok {
			t.Fatalf("count column type %T", row["n"])
		}
		if n > prev {
			t.Fatalf("rows not ordered descending: %v", result.Rows)
		}
		prev = n
	}
}

func TestRunSurfacesEngineErrors(t *testing.T) {
	db, handle := newDatasetDB(t, 3)
	sandbox := NewSandbox(db, 0)

	_, err := sandbox.Run(context.Background(), handle, "SELECT no_such_column FROM dataset")
	if err == nil {
		t.Fatal("expected engine error")
	}
	if !domain.IsKind(err, domain.ErrQueryExecution) {
		t.Fatalf("error kind = %s, want query_execution_error", domain.KindOf(err))
	}
}

func TestRunRejectsBeforeTouchingEngine(t *testing.T) {
	db, handle := newDatasetDB(t, 3)
	sandbox := NewSandbox(db, 0)

	_, err := sandbox.Run(context.Background(), handle, "DROP TABLE dataset")
	if !domain.IsKind(err, domain.ErrRejectedQuery) {
		t.Fatalf("error kind = %s, want rejected_query", domain.KindOf(err))
	}
}
