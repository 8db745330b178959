package pipeline

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-order-history/models"
)

//go:embed schema.sql
var schema string

// SQLiteWriter appends records to the purchases table of a SQLite database.
// Each unit is its own row.
type SQLiteWriter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at filename and ensures
// the schema exists. Use ":memory:" for a throwaway database.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if filename != ":memory:" {
		if err := ensureDir(filename); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection so ":memory:" databases are shared by every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

// Write inserts records in a single transaction.
func (sw *SQLiteWriter) Write(records []models.PurchaseRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	ctx := context.Background()
	tx, err := sw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "insert into purchases (product_id, name, price, purchased_at) values (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare sqlite insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ProductID, r.Name, r.PriceMinorUnits, r.PurchasedAt.Format(models.DateLayout)); err != nil {
			return fmt.Errorf("insert sqlite record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures the purchases table holds at least one row.
func (sw *SQLiteWriter) Validate() error {
	count, err := sw.Count()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("sqlite purchases table is empty")
	}
	return nil
}

// Count returns the number of stored rows.
func (sw *SQLiteWriter) Count() (int, error) {
	var count int
	if err := sw.db.QueryRow("select count(*) from purchases").Scan(&count); err != nil {
		return 0, fmt.Errorf("count sqlite records: %w", err)
	}
	return count, nil
}
