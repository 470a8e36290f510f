package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/lib/pq"
)

// Schema creates the transcripts table read by PostgresSource.
const Schema = `CREATE TABLE IF NOT EXISTS %s (
	id        BIGSERIAL PRIMARY KEY,
	ticker    TEXT NOT NULL,
	call_date DATE NOT NULL,
	company   TEXT NOT NULL DEFAULT '',
	prepared  TEXT[] NOT NULL DEFAULT '{}',
	qanda     TEXT[] NOT NULL DEFAULT '{}'
)`

// PostgresSource streams transcripts from a table in insertion order.
type PostgresSource struct {
	DB    *sql.DB
	Table string
}

func (s PostgresSource) table() string {
	if s.Table == "" {
		return "transcripts"
	}
	return s.Table
}

// CreateTable applies Schema to the source table.
func (s PostgresSource) CreateTable(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf(Schema, pq.QuoteIdentifier(s.table()))); err != nil {
		return fmt.Errorf("creating transcripts table: %w", err)
	}
	return nil
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert stores doc in the source table.
func (s PostgresSource) Insert(ctx context.Context, doc Document) error {
	return s.InsertWith(ctx, s.DB, doc)
}

// InsertWith stores doc through ex, typically a transaction.
func (s PostgresSource) InsertWith(ctx context.Context, ex Execer, doc Document) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (ticker, call_date, company, prepared, qanda) VALUES ($1, $2, $3, $4, $5)`,
		pq.QuoteIdentifier(s.table()),
	)
	_, err := ex.ExecContext(ctx, query,
		doc.Ticker, doc.Date, doc.Company, pq.Array(orEmpty(doc.Prepared)), pq.Array(orEmpty(doc.QandA)))
	if err != nil {
		return fmt.Errorf("inserting transcript %s: %w", doc.Key(), err)
	}
	return nil
}

func (s PostgresSource) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		query := fmt.Sprintf(
			`SELECT ticker, call_date, company, prepared, qanda FROM %s ORDER BY id`,
			pq.QuoteIdentifier(s.table()),
		)
		rows, err := s.DB.QueryContext(ctx, query)
		if err != nil {
			yield(Document{}, fmt.Errorf("querying transcripts: %w", err))
			return
		}
		defer rows.Close()

		record := 0
		for rows.Next() {
			record++
			var doc Document
			if err := rows.Scan(&doc.Ticker, &doc.Date, &doc.Company,
				pq.Array(&doc.Prepared), pq.Array(&doc.QandA)); err != nil {
				if !yield(Document{}, &RecordError{Record: record, Err: err}) {
					return
				}
				continue
			}
			doc.ID = DocumentID(doc.Ticker, doc.Date)
			if !yield(doc, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Document{}, fmt.Errorf("iterating transcripts: %w", err))
		}
	}
}

// orEmpty keeps nil slices from being stored as NULL arrays.
func orEmpty(rows []string) []string {
	if rows == nil {
		return []string{}
	}
	return rows
}
