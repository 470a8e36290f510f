// Package corpus defines the transcript documents fed to the indexer and
// the sources that stream them.
package corpus

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Document is one earnings-call transcript. Prepared holds the prepared
// remarks and QandA the question-and-answer section, one entry per text row.
type Document struct {
	ID       string    `json:"id,omitempty"`
	Ticker   string    `json:"ticker"`
	Company  string    `json:"company,omitempty"`
	Date     time.Time `json:"date"`
	Prepared []string  `json:"prepared"`
	QandA    []string  `json:"qanda"`
}

// Text yields the prepared rows followed by the Q&A rows.
func (d Document) Text() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, row := range d.Prepared {
			if !yield(row) {
				return
			}
		}
		for _, row := range d.QandA {
			if !yield(row) {
				return
			}
		}
	}
}

// Key returns the document id, deriving it from ticker and date when ID is
// unset.
func (d Document) Key() string {
	if d.ID != "" {
		return d.ID
	}
	return DocumentID(d.Ticker, d.Date)
}

// DocumentID builds the TICKER-YYYY-M-D id of a transcript. Month and day
// are not zero padded, and an exchange prefix such as "NYSE:" is dropped.
func DocumentID(ticker string, date time.Time) string {
	if i := strings.LastIndex(ticker, ":"); i >= 0 {
		ticker = ticker[i+1:]
	}
	return fmt.Sprintf("%s-%d-%d-%d", ticker, date.Year(), int(date.Month()), date.Day())
}

// ParseDate extracts the call date from a document id. Only the last three
// dash-separated fields are read, so tickers may themselves contain dashes.
func ParseDate(id string) (time.Time, error) {
	parts := strings.Split(id, "-")
	if len(parts) < 4 {
		return time.Time{}, fmt.Errorf("document id %q: want TICKER-YYYY-M-D", id)
	}
	var ymd [3]int
	for i, field := range parts[len(parts)-3:] {
		n, err := strconv.Atoi(field)
		if err != nil {
			return time.Time{}, fmt.Errorf("document id %q: bad date field %q", id, field)
		}
		ymd[i] = n
	}
	if ymd[1] < 1 || ymd[1] > 12 || ymd[2] < 1 || ymd[2] > 31 {
		return time.Time{}, fmt.Errorf("document id %q: date out of range", id)
	}
	return time.Date(ymd[0], time.Month(ymd[1]), ymd[2], 0, 0, 0, 0, time.UTC), nil
}

// Source streams documents in a fixed order. Per-document problems are
// yielded as *RecordError and the stream carries on; any other error ends
// the stream.
type Source interface {
	Documents(ctx context.Context) iter.Seq2[Document, error]
}

// RecordError reports a single unreadable document.
type RecordError struct {
	Record int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Record, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// SliceSource serves documents from memory.
type SliceSource []Document

func (s SliceSource) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for _, doc := range slices.Clone(s) {
			if err := ctx.Err(); err != nil {
				yield(Document{}, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}
