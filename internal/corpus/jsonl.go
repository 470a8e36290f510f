package corpus

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

// JSONLSource reads newline-delimited JSON transcripts from a file, which
// is gunzipped when its name ends in ".gz". Each line holds one object:
//
//	{"ticker":"NYSE:AAA","date":"2020-01-31","company":"...","prepared":[...],"qanda":[...]}
//
// date may also be RFC 3339.
type JSONLSource struct {
	Path string
}

type jsonlRecord struct {
	ID       string   `json:"id"`
	Ticker   string   `json:"ticker"`
	Company  string   `json:"company"`
	Date     string   `json:"date"`
	Prepared []string `json:"prepared"`
	QandA    []string `json:"qanda"`
}

func (s JSONLSource) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(Document{}, fmt.Errorf("opening corpus: %w", err))
			return
		}
		defer f.Close()

		var r io.Reader = f
		if strings.HasSuffix(s.Path, ".gz") {
			gz, err := gzip.NewReader(f)
			if err != nil {
				yield(Document{}, fmt.Errorf("opening gzip corpus: %w", err))
				return
			}
			defer gz.Close()
			r = gz
		}
		readJSONL(ctx, r, yield)
	}
}

// ReaderSource reads the JSONL format from an already open stream.
type ReaderSource struct {
	R io.Reader
}

func (s ReaderSource) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		readJSONL(ctx, s.R, yield)
	}
}

func readJSONL(ctx context.Context, r io.Reader, yield func(Document, error) bool) {
	br := bufio.NewReaderSize(r, 1<<16)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			yield(Document{}, err)
			return
		}
		line, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			yield(Document{}, fmt.Errorf("reading corpus line %d: %w", lineNo+1, err))
			return
		}
		if len(line) == 0 && err != nil {
			return
		}
		lineNo++
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			doc, perr := parseRecord([]byte(trimmed))
			if perr != nil {
				perr = &RecordError{Record: lineNo, Err: perr}
			}
			if !yield(doc, perr) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// invalidUTF8 returns the offset of the first byte that is not valid UTF-8,
// or -1.
func invalidUTF8(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

// parseRecord decodes one JSONL line. Invalid UTF-8 is rejected before
// unmarshalling, which would otherwise replace it with U+FFFD.
func parseRecord(line []byte) (Document, error) {
	if off := invalidUTF8(line); off >= 0 {
		return Document{}, &apperrors.DecodeError{Offset: off}
	}
	var rec jsonlRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return Document{}, fmt.Errorf("decoding transcript: %w", err)
	}
	if rec.Ticker == "" && rec.ID == "" {
		return Document{}, errors.New("transcript has neither ticker nor id")
	}
	doc := Document{
		Ticker:   rec.Ticker,
		Company:  rec.Company,
		Prepared: rec.Prepared,
		QandA:    rec.QandA,
	}
	if rec.Date != "" {
		date, err := parseCallDate(rec.Date)
		if err != nil {
			return Document{}, err
		}
		doc.Date = date
	}
	doc.ID = rec.ID
	if doc.ID == "" {
		if doc.Date.IsZero() {
			return Document{}, fmt.Errorf("transcript %s has no date", rec.Ticker)
		}
		doc.ID = DocumentID(doc.Ticker, doc.Date)
	}
	return doc, nil
}

func parseCallDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad call date %q", s)
	}
	return t, nil
}
