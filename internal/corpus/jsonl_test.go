package corpus_test

import (
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

const sampleJSONL = `{"ticker":"NYSE:AAA","date":"2020-01-31","company":"Alpha","prepared":["the profit margin was strong"],"qanda":["any questions"]}

not json
{"ticker":"BBB","date":"2020-02-01T00:00:00Z","prepared":["unexpected loss"],"qanda":[]}
{"company":"nobody"}
`

func collect(t *testing.T, src corpus.Source) ([]corpus.Document, []error) {
	t.Helper()
	var docs []corpus.Document
	var errs []error
	for doc, err := range src.Documents(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errs
}

func TestReaderSource_SkipsBadRecords(t *testing.T) {
	t.Parallel()

	docs, errs := collect(t, corpus.ReaderSource{R: strings.NewReader(sampleJSONL)})

	require.Len(t, docs, 2)
	assert.Equal(t, "AAA-2020-1-31", docs[0].ID)
	assert.Equal(t, "Alpha", docs[0].Company)
	assert.Equal(t, "BBB-2020-2-1", docs[1].ID)

	require.Len(t, errs, 2)
	var recErr *corpus.RecordError
	require.True(t, errors.As(errs[0], &recErr))
	assert.Equal(t, 3, recErr.Record)
	require.True(t, errors.As(errs[1], &recErr))
	assert.Equal(t, 5, recErr.Record)
}

func TestReaderSource_RejectsInvalidUTF8(t *testing.T) {
	t.Parallel()

	input := "{\"ticker\":\"AAA\",\"date\":\"2020-01-31\",\"prepared\":[\"profit \xff margin\"]}\n" +
		`{"ticker":"BBB","date":"2020-02-01","prepared":["unexpected loss"]}` + "\n"

	docs, errs := collect(t, corpus.ReaderSource{R: strings.NewReader(input)})

	require.Len(t, docs, 1)
	assert.Equal(t, "BBB-2020-2-1", docs[0].ID)
	require.Len(t, errs, 1)
	var recErr *corpus.RecordError
	require.True(t, errors.As(errs[0], &recErr))
	assert.Equal(t, 1, recErr.Record)
	assert.ErrorIs(t, errs[0], apperrors.ErrDecode)
	var decodeErr *apperrors.DecodeError
	require.True(t, errors.As(errs[0], &decodeErr))
	assert.Equal(t, 56, decodeErr.Offset)
}

func TestJSONLSource_Gzip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "transcripts.jsonl.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(sampleJSONL))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	docs, errs := collect(t, corpus.JSONLSource{Path: path})

	assert.Len(t, docs, 2)
	assert.Len(t, errs, 2)
	assert.Equal(t, time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC), docs[0].Date)
}

func TestJSONLSource_MissingFile(t *testing.T) {
	t.Parallel()

	docs, errs := collect(t, corpus.JSONLSource{Path: filepath.Join(t.TempDir(), "none.jsonl")})

	assert.Empty(t, docs)
	require.Len(t, errs, 1)
	var recErr *corpus.RecordError
	assert.False(t, errors.As(errs[0], &recErr), "open failure is not a per-record error")
}
