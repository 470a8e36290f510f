package main_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	main "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/cmd/indexer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

const twoCalls = `{"ticker":"AAA","date":"2020-01-01","prepared":["profit margin improved"]}
{"ticker":"BBB","date":"2020-01-02","prepared":["profit margin declined"]}
`

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calls.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	err := main.NewMain().Run(context.Background(), args, strings.NewReader(stdin), stdout, stderr)
	return stdout.String(), stderr.String(), err
}

func TestMain_Run_Help(t *testing.T) {
	t.Parallel()

	stdout, _, err := run(t, "", "--help")
	require.NoError(t, err)
	for _, cmd := range []string{"build", "update", "import"} {
		assert.Contains(t, stdout, cmd)
	}
	assert.Contains(t, stdout, "Usage:")
}

func TestMain_Run_NoCommand(t *testing.T) {
	t.Parallel()

	_, _, err := run(t, "")
	assert.ErrorContains(t, err, "no command specified")
}

func TestBuild(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "index")
	stdout, _, err := run(t, "", "--data-dir", dir, "--log-level", "error", "build", "--corpus", writeCorpus(t, twoCalls))
	require.NoError(t, err)

	assert.Contains(t, stdout, "indexed 2 transcripts (skipped 0) into 1 shards")
	assert.Contains(t, stdout, "index.txt")
	store, err := segment.ReadFile(shard.Path(dir, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA-2020-1-1", "BBB-2020-1-2"}, store.DocIDs())
}

func TestBuild_FromStdin(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "index")
	stdout, _, err := run(t, twoCalls, "--data-dir", dir, "build", "-f", "-")
	require.NoError(t, err)
	assert.Contains(t, stdout, "indexed 2 transcripts")
}

func TestBuild_SourceFlagsAreExclusive(t *testing.T) {
	t.Parallel()

	_, _, err := run(t, "", "--data-dir", t.TempDir(), "build", "--corpus", "x.jsonl", "--postgres")
	assert.Error(t, err)
}

func TestUpdate_PromptsWhenNoIndex(t *testing.T) {
	t.Parallel()

	corpusPath := writeCorpus(t, twoCalls)
	tests := []struct {
		name    string
		stdin   string
		flags   []string
		created bool
	}{
		{"answer yes", "y\n", nil, true},
		{"answer no", "n\n", nil, false},
		{"no answer", "", nil, false},
		{"--create", "", []string{"--create"}, true},
		{"--yes", "", []string{"-y"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := filepath.Join(t.TempDir(), "index")
			args := append([]string{"--data-dir", dir, "update", "--corpus", corpusPath}, tt.flags...)
			stdout, stderr, err := run(t, tt.stdin, args...)

			paths, derr := shard.Discover(dir)
			require.NoError(t, derr)
			if tt.created {
				require.NoError(t, err)
				assert.Contains(t, stdout, "indexed 2 transcripts")
				assert.Len(t, paths, 1)
			} else {
				assert.True(t, errors.Is(err, apperrors.ErrNotUpdated))
				assert.Empty(t, paths)
			}
			if tt.flags == nil {
				assert.Contains(t, stderr, "Build one from scratch? [y/N]")
			} else {
				assert.NotContains(t, stderr, "[y/N]")
			}
		})
	}
}

func TestUpdate_AddsOnlyNewTranscripts(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "index")
	_, _, err := run(t, "", "--data-dir", dir, "build", "--corpus", writeCorpus(t, twoCalls))
	require.NoError(t, err)

	stdout, _, err := run(t, "", "--data-dir", dir, "update", "--corpus", writeCorpus(t, twoCalls))
	require.NoError(t, err)
	assert.Contains(t, stdout, "index is up to date: 2 known transcripts")

	more := twoCalls + `{"ticker":"CCC","date":"2020-01-03","prepared":["unexpected loss"]}` + "\n"
	stdout, _, err = run(t, "", "--data-dir", dir, "update", "--corpus", writeCorpus(t, more))
	require.NoError(t, err)
	assert.Contains(t, stdout, "added 1 transcripts to index.txt (2 known, 0 skipped)")

	store, err := segment.ReadFile(shard.Path(dir, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA-2020-1-1", "BBB-2020-1-2", "CCC-2020-1-3"}, store.DocIDs())
}

func TestBuild_MissingCorpus(t *testing.T) {
	t.Parallel()

	_, _, err := run(t, "", "--data-dir", t.TempDir(), "build", "--corpus", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorContains(t, err, "missing.jsonl")
}
