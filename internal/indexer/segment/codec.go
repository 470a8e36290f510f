// Package segment reads and writes shard files. A shard is UTF-8 text with
// one line per token:
//
//	token||doc_id1:pos1,pos2,pos3;doc_id2:pos1,pos2
//
// There is no header, checksum or version field; shards may be edited by
// hand.
package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

const (
	tokenSep    = "||"
	postingSep  = ";"
	docSep      = ":"
	positionSep = ","
)

// Encode writes every entry of store, tokens in sorted order. It fails with
// an EncodingConflictError before writing a token or doc id that contains a
// delimiter; run Store.DropConflicts first to discard those.
func Encode(w io.Writer, store *index.Store) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	buf := make([]byte, 0, 4096)
	for _, entry := range store.Snapshot() {
		if tokenizer.IsReserved(entry.Term) {
			return &apperrors.EncodingConflictError{Field: "token", Value: entry.Term}
		}
		buf = append(buf[:0], entry.Term...)
		buf = append(buf, tokenSep...)
		for i, p := range entry.Postings {
			if tokenizer.IsReserved(p.DocID) {
				return &apperrors.EncodingConflictError{Field: "doc_id", Value: p.DocID}
			}
			if i > 0 {
				buf = append(buf, postingSep...)
			}
			buf = append(buf, p.DocID...)
			buf = append(buf, docSep...)
			for j, pos := range p.Positions {
				if j > 0 {
					buf = append(buf, positionSep...)
				}
				buf = strconv.AppendInt(buf, int64(pos), 10)
			}
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("writing token %q: %w", entry.Term, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing shard: %w", err)
	}
	return nil
}

// Decode parses a shard into a new store and rebuilds its document-id set
// from the postings. Blank lines are ignored; a token repeated on several
// lines keeps all of its postings.
func Decode(r io.Reader) (*index.Store, error) {
	store := index.NewStore()
	br := bufio.NewReaderSize(r, 1<<16)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading shard line %d: %w", lineNo+1, err)
		}
		if line == "" && err != nil {
			break
		}
		lineNo++
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			token, postings, perr := parseLine(line)
			if perr != nil {
				return nil, fmt.Errorf("%w: line %d: %v", apperrors.ErrCorruptShard, lineNo, perr)
			}
			store.Append(token, postings)
		}
		if err != nil {
			break
		}
	}
	return store, nil
}

func parseLine(line string) (string, index.PostingList, error) {
	token, rest, ok := strings.Cut(line, tokenSep)
	if !ok {
		return "", nil, fmt.Errorf("missing %q separator", tokenSep)
	}
	if token == "" {
		return "", nil, errors.New("empty token")
	}
	if rest == "" {
		return "", nil, fmt.Errorf("token %q has no postings", token)
	}
	parts := strings.Split(rest, postingSep)
	postings := make(index.PostingList, 0, len(parts))
	for _, part := range parts {
		docID, locs, ok := strings.Cut(part, docSep)
		if !ok || docID == "" {
			return "", nil, fmt.Errorf("token %q: malformed posting %q", token, part)
		}
		p := index.Posting{DocID: docID}
		if locs != "" {
			fields := strings.Split(locs, positionSep)
			p.Positions = make([]int, 0, len(fields))
			for _, f := range fields {
				pos, err := strconv.Atoi(f)
				if err != nil || pos < 0 {
					return "", nil, fmt.Errorf("token %q doc %s: bad position %q", token, docID, f)
				}
				p.Positions = append(p.Positions, pos)
			}
		}
		postings = append(postings, p)
	}
	return token, postings, nil
}
