// Package executor answers phrase queries against shard stores: positional
// intersection inside one store, and a fan-out engine across every shard of
// an index directory.
package executor

import (
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

// Match is one document containing a phrase. Count is the number of
// positions at which the whole phrase starts.
type Match struct {
	DocID string    `json:"doc_id"`
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

// MatchPhrase finds the documents of store that contain phrase, ordered by
// doc id. Candidates are the documents holding every term; each term's
// positions are shifted back by its offset and intersected. When a term is
// absent from the store the result is empty and the error wraps
// ErrMissingToken.
func MatchPhrase(store *index.Store, phrase parser.Phrase) ([]Match, error) {
	if len(phrase.Terms) == 0 {
		return nil, nil
	}
	postingsPerTerm := make([]index.PostingList, len(phrase.Terms))
	for i, term := range phrase.Terms {
		pl := store.Lookup(term.Text)
		if len(pl) == 0 {
			return nil, fmt.Errorf("%w: %q", apperrors.ErrMissingToken, term.Text)
		}
		postingsPerTerm[i] = pl
	}

	candidates := intersectPostings(postingsPerTerm)
	matches := make([]Match, 0, len(candidates))
	for docID := range candidates {
		count := phraseStarts(store, phrase.Terms, docID)
		if count == 0 {
			continue
		}
		date, _ := corpus.ParseDate(docID)
		matches = append(matches, Match{DocID: docID, Date: date, Count: count})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].DocID < matches[j].DocID })
	return matches, nil
}

// phraseStarts counts the start positions p where every term t occurs in
// docID at p + t.Offset.
func phraseStarts(store *index.Store, terms []parser.Term, docID string) int {
	var starts map[int]struct{}
	for _, term := range terms {
		shifted := make(map[int]struct{})
		for _, pos := range store.Positions(term.Text, docID) {
			start := pos - term.Offset
			if start < 0 {
				continue
			}
			if starts == nil {
				shifted[start] = struct{}{}
			} else if _, ok := starts[start]; ok {
				shifted[start] = struct{}{}
			}
		}
		starts = shifted
		if len(starts) == 0 {
			return 0
		}
	}
	return len(starts)
}

// intersectPostings returns the doc ids present in every posting list,
// starting from the shortest list.
func intersectPostings(postingsPerTerm []index.PostingList) map[string]struct{} {
	if len(postingsPerTerm) == 0 {
		return make(map[string]struct{})
	}
	shortest := 0
	for i, postings := range postingsPerTerm {
		if len(postings) < len(postingsPerTerm[shortest]) {
			shortest = i
		}
	}
	candidates := make(map[string]struct{})
	for _, p := range postingsPerTerm[shortest] {
		candidates[p.DocID] = struct{}{}
	}
	for i, postings := range postingsPerTerm {
		if i == shortest {
			continue
		}
		docSet := make(map[string]struct{}, len(postings))
		for _, p := range postings {
			docSet[p.DocID] = struct{}{}
		}
		for docID := range candidates {
			if _, exists := docSet[docID]; !exists {
				delete(candidates, docID)
			}
		}
	}
	return candidates
}
