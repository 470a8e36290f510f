package index

import (
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

// Store is an in-memory positional inverted index: token -> postings, plus
// the set of document ids the postings mention. The id set always equals the
// union of doc ids across all postings.
type Store struct {
	mu       sync.RWMutex
	postings map[string]PostingList
	docIDs   map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		postings: make(map[string]PostingList),
		docIDs:   make(map[string]struct{}),
	}
}

// Record appends pos to the posting for (token, docID), creating it when
// absent. Positions are not sorted; callers record them in scan order.
func (s *Store) Record(token, docID string, pos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl := s.postings[token]
	for i := len(pl) - 1; i >= 0; i-- {
		if pl[i].DocID == docID {
			pl[i].Positions = append(pl[i].Positions, pos)
			return
		}
	}
	s.postings[token] = append(pl, Posting{DocID: docID, Positions: []int{pos}})
	s.docIDs[docID] = struct{}{}
}

// Append adds pl to the postings of token as-is. It is used by the shard
// decoder.
func (s *Store) Append(token string, pl PostingList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postings[token] = append(s.postings[token], pl...)
	for _, p := range pl {
		s.docIDs[p.DocID] = struct{}{}
	}
}

// Merge appends other's postings token by token. Postings are concatenated,
// not position-merged; Compact consolidates duplicates when needed.
func (s *Store) Merge(other *Store) {
	if other == nil || other == s {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, pl := range other.postings {
		s.postings[token] = append(s.postings[token], pl.clone()...)
	}
	for id := range other.docIDs {
		s.docIDs[id] = struct{}{}
	}
}

// Prune removes every token whose total occurrence count is below
// minTotal and reports how many tokens were removed and how many remain.
func (s *Store) Prune(minTotal int) (removed, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, pl := range s.postings {
		if pl.Frequency() < minTotal {
			delete(s.postings, token)
			removed++
		}
	}
	if removed > 0 {
		s.rebuildIDsLocked()
	}
	return removed, len(s.postings)
}

// Finalize prunes with a rising threshold until the vocabulary fits in
// maxVocab. The threshold starts at minCount and grows by the fourth root of
// the current vocabulary size after each round. It returns the number of
// rounds run; maxVocab <= 0 means no cap.
func (s *Store) Finalize(maxVocab, minCount int) int {
	if maxVocab <= 0 {
		return 0
	}
	rounds := 0
	for s.Vocabulary() > maxVocab {
		_, remaining := s.Prune(minCount)
		rounds++
		minCount += max(1, int(math.Sqrt(math.Sqrt(float64(remaining)))))
	}
	return rounds
}

// Compact folds duplicate (token, doc) postings left behind by Merge into a
// single posting with sorted, de-duplicated positions. Document order within
// a token follows first appearance.
func (s *Store) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	folded := 0
	for token, pl := range s.postings {
		seen := make(map[string]int, len(pl))
		dup := false
		for _, p := range pl {
			if _, ok := seen[p.DocID]; ok {
				dup = true
				break
			}
			seen[p.DocID] = 0
		}
		if !dup {
			continue
		}
		clear(seen)
		out := make(PostingList, 0, len(pl))
		for _, p := range pl {
			if idx, ok := seen[p.DocID]; ok {
				out[idx].Positions = append(out[idx].Positions, p.Positions...)
				folded++
				continue
			}
			seen[p.DocID] = len(out)
			out = append(out, Posting{DocID: p.DocID, Positions: append([]int(nil), p.Positions...)})
		}
		for i := range out {
			slices.Sort(out[i].Positions)
			out[i].Positions = slices.Compact(out[i].Positions)
		}
		s.postings[token] = out
	}
	return folded
}

// DropConflicts removes tokens and postings that the shard format cannot
// represent and returns one EncodingConflictError per removal.
func (s *Store) DropConflicts() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	badIDs := make(map[string]struct{})
	for id := range s.docIDs {
		if tokenizer.IsReserved(id) {
			badIDs[id] = struct{}{}
			errs = append(errs, &apperrors.EncodingConflictError{Field: "doc_id", Value: id})
		}
	}
	for token, pl := range s.postings {
		if tokenizer.IsReserved(token) {
			delete(s.postings, token)
			errs = append(errs, &apperrors.EncodingConflictError{Field: "token", Value: token})
			continue
		}
		if len(badIDs) == 0 {
			continue
		}
		kept := pl[:0]
		for _, p := range pl {
			if _, bad := badIDs[p.DocID]; !bad {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(s.postings, token)
		} else {
			s.postings[token] = kept
		}
	}
	if len(errs) > 0 {
		s.rebuildIDsLocked()
	}
	return errs
}

// Lookup returns the postings of token, or nil when it is absent.
func (s *Store) Lookup(token string) PostingList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postings[token]
}

// Positions returns the positions of token in docID across all postings.
func (s *Store) Positions(token, docID string) []int {
	return s.Lookup(token).Positions(docID)
}

// Frequency is the total occurrence count of token.
func (s *Store) Frequency(token string) int {
	return s.Lookup(token).Frequency()
}

func (s *Store) HasDoc(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docIDs[docID]
	return ok
}

// DocIDs returns the sorted set of document ids in the store.
func (s *Store) DocIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docIDs))
	for id := range s.docIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) DocCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docIDs)
}

// Vocabulary is the number of distinct tokens.
func (s *Store) Vocabulary() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.postings)
}

// Tokens returns every token in sorted order.
func (s *Store) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]string, 0, len(s.postings))
	for token := range s.postings {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Snapshot returns the store's entries sorted by token. Posting order within
// a token is preserved.
func (s *Store) Snapshot() []TermEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]TermEntry, 0, len(s.postings))
	for term, pl := range s.postings {
		entries = append(entries, TermEntry{Term: term, Postings: pl})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

func (s *Store) rebuildIDsLocked() {
	ids := make(map[string]struct{}, len(s.docIDs))
	for _, pl := range s.postings {
		for _, p := range pl {
			ids[p.DocID] = struct{}{}
		}
	}
	s.docIDs = ids
}
