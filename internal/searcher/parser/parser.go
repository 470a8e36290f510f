// Package parser turns a comma-separated phrase query into a plan of
// normalised terms with their offsets inside each phrase.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/tokenizer"
)

// Term is one normalised token of a phrase and its offset from the first
// token of the phrase.
type Term struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

// Phrase is a single comma-separated entry of a query.
type Phrase struct {
	Raw   string `json:"raw"`
	Terms []Term `json:"terms"`
}

// Key is the normalised form of the phrase; phrases with equal keys match
// the same documents.
func (p Phrase) Key() string {
	texts := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		texts[i] = t.Text
	}
	return strings.Join(texts, " ")
}

// Span is the number of token positions the phrase covers.
func (p Phrase) Span() int {
	if len(p.Terms) == 0 {
		return 0
	}
	return p.Terms[len(p.Terms)-1].Offset + 1
}

type QueryPlan struct {
	RawQuery string   `json:"raw_query"`
	Phrases  []Phrase `json:"phrases"`
}

// Empty reports whether the plan has nothing to search for.
func (q *QueryPlan) Empty() bool {
	return q == nil || len(q.Phrases) == 0
}

// Keys returns the normalised key of every phrase, in query order.
func (q *QueryPlan) Keys() []string {
	keys := make([]string, len(q.Phrases))
	for i, p := range q.Phrases {
		keys[i] = p.Key()
	}
	return keys
}

// Parse splits query on commas and tokenises each phrase with the indexing
// tokenizer. Tokens the index cannot hold keep their offset but are not
// searched for, mirroring how they consume a position at indexing time.
// Blank phrases, phrases with no searchable token and repeats of an earlier
// phrase are dropped.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Phrases:  make([]Phrase, 0),
		RawQuery: query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(query, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		phrase := Phrase{Raw: raw}
		offset := 0
		for token := range tokenizer.Tokens(raw) {
			if !tokenizer.IsReserved(token) {
				phrase.Terms = append(phrase.Terms, Term{Text: token, Offset: offset})
			}
			offset++
		}
		if len(phrase.Terms) == 0 {
			continue
		}
		key := phrase.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		plan.Phrases = append(plan.Phrases, phrase)
	}
	return plan
}
