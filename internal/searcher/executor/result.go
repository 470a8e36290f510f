package executor

import (
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/parser"
)

// ShardResult is what one shard worker reports: matches per phrase (keyed
// by the phrase text) or the error that stopped it.
type ShardResult struct {
	Worker   int                `json:"worker"`
	Shard    string             `json:"shard"`
	Matches  map[string][]Match `json:"matches,omitempty"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`

	Err error `json:"-"`
}

// Failed reports whether the worker could not answer.
func (r ShardResult) Failed() bool {
	return r.Err != nil || r.Error != ""
}

// SearchResult holds one ShardResult per shard, indexed by worker, and the
// per-phrase totals across shards.
type SearchResult struct {
	Query   string             `json:"query"`
	Phrases []string           `json:"phrases"`
	Shards  []ShardResult      `json:"shards"`
	Totals  map[string][]Match `json:"totals"`
	Cached  bool               `json:"cached,omitempty"`
}

// ByDate sums the counts of phrase per call date.
func (r *SearchResult) ByDate(phrase string) map[time.Time]int {
	out := make(map[time.Time]int)
	for _, m := range r.Totals[phrase] {
		out[m.Date] += m.Count
	}
	return out
}

// DateCount is one row of a date histogram.
type DateCount struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

// Histogram returns ByDate(phrase) sorted by date.
func (r *SearchResult) Histogram(phrase string) []DateCount {
	byDate := r.ByDate(phrase)
	rows := make([]DateCount, 0, len(byDate))
	for d, c := range byDate {
		rows = append(rows, DateCount{Date: d, Count: c})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

// FailedShards counts the workers that reported an error.
func (r *SearchResult) FailedShards() int {
	n := 0
	for _, s := range r.Shards {
		if s.Failed() {
			n++
		}
	}
	return n
}

// mergeTotals adds up the matches of every successful shard per phrase.
// A document found by several shards has its counts summed.
func mergeTotals(phrases []string, shards []ShardResult) map[string][]Match {
	totals := make(map[string][]Match, len(phrases))
	for _, phrase := range phrases {
		byDoc := make(map[string]Match)
		for _, s := range shards {
			if s.Failed() {
				continue
			}
			for _, m := range s.Matches[phrase] {
				if prev, ok := byDoc[m.DocID]; ok {
					m.Count += prev.Count
				}
				byDoc[m.DocID] = m
			}
		}
		merged := make([]Match, 0, len(byDoc))
		for _, m := range byDoc {
			merged = append(merged, m)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].DocID < merged[j].DocID })
		totals[phrase] = merged
	}
	return totals
}

// Relabel returns a copy of r keyed by the raw phrases of plan. A cached
// result was computed for whichever query first filled the cache; any query
// with the same normalised phrases can reuse it under its own wording.
// Results whose phrase count differs from plan are returned unchanged.
func (r *SearchResult) Relabel(plan *parser.QueryPlan) *SearchResult {
	if len(r.Phrases) != len(plan.Phrases) {
		return r
	}
	rename := make(map[string]string, len(r.Phrases))
	out := *r
	out.Query = plan.RawQuery
	out.Phrases = make([]string, len(plan.Phrases))
	for i, p := range plan.Phrases {
		out.Phrases[i] = p.Raw
		rename[r.Phrases[i]] = p.Raw
	}
	out.Totals = relabelMatches(r.Totals, rename)
	out.Shards = make([]ShardResult, len(r.Shards))
	for i, s := range r.Shards {
		s.Matches = relabelMatches(s.Matches, rename)
		out.Shards[i] = s
	}
	return &out
}

func relabelMatches(in map[string][]Match, rename map[string]string) map[string][]Match {
	if in == nil {
		return nil
	}
	out := make(map[string][]Match, len(in))
	for phrase, matches := range in {
		if to, ok := rename[phrase]; ok {
			phrase = to
		}
		out[phrase] = matches
	}
	return out
}
