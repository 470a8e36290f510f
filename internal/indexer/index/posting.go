package index

// Posting records every position at which a token occurs in one document.
// Positions are zero-based offsets into the document's token stream and are
// kept in the order they were recorded.
type Posting struct {
	DocID     string `json:"doc_id"`
	Positions []int  `json:"positions"`
}

// Frequency is the number of occurrences the posting carries.
func (p Posting) Frequency() int {
	return len(p.Positions)
}

type PostingList []Posting

// Frequency sums occurrences across every posting in the list.
func (pl PostingList) Frequency() int {
	total := 0
	for _, p := range pl {
		total += len(p.Positions)
	}
	return total
}

// Positions returns every position recorded for docID, concatenated across
// postings in list order.
func (pl PostingList) Positions(docID string) []int {
	var out []int
	for _, p := range pl {
		if p.DocID == docID {
			out = append(out, p.Positions...)
		}
	}
	return out
}

func (pl PostingList) clone() PostingList {
	out := make(PostingList, len(pl))
	for i, p := range pl {
		out[i] = Posting{
			DocID:     p.DocID,
			Positions: append([]int(nil), p.Positions...),
		}
	}
	return out
}

// TermEntry pairs a token with its postings, the unit the shard codec
// writes.
type TermEntry struct {
	Term     string
	Postings PostingList
}
