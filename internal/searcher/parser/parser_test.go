package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/searcher/parser"
)

func n(word string) string { return tokenizer.Normalize(word) }

func TestParse_CommaSeparatedPhrases(t *testing.T) {
	t.Parallel()

	plan := parser.Parse("profit margin, unexpected loss")

	require.Len(t, plan.Phrases, 2)
	assert.Equal(t, "profit margin", plan.Phrases[0].Raw)
	assert.Equal(t, []parser.Term{
		{Text: n("profit"), Offset: 0},
		{Text: n("margin"), Offset: 1},
	}, plan.Phrases[0].Terms)
	assert.Equal(t, "unexpected loss", plan.Phrases[1].Raw)
	assert.Equal(t, []string{n("profit") + " " + n("margin"), n("unexpected") + " " + n("loss")}, plan.Keys())
	assert.False(t, plan.Empty())
}

func TestParse_NormalisesLikeTheIndex(t *testing.T) {
	t.Parallel()

	plan := parser.Parse("Margins, don't")

	require.Len(t, plan.Phrases, 2)
	assert.Equal(t, n("margins"), plan.Phrases[0].Terms[0].Text)
	assert.Equal(t, []parser.Term{
		{Text: "don", Offset: 0},
		{Text: "'", Offset: 1},
		{Text: "t", Offset: 2},
	}, plan.Phrases[1].Terms)
	assert.Equal(t, 3, plan.Phrases[1].Span())
}

func TestParse_ReservedTokenKeepsOffset(t *testing.T) {
	t.Parallel()

	plan := parser.Parse("ratio 3:1 rise")

	require.Len(t, plan.Phrases, 1)
	terms := plan.Phrases[0].Terms
	assert.Equal(t, []parser.Term{
		{Text: n("ratio"), Offset: 0},
		{Text: "3", Offset: 1},
		{Text: "1", Offset: 3},
		{Text: n("rise"), Offset: 4},
	}, terms)
}

func TestParse_DropsBlankAndDuplicatePhrases(t *testing.T) {
	t.Parallel()

	plan := parser.Parse(" profit margin ,, Profit  Margin,  ,loss ")

	require.Len(t, plan.Phrases, 2)
	assert.Equal(t, "profit margin", plan.Phrases[0].Raw)
	assert.Equal(t, "loss", plan.Phrases[1].Raw)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	for _, q := range []string{"", "   ", ",,", " , ;"} {
		plan := parser.Parse(q)
		assert.True(t, plan.Empty(), "query %q", q)
	}
}
