package exon

import (
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCigar(t *testing.T, s string) sam.Cigar {
	t.Helper()
	c, err := sam.ParseCigar([]byte(s))
	require.NoError(t, err)
	return c
}

func TestSplitCigarSimpleMatch(t *testing.T) {
	ivs := SplitCigar(mustCigar(t, "30M"), 160)
	require.Len(t, ivs, 1)
	assert.Equal(t, Interval{Start: 160, End: 190}, ivs[0].Interval)
}

func TestSplitCigarSplice(t *testing.T) {
	ivs := SplitCigar(mustCigar(t, "50M50N50M"), 100)
	require.Len(t, ivs, 2)
	assert.Equal(t, Interval{Start: 100, End: 150}, ivs[0].Interval)
	assert.Equal(t, Interval{Start: 200, End: 250}, ivs[1].Interval)
}

func TestSplitCigarClipsDontMoveReference(t *testing.T) {
	ivs := SplitCigar(mustCigar(t, "5S40M5S"), 10)
	require.Len(t, ivs, 1)
	assert.Equal(t, Interval{Start: 10, End: 50}, ivs[0].Interval)
}

func TestSplitCigarDegenerate(t *testing.T) {
	ivs := SplitCigar(mustCigar(t, "10I"), 0)
	assert.Nil(t, ivs)
}

func TestExonAddTranscriptSortedDedup(t *testing.T) {
	e := NewExon(100, 200)
	e.AddTranscript(3)
	e.AddTranscript(1)
	e.AddTranscript(3)
	e.AddTranscript(2)
	assert.Equal(t, []TranscriptIndex{1, 2, 3}, e.Transcripts)
}

func TestExonMergeTranscripts(t *testing.T) {
	e := NewExon(100, 200)
	e.AddTranscript(1)
	e.MergeTranscripts([]TranscriptIndex{0, 1, 5})
	assert.Equal(t, []TranscriptIndex{0, 1, 5}, e.Transcripts)
}
