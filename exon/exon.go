// Package exon holds the interval model used by the annotation index and the
// EC resolver: half-open reference intervals, the exons that own a set of
// transcripts, and the CIGAR splitter that turns one alignment into a list of
// reference-coordinate intervals.
package exon

import (
	"sort"

	"github.com/biogo/hts/sam"
)

// TranscriptIndex is the dense, zero-based transcript numbering assigned by
// the annotation index. See annot.AnnotationIndex for how it is assigned.
type TranscriptIndex int32

// Interval is a half-open, reference-coordinate interval [Start, End).
type Interval struct {
	Start, End int64
}

// Len returns End-Start.
func (iv Interval) Len() int64 { return iv.End - iv.Start }

// Exon is a registered annotation interval together with the set of
// transcripts that contain it. Transcripts is kept sorted and deduplicated:
// intersecting two small sorted slices is cheaper than hashing in the
// common case of a handful of overlapping transcripts per exon.
//
// REQUIRES: Start < End once the exon is constructed.
type Exon struct {
	Interval
	Transcripts []TranscriptIndex
}

// NewExon creates an exon over [start, end) with no transcripts yet.
func NewExon(start, end int64) *Exon {
	return &Exon{Interval: Interval{Start: start, End: end}}
}

// AddTranscript inserts t into e.Transcripts, keeping the slice sorted and
// free of duplicates.
func (e *Exon) AddTranscript(t TranscriptIndex) {
	i := sort.Search(len(e.Transcripts), func(i int) bool { return e.Transcripts[i] >= t })
	if i < len(e.Transcripts) && e.Transcripts[i] == t {
		return
	}
	e.Transcripts = append(e.Transcripts, 0)
	copy(e.Transcripts[i+1:], e.Transcripts[i:])
	e.Transcripts[i] = t
}

// MergeTranscripts unions other's transcript set into e's.
func (e *Exon) MergeTranscripts(other []TranscriptIndex) {
	for _, t := range other {
		e.AddTranscript(t)
	}
}

// ReadInterval is one reference-consuming span produced by splitting an
// alignment's CIGAR. Candidates accumulates the transcript sets of every
// annotation exon the interval falls inside of; the alignment EC is the
// intersection of Candidates across all of an alignment's ReadIntervals.
//
// Candidates never points into annotation exon storage: it is a fresh slice
// per read, because the AnnotationIndex is shared read-only across worker
// goroutines and must never be mutated or aliased by per-read state.
type ReadInterval struct {
	Interval
	Candidates []TranscriptIndex
}

// SplitCigar translates an alignment's CIGAR into a non-empty list of
// reference-coordinate intervals, following the reference-consuming table:
//
//	M, D, =, X   advance the current interval's end
//	N            close the current interval, skip oplen bases, start a new one
//	I, S, H, P   no effect on reference coordinates
//
// If the CIGAR contains no reference-consuming operation, SplitCigar returns
// nil: the caller must treat that alignment as degenerate (empty EC).
func SplitCigar(cigar sam.Cigar, pos int) []ReadInterval {
	var intervals []ReadInterval
	start := int64(pos)
	end := start
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarDeletion, sam.CigarEqual, sam.CigarMismatch:
			end += int64(op.Len())
		case sam.CigarSkipped:
			intervals = append(intervals, ReadInterval{Interval: Interval{Start: start, End: end}})
			start = end + int64(op.Len())
			end = start
		default:
			// CigarInsertion, CigarSoftClipped, CigarHardClipped, CigarBack: no-op.
		}
	}
	if end == start && len(intervals) == 0 {
		return nil
	}
	intervals = append(intervals, ReadInterval{Interval: Interval{Start: start, End: end}})
	return intervals
}
