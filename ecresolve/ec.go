// Package ecresolve computes equivalence classes (ECs): the set of
// transcripts a read, or a mate pair, is jointly compatible with, given its
// alignment records and the genome annotation index.
package ecresolve

import (
	"sort"
	"strconv"
	"strings"

	"github.com/biogo/hts/sam"
	"github.com/grail-oss/tcc-matrix/annot"
	"github.com/grail-oss/tcc-matrix/exon"
)

// EC is an ordered, duplicate-free sequence of transcript indices, always
// kept sorted ascending. The zero value is the empty EC.
type EC []exon.TranscriptIndex

// CanonicalString renders e as the comma-separated decimal encoding spec'd
// as the matrix row key: ascending, no spaces.
func (e EC) CanonicalString() string {
	if len(e) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range e {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(t)))
	}
	return b.String()
}

func sortDedup(ts []exon.TranscriptIndex) EC {
	if len(ts) == 0 {
		return nil
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	out := ts[:1]
	for _, t := range ts[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return EC(out)
}

// union returns the sorted, deduplicated union of a and b. Both inputs are
// assumed already sorted and deduplicated.
func union(a, b EC) EC {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]exon.TranscriptIndex, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return EC(out)
}

// intersect returns the sorted intersection of a and b. Both inputs are
// assumed already sorted and deduplicated.
func intersect(a, b EC) EC {
	var out []exon.TranscriptIndex
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return EC(out)
}

// SingleAlignmentEC computes the EC for one alignment record, per §4.3
// step 1-4: split the record into reference-coordinate read intervals, union
// the transcript set of every exon that contains an interval into that
// interval's candidates, then intersect candidates across intervals.
//
// strictSplice additionally requires every splice-junction endpoint (each
// interval endpoint except the read's outermost start and end) to coincide
// exactly with the containing exon's endpoint -- the genome-BAM default
// (strictSplice=false) does not require this.
func SingleAlignmentEC(idx *annot.AnnotationIndex, rec *sam.Record, strictSplice bool) EC {
	if rec.Ref == nil {
		return nil
	}
	chrom, ok := idx.Lookup(rec.Ref.Name())
	if !ok {
		return nil
	}
	intervals := exon.SplitCigar(rec.Cigar, rec.Pos)
	if len(intervals) == 0 {
		return nil
	}

	var ec EC
	for j := range intervals {
		iv := &intervals[j]
		for _, e := range chrom.Exons {
			if iv.Start < e.Start || iv.End > e.End {
				continue
			}
			if strictSplice {
				innerStart := j > 0
				innerEnd := j < len(intervals)-1
				if innerStart && iv.Start != e.Start {
					continue
				}
				if innerEnd && iv.End != e.End {
					continue
				}
			}
			iv.Candidates = append(iv.Candidates, e.Transcripts...)
		}
		cand := sortDedup(iv.Candidates)
		if j == 0 {
			ec = cand
		} else {
			ec = intersect(ec, cand)
		}
		if len(ec) == 0 {
			return nil
		}
	}
	return ec
}

// ReadGroup buckets every alignment for one read, or one read pair, by
// segment: Seg0 holds first-in-pair (or all, for single-end) alignments,
// Seg1 holds second-in-pair alignments.
type ReadGroup struct {
	Seg0, Seg1 []*sam.Record
}

// Options configures ReadEC's pairing behavior, per §4.3.
type Options struct {
	// Paired enables pair-aware resolution (intersecting segment 0 and
	// segment 1 ECs). When false, the read EC is the union of segment 0's
	// alignment ECs; segment 1 is used only when segment 0 has no records.
	Paired bool
	// Rapmap, when set, treats each alignment's reference id directly as a
	// single-element EC instead of resolving through the annotation index --
	// the alignment is already against the transcriptome.
	Rapmap bool
	// StrandAware selects (fwd0 ∩ rev1) ∪ (rev0 ∩ fwd1) instead of the
	// default strand-oblivious (fwd0 ∪ rev0) ∩ (fwd1 ∪ rev1).
	StrandAware bool
	// StrictSplice is forwarded to SingleAlignmentEC.
	StrictSplice bool
}

// segmentECs computes, for one segment's alignments, the forward-strand and
// reverse-strand EC unions per §4.3 steps 1-2.
func segmentECs(idx *annot.AnnotationIndex, recs []*sam.Record, opts Options) (fwd, rev EC) {
	for _, rec := range recs {
		if rec.Flags&sam.Unmapped != 0 {
			continue
		}
		var ec EC
		if opts.Rapmap {
			if rec.Ref == nil {
				continue
			}
			ec = EC{exon.TranscriptIndex(rec.Ref.ID())}
		} else {
			ec = SingleAlignmentEC(idx, rec, opts.StrictSplice)
		}
		if rec.Flags&sam.Reverse != 0 {
			rev = union(rev, ec)
		} else {
			fwd = union(fwd, ec)
		}
	}
	return fwd, rev
}

// ReadEC computes the read-level EC for group, following the pairing rules
// of §4.3.
func ReadEC(idx *annot.AnnotationIndex, group ReadGroup, opts Options) EC {
	fwd0, rev0 := segmentECs(idx, group.Seg0, opts)
	fwd1, rev1 := segmentECs(idx, group.Seg1, opts)

	seg0Mapped := len(group.Seg0) > 0 && (len(fwd0) > 0 || len(rev0) > 0)
	seg1Mapped := len(group.Seg1) > 0 && (len(fwd1) > 0 || len(rev1) > 0)

	if !opts.Paired {
		if len(group.Seg0) == 0 {
			return union(fwd1, rev1)
		}
		return union(fwd0, rev0)
	}

	// Orphan suppression (§4.3 step 3, §4.5 step 6): a paired read with one
	// mate unmapped is not assigned to any EC.
	if !seg0Mapped || !seg1Mapped {
		return nil
	}

	if opts.StrandAware {
		return union(intersect(fwd0, rev1), intersect(rev0, fwd1))
	}
	a := union(fwd0, rev0)
	b := union(fwd1, rev1)
	return intersect(a, b)
}
