// Package annot builds and serves the genome annotation index: for each
// chromosome, the exon intervals and, for each exon, the set of transcripts
// that contain it. The index is built once from GTF/GFF files (optionally
// reconciled against a transcriptome FASTA so transcript numbering matches
// kallisto's), then frozen and shared read-only across reader workers.
package annot

import (
	"context"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grail-oss/tcc-matrix/exon"
)

// ChromosomeTable is one chromosome's exon collection, in the order exons
// were first registered (§4.2 step 3 of the design: input order, not sorted
// by coordinate -- callers that need coordinate locality should sort a copy).
type ChromosomeTable struct {
	Exons []*exon.Exon

	// byRange speeds up the duplicate-exon merge during construction. It is
	// not consulted after the index is frozen.
	byRange map[rangeKey]*exon.Exon
}

type rangeKey struct{ start, end int64 }

func newChromosomeTable() *ChromosomeTable {
	return &ChromosomeTable{byRange: make(map[rangeKey]*exon.Exon)}
}

// addExon registers [start,end) with transcript t, merging into an existing
// exon at the same coordinates if one was already registered for this
// chromosome (§4.2 step 3: "duplicates ... have their transcript sets
// merged").
func (c *ChromosomeTable) addExon(start, end int64, t exon.TranscriptIndex) {
	key := rangeKey{start, end}
	if e, ok := c.byRange[key]; ok {
		e.AddTranscript(t)
		return
	}
	e := exon.NewExon(start, end)
	e.AddTranscript(t)
	c.byRange[key] = e
	c.Exons = append(c.Exons, e)
}

// AnnotationIndex maps chromosome name (case-folded, per §3/§9) to its
// ChromosomeTable. It owns all Exon storage for the process lifetime: once
// built, it is immutable and safe to share across reader goroutines.
type AnnotationIndex struct {
	chroms map[string]*ChromosomeTable

	// transcriptNames holds one name per TranscriptIndex; index i corresponds
	// to exon.TranscriptIndex(i). The name is "seqname\ttranscript_id" for a
	// transcript numbered from the GTF alone, and the bare lower-cased FASTA
	// identifier for one whose index comes from transcriptome reconciliation.
	transcriptNames []string
}

// Lookup returns the ChromosomeTable for name, case-folding it first as §3
// and §9 require ("Both annotation and alignment contig names are
// lower-cased on lookup").
func (a *AnnotationIndex) Lookup(name string) (*ChromosomeTable, bool) {
	t, ok := a.chroms[strings.ToLower(name)]
	return t, ok
}

// NumTranscripts returns the number of distinct transcripts indexed.
func (a *AnnotationIndex) NumTranscripts() int { return len(a.transcriptNames) }

// TranscriptName returns the name recorded for t (see transcriptNames), or
// "" if t is out of range.
func (a *AnnotationIndex) TranscriptName(t exon.TranscriptIndex) string {
	if int(t) < 0 || int(t) >= len(a.transcriptNames) {
		return ""
	}
	return a.transcriptNames[t]
}

// Options configures annotation index construction.
type Options struct {
	// GTFPaths are GTF/GFF annotation files, scanned in order (§4.2 step 1).
	GTFPaths []string
	// FASTAPaths are optional transcriptome FASTAs used to reconcile
	// transcript numbering with kallisto's own convention (§4.2 step 2).
	FASTAPaths []string
}

// Build constructs an AnnotationIndex from opts, following the two-pass
// procedure in spec §4.2: GTF-order transcript numbering, then (if a
// transcriptome is supplied) kallisto reconciliation.
func Build(ctx context.Context, opts Options) (*AnnotationIndex, error) {
	idx := &AnnotationIndex{chroms: make(map[string]*ChromosomeTable)}

	gtfIDs, err := scanGTFs(ctx, opts.GTFPaths, idx)
	if err != nil {
		return nil, err
	}

	if len(opts.FASTAPaths) > 0 {
		fastaOrder, err := scanFASTAIdentifiers(ctx, opts.FASTAPaths)
		if err != nil {
			return nil, err
		}
		remap, names, err := reconcile(gtfIDs, fastaOrder)
		if err != nil {
			return nil, err
		}
		idx.remapTranscripts(remap, len(names))
		idx.transcriptNames = names
	} else {
		names := make([]string, len(gtfIDs))
		for i, id := range gtfIDs {
			names[i] = id.seqname + "\t" + id.transcriptID
		}
		idx.transcriptNames = names
	}

	log.Printf("annot: indexed %d chromosomes, %d transcripts", len(idx.chroms), idx.NumTranscripts())
	return idx, nil
}

// remapTranscripts rewrites every exon's transcript set through remap
// (old TranscriptIndex -> new TranscriptIndex), sized for newCount entries.
func (a *AnnotationIndex) remapTranscripts(remap []exon.TranscriptIndex, newCount int) {
	for _, ct := range a.chroms {
		for _, e := range ct.Exons {
			remapped := make([]exon.TranscriptIndex, 0, len(e.Transcripts))
			seen := make(map[exon.TranscriptIndex]bool, len(e.Transcripts))
			for _, old := range e.Transcripts {
				nt := remap[old]
				if !seen[nt] {
					seen[nt] = true
					remapped = append(remapped, nt)
				}
			}
			e.Transcripts = remapped
			sortTranscripts(e.Transcripts)
		}
		ct.byRange = nil
	}
}

func sortTranscripts(ts []exon.TranscriptIndex) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j-1] > ts[j]; j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}

func (a *AnnotationIndex) chromTable(name string) *ChromosomeTable {
	name = strings.ToLower(name)
	ct, ok := a.chroms[name]
	if !ok {
		ct = newChromosomeTable()
		a.chroms[name] = ct
	}
	return ct
}
