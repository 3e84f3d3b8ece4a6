package ecresolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/vcontext"
	"github.com/grail-oss/tcc-matrix/annot"
	"github.com/grail-oss/tcc-matrix/exon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCigar(t *testing.T, s string) sam.Cigar {
	t.Helper()
	c, err := sam.ParseCigar([]byte(s))
	require.NoError(t, err)
	return c
}

func mustRef(t *testing.T, name string, length int) *sam.Reference {
	t.Helper()
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	require.NoError(t, err)
	return ref
}

func buildS1Index(t *testing.T) *annot.AnnotationIndex {
	t.Helper()
	dir := t.TempDir()
	gtf := "chr1\ttest\texon\t101\t200\t.\t+\t.\ttranscript_id \"ENST1\";\n" +
		"chr1\ttest\texon\t151\t250\t.\t+\t.\ttranscript_id \"ENST2\";\n"
	path := filepath.Join(dir, "s1.gtf")
	require.NoError(t, os.WriteFile(path, []byte(gtf), 0644))
	idx, err := annot.Build(vcontext.Background(), annot.Options{GTFPaths: []string{path}})
	require.NoError(t, err)
	return idx
}

// TestS1SingleEndOverlap grounds spec scenario S1: a read spanning the
// overlap of two transcripts resolves to the EC containing both.
func TestS1SingleEndOverlap(t *testing.T) {
	idx := buildS1Index(t)
	chr1 := mustRef(t, "chr1", 1000)
	rec := &sam.Record{Ref: chr1, Pos: 159, Cigar: mustCigar(t, "30M")}

	ec := SingleAlignmentEC(idx, rec, false)
	assert.Equal(t, EC{0, 1}, ec)
	assert.Equal(t, "0,1", ec.CanonicalString())
}

// TestS2SpliceDisjointIntervals grounds spec scenario S2: a spliced read
// whose two exon-spanning intervals land in disjoint transcripts yields an
// empty EC.
func TestS2SpliceDisjointIntervals(t *testing.T) {
	idx := buildS1Index(t)
	chr1 := mustRef(t, "chr1", 1000)
	rec := &sam.Record{Ref: chr1, Pos: 100, Cigar: mustCigar(t, "50M50N50M")}

	ec := SingleAlignmentEC(idx, rec, false)
	assert.Empty(t, ec)
}

func TestS4PairedStrandObliviousIntersection(t *testing.T) {
	fwd0 := EC{0, 1, 2}
	fwd1 := EC{1, 2, 3}
	assert.Equal(t, EC{1, 2}, intersect(fwd0, fwd1))
}

func TestReadECOrphanSuppression(t *testing.T) {
	idx := buildS1Index(t)
	chr1 := mustRef(t, "chr1", 1000)
	seg0 := &sam.Record{Ref: chr1, Pos: 159, Cigar: mustCigar(t, "30M")}
	group := ReadGroup{Seg0: []*sam.Record{seg0}}

	ec := ReadEC(idx, group, Options{Paired: true})
	assert.Nil(t, ec)
}

func TestReadECUnpairedUsesSegment0(t *testing.T) {
	idx := buildS1Index(t)
	chr1 := mustRef(t, "chr1", 1000)
	seg0 := &sam.Record{Ref: chr1, Pos: 159, Cigar: mustCigar(t, "30M")}
	group := ReadGroup{Seg0: []*sam.Record{seg0}}

	ec := ReadEC(idx, group, Options{Paired: false})
	assert.Equal(t, EC{0, 1}, ec)
}

func TestReadECRapmapUsesReferenceID(t *testing.T) {
	t1 := mustRef(t, "ENST1", 500)
	rec := &sam.Record{Ref: t1, Flags: 0, Cigar: mustCigar(t, "50M")}
	group := ReadGroup{Seg0: []*sam.Record{rec}}

	ec := ReadEC(nil, group, Options{Paired: false, Rapmap: true})
	assert.Equal(t, EC{exon.TranscriptIndex(t1.ID())}, ec)
}

func TestReadECUnmappedSegmentSkipped(t *testing.T) {
	idx := buildS1Index(t)
	chr1 := mustRef(t, "chr1", 1000)
	mapped := &sam.Record{Ref: chr1, Pos: 159, Cigar: mustCigar(t, "30M")}
	unmapped := &sam.Record{Flags: sam.Unmapped}
	group := ReadGroup{Seg0: []*sam.Record{mapped, unmapped}}

	ec := ReadEC(idx, group, Options{Paired: false})
	assert.Equal(t, EC{0, 1}, ec)
}

func TestECCanonicalStringEmpty(t *testing.T) {
	var ec EC
	assert.Equal(t, "", ec.CanonicalString())
}

func TestUnionAndIntersectDedup(t *testing.T) {
	a := EC{0, 2, 4}
	b := EC{2, 3, 4}
	assert.Equal(t, EC{0, 2, 3, 4}, union(a, b))
	assert.Equal(t, EC{2, 4}, intersect(a, b))
}
