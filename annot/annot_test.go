package annot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grail-oss/tcc-matrix/exon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

const testGTF = `chr1	test	exon	101	200	.	+	.	gene_id "g1"; transcript_id "t1";
chr1	test	exon	301	400	.	+	.	gene_id "g1"; transcript_id "t1";
chr1	test	exon	101	250	.	+	.	gene_id "g2"; transcript_id "t2";
chr2	test	exon	1	100	.	+	.	gene_id "g3"; transcript_id "t3";
`

func TestBuildWithoutFASTA(t *testing.T) {
	dir := t.TempDir()
	gtfPath := writeFile(t, dir, "annot.gtf", testGTF)

	idx, err := Build(vcontext.Background(), Options{GTFPaths: []string{gtfPath}})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.NumTranscripts())

	chr1, ok := idx.Lookup("CHR1")
	require.True(t, ok)
	assert.Len(t, chr1.Exons, 3)

	chr2, ok := idx.Lookup("chr2")
	require.True(t, ok)
	assert.Len(t, chr2.Exons, 1)

	_, ok = idx.Lookup("chr3")
	assert.False(t, ok)
}

func TestBuildKeepsDistinctExonsSeparate(t *testing.T) {
	dir := t.TempDir()
	gtfPath := writeFile(t, dir, "annot.gtf", testGTF)

	idx, err := Build(vcontext.Background(), Options{GTFPaths: []string{gtfPath}})
	require.NoError(t, err)

	chr1, _ := idx.Lookup("chr1")
	var shared *exon.Exon
	for _, e := range chr1.Exons {
		if e.Start == 100 && e.End == 200 {
			shared = e
		}
	}
	require.NotNil(t, shared)
	assert.Len(t, shared.Transcripts, 1, "t1's [100,200) exon and t2's [100,250) one have different coordinates, so they stay distinct")
}

func TestBuildWithFASTAReconciliation(t *testing.T) {
	dir := t.TempDir()
	gtfPath := writeFile(t, dir, "annot.gtf", testGTF)
	fastaPath := writeFile(t, dir, "txome.fa", ">t2.1 some transcript\nACGT\n>t1.1\nACGT\n")

	idx, err := Build(vcontext.Background(), Options{
		GTFPaths:   []string{gtfPath},
		FASTAPaths: []string{fastaPath},
	})
	require.NoError(t, err)

	// t2 and t1 took the FASTA order (0, 1); t3 has no FASTA entry and is
	// appended after, in GTF-encounter order.
	require.Equal(t, 3, idx.NumTranscripts())
	assert.Equal(t, "t2", idx.TranscriptName(0))
	assert.Equal(t, "t1", idx.TranscriptName(1))
	assert.Contains(t, idx.TranscriptName(2), "t3")

	chr1, _ := idx.Lookup("chr1")
	for _, e := range chr1.Exons {
		if e.Start == 300 && e.End == 400 {
			// t1's second exon should now carry the remapped index 1.
			assert.Equal(t, []exon.TranscriptIndex{1}, e.Transcripts)
		}
	}
}

func TestParseAttributesGTFAndGFF3Styles(t *testing.T) {
	gtf := parseAttributes(`gene_id "g1"; transcript_id "t1";`)
	assert.Equal(t, "t1", gtf["transcript_id"])

	gff3 := parseAttributes(`id=exon1;transcript_id=t1;gene_id=g1`)
	assert.Equal(t, "t1", gff3["transcript_id"])
}
