package annot

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grail-oss/tcc-matrix/exon"
)

// scanFASTAIdentifiers performs the FASTA half of §4.2 pass 2: scan each
// FASTA in order, assigning FASTA-order indices to every header, where the
// identifier is the substring between '>' and the first '.' (spec §6:
// "every header is of the form >transcript_id.*").
func scanFASTAIdentifiers(ctx context.Context, paths []string) ([]string, error) {
	var order []string
	for _, path := range paths {
		if err := scanOneFASTA(ctx, path, func(id string) { order = append(order, id) }); err != nil {
			return nil, errors.E(err, "annot: reading transcriptome FASTA", path)
		}
	}
	return order, nil
}

func scanOneFASTA(ctx context.Context, path string, onHeader func(id string)) (err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)

	var r io.Reader = f.Reader(ctx)
	if u := compress.NewReaderPath(r, path); u != nil {
		r = u
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] != '>' {
			continue
		}
		header := strings.ToLower(line[1:])
		if dot := strings.IndexByte(header, '.'); dot >= 0 {
			header = header[:dot]
		}
		onHeader(header)
	}
	return scanner.Err()
}

// reconcile composes the GTF-order transcript numbering with the FASTA-order
// numbering per §4.2 step 2: a GTF transcript whose identifier matches a
// FASTA entry is remapped to the FASTA index; GTF-only transcripts are
// appended after the last FASTA index, in GTF-encounter order.
//
// remap[i] gives the new index for old exon.TranscriptIndex(i); names[j] is
// the canonical name recorded for new index j.
func reconcile(gtfIDs []transcriptID, fastaOrder []string) (remap []exon.TranscriptIndex, names []string, err error) {
	fastaIndex := make(map[string]int, len(fastaOrder))
	for i, id := range fastaOrder {
		fastaIndex[id] = i
	}

	remap = make([]exon.TranscriptIndex, len(gtfIDs))
	names = make([]string, len(fastaOrder))
	copy(names, fastaOrder)

	next := len(fastaOrder)
	var unmatched int
	for i, id := range gtfIDs {
		if fi, ok := fastaIndex[strings.ToLower(id.transcriptID)]; ok {
			remap[i] = exon.TranscriptIndex(fi)
			continue
		}
		remap[i] = exon.TranscriptIndex(next)
		names = append(names, id.seqname+"\t"+id.transcriptID)
		next++
		unmatched++
	}
	if unmatched > 0 {
		// IntegrityFailure (§7): a GTF transcript absent from the transcriptome
		// is a warning, not a fatal error -- it still gets indexed, appended
		// after the FASTA-order transcripts.
		log.Error.Printf("annot: %d of %d GTF transcripts not found in transcriptome FASTA, appended after FASTA order", unmatched, len(gtfIDs))
	}
	return remap, names, nil
}
