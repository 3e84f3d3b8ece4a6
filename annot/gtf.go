package annot

import (
	"bufio"
	"io"
	"strings"

	"context"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grail-oss/tcc-matrix/exon"
)

// gtfLine is one tab-separated record of a GTF/GFF file. Field order mirrors
// the nine GTF columns; the attribute column is left unsplit, the same
// technique fusion/parsegencode uses for gencode GTFs.
type gtfLine struct {
	Seqname    string
	Source     string
	Feature    string
	Start      int
	End        int
	Score      string
	Strand     string
	Frame      string
	Attributes string
}

// transcriptID identifies one transcript by the tuple spec §4.2 uses to
// detect a new transcript: (seqname, transcript_id).
type transcriptID struct {
	seqname      string
	transcriptID string
}

// scanGTFs performs §4.2 pass 1: scan every GTF in order, allocate the next
// transcript index each time an exon line's (seqname, transcript_id) tuple
// differs from the previous exon line's (so a transcript whose exon lines are
// not contiguous gets one index per run), and register every exon feature's
// interval under its chromosome with the current transcript index attached.
//
// It returns the ordered list of transcript identifiers, indexed by
// exon.TranscriptIndex -- gtfIDs[i] is the tuple that caused index i to be
// allocated.
func scanGTFs(ctx context.Context, paths []string, idx *AnnotationIndex) ([]transcriptID, error) {
	var gtfIDs []transcriptID
	var prevSeqname, prevTranscript string
	haveAny := false

	for _, path := range paths {
		n, err := scanOneGTF(ctx, path, func(seqname, feature, transcript string, start, end int) {
			if feature != "exon" {
				return
			}
			if !haveAny || seqname != prevSeqname || transcript != prevTranscript {
				gtfIDs = append(gtfIDs, transcriptID{seqname: seqname, transcriptID: transcript})
				prevSeqname, prevTranscript, haveAny = seqname, transcript, true
			}
			ti := exon.TranscriptIndex(len(gtfIDs) - 1)
			idx.chromTable(seqname).addExon(int64(start), int64(end), ti)
		})
		if err != nil {
			return nil, errors.E(err, "annot: reading GTF", path)
		}
		log.Printf("annot: %s: %d exon records", path, n)
	}
	return gtfIDs, nil
}

// scanOneGTF reads one GTF/GFF file, lower-casing the seqname, feature and
// attribute columns per §4.2 step 1,
// tolerating malformed lines by skipping them (ParseFailure, §7) instead of
// aborting the whole file.
func scanOneGTF(ctx context.Context, path string, onExon func(seqname, feature, transcriptID string, start, end int)) (count int, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer file.CloseAndReport(ctx, f, &err)

	var r io.Reader = f.Reader(ctx)
	if u := compress.NewReaderPath(r, path); u != nil {
		r = u
	}

	scanner := tsv.NewReader(bufio.NewReaderSize(r, 64<<10))
	scanner.Comment = '#'
	scanner.LazyQuotes = true

	var line gtfLine
	for {
		if rerr := scanner.Read(&line); rerr != nil {
			if rerr == io.EOF {
				break
			}
			log.Error.Printf("annot: %s: skipping malformed line: %v", path, rerr)
			continue
		}
		if strings.ToLower(line.Feature) != "exon" {
			continue
		}
		attrs := parseAttributes(strings.ToLower(line.Attributes))
		transcriptID := attrs["transcript_id"]
		if transcriptID == "" {
			log.Error.Printf("annot: %s: exon line without transcript_id, skipping", path)
			continue
		}
		if line.Seqname == "" || line.End <= line.Start {
			log.Error.Printf("annot: %s: malformed exon coordinates, skipping", path)
			continue
		}
		// GTF coordinates are 1-based and closed ([start,end]); the exon
		// model is 0-based and half-open, matching CIGAR-derived intervals.
		onExon(strings.ToLower(line.Seqname), "exon", transcriptID, line.Start-1, line.End)
		count++
	}
	return count, nil
}

// parseAttributes parses the GTF 9th column, tolerating both GTF's
// `key "value";` style and GFF3's `key=value;` style -- the distilled spec
// names both GTF and GFF as valid input (§6).
func parseAttributes(field string) map[string]string {
	attrs := make(map[string]string, 8)
	for _, part := range strings.Split(field, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 && !strings.Contains(part[:eq], " ") {
			attrs[strings.TrimSpace(part[:eq])] = strings.Trim(part[eq+1:], `"`)
			continue
		}
		sp := strings.IndexByte(part, ' ')
		if sp < 0 {
			continue
		}
		key := part[:sp]
		val := strings.Trim(strings.TrimSpace(part[sp+1:]), `"`)
		attrs[key] = val
	}
	return attrs
}
