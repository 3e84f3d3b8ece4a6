// tcc-reindex rewrites an existing .ec file's transcript indices from this
// tool's own GTF-order numbering to the numbering a kallisto run against a
// given transcriptome FASTA would use, without re-reading any SAM/BAM input.
//
// Usage: tcc-reindex -g genes.gtf -t transcriptome.fa -e in.ec -o out.ec
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grail-oss/tcc-matrix/annot"
	"github.com/grail-oss/tcc-matrix/exon"
)

var (
	gtfFlag        = flag.String("g", "", "comma-separated GTF/GFF annotation files [required]")
	transcriptFlag = flag.String("t", "", "comma-separated transcriptome FASTAs [required]")
	transcriptLong = flag.String("transcriptome", "", "alias of -t")
	inFlag         = flag.String("e", "", "input .ec file, numbered against -g alone [required]")
	outFlag        = flag.String("o", "", "output .ec file, renumbered to kallisto's transcriptome order [required]")
)

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// transcriptIDOf extracts the transcript_id half of an AnnotationIndex
// TranscriptName, which is either a bare id (transcriptome-matched entries)
// or "seqname\tid" (GTF-only entries, and every entry when no transcriptome
// was supplied).
func transcriptIDOf(name string) string {
	if tab := strings.LastIndexByte(name, '\t'); tab >= 0 {
		return name[tab+1:]
	}
	return name
}

func idToIndex(idx *annot.AnnotationIndex) map[string]int {
	m := make(map[string]int, idx.NumTranscripts())
	for i := 0; i < idx.NumTranscripts(); i++ {
		m[transcriptIDOf(idx.TranscriptName(exon.TranscriptIndex(i)))] = i
	}
	return m
}

func reindex(ctx context.Context, gtfToID map[string]int, idToKallisto map[string]int, inPath, outPath string) (err error) {
	in, err := file.Open(ctx, inPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)

	out, err := file.Create(ctx, outPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := bufio.NewWriter(out.Writer(ctx))
	defer w.Flush()

	gtfIDs := make([]string, len(gtfToID))
	for id, i := range gtfToID {
		if i >= 0 && i < len(gtfIDs) {
			gtfIDs[i] = id
		}
	}

	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, inPath); u != nil {
		r = u
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			return fmt.Errorf("tcc-reindex: %s:%d: expected row_id<TAB>ec_string", inPath, lineNo)
		}
		rowID := line[:tab]
		fields := strings.Split(line[tab+1:], ",")
		newIndices := make([]int, len(fields))
		for i, f := range fields {
			old, err := strconv.Atoi(f)
			if err != nil {
				return fmt.Errorf("tcc-reindex: %s:%d: %v", inPath, lineNo, err)
			}
			if old < 0 || old >= len(gtfIDs) {
				return fmt.Errorf("tcc-reindex: %s:%d: transcript index %d out of range", inPath, lineNo, old)
			}
			id := gtfIDs[old]
			if id == "" {
				return fmt.Errorf("tcc-reindex: %s:%d: transcript index %d not found in GTF", inPath, lineNo, old)
			}
			nidx, ok := idToKallisto[id]
			if !ok {
				return fmt.Errorf("tcc-reindex: %s:%d: transcript %q not found in transcriptome", inPath, lineNo, id)
			}
			newIndices[i] = nidx
		}
		sortInts(newIndices)
		parts := make([]string, len(newIndices))
		for i, n := range newIndices {
			parts[i] = strconv.Itoa(n)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", rowID, strings.Join(parts, ",")); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func run(ctx context.Context) int {
	gtfPaths := splitCSV(*gtfFlag)
	fastaPaths := splitCSV(firstNonEmpty(*transcriptFlag, *transcriptLong))
	if len(gtfPaths) == 0 || len(fastaPaths) == 0 || *inFlag == "" || *outFlag == "" {
		fmt.Fprintln(os.Stderr, "tcc-reindex: -g, -t, -e and -o are all required")
		flag.Usage()
		return 1
	}

	gtfOnly, err := annot.Build(ctx, annot.Options{GTFPaths: gtfPaths})
	if err != nil {
		log.Error.Printf("tcc-reindex: indexing %v: %v", gtfPaths, err)
		return 1
	}
	reconciled, err := annot.Build(ctx, annot.Options{GTFPaths: gtfPaths, FASTAPaths: fastaPaths})
	if err != nil {
		log.Error.Printf("tcc-reindex: reconciling against %v: %v", fastaPaths, err)
		return 1
	}

	if err := reindex(ctx, idToIndex(gtfOnly), idToIndex(reconciled), *inFlag, *outFlag); err != nil {
		log.Error.Printf("tcc-reindex: %v", err)
		return 1
	}
	return 0
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage: tcc-reindex -g genes.gtf -t transcriptome.fa -e in.ec -o out.ec

Rewrites an .ec file's transcript indices from GTF order to the order a
kallisto index built from the given transcriptome would use.

`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	os.Exit(run(vcontext.Background()))
}
