// tcc-matrix builds a transcript-compatibility-count matrix from one or
// more SAM/BAM alignment files against a GTF/GFF annotation, optionally
// reconciled against a kallisto-style transcriptome FASTA.
//
// Usage: tcc-matrix -g genes.gtf -S sample1.bam,sample2.bam [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grail-oss/tcc-matrix/annot"
	"github.com/grail-oss/tcc-matrix/tccmatrix"
	"github.com/grail-oss/tcc-matrix/tccreader"
)

var (
	gtfFlag        = flag.String("g", "", "comma-separated GTF/GFF annotation files")
	samsFlag       = flag.String("S", "", "comma-separated SAM/BAM input files [required]")
	outFlag        = flag.String("o", "matrix", "output path stem")
	threadsFlag    = flag.Int("p", runtime.NumCPU(), "number of reader worker goroutines per file")
	threadsLong    = flag.Int("threads", 0, "alias of -p")
	quietFlag      = flag.Bool("q", false, "suppress per-sample progress and final summary logging (index and reader log lines still print)")
	transcriptFlag = flag.String("t", "", "comma-separated transcriptome FASTAs for kallisto reconciliation")
	transcriptLong = flag.String("transcriptome", "", "alias of -t")
	ecFlag         = flag.String("e", "", "reorder output rows against an external .ec file")
	ecLong         = flag.String("ec", "", "alias of -e")
	fullMatrixFlag = flag.Bool("full-matrix", false, "emit dense output instead of sparse")
	unmatchedFlag  = flag.String("u", "", "sink path for reads with no compatible transcript")
	unmatchedLong  = flag.String("unmatched", "", "alias of -u")
	unpairedFlag   = flag.Bool("U", false, "treat all inputs as unpaired, even if flagged paired in the BAM")
	unpairedLong   = flag.Bool("unpaired", false, "alias of -U")
	rapmapFlag     = flag.Bool("r", false, "force rapmap mode: use the BAM's reference id directly as the transcript index")
	rapmapLong     = flag.Bool("rapmap", false, "alias of -r")
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
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stripExt(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".sam", ".bam"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

func writeCells(ctx context.Context, path string, samPaths []string) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	w := f.Writer(ctx)
	for _, p := range samPaths {
		if _, err := fmt.Fprintln(w, stripExt(p)); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context) int {
	samPaths := splitCSV(*samsFlag)
	rapmap := *rapmapFlag || *rapmapLong
	if len(samPaths) == 0 {
		fmt.Fprintln(os.Stderr, "tcc-matrix: -S is required")
		flag.Usage()
		return 1
	}
	gtfPaths := splitCSV(*gtfFlag)
	if len(gtfPaths) == 0 && !rapmap {
		fmt.Fprintln(os.Stderr, "tcc-matrix: -g is required unless -r/--rapmap is set")
		flag.Usage()
		return 1
	}

	idx, err := annot.Build(ctx, annot.Options{
		GTFPaths:   gtfPaths,
		FASTAPaths: splitCSV(firstNonEmpty(*transcriptFlag, *transcriptLong)),
	})
	if err != nil {
		log.Error.Printf("tcc-matrix: building annotation index: %v", err)
		return 1
	}

	unmatchedPath := firstNonEmpty(*unmatchedFlag, *unmatchedLong)
	var sink *tccreader.UnmatchedSink
	if unmatchedPath != "" {
		sink, err = tccreader.NewUnmatchedSink(ctx, unmatchedPath)
		if err != nil {
			log.Error.Printf("tcc-matrix: opening unmatched sink %s: %v", unmatchedPath, err)
			return 1
		}
		if err := sink.WriteHeader(ctx, samPaths[0], os.Args); err != nil {
			log.Error.Printf("tcc-matrix: writing unmatched sink header: %v", err)
			return 1
		}
		defer func() {
			if err := sink.Close(); err != nil {
				log.Error.Printf("tcc-matrix: closing unmatched sink: %v", err)
			}
		}()
	}

	numWorkers := *threadsFlag
	if *threadsLong > 0 {
		numWorkers = *threadsLong
	}
	// StrandAware and StrictSplice default to the spec's stated defaults
	// (strand-oblivious pairing, no exon-endpoint coincidence requirement);
	// GenomeBAM and Strict mirror the source tool's always-on filter
	// (mate-reference, unmapped, and proper-pair checks are unconditional
	// there, not a runtime switch). None of the four is exposed as a flag,
	// since §6 does not name one.
	opts := tccreader.Options{
		NumWorkers:    numWorkers,
		Paired:        !(*unpairedFlag || *unpairedLong),
		Rapmap:        rapmap,
		StrandAware:   false,
		StrictSplice:  false,
		GenomeBAM:     true,
		Strict:        true,
		UnmatchedSink: sink,
	}

	matrix := tccmatrix.New(len(samPaths))
	for sampleIdx, path := range samPaths {
		if !*quietFlag {
			log.Printf("tcc-matrix: processing sample %d: %s", sampleIdx, path)
		}
		if err := tccreader.ProcessFile(ctx, idx, matrix, path, sampleIdx, opts); err != nil {
			log.Error.Printf("tcc-matrix: %s: %v", path, err)
			return 1
		}
	}

	ecOverridePath := firstNonEmpty(*ecFlag, *ecLong)
	var writeErr error
	switch {
	case ecOverridePath != "":
		order, orderSet, err := tccmatrix.LoadOrder(ctx, ecOverridePath)
		if err != nil {
			log.Error.Printf("tcc-matrix: loading external EC order %s: %v", ecOverridePath, err)
			return 1
		}
		if *fullMatrixFlag {
			writeErr = matrix.WriteDenseOrdered(ctx, *outFlag, order, orderSet)
		} else {
			writeErr = matrix.WriteSparseOrdered(ctx, *outFlag, order, orderSet)
		}
	case *fullMatrixFlag:
		writeErr = matrix.WriteDense(ctx, *outFlag)
	default:
		writeErr = matrix.WriteSparse(ctx, *outFlag)
	}
	if writeErr != nil {
		log.Error.Printf("tcc-matrix: writing matrix output: %v", writeErr)
		return 1
	}

	if err := writeCells(ctx, *outFlag+".cells", samPaths); err != nil {
		log.Error.Printf("tcc-matrix: writing cells file: %v", err)
		return 1
	}

	if !*quietFlag {
		log.Printf("tcc-matrix: %d transcripts indexed, %d total compatible reads", idx.NumTranscripts(), matrix.Total())
	}
	return 0
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage: tcc-matrix -g genes.gtf -S sample1.bam,sample2.bam [options]

Builds a transcript-compatibility-count matrix from SAM/BAM alignments
against a GTF/GFF annotation.

`)
		flag.PrintDefaults()
	}
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	shutdown := grail.Init()
	defer shutdown()

	os.Exit(run(vcontext.Background()))
}
