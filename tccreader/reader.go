// Package tccreader implements the parallel SAM/BAM ingestion pipeline:
// per-file preflight, QNAME convention detection, record-offset sharding
// aligned to read-group boundaries, and the per-worker accumulation loop
// that feeds the EC resolver and the TCC matrix.
package tccreader

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grail-oss/tcc-matrix/annot"
	"github.com/grail-oss/tcc-matrix/tccmatrix"
)

// recordReader is implemented by both the SAM text reader and the BAM
// reader, letting the rest of the package treat either uniformly.
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

func isBAM(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".bam")
}

func openRecordReader(ctx context.Context, path string) (recordReader, func() error, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return f.Close(ctx) }

	var r io.Reader = f.Reader(ctx)
	if isBAM(path) {
		br, err := bam.NewReader(r, 1)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		return br, closeFn, nil
	}
	if u := compress.NewReaderPath(r, path); u != nil {
		r = u
	}
	sr, err := sam.NewReader(r)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return sr, closeFn, nil
}

// Options configures one file's ingestion, per §4.5 and §6.
type Options struct {
	NumWorkers    int
	Paired        bool
	Rapmap        bool
	StrandAware   bool
	StrictSplice  bool
	GenomeBAM     bool
	Strict        bool
	UnmatchedSink *UnmatchedSink
}

// ProcessFile ingests one SAM/BAM file into matrix at sampleIdx, following
// the five-step procedure in §4.5.
func ProcessFile(ctx context.Context, idx *annot.AnnotationIndex, matrix *tccmatrix.Matrix, path string, sampleIdx int, opts Options) error {
	total, rapmapForced, allSame, err := preflight(ctx, path)
	if err != nil {
		return errors.E(err, "tccreader: preflight", path)
	}
	fileOpts := opts
	if rapmapForced {
		fileOpts.Rapmap = true
	}
	log.Printf("tccreader: %s: %d records, rapmap=%v, qname-all-same=%v", path, total, fileOpts.Rapmap, allSame)

	n := fileOpts.NumWorkers
	if n < 1 {
		n = 1
	}
	if total == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for w := 0; w < n; w++ {
		s, e := shardBounds(total, n, w)
		wg.Add(1)
		go func(w, s, e int) {
			defer wg.Done()
			errs[w] = runShard(ctx, idx, matrix, path, sampleIdx, w, s, e, allSame, fileOpts)
		}(w, s, e)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			// WorkerFailure (§7): logged, sibling workers' results stand.
			log.Error.Printf("tccreader: %s: worker failed: %v", path, e)
		}
	}
	return nil
}

// shardBounds returns the half-open record range [s, e) nominally owned by
// worker w out of n, partitioning [0, total) into contiguous ranges.
func shardBounds(total, n, w int) (s, e int) {
	base := total / n
	rem := total % n
	s = w*base + min(w, rem)
	e = s + base
	if w < rem {
		e++
	}
	return s, e
}

// preflight streams path once, counting records, detecting a rapmap @PG
// program id, and running the QNAME convention detector -- §4.5 step 1-2.
func preflight(ctx context.Context, path string) (total int, rapmapForced, allSame bool, err error) {
	r, closeFn, err := openRecordReader(ctx, path)
	if err != nil {
		return 0, false, false, err
	}
	defer closeFn()

	for _, p := range r.Header().Progs() {
		if strings.EqualFold(p.UID(), "rapmap") {
			rapmapForced = true
		}
	}

	detector := newQNAMEDetector()
	for {
		rec, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, false, false, rerr
		}
		total++
		detector.observe(rec.Name)
	}
	return total, rapmapForced, detector.allSame(), nil
}

// qnameDetector implements §4.5 step 2's convention scan: the safe fallback
// per §9 is to decide all_same=true as soon as a non-conforming QNAME is
// seen, and keep it from then on, rather than risk stripping the last two
// characters from names that carry no mate suffix.
type qnameDetector struct {
	decided  bool
	allSameV bool
}

func newQNAMEDetector() *qnameDetector { return &qnameDetector{} }

func (d *qnameDetector) observe(qname string) {
	if d.decided && d.allSameV {
		return
	}
	d.decided = true
	d.allSameV = !hasPairSuffix(qname)
}

func (d *qnameDetector) allSame() bool {
	if !d.decided {
		return true
	}
	return d.allSameV
}

// hasPairSuffix reports whether qname ends in a mate-pair suffix, "/1",
// "/2", ".1", or ".2" -- §4.5 step 2's "/ or . being a non-digit" rule.
func hasPairSuffix(qname string) bool {
	if len(qname) < 3 {
		return false
	}
	last := qname[len(qname)-1]
	if last != '1' && last != '2' {
		return false
	}
	sep := qname[len(qname)-2]
	return sep == '/' || sep == '.'
}

// canonicalKey returns the read-group key for qname under the detected
// convention.
func canonicalKey(qname string, allSame bool) string {
	if allSame || len(qname) < 2 {
		return qname
	}
	return qname[:len(qname)-2]
}
