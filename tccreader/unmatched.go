package tccreader

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/file"
	"github.com/grail-oss/tcc-matrix/ecresolve"
)

// UnmatchedSink serializes every alignment whose read EC resolved to the
// empty set into a SAM-format file, per §4.5 step 6 and §6. The header is
// taken from the first input's @HD and @SQ lines plus a synthesized @PG
// recording the invocation -- the same header-construction rule the source
// tool uses.
type UnmatchedSink struct {
	mu          sync.Mutex
	w           *bufio.Writer
	closeFn     func() error
	wroteHeader bool
}

// NewUnmatchedSink creates the sink file at path. Call WriteHeader once,
// before any worker starts, with the first input file's path and the
// command line that produced it.
func NewUnmatchedSink(ctx context.Context, path string) (*UnmatchedSink, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	return &UnmatchedSink{
		w:       bufio.NewWriter(f.Writer(ctx)),
		closeFn: func() error { return f.Close(ctx) },
	}, nil
}

// WriteHeader copies the @HD and @SQ lines of firstInputPath's header (SAM or
// BAM), then appends a synthesized @PG line recording argv.
func (s *UnmatchedSink) WriteHeader(ctx context.Context, firstInputPath string, argv []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wroteHeader {
		return nil
	}
	s.wroteHeader = true

	r, closeFn, err := openRecordReader(ctx, firstInputPath)
	if err != nil {
		return err
	}
	defer closeFn()

	text, err := r.Header().MarshalText()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(text), "\n") {
		if strings.HasPrefix(line, "@HD") || strings.HasPrefix(line, "@SQ") {
			fmt.Fprintln(s.w, line)
		}
	}

	fmt.Fprintf(s.w, "@PG\tID:[unknown]\tPN:[unknown]\tVN:1.0\tCL:%q\n", strings.Join(argv, " "))
	return nil
}

// WriteGroup appends every alignment in group to the sink, in SAM text
// format.
func (s *UnmatchedSink) WriteGroup(group ecresolve.ReadGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range group.Seg0 {
		s.writeRecord(rec)
	}
	for _, rec := range group.Seg1 {
		s.writeRecord(rec)
	}
}

func (s *UnmatchedSink) writeRecord(rec *sam.Record) {
	fmt.Fprintln(s.w, rec.String())
}

// Close flushes and closes the underlying file.
func (s *UnmatchedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.closeFn()
}
