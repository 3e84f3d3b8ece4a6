// Package tccmatrix implements the sharded, concurrent transcript-
// compatibility-count accumulator: a map from canonical EC string to a row
// of per-sample counters, safe for concurrent increments from many reader
// workers, plus dense and sparse emitters.
package tccmatrix

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// numShards is chosen so that shard-mutex contention stays low under many concurrent
// workers, without paying for a full lock-free structure.
const numShards = 1024

type row struct {
	counts []uint64
}

type shard struct {
	mu   sync.Mutex
	rows map[string]*row
}

// Matrix is the thread-safe EC x sample count accumulator described in
// §4.4. Increment is safe to call concurrently from any number of workers;
// Write* must only be called after every worker has finished.
type Matrix struct {
	numSamples int
	shards     [numShards]shard

	total uint64 // diagnostic: count of non-empty-EC increments, for invariant 5.
}

// New creates an empty Matrix with numSamples sample columns.
func New(numSamples int) *Matrix {
	m := &Matrix{numSamples: numSamples}
	for i := range m.shards {
		m.shards[i].rows = make(map[string]*row)
	}
	return m
}

func (m *Matrix) shardFor(ec string) *shard {
	h := fnv.New64a()
	h.Write([]byte(ec))
	return &m.shards[h.Sum64()%uint64(numShards)]
}

// Increment upserts ec's row and adds one to its sampleIdx-th counter. The
// empty string is a valid key only if the caller intentionally wants to
// track unresolved reads; callers implementing §4.3's "empty EC means no
// matrix update" rule should not call Increment for an empty EC.
func (m *Matrix) Increment(ec string, sampleIdx int) {
	s := m.shardFor(ec)
	s.mu.Lock()
	r, ok := s.rows[ec]
	if !ok {
		r = &row{counts: make([]uint64, m.numSamples)}
		s.rows[ec] = r
	}
	r.counts[sampleIdx]++
	s.mu.Unlock()
	atomic.AddUint64(&m.total, 1)
}

// Total returns the number of increments this matrix has recorded, across
// every row and sample -- invariant 5 in §8.
func (m *Matrix) Total() uint64 { return atomic.LoadUint64(&m.total) }

// rowIDs returns every EC string currently in the matrix, sorted by
// sort.Strings (byte order of the EC string, so "10" sorts before "2");
// callers that need an externally supplied order should use the *Ordered
// emitters instead.
func (m *Matrix) rowIDs() []string {
	var ids []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for ec := range s.rows {
			ids = append(ids, ec)
		}
		s.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

func (m *Matrix) rowCounts(ec string) []uint64 {
	s := m.shardFor(ec)
	s.mu.Lock()
	r := s.rows[ec]
	s.mu.Unlock()
	if r == nil {
		return make([]uint64, m.numSamples)
	}
	return r.counts
}

func writeECFile(ctx context.Context, path string, ids []string) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	w := tsv.NewWriter(f.Writer(ctx))
	for i, ec := range ids {
		w.WriteInt64(int64(i))
		w.WriteString(ec)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteDense emits pathStem+".ec" and pathStem+".tsv" per §4.4: every row
// that has been inserted is emitted, every sample column is always present.
func (m *Matrix) WriteDense(ctx context.Context, pathStem string) (err error) {
	ids := m.rowIDs()
	if err := writeECFile(ctx, pathStem+".ec", ids); err != nil {
		return err
	}

	f, err := file.Create(ctx, pathStem+".tsv")
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	w := tsv.NewWriter(f.Writer(ctx))
	for i, ec := range ids {
		w.WriteInt64(int64(i))
		for _, c := range m.rowCounts(ec) {
			w.WriteInt64(int64(c))
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteSparse emits pathStem+".ec" as WriteDense does, and pathStem+".tsv"
// with only non-zero (row_id, sample_index, count) triples, ascending by
// row_id then sample_index.
func (m *Matrix) WriteSparse(ctx context.Context, pathStem string) (err error) {
	ids := m.rowIDs()
	if err := writeECFile(ctx, pathStem+".ec", ids); err != nil {
		return err
	}

	f, err := file.Create(ctx, pathStem+".tsv")
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	w := tsv.NewWriter(f.Writer(ctx))
	for rowID, ec := range ids {
		counts := m.rowCounts(ec)
		for sampleIdx, c := range counts {
			if c == 0 {
				continue
			}
			w.WriteInt64(int64(rowID))
			w.WriteInt64(int64(sampleIdx))
			w.WriteInt64(int64(c))
			if err := w.EndLine(); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// WriteDenseOrdered and WriteSparseOrdered (§4.4, §4.6) emit rows in the
// order given by an externally supplied EC list -- typically from an
// external tool's .ec file, loaded with LoadOrder. Any EC present in the
// matrix but not in orderSet is appended after the ordered rows; any EC in
// order absent from the matrix is emitted with all-zero counts.
func (m *Matrix) orderedRowIDs(order []string, orderSet map[string]bool) []string {
	ids := append([]string{}, order...)
	extra := m.rowIDs()
	for _, ec := range extra {
		if !orderSet[ec] {
			ids = append(ids, ec)
		}
	}
	return ids
}

// WriteDenseOrdered behaves like WriteDense but rows follow order, with any
// unmatched matrix rows appended afterward.
func (m *Matrix) WriteDenseOrdered(ctx context.Context, pathStem string, order []string, orderSet map[string]bool) (err error) {
	ids := m.orderedRowIDs(order, orderSet)
	if err := writeECFile(ctx, pathStem+".ec", ids); err != nil {
		return err
	}

	f, err := file.Create(ctx, pathStem+".tsv")
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	w := tsv.NewWriter(f.Writer(ctx))
	for i, ec := range ids {
		w.WriteInt64(int64(i))
		for _, c := range m.rowCounts(ec) {
			w.WriteInt64(int64(c))
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteSparseOrdered behaves like WriteSparse but rows follow order, with
// any unmatched matrix rows appended afterward.
func (m *Matrix) WriteSparseOrdered(ctx context.Context, pathStem string, order []string, orderSet map[string]bool) (err error) {
	ids := m.orderedRowIDs(order, orderSet)
	if err := writeECFile(ctx, pathStem+".ec", ids); err != nil {
		return err
	}

	f, err := file.Create(ctx, pathStem+".tsv")
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	w := tsv.NewWriter(f.Writer(ctx))
	for rowID, ec := range ids {
		counts := m.rowCounts(ec)
		for sampleIdx, c := range counts {
			if c == 0 {
				continue
			}
			w.WriteInt64(int64(rowID))
			w.WriteInt64(int64(sampleIdx))
			w.WriteInt64(int64(c))
			if err := w.EndLine(); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}
