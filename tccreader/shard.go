package tccreader

import (
	"context"
	"io"

	"github.com/biogo/hts/sam"
	"github.com/grail-oss/tcc-matrix/annot"
	"github.com/grail-oss/tcc-matrix/ecresolve"
	"github.com/grail-oss/tcc-matrix/tccmatrix"
)

// runShard implements one worker's share of §4.5 steps 3-6. It skips to this
// shard's nominal start, then resolves read-group boundary ownership by
// peeking at the record just before the start: any records that continue
// that record's group are discarded, since the preceding worker's own
// boundary group extends forward to claim them. A worker then accumulates
// and resolves whole groups for as long as the first record of each new
// group falls inside its nominal range; a group may run past the nominal
// end when it straddles the boundary, and the worker still owns it in
// full -- the next worker's leading-discard phase is what skips it.
func runShard(ctx context.Context, idx *annot.AnnotationIndex, matrix *tccmatrix.Matrix, path string, sampleIdx, shardIdx, start, end int, allSame bool, opts Options) error {
	r, closeFn, err := openRecordReader(ctx, path)
	if err != nil {
		return err
	}
	defer closeFn()

	// pos is the 0-based absolute position of the record held in pending.
	pos := -1
	readNext := func() (*sam.Record, error) {
		rec, err := r.Read()
		if err != nil {
			return nil, err
		}
		pos++
		return rec, nil
	}

	var pending *sam.Record
	if start > 0 {
		var prev *sam.Record
		for i := 0; i < start; i++ {
			prev, err = readNext()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
		prevKey := canonicalKey(prev.Name, allSame)
		for {
			rec, rerr := readNext()
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return rerr
			}
			if canonicalKey(rec.Name, allSame) != prevKey {
				pending = rec
				break
			}
		}
	} else {
		rec, rerr := readNext()
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
		pending = rec
	}

	for pos < end {
		group := ecresolve.ReadGroup{}
		key := canonicalKey(pending.Name, allSame)
		for pending != nil && canonicalKey(pending.Name, allSame) == key {
			if passesFilter(pending, opts) {
				if opts.Paired && pending.Flags&sam.Read2 != 0 {
					group.Seg1 = append(group.Seg1, pending)
				} else {
					group.Seg0 = append(group.Seg0, pending)
				}
			}
			rec, rerr := readNext()
			if rerr == io.EOF {
				pending = nil
				break
			}
			if rerr != nil {
				return rerr
			}
			pending = rec
		}
		resolveAndRecord(idx, matrix, sampleIdx, group, opts)
		if pending == nil {
			break
		}
	}
	return nil
}

// passesFilter implements §4.5 step 5.
func passesFilter(rec *sam.Record, opts Options) bool {
	if opts.GenomeBAM && rec.Ref != nil && rec.MateRef != nil && rec.Ref.ID() != rec.MateRef.ID() {
		return false
	}
	if opts.Strict {
		if rec.Flags&sam.Unmapped != 0 {
			return false
		}
		if rec.Flags&sam.Paired != 0 && rec.Flags&sam.ProperPair == 0 {
			return false
		}
	}
	return true
}

func resolveAndRecord(idx *annot.AnnotationIndex, matrix *tccmatrix.Matrix, sampleIdx int, group ecresolve.ReadGroup, opts Options) {
	ec := ecresolve.ReadEC(idx, group, ecresolve.Options{
		Paired:       opts.Paired,
		Rapmap:       opts.Rapmap,
		StrandAware:  opts.StrandAware,
		StrictSplice: opts.StrictSplice,
	})
	if len(ec) == 0 {
		if opts.UnmatchedSink != nil {
			opts.UnmatchedSink.WriteGroup(group)
		}
		return
	}
	matrix.Increment(ec.CanonicalString(), sampleIdx)
}
