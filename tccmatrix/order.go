package tccmatrix

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
)

// LoadOrder implements the EC-order reconciler of §4.6: it reads a file
// produced by an external tool, one `row_id<TAB>ec_string` line at a time,
// and returns the EC strings in file order plus a lookup set. Row ids in
// the file are not reinterpreted -- the position within the returned slice
// is what the *Ordered emitters use as the new row id.
func LoadOrder(ctx context.Context, path string) (order []string, orderSet map[string]bool, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer file.CloseAndReport(ctx, f, &err)

	var r io.Reader = f.Reader(ctx)
	if u := compress.NewReaderPath(r, path); u != nil {
		r = u
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	orderSet = make(map[string]bool)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		ec := line[tab+1:]
		order = append(order, ec)
		orderSet[ec] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return order, orderSet, nil
}
