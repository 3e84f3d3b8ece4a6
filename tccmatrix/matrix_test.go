package tccmatrix

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementInsertsRow(t *testing.T) {
	m := New(3)
	m.Increment("0,1", 0)
	m.Increment("0,1", 0)
	m.Increment("0,1", 2)

	assert.Equal(t, []uint64{2, 0, 1}, m.rowCounts("0,1"))
	assert.EqualValues(t, 3, m.Total())
}

func TestIncrementConcurrentExactCounts(t *testing.T) {
	m := New(1)
	const n = 2000
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Increment("0", 0)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, n, m.rowCounts("0")[0])
	assert.EqualValues(t, n, m.Total())
}

// TestS6SparseOutput grounds spec scenario S6.
func TestS6SparseOutput(t *testing.T) {
	m := New(3)
	m.Increment("0,1", 0)
	m.Increment("0,1", 0)
	m.Increment("0,1", 0)
	m.Increment("0,1", 2)
	m.Increment("0,1", 2)
	m.Increment("0,1", 2)
	m.Increment("0,1", 2)
	m.Increment("0,1", 2)

	dir := t.TempDir()
	stem := filepath.Join(dir, "out")
	require.NoError(t, m.WriteSparse(vcontext.Background(), stem))

	tsvBytes, err := os.ReadFile(stem + ".tsv")
	require.NoError(t, err)
	assert.Equal(t, "0\t0\t3\n0\t2\t5\n", string(tsvBytes))

	ecBytes, err := os.ReadFile(stem + ".ec")
	require.NoError(t, err)
	assert.Equal(t, "0\t0,1\n", string(ecBytes))
}

func TestWriteDenseIncludesAllSampleColumns(t *testing.T) {
	m := New(2)
	m.Increment("0", 0)

	dir := t.TempDir()
	stem := filepath.Join(dir, "out")
	require.NoError(t, m.WriteDense(vcontext.Background(), stem))

	tsvBytes, err := os.ReadFile(stem + ".tsv")
	require.NoError(t, err)
	assert.Equal(t, "0\t1\t0\n", string(tsvBytes))
}

func TestOrderedEmitAppendsUnmatchedAndZerosMissing(t *testing.T) {
	m := New(1)
	m.Increment("0,1", 0)
	m.Increment("2,3", 0)

	order := []string{"5,6", "0,1"}
	orderSet := map[string]bool{"5,6": true, "0,1": true}

	dir := t.TempDir()
	stem := filepath.Join(dir, "out")
	require.NoError(t, m.WriteDenseOrdered(vcontext.Background(), stem, order, orderSet))

	ecBytes, err := os.ReadFile(stem + ".ec")
	require.NoError(t, err)
	assert.Equal(t, "0\t5,6\n1\t0,1\n2\t2,3\n", string(ecBytes))

	tsvBytes, err := os.ReadFile(stem + ".tsv")
	require.NoError(t, err)
	assert.Equal(t, "0\t0\n1\t1\n2\t1\n", string(tsvBytes))
}

func TestLoadOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ext.ec")
	require.NoError(t, os.WriteFile(path, []byte("0\t0,1\n1\t2,3\n"), 0644))

	order, orderSet, err := LoadOrder(vcontext.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"0,1", "2,3"}, order)
	assert.True(t, orderSet["0,1"])
	assert.True(t, orderSet["2,3"])
	assert.False(t, orderSet["9,9"])
}
