package colstore_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/colstore"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

func testSchema() *tuple.Schema {
	return &tuple.Schema{Columns: []tuple.Column{
		{Name: "id", Type: tuple.Integer},
		{Name: "tag", Type: tuple.VarChar, Length: 20},
	}}
}

func newTable(t *testing.T) *colstore.Table {
	t.Helper()
	dir := t.TempDir()
	buf := buffer.NewManager(1<<20, buffer.LRU, nil)
	tbl, err := colstore.CreateTable(dir, "events", testSchema(), storage.MinPageSize, buf, nil)
	require.NoError(t, err)
	return tbl
}

func equalInt32(a, b interface{}) bool { return a.(int32) == b.(int32) }
func lessInt32(a, b interface{}) bool  { return a.(int32) < b.(int32) }

// A sorted column with a handful of distinct values packed into long runs
// should be chosen as RLE.
func TestChooseEncodingSortedRunsPicksRLE(t *testing.T) {
	values := make([]interface{}, 1000)
	for i := range values {
		values[i] = int32(i / 50) // 20 distinct values, 50-long runs
	}
	stats := colstore.Analyze(values, equalInt32, lessInt32)
	assert.True(t, stats.Monotonic)
	assert.Greater(t, stats.Locality(), 0.75)
	assert.Equal(t, colstore.RLE, colstore.ChooseEncoding(stats))
}

// The same 20 distinct values shuffled into random order break
// monotonicity and runs, but the distinct ratio is still low: dictionary.
func TestChooseEncodingLowCardinalityShuffledPicksDictionary(t *testing.T) {
	values := make([]interface{}, 1000)
	for i := range values {
		values[i] = int32(i % 20)
	}
	rand.New(rand.NewSource(1)).Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})
	stats := colstore.Analyze(values, equalInt32, lessInt32)
	assert.Less(t, stats.DistinctRatio(), 0.75)
	assert.Equal(t, colstore.Dictionary, colstore.ChooseEncoding(stats))
}

// 1000 distinct random values in random order: neither runs nor low
// cardinality apply, so uncompressed.
func TestChooseEncodingHighCardinalityPicksUncompressed(t *testing.T) {
	values := make([]interface{}, 1000)
	for i := range values {
		values[i] = int32(i)
	}
	rand.New(rand.NewSource(2)).Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})
	stats := colstore.Analyze(values, equalInt32, lessInt32)
	assert.Equal(t, 1000, stats.Distinct)
	assert.Equal(t, colstore.Uncompressed, colstore.ChooseEncoding(stats))
}

func TestTableLoadAndRowViewRoundTrips(t *testing.T) {
	tbl := newTable(t)

	rows := make([][]interface{}, 0, 60)
	tags := []string{"a", "b", "c"}
	for i := 0; i < 60; i++ {
		rows = append(rows, []interface{}{int32(i), tags[i%3]})
	}
	require.NoError(t, tbl.Load(rows))

	require.Len(t, tbl.Columns, 2)
	assert.Equal(t, colstore.Uncompressed, tbl.Columns[0].Encoding)
	assert.Equal(t, colstore.Dictionary, tbl.Columns[1].Encoding)

	out, err := tbl.RowView(len(rows))
	require.NoError(t, err)
	require.Len(t, out, len(rows))
	for i, row := range out {
		assert.Equal(t, int32(i), row[0])
		assert.Equal(t, tags[i%3], row[1])
	}
}

func TestTableLoadRLEColumnRoundTrips(t *testing.T) {
	tbl := newTable(t)

	rows := make([][]interface{}, 0, 40)
	for i := 0; i < 40; i++ {
		rows = append(rows, []interface{}{int32(i / 10), "x"})
	}
	require.NoError(t, tbl.Load(rows))
	assert.Equal(t, colstore.RLE, tbl.Columns[0].Encoding)

	out, err := tbl.RowView(len(rows))
	require.NoError(t, err)
	for i, row := range out {
		assert.Equal(t, int32(i/10), row[0])
	}
}

func TestTableReopenPreservesEncodingAndData(t *testing.T) {
	dir := t.TempDir()
	buf := buffer.NewManager(1<<20, buffer.LRU, nil)
	tbl, err := colstore.CreateTable(dir, "events", testSchema(), storage.MinPageSize, buf, nil)
	require.NoError(t, err)

	rows := [][]interface{}{
		{int32(1), "x"}, {int32(2), "y"}, {int32(3), "x"},
	}
	require.NoError(t, tbl.Load(rows))
	require.NoError(t, tbl.Close())

	reopened, err := colstore.OpenTable(dir, "events", buf, nil)
	require.NoError(t, err)
	defer reopened.Close()

	out, err := reopened.RowView(len(rows))
	require.NoError(t, err)
	for i, row := range rows {
		assert.Equal(t, row, out[i])
	}
}
