package tuple_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

func TestSchemaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.tbl")
	f, err := storage.CreateDBFile(path, storage.HeapDataFile, 512)
	require.NoError(t, err)
	page := storage.NewPage(f, 0)

	schema := &tuple.Schema{
		Columns: []tuple.Column{
			{Name: "id", Type: tuple.Integer},
			{Name: "name", Type: tuple.VarChar, Length: 64},
		},
		Constraints: []tuple.Constraint{
			{Kind: tuple.PrimaryKeyConstraint, Name: "pk_id", Columns: []int{0}, IndexName: "idx_id"},
			{Kind: tuple.ForeignKeyConstraint, Name: "fk_x", Columns: []int{1}, RefTable: "other", RefColumns: []int{0}},
		},
	}

	w := storage.NewPageWriter(page)
	require.NoError(t, tuple.WriteSchema(w, schema))

	r := storage.NewPageReader(page)
	got, err := tuple.ReadSchema(r)
	require.NoError(t, err)

	assert.Equal(t, schema.Columns, got.Columns)
	assert.Equal(t, schema.Constraints, got.Constraints)
}
