package btree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyEmptyIndex(t *testing.T) {
	idx := newIndex(t)
	result, err := idx.Verify()
	require.NoError(t, err)
	assert.True(t, result.OK(), "%v", result.Errors)
}

func TestVerifyAfterManySplitsAndDeletesInterleaved(t *testing.T) {
	idx := newIndex(t)

	for i := int32(0); i < 300; i++ {
		require.NoError(t, idx.Insert(intKey(i), newRowRef(i)))
		if i%7 == 0 && i > 0 {
			require.NoError(t, idx.Delete(intKey(i-1), newRowRef(i-1)))
		}
	}

	result, err := idx.Verify()
	require.NoError(t, err)
	assert.True(t, result.OK(), "%v", result.Errors)
}
