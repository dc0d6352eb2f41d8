package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/config"
	"github.com/joeandaverde/nanodb/internal/buffer"
)

func TestDecodeAppliesDefaultsForMissingFields(t *testing.T) {
	cfg, err := config.Decode(strings.NewReader(`nanodb.basedir: /var/lib/nanodb`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nanodb", cfg.BaseDir)
	assert.Equal(t, 4096, cfg.PageSize)
	assert.Equal(t, "16m", cfg.Cache.Size)
}

func TestDecodeOverridesDefaults(t *testing.T) {
	yamlText := `
nanodb.basedir: /data
nanodb.pagesize: 8192
nanodb.pagecache:
  size: 64m
  policy: fifo
`
	cfg, err := config.Decode(strings.NewReader(yamlText))
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.BaseDir)
	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, buffer.FIFO, cfg.CachePolicy())

	bytes, err := cfg.CacheBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024*1024), bytes)
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := map[string]int64{
		"1024": 1024,
		"4k":   4 * 1024,
		"16M":  16 * 1024 * 1024,
		"1g":   1 << 30,
	}
	for in, want := range cases {
		got, err := config.ParseSize(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, err := config.ParseSize("not-a-size")
	assert.Error(t, err)
}

func TestCachePolicyDefaultsToLRU(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Policy = ""
	assert.Equal(t, buffer.LRU, cfg.CachePolicy())
}
