// Package config describes nanodb's on-disk configuration file: the
// base directory, page size, and page cache sizing/policy spec.md §6
// lists as the storage core's configurable inputs.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/joeandaverde/nanodb/internal/buffer"
)

// Config is the nanodb.* configuration surface, loaded from a yaml file
// the way internal/backend/engine.go's Config is in the teacher.
type Config struct {
	BaseDir  string      `yaml:"nanodb.basedir"`
	PageSize int         `yaml:"nanodb.pagesize"`
	Cache    CacheConfig `yaml:"nanodb.pagecache"`
}

// CacheConfig configures the buffer manager's byte budget and eviction
// policy. Size accepts a plain byte count or a k/m/g-suffixed value
// (e.g. "64m").
type CacheConfig struct {
	Size   string `yaml:"size"`
	Policy string `yaml:"policy"`
}

// Default returns the configuration nanodb uses when no config file is
// given: a 16MiB LRU page cache and a 4096-byte page size.
func Default() Config {
	return Config{
		BaseDir:  ".",
		PageSize: 4096,
		Cache:    CacheConfig{Size: "16m", Policy: "lru"},
	}
}

// Load decodes a yaml config file, filling any unset fields from
// Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses yaml config from r, the way
// cmd/tinydb/command/listen.go's configDecoder.Decode(config) does.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// CacheBytes parses Cache.Size into a byte count, accepting a bare
// integer or a value suffixed with k, m, or g (case-insensitive,
// powers of 1024).
func (c Config) CacheBytes() (int64, error) {
	return ParseSize(c.Cache.Size)
}

// ParseSize parses a byte-count string with an optional k/m/g suffix.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	switch suffix := strings.ToLower(s[len(s)-1:]); suffix {
	case "k":
		mult = 1 << 10
		s = s[:len(s)-1]
	case "m":
		mult = 1 << 20
		s = s[:len(s)-1]
	case "g":
		mult = 1 << 30
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}

// CachePolicy maps Cache.Policy onto buffer.Policy, defaulting to LRU
// for an empty or unrecognized value.
func (c Config) CachePolicy() buffer.Policy {
	switch strings.ToLower(c.Cache.Policy) {
	case "fifo":
		return buffer.FIFO
	default:
		return buffer.LRU
	}
}
