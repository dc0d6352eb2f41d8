package command

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/config"
	"github.com/joeandaverde/nanodb/internal/catalog"
)

// VerifyCommand runs the B+ tree's five structural passes (spec.md
// §4.6/§8) against a named index, the only storage-core consistency
// check exposed as a standalone operation.
type VerifyCommand struct{}

func (c *VerifyCommand) Help() string {
	helpText := `
Usage: nanodb verify [options] <index>

Options:

	-config=""	nanodb configuration file
`
	return strings.TrimSpace(helpText)
}

func (c *VerifyCommand) Synopsis() string {
	return "Verifies a B+ tree index's structural invariants"
}

func (c *VerifyCommand) Run(args []string) int {
	var configPath string

	cmdFlags := flag.NewFlagSet("verify", flag.ExitOnError)
	cmdFlags.StringVar(&configPath, "config", "", "nanodb configuration file")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	rest := cmdFlags.Args()
	if len(rest) != 1 {
		_, _ = fmt.Fprintln(os.Stderr, "Error: verify requires exactly one index name")
		return 1
	}
	indexName := rest[0]

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err.Error())
			return 1
		}
		cfg = loaded
	}

	cacheBytes, err := cfg.CacheBytes()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error parsing page cache size: %s\n", err.Error())
		return 1
	}

	logger := logrus.New()
	m, err := catalog.Start(cfg.BaseDir, cfg.PageSize, cacheBytes, cfg.CachePolicy(), logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error opening %s: %s\n", cfg.BaseDir, err.Error())
		return 1
	}
	defer m.Close()

	idx, err := m.OpenIndex(indexName)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error opening index %s: %s\n", indexName, err.Error())
		return 1
	}

	result, err := idx.Verify()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error verifying index %s: %s\n", indexName, err.Error())
		return 1
	}

	if result.OK() {
		fmt.Printf("index %s OK\n", indexName)
		return 0
	}

	fmt.Printf("index %s FAILED:\n", indexName)
	for _, e := range result.Errors {
		fmt.Printf("  %s\n", e)
	}
	return 1
}
