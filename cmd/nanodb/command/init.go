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

// InitCommand creates a nanodb base directory and runs the storage
// manager's startup sequence (including WAL recovery, a no-op on a
// fresh directory) so the directory is ready for table/index creation.
type InitCommand struct{}

func (c *InitCommand) Help() string {
	helpText := `
Usage: nanodb init [options]

Options:

	-config=""	nanodb configuration file
`
	return strings.TrimSpace(helpText)
}

func (c *InitCommand) Synopsis() string {
	return "Initializes a nanodb base directory"
}

func (c *InitCommand) Run(args []string) int {
	var configPath string

	cmdFlags := flag.NewFlagSet("init", flag.ExitOnError)
	cmdFlags.StringVar(&configPath, "config", "", "nanodb configuration file")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

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
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing %s: %s\n", cfg.BaseDir, err.Error())
		return 1
	}
	defer m.Close()

	fmt.Printf("initialized nanodb base directory %s\n", cfg.BaseDir)
	return 0
}
