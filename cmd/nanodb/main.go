package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/joeandaverde/nanodb/cmd/nanodb/command"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "init")
	}

	commands := map[string]cli.CommandFactory{
		"init": func() (cli.Command, error) {
			return &command.InitCommand{}, nil
		},
		"verify": func() (cli.Command, error) {
			return &command.VerifyCommand{}, nil
		},
	}

	nanoCLI := &cli.CLI{
		Args:     args,
		Commands: commands,
		HelpFunc: cli.BasicHelpFunc("nanodb"),
	}

	exitCode, err := nanoCLI.Run()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}

	os.Exit(exitCode)
}
