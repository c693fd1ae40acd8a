package main

import (
	"os"

	"github.com/Paulkm2006/ssh-github-auth/pkg/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := cli.NewRootCommand(cli.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
