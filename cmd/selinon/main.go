// Command selinon validates, plans, migrates and runs flow definitions.
package main

import (
	"fmt"
	"os"

	"github.com/selinon/selinon-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
