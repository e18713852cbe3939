// Command tablesync queues restaurant orders and admin changes offline and
// replays them against the remote store when connectivity returns.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tablesync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
