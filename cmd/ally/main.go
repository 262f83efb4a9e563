// Command ally is the interactive, local-LLM-powered pair-programming
// agent: the cobra entrypoint that wires config, the model client, the
// tool registry, and the agent runtime together for a terminal session.
package main

import (
	"fmt"
	"os"

	"github.com/allyrun/ally/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
