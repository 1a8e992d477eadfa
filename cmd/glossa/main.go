// Command glossa is the CLI companion to glossad. It submits translation
// tasks and inspects pipeline state over the daemon's HTTP API.
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
