// Command paperx runs the paper exchange CLI.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"paper-exchange/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
