// Command whereabouts stores ambient sensor readings and infers which
// calibrated location a device is in.
//
// Usage:
//
//	whereabouts [--settings FILE] <command>
//
// Run "whereabouts --help" for the command list.
package main

import (
	"fmt"
	"os"

	"github.com/banshee-data/whereabouts/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "whereabouts:", err)
		os.Exit(1)
	}
}
