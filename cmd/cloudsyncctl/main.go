// Command cloudsyncctl is a demo driver for the cloud syncer: it wires a
// Syncer to the in-memory reference storage and cloud doubles and runs one
// sync task against them, printing progress as it goes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cloudsyncctl",
		Short:         "Demo driver for the cloud syncer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newRunCmd())

	return cmd
}
