// Command zforge drives the ZFS-on-root Proxmox installer ISO build
// pipeline: build runs (or resumes) the module sequence against a YAML
// build specification, and inspect-checkpoint reports what a workspace's
// checkpoint store last recorded for each module.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "zforge",
		Short:         "Build ZFS-on-root Proxmox VE installer ISOs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cobra.OnInitialize(func() {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	})

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newInspectCheckpointCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
