// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
/*
fbmon inspects database monitoring region files offline.
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := newRootCommand(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr *os.File) *cobra.Command {
	rc := &cobra.Command{
		Use:   "fbmon",
		Short: "fbmon inspects database monitoring shared memory regions.",
		Long: `fbmon inspects database monitoring shared memory regions.

It reads a region file left behind by server processes and prints the
header, the per-process contribution elements and the dump records they
carry. The file is read as-is, outside the region mutex, so a live region
may show a contribution mid-rewrite.
`,
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newInspectCommand(stdout, stderr))

	rc.SetOutput(stderr)
	return rc
}
