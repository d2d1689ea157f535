// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/dump"
	"github.com/ibprovider/firebird/monitor"
	"github.com/ibprovider/firebird/shmem"
)

// inspectConfig is what the optional TOML config file may set.
type inspectConfig struct {
	Records bool `toml:"records"`
}

func newInspectCommand(stdout, stderr *os.File) *cobra.Command {
	var conf inspectConfig

	cmd := &cobra.Command{
		Use:   "inspect [flags] <region-file>",
		Short: "Print the header, elements and records of a region file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				if err := toml.Unmarshal(raw, &conf); err != nil {
					return fmt.Errorf("parsing %s: %v", path, err)
				}
			}
			// Flags win over the config file when set explicitly.
			if cmd.Flags().Changed("records") {
				conf.Records, _ = cmd.Flags().GetBool("records")
			}
			return runInspect(stdout, args[0], conf)
		},
	}
	cmd.Flags().Bool("records", false, "decode and list the dump records of every element")
	return cmd
}

func runInspect(stdout *os.File, path string, conf inspectConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	hdr, err := shmem.ReadHeader(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "region %s\n", path)
	fmt.Fprintf(stdout, "type=0x%08X version=%d used=%d allocated=%d\n\n",
		hdr.Type, hdr.Version, hdr.Used, hdr.Allocated)

	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.AppendHeader(table.Row{"PID", "LOCAL ID", "PAYLOAD BYTES", "RECORDS"})

	type element struct {
		pid, localID int32
		payload      []byte
	}
	var elements []element

	err = monitor.WalkElements(data, func(e monitor.Element) error {
		elements = append(elements, element{e.ProcessID, e.LocalID, e.Payload})
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range elements {
		count, err := countRecords(e.payload)
		if err != nil {
			return err
		}
		tw.AppendRow(table.Row{e.pid, e.localID, len(e.payload), count})
	}
	tw.Render()

	if !conf.Records {
		return nil
	}

	for _, e := range elements {
		fmt.Fprintf(stdout, "\nelements of pid %d, local id %d:\n", e.pid, e.localID)

		rw := table.NewWriter()
		rw.SetOutputMirror(stdout)
		rw.AppendHeader(table.Row{"RELATION", "FIELDS"})

		reader := dump.NewReader(e.payload)
		var record dump.Record
		var field dump.Field
		for {
			ok, err := reader.NextRecord(&record)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fields := 0
			for record.NextField(&field) {
				fields++
			}
			rw.AppendRow(table.Row{relationName(record.RelationID), fields})
		}
		rw.Render()
	}
	return nil
}

func countRecords(payload []byte) (int, error) {
	reader := dump.NewReader(payload)
	var record dump.Record
	count := 0
	for {
		ok, err := reader.NextRecord(&record)
		if err != nil {
			return 0, err
		}
		if !ok {
			return count, nil
		}
		count++
	}
}

func relationName(id firebird.RelationID) string {
	switch id {
	case firebird.RelDatabase:
		return "database"
	case firebird.RelAttachments:
		return "attachments"
	case firebird.RelTransactions:
		return "transactions"
	case firebird.RelStatements:
		return "statements"
	case firebird.RelCalls:
		return "calls"
	case firebird.RelIOStats:
		return "io_stats"
	case firebird.RelRecStats:
		return "rec_stats"
	case firebird.RelCtxVars:
		return "ctx_vars"
	case firebird.RelMemUsage:
		return "mem_usage"
	default:
		return fmt.Sprintf("unknown<%d>", id)
	}
}
