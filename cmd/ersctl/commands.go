package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/andreyvit/ersdb"
	"github.com/andreyvit/ersdb/config"
	"github.com/andreyvit/ersdb/ers"
)

func (a *app) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [file]",
		Short: "Write the whole database to a file, or to stdout with -",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *ersdb.DB) error {
				if !db.CanDump() {
					return fmt.Errorf("store %s does not support dumps", db.Store().Name())
				}
				if args[0] == "-" {
					w := bufio.NewWriter(cmd.OutOrStdout())
					if err := db.Dump(w); err != nil {
						return err
					}
					return w.Flush()
				}
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				w := bufio.NewWriter(f)
				if err := db.Dump(w); err != nil {
					f.Close()
					return err
				}
				if err := w.Flush(); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "dumped to %s\n", color.GreenString("%s", args[0]))
				return nil
			})
		},
	}
}

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [file]",
		Short: "Replace the whole database with a dump, read from a file or stdin with -",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return a.withDB(func(db *ersdb.DB) error {
				if !db.CanDump() {
					return fmt.Errorf("store %s does not support loading dumps", db.Store().Name())
				}
				if err := db.Load(bufio.NewReader(r)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "loaded %s\n", color.GreenString("%s", args[0]))
				return nil
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts and sizes of every map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *ersdb.DB) error {
				st, err := db.Stats()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				table := tablewriter.NewTable(out)
				table.Header([]string{"Map", "Entries", "Keys", "Data"})
				var entries int
				for _, m := range st.Maps {
					entries += m.Entries
					table.Append([]string{m.Name, fmt.Sprint(m.Entries), fmt.Sprint(m.KeyBytes), fmt.Sprint(m.DataBytes)})
				}
				table.Render()
				fmt.Fprintf(out, "%s maps, %s entries, %s symbols\n",
					countString(len(st.Maps)), countString(entries), countString(st.Symbols))
				return nil
			})
		},
	}
}

func (a *app) symbolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "symbols",
		Short: "List interned names with their ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *ersdb.DB) error {
				table := tablewriter.NewTable(cmd.OutOrStdout())
				table.Header([]string{"ID", "Name"})
				for _, e := range db.Symbols().Snapshot() {
					table.Append([]string{fmt.Sprint(e.ID), e.Name})
				}
				table.Render()
				return nil
			})
		},
	}
}

func (a *app) typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List entity types with their property, blob and link names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *ersdb.DB) error {
				return db.Read(func(txn ers.Txn) error {
					types, err := ers.EntityTypes(txn)
					if err != nil {
						return err
					}
					table := tablewriter.NewTable(cmd.OutOrStdout())
					table.Header([]string{"Type", "Entities", "Properties", "Blobs", "Links"})
					for _, typ := range types {
						n, err := ers.Size(txn.All(typ))
						if err != nil {
							return err
						}
						props, err := ers.PropertyNames(txn, typ)
						if err != nil {
							return err
						}
						blobs, err := ers.BlobNames(txn, typ)
						if err != nil {
							return err
						}
						links, err := ers.LinkNames(txn, typ)
						if err != nil {
							return err
						}
						table.Append([]string{typ, fmt.Sprint(n), joinNames(props), joinNames(blobs), joinNames(links)})
					}
					table.Render()
					return nil
				})
			})
		},
	}
}

func (a *app) metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Open the database, read its stats and print the collected metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *ersdb.DB) error {
				if _, err := db.Stats(); err != nil {
					return err
				}
				metrics.WritePrometheus(cmd.OutOrStdout(), false)
				return nil
			})
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [file]",
		Short: "Write the effective configuration as TOML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) > 0 {
				path = args[0]
			}
			if err := a.cfg.Write(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", color.GreenString("%s", config.ExpandHome(path)))
			return nil
		},
	}
}

func countString(n int) string {
	if n == 0 {
		return color.YellowString("%d", n)
	}
	return color.GreenString("%d", n)
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(slices.Sorted(slices.Values(names)), ", ")
}
