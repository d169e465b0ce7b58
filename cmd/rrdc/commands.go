package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pior/rrdcached"
	"github.com/pior/rrdcached/protocol"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "update <file> <timestamp:value[:value...]>...",
			Short: "Send updates for a file, creating it when missing",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runUpdate,
		},
		&cobra.Command{
			Use:   "create <file> <definition>...",
			Short: "Create a file (definitions default to --create-def)",
			Args:  cobra.MinimumNArgs(1),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				return c.Create(ctx, args[0], args[1:]...)
			}),
		},
		fileCmd("flush", "Write the pending updates of a file", (*rrdcached.Client).Flush),
		fileCmd("wrote", "Tell the daemon a file was written by someone else", (*rrdcached.Client).Wrote),
		fileCmd("forget", "Drop the pending updates of a file", (*rrdcached.Client).Forget),
		&cobra.Command{
			Use:   "flushall",
			Short: "Write the pending updates of every daemon",
			Args:  cobra.NoArgs,
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				return c.FlushAll(ctx)
			}),
		},
		&cobra.Command{
			Use:   "pending <file>",
			Short: "List the pending updates of a file",
			Args:  cobra.ExactArgs(1),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				lines, err := c.Pending(ctx, args[0])
				if err != nil {
					return err
				}
				printLines(out, lines)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "queue [address]",
			Short: "List the files waiting to be written",
			Args:  cobra.MaximumNArgs(1),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				entries, err := c.Queue(ctx, optionalArg(args))
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%d %s\n", e.Updates, e.File)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "info <file>",
			Short: "Print the header of a file",
			Args:  cobra.ExactArgs(1),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				entries, err := c.Info(ctx, args[0])
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%s = %s\n", e.Key, e.Value)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "first <file> [rra]",
			Short: "Print the first timestamp of an archive",
			Args:  cobra.RangeArgs(1, 2),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				rra := 0
				if len(args) == 2 {
					var err error
					if rra, err = strconv.Atoi(args[1]); err != nil {
						return fmt.Errorf("invalid archive index: %w", err)
					}
				}
				ts, err := c.First(ctx, args[0], rra)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, ts.Unix())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "last <file>",
			Short: "Print the timestamp of the last update",
			Args:  cobra.ExactArgs(1),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				ts, err := c.Last(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, ts.Unix())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "fetch <file> <cf> [options...]",
			Short: "Fetch data from a file",
			Args:  cobra.MinimumNArgs(2),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				res, err := c.Fetch(ctx, args[0], args[1:]...)
				if err != nil {
					return err
				}
				printFetch(out, res)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "stats [address]",
			Short: "Print the daemon counters",
			Args:  cobra.MaximumNArgs(1),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				stats, err := c.DaemonStats(ctx, optionalArg(args))
				if err != nil {
					return err
				}
				names := make([]string, 0, len(stats))
				for name := range stats {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					fmt.Fprintf(out, "%s: %d\n", name, stats[name])
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "daemon-help [topic]",
			Short: "Print the daemon's help",
			Args:  cobra.MaximumNArgs(1),
			RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
				lines, err := c.Help(ctx, "", optionalArg(args))
				if err != nil {
					return err
				}
				printLines(out, lines)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "batch",
			Short: "Send batchable commands read from stdin, one per line",
			Long: `Reads UPDATE, CREATE, FLUSH, WROTE and FORGET lines from stdin and
sends them with one batch per daemon. Empty lines and lines starting
with # are ignored.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(func(client *rrdcached.Client) error {
					return runBatch(cmd.Context(), client, cmd.InOrStdin(), cmd.OutOrStdout())
				})
			},
		},
	)
}

type clientFunc func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error

func clientCmd(fn clientFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withClient(func(client *rrdcached.Client) error {
			return fn(cmd.Context(), client, cmd.OutOrStdout(), args)
		})
	}
}

func fileCmd(name, short string, op func(*rrdcached.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <file>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: clientCmd(func(ctx context.Context, c *rrdcached.Client, out io.Writer, args []string) error {
			for _, file := range args {
				if err := op(c, ctx, file); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return withClient(func(client *rrdcached.Client) error {
		ctx := cmd.Context()
		file := args[0]

		start := time.Now()
		for _, value := range args[1:] {
			if err := client.Update(ctx, file, value); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d update(s) sent (took %v)\n", len(args)-1, time.Since(start))
		return nil
	})
}

func runBatch(ctx context.Context, client *rrdcached.Client, in io.Reader, out io.Writer) error {
	cmds, err := readBatch(in)
	if err != nil {
		return err
	}

	result, err := client.Batch(ctx, cmds...)
	if result != nil {
		for _, e := range result.Entries {
			line := fmt.Sprintf("%d %s %s %s", e.Index, e.Command.Verb(), e.Command.Filename(), e.Outcome)
			if e.Err != nil {
				line += ": " + e.Err.Error()
			}
			fmt.Fprintln(out, line)
		}
	}

	var batchErr *rrdcached.BatchError
	if errors.As(err, &batchErr) {
		return fmt.Errorf("%d of %d command(s) failed", len(batchErr.Failures), len(cmds))
	}
	return err
}

func readBatch(in io.Reader) ([]protocol.BatchCommand, error) {
	var cmds []protocol.BatchCommand

	scanner := bufio.NewScanner(in)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed, err := protocol.ParseBatchLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		cmds = append(cmds, parsed...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cmds, nil
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func printLines(out io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}

func printFetch(out io.Writer, res *rrdcached.FetchResult) {
	fmt.Fprintf(out, "%12s", "")
	for _, name := range res.DSNames {
		fmt.Fprintf(out, " %14s", name)
	}
	fmt.Fprintln(out)

	for _, row := range res.Rows {
		fmt.Fprintf(out, "%11d:", row.Time.Unix())
		for _, v := range row.Values {
			fmt.Fprintf(out, " %14.6e", v)
		}
		fmt.Fprintln(out)
	}
}
