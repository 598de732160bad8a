package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shfd/internal/control"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker pool parameters of the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *control.Client) error {
				params, err := client.Status()
				if err != nil {
					return err
				}
				headers := []string{"Increment", "Min", "Active", "Idle", "Total", "Max"}
				row := []string{
					strconv.Itoa(params.Increment),
					strconv.Itoa(params.Min),
					strconv.Itoa(params.Active),
					strconv.Itoa(params.Idle()),
					strconv.Itoa(params.Total),
					strconv.Itoa(params.Max),
				}
				aligns := []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, [][]string{row}, aligns))
				if params.Saturated() {
					printNotice(cmd.OutOrStdout(), ansiYellow, "Pool is saturated; new file clients are being rejected")
				}
				return nil
			})
		},
	}
}

func newPeersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List the peers of the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *control.Client) error {
				list, err := client.Peers()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No peers configured")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for i, addr := range list {
					rows = append(rows, []string{strconv.Itoa(i + 1), addr})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "Address"}, rows, []columnAlignment{alignRight, alignLeft}))
				return nil
			})
		},
	}
}

func newLocksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "List resource locks held in the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *control.Client) error {
				summary, err := client.Locks()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d of %d lock entries in use\n", summary.Held, summary.Capacity)
				if len(summary.Locks) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(summary.Locks))
				for _, l := range summary.Locks {
					rows = append(rows, []string{l.Resource, l.Holder, strconv.Itoa(l.Waiters)})
				}
				fmt.Fprintln(out, renderTable([]string{"Resource", "Holder", "Waiters"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newJournalCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent file operations recorded by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return usageError(fmt.Errorf("--limit must be positive"))
			}
			return ctx.withClient(cmd, func(client *control.Client) error {
				lines, err := client.Journal(limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(lines) == 0 {
					fmt.Fprintln(out, "Journal is empty")
					return nil
				}
				rows := make([][]string, 0, len(lines))
				for _, line := range lines {
					rows = append(rows, strings.Fields(line))
				}
				headers := []string{"Time", "Session", "Peer", "Command", "Resource", "Status", "Duration"}
				fmt.Fprintln(out, renderTable(headers, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return cmd
}

func newSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "set increment|max N",
		Short:     "Change the pool growth step or ceiling of the running daemon",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"increment", "max"},
		RunE: func(cmd *cobra.Command, args []string) error {
			param := strings.ToLower(args[0])
			if param != "increment" && param != "max" {
				return usageError(fmt.Errorf("unknown parameter %q (want increment or max)", args[0]))
			}
			value, err := strconv.Atoi(args[1])
			if err != nil || value <= 0 {
				return usageError(fmt.Errorf("value must be a positive number"))
			}
			return ctx.withClient(cmd, func(client *control.Client) error {
				params, err := client.Set(param, value)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), params.String())
				return nil
			})
		},
	}
}

func newReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to reload its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *control.Client) error {
				if err := client.Reload(); err != nil {
					return err
				}
				printNotice(cmd.OutOrStdout(), ansiGreen, "Reload requested")
				return nil
			})
		},
	}
}

func newShutdownCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the running daemon gracefully",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(client *control.Client) error {
				if err := client.Shutdown(); err != nil {
					return err
				}
				printNotice(cmd.OutOrStdout(), ansiGreen, "Shutdown requested")
				return nil
			})
		},
	}
}
