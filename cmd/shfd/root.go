package main

import (
	"errors"

	"github.com/spf13/cobra"

	"shfd/internal/config"
	"shfd/internal/daemon"
	"shfd/internal/daemonrun"
)

type daemonFlags struct {
	filePort    int
	increment   int
	max         int
	peers       []string
	debug       bool
	verbose     bool
	delay       bool
	development bool
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var adminPort int
	var flags daemonFlags

	ctx := newCommandContext(&configFlag, &adminPort)

	rootCmd := &cobra.Command{
		Use:   "shfd [flags] [peer host:port...]",
		Short: "Shared file daemon with peer-coordinated resource locks",
		Long: "Runs the shfd daemon in the foreground. Extra arguments are added to the peer list.\n" +
			"Subcommands talk to a running daemon over its loopback admin port.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, ctx, flags, adminPort, args)
		},
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	persistent := rootCmd.PersistentFlags()
	persistent.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	persistent.IntVarP(&adminPort, "admin-port", "s", 0, "Admin (shell) port on 127.0.0.1")

	local := rootCmd.Flags()
	local.IntVarP(&flags.filePort, "file-port", "f", 0, "File channel port")
	local.IntVarP(&flags.increment, "increment", "t", 0, "Workers added per pool growth step")
	local.IntVarP(&flags.max, "max", "T", 0, "Maximum number of pool workers")
	local.StringSliceVarP(&flags.peers, "peers", "p", nil, "Peer daemons as host:port (repeatable)")
	local.BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")
	local.BoolVarP(&flags.verbose, "verbose", "v", false, "Log every file command")
	local.BoolVarP(&flags.delay, "delay", "D", false, "Hold locks for files.delay_seconds during file I/O")
	local.BoolVar(&flags.development, "development", false, "Include source locations in log output")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newPeersCommand(ctx))
	rootCmd.AddCommand(newLocksCommand(ctx))
	rootCmd.AddCommand(newJournalCommand(ctx))
	rootCmd.AddCommand(newSetCommand(ctx))
	rootCmd.AddCommand(newReloadCommand(ctx))
	rootCmd.AddCommand(newShutdownCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

func runDaemon(cmd *cobra.Command, ctx *commandContext, flags daemonFlags, adminPort int, args []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	overrides := config.Overrides{
		Debug:   flags.debug,
		Verbose: flags.verbose,
		Delay:   flags.delay,
	}
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("admin-port") {
		overrides.AdminPort = &adminPort
	}
	if changed("file-port") {
		overrides.FilePort = &flags.filePort
	}
	if changed("increment") {
		overrides.Increment = &flags.increment
	}
	if changed("max") {
		overrides.Max = &flags.max
	}
	if peers := append(append([]string(nil), flags.peers...), args...); len(peers) > 0 {
		overrides.Peers = peers
	}
	if err := cfg.Apply(overrides); err != nil {
		return usageError(err)
	}

	var watchPath string
	if ctx.configExists {
		watchPath = ctx.configPath
	}
	err = daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
		ConfigPath:  watchPath,
		Overrides:   overrides,
		Development: flags.development,
		Writer:      cmd.OutOrStdout(),
	})
	if err == nil {
		return nil
	}
	var se *daemon.StageError
	if errors.As(err, &se) {
		return &exitError{code: daemon.ExitCode(err), err: err}
	}
	return err
}
