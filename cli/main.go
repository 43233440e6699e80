package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/armada/flags"
	"github.com/gammadia/armada/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var verbose bool

var armadaCmd = &cobra.Command{
	Use:   "armada",
	Short: "Armada provisions compute node pools, falling back through machine flavors until one succeeds.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && !cmd.Root().PersistentFlags().Changed(flags.LogLevel) {
			viper.Set(flags.LogLevel, "DEBUG")
		}
		return log.Init()
	},
}

func init() {
	armadaCmd.AddCommand(createCmd)
	armadaCmd.AddCommand(versionCmd)

	armadaCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	armadaCmd.PersistentFlags().String(flags.LogFormat, "text", "log format (json, text)")
	armadaCmd.PersistentFlags().String(flags.LogLevel, "WARN", "minimum log level")
	armadaCmd.PersistentFlags().Bool(flags.LogSource, false, "add source code location to logs")
	flags.Bind(armadaCmd.PersistentFlags())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	armadaCmd.SetOut(os.Stdout)
	if err := armadaCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
