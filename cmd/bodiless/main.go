package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/bodiless/contentsync/internal/config"
)

var version = "0.1.0-dev"

func main() {
	_ = flag.Set("logtostderr", "true")
	err := newRootCmd().Execute()
	glog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bodiless",
		Short: "Content backend and editing session for bodiless sites",
		Long: `bodiless serves page and site content from a local store and keeps
an editing session in sync with it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog checks that the go flag set was parsed; pflag already did.
			return flag.CommandLine.Parse(nil)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "path to bodiless.toml (default ./bodiless.toml)")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(
		newServeCmd(),
		newEditCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path, glogLogger{})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bodiless version %s\n", version)
		},
	}
}

// glogLogger adapts glog to the Printf loggers taken by the internal
// packages.
type glogLogger struct{}

func (glogLogger) Printf(format string, args ...any) {
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
}
