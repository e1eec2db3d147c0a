package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	jsonOutput bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "hemlarm",
		Short:         "Alarm dashboard for networked alarm devices",
		Long:          "Polls an alarm API for devices and their activity log and lets you toggle alarms and clear history.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	root.AddCommand(
		newRunCmd(opts),
		newDevicesCmd(opts),
		newLogsCmd(opts),
		newToggleCmd(opts),
		newClearLogsCmd(opts),
		newClearDevicesCmd(opts),
		newConfigCheckCmd(opts),
	)
	return root
}
