package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/timzifer/hemlarm/config"
	"github.com/timzifer/hemlarm/remote"
	"github.com/timzifer/hemlarm/runtime/devices"
	"github.com/timzifer/hemlarm/runtime/logs"
	"github.com/timzifer/hemlarm/service"
)

// clientBuilder is swapped in tests.
var clientBuilder remote.ClientFactory = remote.NewHTTPClientFactory()

func loadClient(opts *rootOptions) (*config.Config, remote.Client, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration invalid: %w", err)
	}
	client, err := clientBuilder(cfg.API)
	if err != nil {
		return nil, nil, fmt.Errorf("create api client: %w", err)
	}
	return cfg, client, nil
}

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices and their alarm state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, client, err := loadClient(opts)
			if err != nil {
				return err
			}
			list, err := client.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			return printDevices(cmd.OutOrStdout(), list)
		},
	}
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show one page of the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := loadClient(opts)
			if err != nil {
				return err
			}
			entries, err := client.ListLogs(cmd.Context(), page, cfg.PageSize())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			registry := devices.NewRegistry()
			if list, err := client.ListDevices(cmd.Context()); err == nil {
				registry.ApplySnapshot(list)
			}
			return printLogs(cmd.OutOrStdout(), entries, registry)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page to fetch, starting at 1")
	return cmd
}

func newToggleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <device-id>",
		Short: "Flip the alarm state of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := loadClient(opts)
			if err != nil {
				return err
			}
			device, err := client.ToggleAlarm(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entry := logs.NewEntry(time.Now().UTC(), device.ID, logs.AlarmMessage(deviceLabel(device), device.IsActive))
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), struct {
					Device devices.Device `json:"device"`
					Entry  logs.Entry     `json:"entry"`
				}{device, entry})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", entry.Timestamp, entry.Message)
			return nil
		},
	}
}

func newClearLogsCmd(opts *rootOptions) *cobra.Command {
	return newClearCmd(opts, "clear-logs", "Delete the whole activity log", "activity log cleared",
		func(ctx context.Context, client remote.Client) error { return client.ClearLogs(ctx) })
}

func newClearDevicesCmd(opts *rootOptions) *cobra.Command {
	return newClearCmd(opts, "clear-devices", "Delete all devices", "devices cleared",
		func(ctx context.Context, client remote.Client) error { return client.ClearDevices(ctx) })
}

func newClearCmd(opts *rootOptions, use, short, done string, call func(context.Context, remote.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, client, err := loadClient(opts)
			if err != nil {
				return err
			}
			if err := call(cmd.Context(), client); err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

func newConfigCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config-check",
		Short: "Validate the configuration without contacting the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if err := service.Validate(cfg); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"base_url":      cfg.API.BaseURL,
					"poll_interval": cfg.PollInterval().String(),
					"page_size":     cfg.PageSize(),
					"sources":       cfg.Sources,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %s (poll every %s, %d entries per page)\n",
				cfg.API.BaseURL, cfg.PollInterval(), cfg.PageSize())
			return nil
		},
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDevices(out io.Writer, list []devices.Device) error {
	if len(list) == 0 {
		fmt.Fprintln(out, "No devices connected")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tALARM\tSTATUS")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, alarmState(d.IsActive), d.Status)
	}
	return w.Flush()
}

func printLogs(out io.Writer, entries []logs.Entry, registry *devices.Registry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No activity recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDEVICE\tMESSAGE")
	for _, e := range entries {
		device, _ := registry.Lookup(e.DeviceID)
		if device.ID == "" {
			device.ID = e.DeviceID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp, deviceLabel(device), e.Message)
	}
	return w.Flush()
}

func alarmState(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "inactive"
}

func deviceLabel(d devices.Device) string {
	if d.Name != "" {
		return d.Name
	}
	if d.ID == "" {
		return "Unknown device"
	}
	return "Unknown device (" + d.ID + ")"
}
