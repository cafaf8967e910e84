package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/hosting/internal/canary"
	"github.com/psantana5/hosting/internal/commands"
	"github.com/psantana5/hosting/internal/hostcfg"
	"github.com/psantana5/hosting/internal/markers"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the hosting settings and marker state",
	Long: `Info prints whether the canary is enabled, when it was last stamped and
which process owns the session. In text mode it behaves like the console
command: it only answers while the feature is enabled and a session is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		module, ctx, err := operatorModule(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if outputFormat == "text" {
			module.Info(ctx)
			return nil
		}
		return printReport(cmd.OutOrStdout(), module.Report(), outputFormat)
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable canary writes (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(cmd, true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable canary writes (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(cmd, false)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd, enableCmd, disableCmd)

	infoCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, table, json or yaml")
	for _, c := range []*cobra.Command{enableCmd, disableCmd} {
		c.Flags().BoolVar(&asAdmin, "admin", false, "act as admin without running as root")
	}
}

// operatorModule loads Hosting.cfg from the storage directory and builds a
// command context for the invoking user. Root is admin; a session counts as
// running when the pid marker names a live process.
func operatorModule(out io.Writer) (*commands.Module, *commands.Context, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(settings)

	cfg := hostcfg.New(settings.StoragePath, logger)
	cfg.Load()

	level := commands.None
	if asAdmin || os.Geteuid() == 0 {
		level = commands.Admin
	}
	_, running := markers.Running(settings.StoragePath)

	ctx := &commands.Context{Level: level, InSession: running, Out: out}
	return commands.New(cfg, settings.StoragePath, logger), ctx, nil
}

func toggle(cmd *cobra.Command, enabled bool) error {
	module, ctx, err := operatorModule(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if enabled {
		module.Enable(ctx)
	} else {
		module.Disable(ctx)
	}
	if ctx.Level == commands.Admin && ctx.InSession {
		if r := module.Report(); r.PID != 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Send SIGHUP to pid %d to apply this to the running session.\n", r.PID)
		}
	}
	return nil
}

func printReport(w io.Writer, r commands.Report, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)

	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(r); err != nil {
			return err
		}
		return encoder.Close()

	case "table":
		table := tablewriter.NewWriter(w)
		table.Header("Property", "Value")
		table.Append([]string{"Enabled", commands.FormatBool(r.Enabled)})
		lastCanary, age := "-", "-"
		if !r.LastCanary.IsZero() {
			lastCanary = r.LastCanary.Format(canary.TimeFormat)
			age = r.CanaryAge
		}
		table.Append([]string{"Last canary", lastCanary})
		table.Append([]string{"Canary age", age})
		pid := "-"
		if r.PID != 0 {
			pid = fmt.Sprintf("%d", r.PID)
		}
		table.Append([]string{"PID", pid})
		table.Append([]string{"Running", commands.FormatBool(r.Alive)})
		return table.Render()

	default:
		return fmt.Errorf("unknown output format %q (use text, table, json or yaml)", format)
	}
}
