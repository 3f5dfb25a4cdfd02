package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of flag/env-overridable entry-point options. The
// settings document (internal/settings) holds everything that changes at
// runtime via the console/control channel; Config holds only what's fixed
// for the life of the process.
type Config struct {
	listenAddr    string
	controlAddr   string
	settingsPath  string
	shinesPath    string
	storePath     string
	enableControl bool
	enableConsole bool
	enableStore   bool
}

func (c *Config) validate() error {
	if c.listenAddr == "" {
		return fmt.Errorf("--listen must not be empty")
	}
	if c.enableControl && c.controlAddr == "" {
		return fmt.Errorf("--control-addr must be set when --control is enabled")
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SMO_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "relayd",
		Short:         "Relay server for the Super Mario Odyssey online-play protocol.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.listenAddr, "listen", "0.0.0.0:53420", "TCP/UDP relay listen address (env: SMO_RELAY_LISTEN)")
	fs.StringVar(&cfg.settingsPath, "settings", "settings.json", "path to the settings document (env: SMO_RELAY_SETTINGS)")
	fs.StringVar(&cfg.shinesPath, "shines-file", "shines.json", "path to the persisted shine set (env: SMO_RELAY_SHINES_FILE)")
	fs.BoolVar(&cfg.enableStore, "audit-log", true, "keep a sqlite join/disconnect/command audit log (env: SMO_RELAY_AUDIT_LOG)")
	fs.StringVar(&cfg.storePath, "audit-db", "audit.db", "path to the sqlite audit database (env: SMO_RELAY_AUDIT_DB)")
	fs.BoolVar(&cfg.enableControl, "control", true, "enable the JSON control channel (env: SMO_RELAY_CONTROL)")
	fs.StringVar(&cfg.controlAddr, "control-addr", "0.0.0.0:53421", "JSON control channel listen address (env: SMO_RELAY_CONTROL_ADDR)")
	fs.BoolVar(&cfg.enableConsole, "console", true, "read operator commands from stdin (env: SMO_RELAY_CONSOLE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}
