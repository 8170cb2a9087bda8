package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MegaGrindStone/go-mcp-device/internal/config"
	"github.com/MegaGrindStone/go-mcp-device/internal/logging"
)

// app carries the state shared by every command.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New(), logger: slog.Default()}

	cmd := &cobra.Command{
		Use:           "mcp-device",
		Short:         "Serve MCP tools and resources over a serial link",
		SilenceErrors: true,
		Example: `
  # Serve the simulated board on the only serial port present
  mcp-device serve

  # Serve on stdin/stdout with Prometheus metrics and the wire tap on :9464
  mcp-device serve --port stdio --http-listen :9464

  # Ask a device what it offers
  mcp-device probe --port /dev/ttyACM0 --read-resources
`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			mustBindFlags(a.v, cmd.Flags(), config.KeyConfig, config.KeyLogLevel, config.KeyLogFormat)

			explicit := cmd.Flags().Changed(config.KeyConfig)
			path, err := config.ReadFile(a.v, explicit)
			if err != nil {
				return err
			}

			logger, err := logging.New(cmd.ErrOrStderr(), a.v.GetString(config.KeyLogLevel), a.v.GetString(config.KeyLogFormat))
			if err != nil {
				return err
			}
			a.logger = logger
			if path != "" {
				a.logger.Debug("loaded config file", slog.String("path", path))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(config.KeyConfig, "", "path to a YAML, TOML or JSON config file")
	flags.String(config.KeyLogLevel, config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String(config.KeyLogFormat, config.DefaultLogFormat, "log format (text, json)")

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newProbeCommand(a))
	cmd.AddCommand(newCatalogCommand(a))
	cmd.AddCommand(newTapCommand(a))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// mustBindFlags binds the named flags of flags to the keys of the same name. Commands bind their
// flags when they run, since several of them share a key.
func mustBindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := v.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}
}

func printf(w io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(w, format, a...)
}
