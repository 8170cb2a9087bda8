package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	mcp "github.com/MegaGrindStone/go-mcp-device"
	"github.com/MegaGrindStone/go-mcp-device/internal/config"
	"github.com/MegaGrindStone/go-mcp-device/internal/serialport"
)

const (
	keyProbeTimeout       = "timeout"
	keyProbeReadResources = "read-resources"
	keyProbeCall          = "call"
	keyProbeArgs          = "args"
)

func newProbeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to a device, initialize it and list what it offers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			mustBindFlags(a.v, cmd.Flags(), config.KeyPort, config.KeyBaud, config.KeyReadTimeout,
				keyProbeTimeout, keyProbeReadResources, keyProbeCall, keyProbeArgs)

			port := a.v.GetString(config.KeyPort)
			if port == config.PortAuto {
				detected, err := serialport.Detect()
				if err != nil {
					return fmt.Errorf("failed to detect serial port: %w", err)
				}
				port = detected
			}
			link, err := serialport.Open(serialport.Config{
				Path:        port,
				BaudRate:    a.v.GetInt(config.KeyBaud),
				ReadTimeout: a.v.GetDuration(config.KeyReadTimeout),
			})
			if err != nil {
				return err
			}
			defer link.Close()

			return probe(cmd, a, link)
		},
	}

	flags := cmd.Flags()
	flags.StringP(config.KeyPort, "p", config.PortAuto, `serial port path or "auto" for the only port present`)
	flags.Int(config.KeyBaud, config.DefaultBaud, "serial baud rate")
	flags.Duration(config.KeyReadTimeout, config.DefaultReadTimeout, "serial read timeout")
	flags.Duration(keyProbeTimeout, 5*time.Second, "how long to wait for each response")
	flags.Bool(keyProbeReadResources, false, "read every resource")
	flags.String(keyProbeCall, "", "call this tool after listing")
	flags.String(keyProbeArgs, "{}", "JSON arguments of the tool named by --call")

	return cmd
}

func probe(cmd *cobra.Command, a *app, link io.ReadWriter) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	client := mcp.NewClient(mcp.Info{Name: "mcp-device-probe", Version: currentVersion()}, link, link,
		mcp.WithClientReadTimeout(a.v.GetDuration(keyProbeTimeout)),
		mcp.WithClientLogger(a.logger),
		mcp.WithNotificationHandler(func(method string, _ json.RawMessage) {
			a.logger.Debug("notification", slog.String("method", method))
		}),
	)

	res, err := client.Initialize(ctx)
	if err != nil {
		return err
	}
	printf(out, "%s %s (protocol %s)\n", res.ServerInfo.Name, res.ServerInfo.Version, res.ProtocolVersion)
	if res.Instructions != "" {
		printf(out, "instructions: %s\n", res.Instructions)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		return err
	}
	printf(out, "\ntools (%d):\n", len(tools.Tools))
	for _, tool := range tools.Tools {
		printf(out, "  %s(%s)  %s\n", tool.Name, strings.Join(tool.InputSchema.Required, ", "), tool.Description)
	}

	resources, err := client.ListResources(ctx)
	if err != nil {
		return err
	}
	printf(out, "\nresources (%d):\n", len(resources.Resources))
	for _, resource := range resources.Resources {
		printf(out, "  %s  %s\n", resource.URI, resource.Name)
		if !a.v.GetBool(keyProbeReadResources) {
			continue
		}
		content, err := client.ReadResource(ctx, resource.URI)
		if err != nil {
			return err
		}
		for _, c := range content.Content {
			printf(out, "    %s\n", strings.ReplaceAll(c.Text, "\n", "\n    "))
		}
	}

	name := a.v.GetString(keyProbeCall)
	if name == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(a.v.GetString(keyProbeArgs)), &args); err != nil {
		return fmt.Errorf("invalid --%s: %w", keyProbeArgs, err)
	}
	result, err := client.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	printf(out, "\n%s:\n", name)
	for _, c := range result.Content {
		printf(out, "  %s\n", c.Text)
	}
	if result.IsError {
		return fmt.Errorf("tool %s reported an error", name)
	}
	return nil
}
