package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-mcp-device/internal/tap"
)

const keyTapURL = "url"

func newTapCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Print the traffic of a running serve --http-listen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			mustBindFlags(a.v, cmd.Flags(), keyTapURL)

			out := cmd.OutOrStdout()
			for ev, err := range tap.Follow(cmd.Context(), a.v.GetString(keyTapURL), nil) {
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				printf(out, "%s %s %s\n", ev.Time.Format("15:04:05.000"), ev.Direction,
					strings.TrimRight(ev.Data, "\r\n"))
			}
			return nil
		},
	}

	cmd.Flags().String(keyTapURL, "http://127.0.0.1:9464/tap", "tap endpoint of the serving process")
	return cmd
}
