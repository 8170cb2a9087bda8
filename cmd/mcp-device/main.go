// Command mcp-device serves MCP tools and resources over a serial link, and offers a few
// commands to inspect a device from the host side.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mcp-device:", err)
		stop()
		os.Exit(1)
	}
}
