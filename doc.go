// Package mcp implements the device side of the Model Context Protocol (MCP) over a byte
// oriented serial link. It lets a small device expose its actuators as tools and its sensors as
// resources to a remote client speaking JSON-RPC 2.0, one message per line.
//
// The engine is made of a Framer that turns partial reads into complete lines with bounded
// memory, ParseEnvelope that checks the JSON-RPC shape of each line, a Registry holding the
// tools and resources, and a Server that dispatches requests and writes responses and
// list_changed notifications through a Transport.
//
// A Server runs a single cooperative loop. PollOnce performs one step and never blocks on the
// transport; Run drives PollOnce at a fixed interval:
//
//	srv := mcp.NewServer(mcp.Info{Name: "board", Version: "1.0.0"}, transport)
//	_ = srv.UpsertTool(mcp.Tool{
//		Name: "blink",
//		Handler: func(ctx context.Context, args mcp.Arguments) (mcp.Value, error) {
//			return mcp.Text("ok"), nil
//		},
//	})
//	err := srv.Run(ctx)
//
// Handler failures never stop the loop: they are returned to the client as tool results with
// isError set.
package mcp
