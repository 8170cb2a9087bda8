package mcp

import (
	"context"
	"time"
)

// Transport is the byte link between the device and the client.
//
// ReadAvailable must never block: it returns whatever bytes arrived since the previous call,
// which may be nothing, part of a message or several messages. A non-nil error ends the
// session; io.EOF means the link was closed by the peer. Write sends one complete
// newline-terminated message.
type Transport interface {
	ReadAvailable() ([]byte, error)
	Write(p []byte) error
}

// ToolHandler executes a tool with the decoded arguments of a tools/call request.
type ToolHandler func(ctx context.Context, args Arguments) (Value, error)

// ResourceHandler produces the current value of a resource.
type ResourceHandler func(ctx context.Context) (Value, error)

// Upserter is implemented by Server and Registry. Code that only registers tools and
// resources accepts it, so it works both before and after a server owns the registry.
type Upserter interface {
	UpsertTool(tool Tool) error
	UpsertResource(resource Resource) error
}

// Metrics receives counters and timings from a Server. Implementations must be safe for
// concurrent use; the Server calls them from its poll loop.
type Metrics interface {
	// FrameReceived is called for every complete message produced by the framer.
	FrameReceived(size int)
	// FrameOverflow is called when an oversized message was dropped.
	FrameOverflow(discarded int)
	// RequestHandled is called once a request or notification has been dispatched. Outcome is
	// one of "ok", "tool_error", "error" or "ignored".
	RequestHandled(method, outcome string, elapsed time.Duration)
	// ProtocolError is called for every message rejected before dispatch, with the JSON-RPC
	// error code.
	ProtocolError(code int)
	// MessageSent is called for every response or notification written, with its kind
	// ("response" or "notification").
	MessageSent(kind string, size int)
	// WriteFailed is called when the transport rejected a message.
	WriteFailed()
}

// Request outcomes reported to Metrics.RequestHandled.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
	OutcomeIgnored   = "ignored"
)

type nopMetrics struct{}

func (nopMetrics) FrameReceived(int) {}
func (nopMetrics) FrameOverflow(int) {}
func (nopMetrics) RequestHandled(string, string, time.Duration) {}
func (nopMetrics) ProtocolError(int) {}
func (nopMetrics) MessageSent(string, int) {}
func (nopMetrics) WriteFailed() {}
