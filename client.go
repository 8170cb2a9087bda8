package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is a minimal host side MCP client for talking to a device over a byte stream. It is
// meant for diagnostics and tests: requests are sent one at a time and each call waits for the
// matching response. Notifications received while waiting are passed to the notification
// handler, if any.
type Client struct {
	info   Info
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	readTimeout    time.Duration
	onNotification func(method string, params json.RawMessage)

	nextID    atomic.Int64
	requestMu sync.Mutex
	writeMu   sync.Mutex
	readOnce  sync.Once
	lines     chan clientLine

	serverInfo         Info
	serverCapabilities ServerCapabilities
	protocolVersion    string
	instructions       string
}

type clientLine struct {
	line []byte
	err  error
}

const userCancelledReason = "User requested cancellation"

var (
	defaultClientReadTimeout = 5 * time.Second

	// ErrRequestTimeout is returned when the device did not answer within the read timeout.
	ErrRequestTimeout = errors.New("request timeout")
)

// WithClientReadTimeout sets how long a request waits for its response.
func WithClientReadTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = timeout
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "go-mcp-device"),
			slog.String("component", "client"),
		)
	}
}

// WithNotificationHandler sets the function called for every notification the device sends.
func WithNotificationHandler(handler func(method string, params json.RawMessage)) ClientOption {
	return func(c *Client) {
		c.onNotification = handler
	}
}

// NewClient creates a client that writes requests to writer and reads the device output from
// reader.
func NewClient(info Info, reader io.Reader, writer io.Writer, options ...ClientOption) *Client {
	c := &Client{
		info:        info,
		reader:      reader,
		writer:      writer,
		logger:      slog.Default(),
		readTimeout: defaultClientReadTimeout,
		lines:       make(chan clientLine, 16),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Initialize performs the session handshake and sends notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		ClientInfo:      c.info,
	}

	var result InitializeResult
	if err := c.sendRequest(ctx, MethodInitialize, params, &result); err != nil {
		return InitializeResult{}, fmt.Errorf("failed to initialize: %w", err)
	}

	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.protocolVersion = result.ProtocolVersion
	c.instructions = result.Instructions

	if err := c.sendNotification(MethodNotificationsInitialized, nil); err != nil {
		return InitializeResult{}, err
	}
	return result, nil
}

// Ping checks that the device answers.
func (c *Client) Ping(ctx context.Context) error {
	var result json.RawMessage
	return c.sendRequest(ctx, MethodPing, nil, &result)
}

// ListTools retrieves the tools of the device.
func (c *Client) ListTools(ctx context.Context) (ListToolsResult, error) {
	var result ListToolsResult
	if err := c.sendRequest(ctx, MethodToolsList, nil, &result); err != nil {
		return ListToolsResult{}, fmt.Errorf("failed to list tools: %w", err)
	}
	return result, nil
}

// CallTool invokes the named tool. A tool failure is not an error: it is reported through
// CallToolResult.IsError.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (CallToolResult, error) {
	var rawArgs json.RawMessage
	if arguments != nil {
		bs, err := json.Marshal(arguments)
		if err != nil {
			return CallToolResult{}, fmt.Errorf("failed to marshal arguments: %w", err)
		}
		rawArgs = bs
	}

	var result CallToolResult
	err := c.sendRequest(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: rawArgs}, &result)
	if err != nil {
		return CallToolResult{}, fmt.Errorf("failed to call tool %s: %w", name, err)
	}
	return result, nil
}

// ListResources retrieves the resources of the device.
func (c *Client) ListResources(ctx context.Context) (ListResourcesResult, error) {
	var result ListResourcesResult
	if err := c.sendRequest(ctx, MethodResourcesList, nil, &result); err != nil {
		return ListResourcesResult{}, fmt.Errorf("failed to list resources: %w", err)
	}
	return result, nil
}

// ReadResource reads the resource at uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (ReadResourceResult, error) {
	var result ReadResourceResult
	if err := c.sendRequest(ctx, MethodResourcesRead, ReadResourceParams{URI: uri}, &result); err != nil {
		return ReadResourceResult{}, fmt.Errorf("failed to read resource %s: %w", uri, err)
	}
	return result, nil
}

// ServerInfo returns the server information received on Initialize.
func (c *Client) ServerInfo() Info {
	return c.serverInfo
}

// ServerCapabilities returns the capabilities received on Initialize.
func (c *Client) ServerCapabilities() ServerCapabilities {
	return c.serverCapabilities
}

// ProtocolVersion returns the protocol version negotiated on Initialize.
func (c *Client) ProtocolVersion() string {
	return c.protocolVersion
}

// Instructions returns the instructions received on Initialize.
func (c *Client) Instructions() string {
	return c.instructions
}

func (c *Client) sendRequest(ctx context.Context, method string, params any, result any) error {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	c.readOnce.Do(func() { go c.readLines() })

	id := NumberID(c.nextID.Add(1))
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}
	if err := c.write(msg); err != nil {
		return err
	}

	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()

	for {
		var cl clientLine
		select {
		case <-timer.C:
			return ErrRequestTimeout
		case <-ctx.Done():
			err := ctx.Err()
			if errors.Is(err, context.Canceled) {
				nErr := c.sendNotification(MethodNotificationsCancelled, notificationsCancelledParams{
					RequestID: id,
					Reason:    userCancelledReason,
				})
				if nErr != nil {
					err = fmt.Errorf("%w: failed to send notification: %w", err, nErr)
				}
			}
			return err
		case cl = <-c.lines:
		}

		if cl.err != nil {
			return fmt.Errorf("failed to read response: %w", cl.err)
		}

		var res JSONRPCMessage
		if err := json.Unmarshal(cl.line, &res); err != nil {
			c.logger.Warn("failed to unmarshal message", slog.String("line", string(cl.line)))
			continue
		}
		if res.ID == nil {
			if res.Method != "" && c.onNotification != nil {
				c.onNotification(res.Method, res.Params)
			}
			continue
		}
		if res.ID.String() != id.String() {
			c.logger.Warn("dropping response for another request", slog.String("id", res.ID.String()))
			continue
		}

		if res.Error != nil {
			return *res.Error
		}
		if err := json.Unmarshal(res.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
		return nil
	}
}

func (c *Client) sendNotification(method string, params any) error {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}
	if err := c.write(msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (c *Client) write(msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msgBs = append(msgBs, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(msgBs); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Client) readLines() {
	reader := bufio.NewReader(c.reader)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			line = line[:len(line)-1]
			if len(line) == 0 {
				continue
			}
			c.lines <- clientLine{line: line}
			continue
		}
		if err != nil {
			c.lines <- clientLine{err: err}
			return
		}
	}
}
