package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server is the device side of a Model Context Protocol session carried over a byte link.
//
// It frames the incoming bytes into messages, validates each JSON-RPC envelope, routes requests
// to the tools and resources of its Registry and writes one response per request. Everything
// happens on a single cooperative loop: PollOnce performs one step and Run drives PollOnce at
// a fixed cadence. A request is fully answered before the next message is inspected, so
// responses follow the order of arrival.
//
// Registry changes made while the server is started are announced to the client with
// list_changed notifications, which are written only between two dispatches.
type Server struct {
	info         Info
	instructions string
	transport    Transport
	registry     *Registry
	framer       *Framer

	unknownMethodPolicy UnknownMethodPolicy
	parseErrorPolicy    ParseErrorPolicy
	validateArguments   bool
	pollInterval        time.Duration
	bufferSize          int

	logger  *slog.Logger
	metrics Metrics

	started atomic.Bool
	running atomic.Bool

	// mu guards the session state and the deferred registry operations.
	mu          sync.Mutex
	sessionID   string
	clientInfo  Info
	clientReady bool
	dispatching bool
	deferred    []func(*Registry) error

	notifyMu sync.Mutex
	pending  []ListKind

	ops chan func(*Registry) error
}

// UnknownMethodPolicy selects how requests for unknown methods are answered.
type UnknownMethodPolicy int

// ParseErrorPolicy selects how messages that are not valid JSON are answered.
type ParseErrorPolicy int

const (
	// ReplyMethodNotFound answers unknown methods with a -32601 error. This is the default.
	ReplyMethodNotFound UnknownMethodPolicy = iota
	// IgnoreUnknownMethod drops requests for unknown methods without an answer.
	IgnoreUnknownMethod
)

const (
	// DropParseError drops messages that are not valid JSON. Since no id can be recovered from
	// such a message there is nobody to address an answer to. This is the default.
	DropParseError ParseErrorPolicy = iota
	// ReplyParseError answers messages that are not valid JSON with a -32700 error whose id is null.
	ReplyParseError
)

const (
	// DefaultPollInterval is the cadence Run polls the transport at.
	DefaultPollInterval = 10 * time.Millisecond

	defaultEnqueueDepth = 32
)

var (
	// ErrNotStarted is returned by PollOnce before Start was called.
	ErrNotStarted = errors.New("server not started")
	// ErrAlreadyRunning is returned by Run when another Run is active on the same server.
	ErrAlreadyRunning = errors.New("server already running")

	errTransportRead = errors.New("failed to read from transport")
	errIgnored       = errors.New("message ignored")
)

// NewServer creates a device server that speaks over transport. Without WithRegistry the server
// owns a fresh Registry, available through Registry.
func NewServer(info Info, transport Transport, options ...ServerOption) *Server {
	s := &Server{
		info:         info,
		transport:    transport,
		logger:       slog.Default(),
		metrics:      nopMetrics{},
		pollInterval: DefaultPollInterval,
		bufferSize:   DefaultFrameCapacity,
		ops:          make(chan func(*Registry) error, defaultEnqueueDepth),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}

	s.framer = NewFramer(s.bufferSize)
	s.framer.OnOverflow(s.onOverflow)
	s.registry.setOnChange(s.onRegistryChange)

	return s
}

// WithRegistry makes the server serve the given registry instead of creating its own.
// A registry must not be shared between servers.
func WithRegistry(registry *Registry) ServerOption {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithInstructions sets the instructions returned to the client on initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-device"),
			slog.String("component", "server"),
		)
	}
}

// WithServerMetrics sets the metrics sink of the server.
func WithServerMetrics(metrics Metrics) ServerOption {
	return func(s *Server) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithUnknownMethodPolicy sets how requests for unknown methods are answered.
func WithUnknownMethodPolicy(policy UnknownMethodPolicy) ServerOption {
	return func(s *Server) {
		s.unknownMethodPolicy = policy
	}
}

// WithParseErrorPolicy sets how messages that are not valid JSON are answered.
func WithParseErrorPolicy(policy ParseErrorPolicy) ServerOption {
	return func(s *Server) {
		s.parseErrorPolicy = policy
	}
}

// WithServerArgumentValidation makes tools/call check the arguments against the tool input
// schema before the handler runs. Mismatches are reported as tool errors.
func WithServerArgumentValidation() ServerOption {
	return func(s *Server) {
		s.validateArguments = true
	}
}

// WithPollInterval sets the cadence Run polls the transport at.
func WithPollInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pollInterval = interval
	}
}

// WithBufferSize sets the largest message, in bytes, the server accepts. Longer lines are
// dropped.
func WithBufferSize(size int) ServerOption {
	return func(s *Server) {
		s.bufferSize = size
	}
}

// Registry returns the registry served by s.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Started reports whether Start was called.
func (s *Server) Started() bool {
	return s.started.Load()
}

// SessionID returns the id generated by Start, or an empty string before that.
func (s *Server) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// ClientInfo returns the client information received on initialize.
func (s *Server) ClientInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// ClientReady reports whether the client sent notifications/initialized.
func (s *Server) ClientReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientReady
}

// Start moves the server from not started to started. Only a started server reads from the
// transport and announces registry changes. Start is idempotent; it reports whether this call
// performed the transition.
func (s *Server) Start() bool {
	s.mu.Lock()
	if s.started.Load() {
		s.mu.Unlock()
		return false
	}
	s.sessionID = uuid.New().String()
	s.logger = s.logger.With(slog.String("sessionID", s.sessionID))
	s.started.Store(true)
	s.mu.Unlock()

	tools, resources := s.registry.Len()
	s.logger.Info("server started",
		slog.String("name", s.info.Name),
		slog.String("version", s.info.Version),
		slog.Int("tools", tools),
		slog.Int("resources", resources),
		slog.String("bufferSize", humanize.IBytes(uint64(s.framer.Capacity()))),
	)
	return true
}

// Run starts the server and polls the transport every poll interval until ctx is done or the
// transport is closed. Write failures are logged and do not stop the loop. Run returns nil
// when the peer closed the link, ctx.Err() when ctx is done, and the read error otherwise.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.Start()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.PollOnce(ctx); err != nil {
			if errors.Is(err, errTransportRead) {
				if errors.Is(err, io.EOF) || errors.Is(err, ErrTransportClosed) {
					s.logger.Info("transport closed")
					return nil
				}
				return err
			}
			s.logger.Warn("poll failed", slog.String("err", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce performs one step of the server loop: it applies queued registry operations, flushes
// pending notifications, reads what the transport has available and answers every complete
// message. It never blocks on the transport. Transport failures of this step are returned
// joined together.
func (s *Server) PollOnce(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	var errs []error

	s.applyQueued()
	if err := s.flushNotifications(); err != nil {
		errs = append(errs, err)
	}

	data, readErr := s.transport.ReadAvailable()
	if len(data) > 0 {
		_, _ = s.framer.Write(data)
	}

	for frame := range s.framer.Messages() {
		if err := s.handleFrame(ctx, frame); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if readErr != nil {
		errs = append(errs, fmt.Errorf("%w: %w", errTransportRead, readErr))
	}
	return errors.Join(errs...)
}

// Enqueue schedules op to run against the registry at the start of the next poll. It is the
// way for goroutines other than the loop to change the registry. Errors returned by op are
// logged. While a message is being dispatched op is deferred until the response has been
// written instead, so a handler calling Enqueue never blocks on a full queue.
func (s *Server) Enqueue(ctx context.Context, op func(*Registry) error) error {
	s.mu.Lock()
	if s.dispatching {
		s.deferred = append(s.deferred, op)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.ops <- op:
		return nil
	}
}

// UpsertTool registers tool in the server registry. Called from a handler, the registration
// is deferred until the current response has been written.
func (s *Server) UpsertTool(tool Tool) error {
	if err := validateTool(tool); err != nil {
		return err
	}
	return s.mutate(func(r *Registry) error { return r.UpsertTool(tool) })
}

// UpsertResource registers resource in the server registry. Called from a handler, the
// registration is deferred until the current response has been written.
func (s *Server) UpsertResource(resource Resource) error {
	if err := validateResource(resource); err != nil {
		return err
	}
	return s.mutate(func(r *Registry) error { return r.UpsertResource(resource) })
}

func (s *Server) mutate(op func(*Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatching {
		s.deferred = append(s.deferred, op)
		return nil
	}
	return op(s.registry)
}

func (s *Server) applyQueued() {
	for {
		select {
		case op := <-s.ops:
			s.mu.Lock()
			err := op(s.registry)
			s.mu.Unlock()
			if err != nil {
				s.logger.Error("failed to apply registry operation", slog.String("err", err.Error()))
			}
		default:
			return
		}
	}
}

func (s *Server) applyDeferred() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := s.deferred
	s.deferred = nil
	for _, op := range ops {
		if err := op(s.registry); err != nil {
			s.logger.Error("failed to apply deferred registry operation", slog.String("err", err.Error()))
		}
	}
}

func (s *Server) onRegistryChange(kind ListKind) {
	if !s.started.Load() {
		return
	}
	s.queueNotification(kind)
}

func (s *Server) queueNotification(kind ListKind) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if !slices.Contains(s.pending, kind) {
		s.pending = append(s.pending, kind)
	}
}

func (s *Server) onOverflow(discarded int) {
	s.metrics.FrameOverflow(discarded)
	s.logger.Warn("message exceeds buffer capacity, dropped",
		slog.String("discarded", humanize.IBytes(uint64(discarded))),
		slog.String("capacity", humanize.IBytes(uint64(s.framer.Capacity()))),
	)
}

func (s *Server) handleFrame(ctx context.Context, frame []byte) error {
	s.metrics.FrameReceived(len(frame))

	env, err := ParseEnvelope(frame)
	if err != nil {
		return s.handleEnvelopeError(frame, err)
	}
	return s.dispatch(ctx, env)
}

func (s *Server) handleEnvelopeError(frame []byte, err error) error {
	if errors.Is(err, ErrUnexpectedResponse) {
		s.logger.Debug("dropping response sent by client", slog.String("message", string(frame)))
		return nil
	}

	var envErr *EnvelopeError
	if !errors.As(err, &envErr) {
		s.logger.Error("failed to parse message", slog.String("err", err.Error()))
		return nil
	}
	s.metrics.ProtocolError(envErr.Err.Code)

	id := envErr.ID
	reply := !id.IsZero()
	if envErr.Err.Code == JSONRPCParseErrorCode {
		reply = s.parseErrorPolicy == ReplyParseError
	}
	if !reply {
		s.logger.Info("dropping invalid message",
			slog.Int("code", envErr.Err.Code),
			slog.String("size", humanize.IBytes(uint64(len(frame)))),
		)
		return nil
	}

	s.logger.Info("invalid message", slog.Int("code", envErr.Err.Code), slog.String("id", id.String()))
	errObj := envErr.Err
	return s.send(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Error:   &errObj,
	}, "response")
}

func (s *Server) dispatch(ctx context.Context, env Envelope) error {
	start := time.Now()

	s.mu.Lock()
	s.dispatching = true
	s.mu.Unlock()

	result, err := s.route(ctx, env)

	s.mu.Lock()
	s.dispatching = false
	s.mu.Unlock()

	outcome := OutcomeOK
	var errs []error

	switch {
	case errors.Is(err, errIgnored):
		outcome = OutcomeIgnored
	case env.IsNotification() || strings.HasPrefix(env.Method, notificationsPrefix):
		// Notifications are never answered, whatever their outcome.
		if err != nil {
			outcome = OutcomeError
			s.logger.Info("failed to handle notification",
				slog.String("method", env.Method),
				slog.String("err", err.Error()))
		}
	default:
		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      &env.ID,
		}
		if err == nil {
			msg.Result, err = json.Marshal(result)
			if err != nil {
				err = JSONRPCError{
					Code:    JSONRPCInternalErrorCode,
					Message: fmt.Errorf("failed to marshal result: %w", err).Error(),
				}
			}
		}
		if err != nil {
			jsonErr := JSONRPCError{}
			if !errors.As(err, &jsonErr) {
				jsonErr = JSONRPCError{Code: JSONRPCInternalErrorCode, Message: err.Error()}
			}
			s.logger.Error("failed to handle request",
				slog.String("method", env.Method),
				slog.String("id", env.ID.String()),
				slog.String("err", jsonErr.Error()))
			msg.Result = nil
			msg.Error = &jsonErr
			outcome = OutcomeError
		} else if isToolError(result) {
			outcome = OutcomeToolError
		}
		if sendErr := s.send(msg, "response"); sendErr != nil {
			errs = append(errs, sendErr)
		}
	}

	elapsed := time.Since(start)
	s.metrics.RequestHandled(env.Method, outcome, elapsed)
	s.logger.Debug("dispatched",
		slog.String("method", env.Method),
		slog.String("id", env.ID.String()),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
	)

	s.applyDeferred()
	if err := s.flushNotifications(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) route(ctx context.Context, env Envelope) (any, error) {
	switch env.Method {
	case MethodInitialize:
		return s.handleInitialize(env)
	case MethodPing:
		return struct{}{}, nil
	case MethodNotificationsInitialized:
		s.handleInitialized()
		return nil, nil
	case MethodNotificationsCancelled:
		s.handleCancelled(env)
		return nil, nil
	case MethodToolsList:
		return ListToolsResult{Tools: s.registry.Tools()}, nil
	case MethodToolsCall:
		return s.callTool(ctx, env)
	case MethodResourcesList:
		return ListResourcesResult{Resources: s.registry.Resources()}, nil
	case MethodResourcesRead:
		return s.readResource(ctx, env)
	}

	if strings.HasPrefix(env.Method, notificationsPrefix) {
		s.logger.Debug("ignoring notification", slog.String("method", env.Method))
		return nil, errIgnored
	}
	if s.unknownMethodPolicy == IgnoreUnknownMethod || env.IsNotification() {
		s.logger.Info("ignoring unknown method", slog.String("method", env.Method))
		return nil, errIgnored
	}
	return nil, JSONRPCError{
		Code:    JSONRPCMethodNotFoundCode,
		Message: fmt.Sprintf("Method not found: %s", env.Method),
	}
}

func (s *Server) handleInitialize(env Envelope) (InitializeResult, error) {
	var params InitializeParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return InitializeResult{}, JSONRPCError{
				Code:    JSONRPCInvalidParamsCode,
				Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
			}
		}
	}

	version := LatestProtocolVersion
	if slices.Contains(SupportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	s.mu.Lock()
	s.clientInfo = params.ClientInfo
	s.mu.Unlock()

	s.logger.Info("client initializing",
		slog.String("clientName", params.ClientInfo.Name),
		slog.String("clientVersion", params.ClientInfo.Version),
		slog.String("requestedVersion", params.ProtocolVersion),
		slog.String("protocolVersion", version),
	)

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{ListChanged: true},
			Resources: &ResourcesCapability{Subscribe: false, ListChanged: true},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handleInitialized() {
	s.mu.Lock()
	s.clientReady = true
	s.mu.Unlock()

	s.queueNotification(ListTools)
	if _, resources := s.registry.Len(); resources > 0 {
		s.queueNotification(ListResources)
	}
}

func (s *Server) handleCancelled(env Envelope) {
	var params notificationsCancelledParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			s.logger.Debug("failed to unmarshal cancel params", slog.String("err", err.Error()))
		}
	}
	// Requests are answered before the next message is read, so there is nothing in flight.
	s.logger.Debug("cancellation received",
		slog.String("requestID", params.RequestID.String()),
		slog.String("reason", params.Reason),
	)
}

func (s *Server) callTool(ctx context.Context, env Envelope) (CallToolResult, error) {
	if len(env.Params) == 0 {
		return toolError("missing params"), nil
	}

	var params CallToolParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	args, err := decodeArguments(params.Arguments)
	if err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal arguments: %w", err).Error(),
		}
	}

	tool, ok := s.registry.FindTool(params.Name)
	if !ok {
		return toolError(fmt.Sprintf("tool not found: %s", params.Name)), nil
	}

	if s.validateArguments {
		if err := tool.ValidateArguments(ctx, args); err != nil {
			return toolError(err.Error()), nil
		}
	}

	value, err := invokeTool(ctx, tool, args)
	if err != nil {
		s.logger.Info("tool failed", slog.String("tool", tool.Name), slog.String("err", err.Error()))
		return toolError(err.Error()), nil
	}

	return CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: value.String()}},
		IsError: false,
	}, nil
}

func (s *Server) readResource(ctx context.Context, env Envelope) (ReadResourceResult, error) {
	if len(env.Params) == 0 {
		return resourceError("", "missing params"), nil
	}

	var params ReadResourceParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	resource, ok := s.registry.FindResource(params.URI)
	if !ok {
		return resourceError(params.URI, fmt.Sprintf("resource not found: %s", params.URI)), nil
	}

	value, err := invokeResource(ctx, resource)
	if err != nil {
		s.logger.Info("resource failed", slog.String("uri", resource.URI), slog.String("err", err.Error()))
		return resourceError(params.URI, err.Error()), nil
	}

	return ReadResourceResult{
		Content: []ResourceContents{{
			URI:      params.URI,
			MimeType: resource.MimeType,
			Text:     value.String(),
		}},
	}, nil
}

func (s *Server) flushNotifications() error {
	s.notifyMu.Lock()
	pending := s.pending
	s.pending = nil
	s.notifyMu.Unlock()

	var errs []error
	for _, kind := range pending {
		method := MethodNotificationsToolsListChanged
		if kind == ListResources {
			method = MethodNotificationsResourcesListChanged
		}
		if err := s.send(JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: method}, "notification"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) send(msg JSONRPCMessage, kind string) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	if err := s.transport.Write(msgBs); err != nil {
		s.metrics.WriteFailed()
		s.logger.Error("failed to write message",
			slog.String("kind", kind),
			slog.String("err", err.Error()))
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	s.metrics.MessageSent(kind, len(msgBs))
	return nil
}

func invokeTool(ctx context.Context, tool Tool, args Arguments) (value Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()

	value, err = tool.Handler(ctx, args)
	if err == nil && value.IsZero() {
		err = ErrNoValue
	}
	return value, err
}

func invokeResource(ctx context.Context, resource Resource) (value Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resource %s panicked: %v", resource.URI, r)
		}
	}()

	value, err = resource.Handler(ctx)
	if err == nil && value.IsZero() {
		err = ErrNoValue
	}
	return value, err
}

func decodeArguments(raw json.RawMessage) (Arguments, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Arguments{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args Arguments
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	if args == nil {
		args = Arguments{}
	}
	return args, nil
}

func toolError(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: text}},
		IsError: true,
	}
}

func resourceError(uri, text string) ReadResourceResult {
	return ReadResourceResult{
		Content: []ResourceContents{{URI: uri, Text: text}},
		IsError: true,
	}
}

func isToolError(result any) bool {
	switch r := result.(type) {
	case CallToolResult:
		return r.IsError
	case ReadResourceResult:
		return r.IsError
	default:
		return false
	}
}
