package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qri-io/jsonschema"
)

// RequestID identifies a request and correlates it with exactly one response. The protocol
// allows the id to be either a string or a number, so RequestID keeps the raw JSON token the
// client sent and echoes it back unchanged. The zero value means "no id".
type RequestID struct {
	raw string
}

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP protocol.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
//
// A non-nil ID holding the zero RequestID encodes as "id":null, which is how errors that cannot
// be attributed to a request are addressed.
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID *RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
// It follows the standard error object format defined in the JSON-RPC 2.0 specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents server capabilities.
type ServerCapabilities struct {
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Tools     *ToolsCapability     `json:"tools,omitempty"`
}

// ClientCapabilities represents client capabilities. The device never calls back into the
// client, so the content is only logged.
type ClientCapabilities struct {
	Roots    json.RawMessage `json:"roots,omitempty"`
	Sampling json.RawMessage `json:"sampling,omitempty"`
}

// ResourcesCapability represents resources-specific capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// Tool defines a callable capability of the device. Handler is invoked for tools/call and is
// never serialized; everything else is what tools/list advertises.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema InputSchema      `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`

	Handler ToolHandler `json:"-"`

	validator *jsonschema.Schema
}

// InputSchema is the structural description of the arguments a tool accepts.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Property describes a single tool argument.
type Property struct {
	Type        PropertyType `json:"type"`
	Description string       `json:"description,omitempty"`
	Enum        []any        `json:"enum,omitempty"`
}

// PropertyType is the primitive JSON type of a tool argument.
type PropertyType string

// ToolAnnotations are advisory hints about a tool's behavior. Clients must not rely on them
// for anything security related.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    *bool  `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// Resource represents a readable value of the device, keyed by URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        *int64 `json:"size,omitempty"`

	Handler ResourceHandler `json:"-"`
}

// Content represents a tool call content item.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

// ContentType represents the type of content in messages.
type ContentType string

// ResourceContents is the content returned for a resources/read request.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation.
// IsError indicates whether the operation failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// ReadResourceParams contains parameters for retrieving a specific resource.
type ReadResourceParams struct {
	// URI is the unique identifier of the resource to retrieve.
	URI string `json:"uri"`
}

// ReadResourceResult represents the result of a read resource request. IsError is only
// present when the resource handler failed.
type ReadResourceResult struct {
	Content []ResourceContents `json:"content"`
	IsError bool               `json:"isError,omitempty"`
}

// ListToolsResult is the result of a tools/list request.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListResourcesResult is the result of a resources/list request.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// InitializeParams is sent by the client as the first request of a session.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the server answer to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type notificationsCancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason"`
}

// ContentType represents the type of content in messages.
const (
	ContentTypeText ContentType = "text"
)

// PropertyType values accepted in an InputSchema.
const (
	PropertyTypeString  PropertyType = "string"
	PropertyTypeNumber  PropertyType = "number"
	PropertyTypeInteger PropertyType = "integer"
	PropertyTypeBoolean PropertyType = "boolean"
	PropertyTypeObject  PropertyType = "object"
	PropertyTypeArray   PropertyType = "array"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// LatestProtocolVersion is the newest MCP revision the server speaks.
	LatestProtocolVersion = "2025-03-26"

	// MethodInitialize is the method name of the session handshake.
	MethodInitialize = "initialize"
	// MethodPing is the method name for liveness checks.
	MethodPing = "ping"

	// MethodResourcesList is the method name for listing available resources.
	MethodResourcesList = "resources/list"
	// MethodResourcesRead is the method name for reading the content of a specific resource.
	MethodResourcesRead = "resources/read"

	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// MethodNotificationsInitialized is sent by the client once it processed the initialize result.
	MethodNotificationsInitialized = "notifications/initialized"
	// MethodNotificationsCancelled is sent by the client to abandon an in-flight request.
	MethodNotificationsCancelled = "notifications/cancelled"
	// MethodNotificationsToolsListChanged tells the client to refetch tools/list.
	MethodNotificationsToolsListChanged = "notifications/tools/list_changed"
	// MethodNotificationsResourcesListChanged tells the client to refetch resources/list.
	MethodNotificationsResourcesListChanged = "notifications/resources/list_changed"

	notificationsPrefix = "notifications/"

	// Standard JSON-RPC error codes.
	JSONRPCParseErrorCode     = -32700
	JSONRPCInvalidRequestCode = -32600
	JSONRPCMethodNotFoundCode = -32601
	JSONRPCInvalidParamsCode  = -32602
	JSONRPCInternalErrorCode  = -32603
)

// SupportedProtocolVersions lists the MCP revisions accepted during initialize, newest first.
var SupportedProtocolVersions = []string{LatestProtocolVersion, "2024-11-05"}

var errInvalidRequestID = errors.New("request id must be a string or a number")

// StringID builds a RequestID from a string id.
func StringID(id string) RequestID {
	bs, _ := json.Marshal(id)
	return RequestID{raw: string(bs)}
}

// NumberID builds a RequestID from a numeric id.
func NumberID(id int64) RequestID {
	return RequestID{raw: fmt.Sprintf("%d", id)}
}

// IsZero reports whether the id is absent.
func (r RequestID) IsZero() bool {
	return r.raw == ""
}

// String returns the id as it appears on the wire, or "null" for the zero value.
func (r RequestID) String() string {
	if r.raw == "" {
		return "null"
	}
	return r.raw
}

// UnmarshalJSON implements json.Unmarshaler. Only JSON strings and numbers are accepted;
// the token is kept verbatim so the response can echo it exactly.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errInvalidRequestID
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
	default:
		return errInvalidRequestID
	}
	r.raw = string(data)
	return nil
}

// MarshalJSON implements json.Marshaler, writing the original token back.
func (r RequestID) MarshalJSON() ([]byte, error) {
	if r.raw == "" {
		return []byte("null"), nil
	}
	return []byte(r.raw), nil
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
