package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is a validated JSON-RPC request or notification.
type Envelope struct {
	// ID is the request id. It is zero for notifications.
	ID     RequestID
	Method string
	Params json.RawMessage
}

// EnvelopeError reports a message that failed envelope validation. Err is the protocol error
// to answer with; ID is the request id when one could be recovered from the message.
type EnvelopeError struct {
	Err JSONRPCError
	ID  RequestID
}

// ErrUnexpectedResponse is returned by ParseEnvelope for a JSON-RPC response sent by the
// client. The device never issues requests, so such messages are dropped.
var ErrUnexpectedResponse = errors.New("unexpected response from client")

// IsNotification reports whether the envelope carries no id and must not be answered.
func (e Envelope) IsNotification() bool {
	return e.ID.IsZero()
}

// ParseEnvelope decodes one framed message and checks its JSON-RPC 2.0 shape. Failures are
// returned as *EnvelopeError, except client responses which yield ErrUnexpectedResponse.
//
// An EnvelopeError carries the request id only when the message has a string or numeric id.
// Ids that are null, booleans, arrays or objects are unrecoverable: the error has a zero ID
// and the server drops the message without answering. Invalid Request errors always use the
// message "Invalid JSON-RPC envelope" and put the reason in data.
func ParseEnvelope(line []byte) (Envelope, error) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		return Envelope{}, &EnvelopeError{Err: JSONRPCError{
			Code:    JSONRPCParseErrorCode,
			Message: "Parse error",
		}}
	}
	if len(line) == 0 || line[0] != '{' {
		return Envelope{}, invalidRequest(RequestID{}, "message is not an object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Envelope{}, invalidRequest(RequestID{}, "message is not an object")
	}

	var env Envelope
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &env.ID); err != nil || env.ID.IsZero() {
			return Envelope{}, invalidRequest(RequestID{}, "id must be a string or a number")
		}
	}

	var version string
	if raw, ok := fields["jsonrpc"]; !ok || json.Unmarshal(raw, &version) != nil || version != JSONRPCVersion {
		return Envelope{}, invalidRequest(env.ID, fmt.Sprintf("jsonrpc must be %q", JSONRPCVersion))
	}

	rawMethod, hasMethod := fields["method"]
	if !hasMethod {
		_, hasResult := fields["result"]
		_, hasError := fields["error"]
		if !env.ID.IsZero() && (hasResult || hasError) {
			return Envelope{}, ErrUnexpectedResponse
		}
		return Envelope{}, invalidRequest(env.ID, "method is required")
	}
	if json.Unmarshal(rawMethod, &env.Method) != nil || env.Method == "" {
		return Envelope{}, invalidRequest(env.ID, "method must be a non-empty string")
	}

	if raw, ok := fields["params"]; ok {
		raw = bytes.TrimSpace(raw)
		switch raw[0] {
		case '{', '[':
			env.Params = raw
		case 'n':
			// null params are the same as absent params
		default:
			return Envelope{}, invalidRequest(env.ID, "params must be an object or an array")
		}
	}

	return env, nil
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("invalid envelope: %s", e.Err.Error())
}

// Unwrap returns the protocol error.
func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

func invalidRequest(id RequestID, reason string) *EnvelopeError {
	return &EnvelopeError{
		Err: JSONRPCError{
			Code:    JSONRPCInvalidRequestCode,
			Message: "Invalid JSON-RPC envelope",
			Data:    map[string]any{"reason": reason},
		},
		ID: id,
	}
}
