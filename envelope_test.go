package mcp_test

import (
	"errors"
	"testing"

	"github.com/MegaGrindStone/go-mcp-device"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantMethod   string
		wantID       string
		wantNotif    bool
		wantParams   string
		wantCode     int
		wantErrID    string
		wantResponse bool
	}{
		{
			name:       "request with numeric id",
			input:      `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			wantMethod: "tools/list",
			wantID:     "1",
		},
		{
			name:       "request with string id and params",
			input:      `{"jsonrpc":"2.0","id":"a-1","method":"tools/call","params":{"name":"x"}}`,
			wantMethod: "tools/call",
			wantID:     `"a-1"`,
			wantParams: `{"name":"x"}`,
		},
		{
			name:       "notification",
			input:      `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			wantMethod: "notifications/initialized",
			wantID:     "null",
			wantNotif:  true,
		},
		{
			name:       "null params are absent params",
			input:      `{"jsonrpc":"2.0","id":2,"method":"ping","params":null}`,
			wantMethod: "ping",
			wantID:     "2",
		},
		{
			name:       "array params",
			input:      `{"jsonrpc":"2.0","id":2,"method":"ping","params":[1,2]}`,
			wantMethod: "ping",
			wantID:     "2",
			wantParams: `[1,2]`,
		},
		{
			name:     "not json",
			input:    `{"jsonrpc":"2.0",`,
			wantCode: mcp.JSONRPCParseErrorCode,
		},
		{
			name:     "not an object",
			input:    `[1,2,3]`,
			wantCode: mcp.JSONRPCInvalidRequestCode,
		},
		{
			name:     "boolean id",
			input:    `{"jsonrpc":"2.0","id":true,"method":"ping"}`,
			wantCode: mcp.JSONRPCInvalidRequestCode,
		},
		{
			name:     "object id",
			input:    `{"jsonrpc":"2.0","id":{"n":1},"method":"ping"}`,
			wantCode: mcp.JSONRPCInvalidRequestCode,
		},
		{
			name:     "null id",
			input:    `{"jsonrpc":"2.0","id":null,"method":"ping"}`,
			wantCode: mcp.JSONRPCInvalidRequestCode,
		},
		{
			name:      "wrong version keeps id",
			input:     `{"jsonrpc":"1.0","id":5,"method":"ping"}`,
			wantCode:  mcp.JSONRPCInvalidRequestCode,
			wantErrID: "5",
		},
		{
			name:      "missing version keeps id",
			input:     `{"id":"x","method":"ping"}`,
			wantCode:  mcp.JSONRPCInvalidRequestCode,
			wantErrID: `"x"`,
		},
		{
			name:      "missing method keeps id",
			input:     `{"jsonrpc":"2.0","id":6}`,
			wantCode:  mcp.JSONRPCInvalidRequestCode,
			wantErrID: "6",
		},
		{
			name:      "empty method",
			input:     `{"jsonrpc":"2.0","id":7,"method":""}`,
			wantCode:  mcp.JSONRPCInvalidRequestCode,
			wantErrID: "7",
		},
		{
			name:      "non string method",
			input:     `{"jsonrpc":"2.0","id":8,"method":42}`,
			wantCode:  mcp.JSONRPCInvalidRequestCode,
			wantErrID: "8",
		},
		{
			name:      "scalar params",
			input:     `{"jsonrpc":"2.0","id":9,"method":"ping","params":"x"}`,
			wantCode:  mcp.JSONRPCInvalidRequestCode,
			wantErrID: "9",
		},
		{
			name:         "client response",
			input:        `{"jsonrpc":"2.0","id":10,"result":{}}`,
			wantResponse: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := mcp.ParseEnvelope([]byte(tt.input))

			if tt.wantResponse {
				if !errors.Is(err, mcp.ErrUnexpectedResponse) {
					t.Fatalf("ParseEnvelope() error = %v, want ErrUnexpectedResponse", err)
				}
				return
			}

			if tt.wantCode != 0 {
				var envErr *mcp.EnvelopeError
				if !errors.As(err, &envErr) {
					t.Fatalf("ParseEnvelope() error = %v, want *EnvelopeError", err)
				}
				if envErr.Err.Code != tt.wantCode {
					t.Errorf("code = %d, want %d", envErr.Err.Code, tt.wantCode)
				}
				wantErrID := tt.wantErrID
				if wantErrID == "" {
					wantErrID = "null"
				}
				if envErr.ID.String() != wantErrID {
					t.Errorf("error id = %s, want %s", envErr.ID, wantErrID)
				}
				if tt.wantCode == mcp.JSONRPCInvalidRequestCode && envErr.Err.Message != "Invalid JSON-RPC envelope" {
					t.Errorf("message = %q", envErr.Err.Message)
				}
				var rpcErr mcp.JSONRPCError
				if !errors.As(err, &rpcErr) {
					t.Errorf("error does not unwrap to JSONRPCError")
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseEnvelope() error = %v", err)
			}
			if env.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", env.Method, tt.wantMethod)
			}
			if env.ID.String() != tt.wantID {
				t.Errorf("ID = %s, want %s", env.ID, tt.wantID)
			}
			if env.IsNotification() != tt.wantNotif {
				t.Errorf("IsNotification() = %v, want %v", env.IsNotification(), tt.wantNotif)
			}
			if string(env.Params) != tt.wantParams {
				t.Errorf("Params = %s, want %s", env.Params, tt.wantParams)
			}
		})
	}
}
