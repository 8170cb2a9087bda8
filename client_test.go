package mcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp-device"
)

// scriptedDevice answers each request line with the lines returned by respond.
type scriptedDevice struct {
	mu       sync.Mutex
	received []mcp.JSONRPCMessage
}

func (d *scriptedDevice) serve(r io.Reader, w io.Writer, respond func(mcp.JSONRPCMessage) []string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var msg mcp.JSONRPCMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		d.mu.Lock()
		d.received = append(d.received, msg)
		d.mu.Unlock()

		for _, line := range respond(msg) {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return
			}
		}
	}
}

func (d *scriptedDevice) methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var methods []string
	for _, msg := range d.received {
		methods = append(methods, msg.Method)
	}
	return methods
}

func newScriptedClient(
	t *testing.T,
	respond func(mcp.JSONRPCMessage) []string,
	options ...mcp.ClientOption,
) (*mcp.Client, *scriptedDevice) {
	t.Helper()
	toDeviceR, toDeviceW := io.Pipe()
	fromDeviceR, fromDeviceW := io.Pipe()

	device := &scriptedDevice{}
	go device.serve(toDeviceR, fromDeviceW, respond)
	t.Cleanup(func() {
		_ = toDeviceW.Close()
		_ = fromDeviceW.Close()
	})

	return mcp.NewClient(mcp.Info{Name: "test", Version: "1"}, fromDeviceR, toDeviceW, options...), device
}

func TestClientSkipsUnrelatedMessages(t *testing.T) {
	var notified []string
	client, _ := newScriptedClient(t, func(msg mcp.JSONRPCMessage) []string {
		return []string{
			`garbage`,
			`{"jsonrpc":"2.0","method":"notifications/resources/list_changed"}`,
			`{"jsonrpc":"2.0","id":999,"result":{}}`,
			`{"jsonrpc":"2.0","id":` + msg.ID.String() + `,"result":{"tools":[{"name":"t","description":"",` +
				`"inputSchema":{"type":"object","properties":{},"required":[]}}]}}`,
		}
	}, mcp.WithNotificationHandler(func(method string, _ json.RawMessage) {
		notified = append(notified, method)
	}))

	res, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "t" {
		t.Errorf("ListTools() = %+v", res)
	}
	if len(notified) != 1 || notified[0] != mcp.MethodNotificationsResourcesListChanged {
		t.Errorf("notifications = %v", notified)
	}
}

func TestClientErrorResponse(t *testing.T) {
	client, _ := newScriptedClient(t, func(msg mcp.JSONRPCMessage) []string {
		return []string{`{"jsonrpc":"2.0","id":` + msg.ID.String() +
			`,"error":{"code":-32601,"message":"Method not found: tools/list"}}`}
	})

	_, err := client.ListTools(context.Background())
	var rpcErr mcp.JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("ListTools() error = %v, want JSONRPCError", err)
	}
	if rpcErr.Code != mcp.JSONRPCMethodNotFoundCode {
		t.Errorf("code = %d, want %d", rpcErr.Code, mcp.JSONRPCMethodNotFoundCode)
	}
}

func TestClientTimeout(t *testing.T) {
	client, _ := newScriptedClient(t, func(mcp.JSONRPCMessage) []string { return nil },
		mcp.WithClientReadTimeout(20*time.Millisecond))

	if err := client.Ping(context.Background()); !errors.Is(err, mcp.ErrRequestTimeout) {
		t.Errorf("Ping() error = %v, want ErrRequestTimeout", err)
	}
}

func TestClientCancelSendsNotification(t *testing.T) {
	client, device := newScriptedClient(t, func(mcp.JSONRPCMessage) []string { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := client.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Ping() error = %v, want context.Canceled", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		methods := device.methods()
		if len(methods) == 2 {
			if methods[0] != mcp.MethodPing || methods[1] != mcp.MethodNotificationsCancelled {
				t.Errorf("methods = %v", methods)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Errorf("methods = %v, want ping and cancellation", device.methods())
}

func TestClientInitializeSendsInitialized(t *testing.T) {
	client, device := newScriptedClient(t, func(msg mcp.JSONRPCMessage) []string {
		if msg.Method != mcp.MethodInitialize {
			return nil
		}
		var params mcp.InitializeParams
		_ = json.Unmarshal(msg.Params, &params)
		return []string{`{"jsonrpc":"2.0","id":` + msg.ID.String() + `,"result":{"protocolVersion":"` +
			params.ProtocolVersion + `","capabilities":{"tools":{"listChanged":true}},` +
			`"serverInfo":{"name":"BBC micro:bit","version":"1.0.0"}}}`}
	})

	res, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if res.ServerInfo.Name != "BBC micro:bit" || client.ProtocolVersion() != mcp.LatestProtocolVersion {
		t.Errorf("Initialize() = %+v", res)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if methods := device.methods(); len(methods) == 2 {
			if strings.Join(methods, ",") != "initialize,notifications/initialized" {
				t.Errorf("methods = %v", methods)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Errorf("methods = %v", device.methods())
}
