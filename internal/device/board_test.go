package device_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/go-mcp-device"
	"github.com/MegaGrindStone/go-mcp-device/internal/device"
)

func registeredBoard(t *testing.T, options ...device.Option) (*device.Board, *mcp.Registry) {
	t.Helper()
	board := device.NewBoard(options...)
	registry := mcp.NewRegistry()
	require.NoError(t, board.Register(registry))
	return board, registry
}

func callTool(t *testing.T, r *mcp.Registry, name string, args mcp.Arguments) (mcp.Value, error) {
	t.Helper()
	tool, ok := r.FindTool(name)
	require.True(t, ok, "tool %s not registered", name)
	return tool.Handler(context.Background(), args)
}

func readResource(t *testing.T, r *mcp.Registry, uri string) string {
	t.Helper()
	resource, ok := r.FindResource(uri)
	require.True(t, ok, "resource %s not registered", uri)
	v, err := resource.Handler(context.Background())
	require.NoError(t, err)
	return v.String()
}

func TestRegister(t *testing.T) {
	_, registry := registeredBoard(t)

	var tools []string
	for _, tool := range registry.Tools() {
		tools = append(tools, tool.Name)
	}
	assert.Equal(t, []string{"led_set", "show_number", "clear_display"}, tools)

	var uris []string
	for _, resource := range registry.Resources() {
		uris = append(uris, resource.URI)
	}
	assert.Equal(t, []string{"device://temperature", "device://light_level", "device://display"}, uris)

	showNumber, _ := registry.FindTool("show_number")
	require.NotNil(t, showNumber.Annotations)
	assert.Equal(t, "Show Number", showNumber.Annotations.Title)
	assert.True(t, *showNumber.Annotations.ReadOnlyHint)
	assert.True(t, *showNumber.Annotations.IdempotentHint)
	assert.Nil(t, showNumber.Annotations.DestructiveHint)
}

func TestLEDSet(t *testing.T) {
	board, registry := registeredBoard(t)

	v, err := callTool(t, registry, "led_set", mcp.Arguments{"x": json.Number("2"), "y": json.Number("3"), "on": true})
	require.NoError(t, err)
	assert.Equal(t, "(2, 3) is on", v.String())
	assert.True(t, board.Lit(2, 3))
	assert.False(t, board.Lit(3, 2))

	v, err = callTool(t, registry, "led_set", mcp.Arguments{"x": 2.0, "y": 3.0, "on": false})
	require.NoError(t, err)
	assert.Equal(t, "(2, 3) is off", v.String())
	assert.False(t, board.Lit(2, 3))
}

func TestLEDSetRejectsBadArguments(t *testing.T) {
	_, registry := registeredBoard(t)

	tests := []struct {
		name    string
		args    mcp.Arguments
		wantErr string
	}{
		{
			name:    "out of range",
			args:    mcp.Arguments{"x": 5.0, "y": 0.0, "on": true},
			wantErr: "pixel out of range: (5, 0)",
		},
		{
			name:    "missing on",
			args:    mcp.Arguments{"x": 1.0, "y": 1.0},
			wantErr: "argument missing: on",
		},
		{
			name:    "fractional column",
			args:    mcp.Arguments{"x": 1.5, "y": 1.0, "on": true},
			wantErr: "not an integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callTool(t, registry, "led_set", tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestShowNumber(t *testing.T) {
	board, registry := registeredBoard(t)

	v, err := callTool(t, registry, "show_number", mcp.Arguments{"number": 1.0})
	require.NoError(t, err)
	assert.Equal(t, "ok", v.String())

	want := strings.Join([]string{"..#..", ".##..", "..#..", "..#..", ".###."}, "\n")
	assert.Equal(t, want, board.Render())
	assert.Equal(t, want, readResource(t, registry, "display"))

	n, ok := board.Number()
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	// Multi digit numbers end on their last digit.
	_, err = callTool(t, registry, "show_number", mcp.Arguments{"number": 21.0})
	require.NoError(t, err)
	assert.Equal(t, want, board.Render())

	_, err = callTool(t, registry, "show_number", mcp.Arguments{"number": -1.0})
	assert.Error(t, err)
}

func TestClearDisplay(t *testing.T) {
	board, registry := registeredBoard(t)

	_, err := callTool(t, registry, "show_number", mcp.Arguments{"number": 8.0})
	require.NoError(t, err)
	_, err = callTool(t, registry, "clear_display", nil)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat(".....\n", 4)+".....", board.Render())
	_, ok := board.Number()
	assert.False(t, ok)
}

func TestSensors(t *testing.T) {
	_, registry := registeredBoard(t,
		device.WithTemperature(func() float64 { return 23.5 }),
		device.WithLightLevel(func() int { return 7 }),
	)

	assert.Equal(t, "23.5", readResource(t, registry, "temperature"))
	assert.Equal(t, "7", readResource(t, registry, "device://light_level"))
}

func TestDefaultSensors(t *testing.T) {
	_, registry := registeredBoard(t)

	assert.Equal(t, "21", readResource(t, registry, "temperature"))
	assert.Equal(t, "128", readResource(t, registry, "light_level"))
}
