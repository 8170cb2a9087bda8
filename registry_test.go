package mcp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MegaGrindStone/go-mcp-device"
)

func textTool(name, reply string) mcp.Tool {
	return mcp.Tool{
		Name: name,
		Handler: func(context.Context, mcp.Arguments) (mcp.Value, error) {
			return mcp.Text(reply), nil
		},
	}
}

func textResource(uri, reply string) mcp.Resource {
	return mcp.Resource{
		URI: uri,
		Handler: func(context.Context) (mcp.Value, error) {
			return mcp.Text(reply), nil
		},
	}
}

func TestRegistryUpsertToolKeepsPosition(t *testing.T) {
	r := mcp.NewRegistry()

	for _, tool := range []mcp.Tool{textTool("a", "1"), textTool("b", "2"), textTool("c", "3")} {
		if err := r.UpsertTool(tool); err != nil {
			t.Fatalf("UpsertTool(%s) error = %v", tool.Name, err)
		}
	}

	replacement := textTool("b", "new")
	replacement.Description = "replaced"
	if err := r.UpsertTool(replacement); err != nil {
		t.Fatalf("UpsertTool() error = %v", err)
	}

	tools := r.Tools()
	if len(tools) != 3 {
		t.Fatalf("len(Tools()) = %d, want 3", len(tools))
	}
	for i, want := range []string{"a", "b", "c"} {
		if tools[i].Name != want {
			t.Errorf("Tools()[%d].Name = %s, want %s", i, tools[i].Name, want)
		}
	}

	got, ok := r.FindTool("b")
	if !ok {
		t.Fatal("FindTool(b) not found")
	}
	if got.Description != "replaced" {
		t.Errorf("FindTool(b).Description = %q, want replaced", got.Description)
	}
	v, err := got.Handler(context.Background(), nil)
	if err != nil || v.String() != "new" {
		t.Errorf("FindTool(b) handler = %v, %v, want new", v, err)
	}

	if _, ok := r.FindTool("missing"); ok {
		t.Error("FindTool(missing) found")
	}
}

func TestRegistryNormalizesSchema(t *testing.T) {
	r := mcp.NewRegistry()
	if err := r.UpsertTool(textTool("plain", "x")); err != nil {
		t.Fatalf("UpsertTool() error = %v", err)
	}

	tool, _ := r.FindTool("plain")
	if tool.InputSchema.Type != "object" {
		t.Errorf("InputSchema.Type = %q, want object", tool.InputSchema.Type)
	}
	if tool.InputSchema.Properties == nil {
		t.Error("InputSchema.Properties is nil")
	}
	if tool.InputSchema.Required == nil {
		t.Error("InputSchema.Required is nil")
	}
}

func TestRegistryResourceURIs(t *testing.T) {
	tests := []struct {
		name    string
		options []mcp.RegistryOption
		uri     string
		want    string
	}{
		{
			name: "default scheme",
			uri:  "temperature",
			want: "device://temperature",
		},
		{
			name:    "custom scheme",
			options: []mcp.RegistryOption{mcp.WithRegistryScheme("microbit")},
			uri:     "temperature",
			want:    "microbit://temperature",
		},
		{
			name:    "custom scheme with separator",
			options: []mcp.RegistryOption{mcp.WithRegistryScheme("microbit://")},
			uri:     "light",
			want:    "microbit://light",
		},
		{
			name: "explicit scheme is kept",
			uri:  "sensor://light",
			want: "sensor://light",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mcp.NewRegistry(tt.options...)
			if err := r.UpsertResource(textResource(tt.uri, "v")); err != nil {
				t.Fatalf("UpsertResource() error = %v", err)
			}

			resources := r.Resources()
			if len(resources) != 1 || resources[0].URI != tt.want {
				t.Fatalf("Resources() = %+v, want one with uri %s", resources, tt.want)
			}
			if resources[0].Name != tt.want {
				t.Errorf("Name = %q, want the uri", resources[0].Name)
			}

			if _, ok := r.FindResource(tt.uri); !ok {
				t.Errorf("FindResource(%s) not found", tt.uri)
			}
			if _, ok := r.FindResource(tt.want); !ok {
				t.Errorf("FindResource(%s) not found", tt.want)
			}
		})
	}
}

func TestRegistryUpsertResourceReplaces(t *testing.T) {
	r := mcp.NewRegistry()
	_ = r.UpsertResource(textResource("a", "1"))
	_ = r.UpsertResource(textResource("b", "2"))
	_ = r.UpsertResource(textResource("device://a", "3"))

	resources := r.Resources()
	if len(resources) != 2 {
		t.Fatalf("len(Resources()) = %d, want 2", len(resources))
	}
	if resources[0].URI != "device://a" || resources[1].URI != "device://b" {
		t.Errorf("order = %s, %s", resources[0].URI, resources[1].URI)
	}
	res, _ := r.FindResource("a")
	v, _ := res.Handler(context.Background())
	if v.String() != "3" {
		t.Errorf("FindResource(a) value = %s, want 3", v)
	}
}

func TestRegistryRejectsInvalidEntries(t *testing.T) {
	r := mcp.NewRegistry()

	if err := r.UpsertTool(mcp.Tool{Handler: textTool("x", "").Handler}); !errors.Is(err, mcp.ErrEmptyToolName) {
		t.Errorf("UpsertTool(no name) error = %v, want ErrEmptyToolName", err)
	}
	if err := r.UpsertTool(mcp.Tool{Name: "x"}); !errors.Is(err, mcp.ErrNilHandler) {
		t.Errorf("UpsertTool(no handler) error = %v, want ErrNilHandler", err)
	}
	badType := textTool("x", "")
	badType.InputSchema.Properties = map[string]mcp.Property{"n": {Type: "int"}}
	if err := r.UpsertTool(badType); !errors.Is(err, mcp.ErrUnknownPropertyType) {
		t.Errorf("UpsertTool(bad type) error = %v, want ErrUnknownPropertyType", err)
	}
	if err := r.UpsertResource(mcp.Resource{Handler: textResource("x", "").Handler}); !errors.Is(err, mcp.ErrEmptyResourceURI) {
		t.Errorf("UpsertResource(no uri) error = %v, want ErrEmptyResourceURI", err)
	}
	if err := r.UpsertResource(mcp.Resource{URI: "x"}); !errors.Is(err, mcp.ErrNilHandler) {
		t.Errorf("UpsertResource(no handler) error = %v, want ErrNilHandler", err)
	}

	if tools, resources := r.Len(); tools != 0 || resources != 0 {
		t.Errorf("Len() = %d, %d, want 0, 0", tools, resources)
	}
}

func TestRegistryListingsAreCopies(t *testing.T) {
	r := mcp.NewRegistry()
	_ = r.UpsertTool(textTool("a", "1"))

	tools := r.Tools()
	tools[0].Name = "mutated"

	if _, ok := r.FindTool("a"); !ok {
		t.Error("mutating Tools() result changed the registry")
	}
	if r.Tools()[0].Name != "a" {
		t.Errorf("Tools()[0].Name = %s, want a", r.Tools()[0].Name)
	}
}

func TestIndependentRegistries(t *testing.T) {
	r1 := mcp.NewRegistry()
	r2 := mcp.NewRegistry()
	_ = r1.UpsertTool(textTool("only-in-r1", "x"))

	if _, ok := r2.FindTool("only-in-r1"); ok {
		t.Error("registries share state")
	}
}
