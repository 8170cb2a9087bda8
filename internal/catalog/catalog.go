// Package catalog loads tools and resources from a YAML file. Resources serve fixed text and
// tools reply with a text/template rendered against their arguments, which lets a device expose
// descriptive entries without writing Go handlers.
//
// A catalog looks like:
//
//	resources:
//	  - uri: firmware
//	    name: Firmware version
//	    mimeType: text/plain
//	    text: "1.0.0"
//	tools:
//	  - name: greet
//	    description: Say hello
//	    arguments:
//	      - name: who
//	        type: string
//	        required: true
//	    reply: "Hello, {{.who}}!"
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"

	mcp "github.com/MegaGrindStone/go-mcp-device"
)

// Catalog is the decoded content of a catalog file.
type Catalog struct {
	Resources []ResourceSpec `yaml:"resources"`
	Tools     []ToolSpec     `yaml:"tools"`
}

// ResourceSpec describes a resource with fixed content.
type ResourceSpec struct {
	URI         string `yaml:"uri"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MimeType    string `yaml:"mimeType"`
	Text        string `yaml:"text"`
}

// ToolSpec describes a tool whose result is Reply rendered with the call arguments.
type ToolSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Title       string         `yaml:"title"`
	ReadOnly    bool           `yaml:"readOnly"`
	Idempotent  bool           `yaml:"idempotent"`
	Arguments   []ArgumentSpec `yaml:"arguments"`
	Reply       string         `yaml:"reply"`

	tmpl *template.Template
}

// ArgumentSpec describes one tool argument.
type ArgumentSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Enum        []any  `yaml:"enum"`
}

var validTypes = map[string]mcp.PropertyType{
	"":        mcp.PropertyTypeString,
	"string":  mcp.PropertyTypeString,
	"number":  mcp.PropertyTypeNumber,
	"integer": mcp.PropertyTypeInteger,
	"boolean": mcp.PropertyTypeBoolean,
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	var errs []error

	uris := make(map[string]bool)
	for i, r := range c.Resources {
		switch {
		case r.URI == "":
			errs = append(errs, fmt.Errorf("resource %d: uri is required", i))
		case uris[r.URI]:
			errs = append(errs, fmt.Errorf("resource %s: duplicate uri", r.URI))
		}
		uris[r.URI] = true
	}

	names := make(map[string]bool)
	for i := range c.Tools {
		tool := &c.Tools[i]
		switch {
		case tool.Name == "":
			errs = append(errs, fmt.Errorf("tool %d: name is required", i))
			continue
		case names[tool.Name]:
			errs = append(errs, fmt.Errorf("tool %s: duplicate name", tool.Name))
		}
		names[tool.Name] = true

		args := make(map[string]bool)
		for _, arg := range tool.Arguments {
			if arg.Name == "" {
				errs = append(errs, fmt.Errorf("tool %s: argument name is required", tool.Name))
				continue
			}
			if args[arg.Name] {
				errs = append(errs, fmt.Errorf("tool %s: duplicate argument %s", tool.Name, arg.Name))
			}
			args[arg.Name] = true
			if _, ok := validTypes[arg.Type]; !ok {
				errs = append(errs, fmt.Errorf("tool %s: argument %s: unsupported type %q", tool.Name, arg.Name, arg.Type))
			}
		}

		tmpl, err := tool.parseReply()
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %s: invalid reply: %w", tool.Name, err))
			continue
		}
		tool.tmpl = tmpl
	}

	return errors.Join(errs...)
}

// Register upserts every catalog entry into u.
func (c *Catalog) Register(u mcp.Upserter) error {
	for _, r := range c.Resources {
		if err := u.UpsertResource(r.resource()); err != nil {
			return fmt.Errorf("failed to register resource %s: %w", r.URI, err)
		}
	}
	for _, t := range c.Tools {
		if t.tmpl == nil {
			tmpl, err := t.parseReply()
			if err != nil {
				return fmt.Errorf("tool %s: invalid reply: %w", t.Name, err)
			}
			t.tmpl = tmpl
		}
		if err := u.UpsertTool(t.tool()); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r ResourceSpec) resource() mcp.Resource {
	text := r.Text
	return mcp.Resource{
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MimeType:    r.MimeType,
		Handler: func(context.Context) (mcp.Value, error) {
			return mcp.Text(text), nil
		},
	}
}

func (t ToolSpec) parseReply() (*template.Template, error) {
	return template.New(t.Name).Option("missingkey=error").Parse(t.Reply)
}

func (t ToolSpec) tool() mcp.Tool {
	schema := mcp.InputSchema{
		Type:       "object",
		Properties: make(map[string]mcp.Property, len(t.Arguments)),
		Required:   []string{},
	}
	for _, arg := range t.Arguments {
		schema.Properties[arg.Name] = mcp.Property{
			Type:        validTypes[arg.Type],
			Description: arg.Description,
			Enum:        arg.Enum,
		}
		if arg.Required {
			schema.Required = append(schema.Required, arg.Name)
		}
	}

	var annotations *mcp.ToolAnnotations
	if t.Title != "" || t.ReadOnly || t.Idempotent {
		annotations = &mcp.ToolAnnotations{Title: t.Title}
		if t.ReadOnly {
			annotations.ReadOnlyHint = &t.ReadOnly
		}
		if t.Idempotent {
			annotations.IdempotentHint = &t.Idempotent
		}
	}

	tmpl := t.tmpl
	return mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
		Annotations: annotations,
		Handler: func(_ context.Context, args mcp.Arguments) (mcp.Value, error) {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, map[string]any(args)); err != nil {
				return mcp.Value{}, fmt.Errorf("failed to render reply: %w", err)
			}
			return mcp.Text(buf.String()), nil
		},
	}
}
