package adapters

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// EmbeddedRenderer renders configuration templates compiled into the binary.
// Rendering is pure: the same bindings always produce identical bytes.
type EmbeddedRenderer struct {
	templates *template.Template
}

var _ TemplateRenderer = (*EmbeddedRenderer)(nil)

// NewEmbeddedRenderer parses the embedded template set.
func NewEmbeddedRenderer() (*EmbeddedRenderer, error) {
	parsed, err := template.New("").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &EmbeddedRenderer{templates: parsed}, nil
}

// Render executes the named template. Errors never leave partial output.
func (renderer *EmbeddedRenderer) Render(name string, bindings any) ([]byte, error) {
	buffer := &bytes.Buffer{}

	if err := renderer.templates.ExecuteTemplate(buffer, name, bindings); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buffer.Bytes(), nil
}
