package adapters

import (
	"bytes"
	"strings"
	"testing"

	"ausfoperator/pkg/core"
)

func TestRenderIsPure(t *testing.T) {
	renderer, err := NewEmbeddedRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	inputs := core.NewConfigInputs("10.0.0.7", "http://nrf:29510", false)

	first, err := renderer.Render("ausfcfg.conf.tmpl", inputs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := renderer.Render("ausfcfg.conf.tmpl", inputs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("identical inputs rendered different output")
	}
}

func TestRenderBindsAllInputs(t *testing.T) {
	renderer, err := NewEmbeddedRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	inputs := core.NewConfigInputs("10.0.0.7", "http://nrf:29510", true)

	rendered, err := renderer.Render("ausfcfg.conf.tmpl", inputs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	content := string(rendered)
	for _, expected := range []string{
		"groupId: ausfGroup001",
		"scheme: https",
		"registerIPv4: 10.0.0.7",
		"port: 29509",
		"nrfUri: http://nrf:29510",
	} {
		if !strings.Contains(content, expected) {
			t.Fatalf("rendered config missing %q:\n%s", expected, content)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	renderer, err := NewEmbeddedRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	if _, err := renderer.Render("nope.tmpl", nil); err == nil {
		t.Fatalf("expected an error for an unknown template")
	}
}
