package engine

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
)

func newTestContext(triggerContext map[string]any) *TemplateContext {
	run := &domain.Run{
		ID:             uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		FlowID:         uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		WorkspaceID:    uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		TriggerContext: triggerContext,
	}
	node := &domain.Node{ID: "email", Kind: domain.NodeKindAction, Type: "send_email"}
	return NewTemplateContext(run, node, 2)
}

func TestNewTemplateContext(t *testing.T) {
	ctx := newTestContext(nil)
	if ctx.Context == nil {
		t.Error("Context should not be nil")
	}
	if ctx.Run.ID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("unexpected run id %s", ctx.Run.ID)
	}
	if ctx.Node.Type != "send_email" {
		t.Errorf("unexpected node type %s", ctx.Node.Type)
	}
	if ctx.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", ctx.Attempt)
	}
}

func TestRender(t *testing.T) {
	ctx := newTestContext(map[string]any{
		"fanId":     "fan-42",
		"firstName": "Ann",
		"count":     42,
	})

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"trigger context", "Hello, {{ .Context.firstName }}!", "Hello, Ann!"},
		{"number", "Count: {{ .Context.count }}", "Count: 42"},
		{"run and node", "{{ .Node.ID }}@{{ .Run.WorkspaceID }}", "email@33333333-3333-3333-3333-333333333333"},
		{"no template", "Plain text", "Plain text"},
		{"lower", "{{ lower .Context.firstName }}", "ann"},
		{"default with value", `{{ default "friend" .Context.firstName }}`, "Ann"},
		{"default with missing key", `{{ default "friend" .Context.lastName }}`, "friend"},
		{"coalesce", `{{ coalesce .Context.nick .Context.firstName }}`, "Ann"},
		{"json", `{{ json .Context.fanId }}`, `"fan-42"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render("{{ .Invalid syntax", newTestContext(nil))
	if err == nil {
		t.Fatal("expected error for invalid template")
	}
	if !strings.Contains(err.Error(), "template parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestRenderConfig(t *testing.T) {
	ctx := newTestContext(map[string]any{
		"fanId": "fan-42",
		"tags":  []any{"vip"},
	})

	config := map[string]any{
		"template_id": 42,
		"fan_id":      "{{ .Context.fanId }}",
		"vars": map[string]any{
			"greeting": "Hi {{ .Context.fanId }}",
		},
		"list": []any{"{{ .Node.ID }}", true},
	}

	result, err := RenderConfig(config, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result["template_id"] != 42 {
		t.Errorf("non-string values must be kept as is, got %v", result["template_id"])
	}
	if result["fan_id"] != "fan-42" {
		t.Errorf("expected rendered fan_id, got %v", result["fan_id"])
	}

	vars, ok := result["vars"].(map[string]any)
	if !ok {
		t.Fatal("expected vars to be map")
	}
	if vars["greeting"] != "Hi fan-42" {
		t.Errorf("expected rendered greeting, got %v", vars["greeting"])
	}

	list, ok := result["list"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected list of 2, got %v", result["list"])
	}
	if list[0] != "email" || list[1] != true {
		t.Errorf("unexpected list %v", list)
	}

	// Исходная конфигурация не меняется
	if config["fan_id"] != "{{ .Context.fanId }}" {
		t.Error("source config must not be mutated")
	}
}

func TestRenderConfig_Nil(t *testing.T) {
	result, err := RenderConfig(nil, newTestContext(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || len(result) != 0 {
		t.Error("result should be an empty map")
	}
}
