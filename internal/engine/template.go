package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/fanflow/internal/domain"
)

// TemplateContext — данные для рендеринга конфигурации узла.
//
// Доступно в Go templates:
//   - {{ .Context.fanId }}      — данные события, запустившего run
//   - {{ .Run.ID }}, {{ .Run.WorkspaceID }}
//   - {{ .Node.ID }}, {{ .Node.Type }}
//   - {{ .Attempt }}            — номер попытки
type TemplateContext struct {
	// Context — trigger context run.
	Context map[string]any `json:"context"`

	Run     RunRef  `json:"run"`
	Node    NodeRef `json:"node"`
	Attempt int     `json:"attempt"`
}

// RunRef — сведения о run для шаблонов.
type RunRef struct {
	ID          string `json:"id"`
	FlowID      string `json:"flow_id"`
	WorkspaceID string `json:"workspace_id"`
}

// NodeRef — сведения об узле для шаблонов.
type NodeRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// NewTemplateContext создаёт контекст рендеринга для попытки выполнения узла.
func NewTemplateContext(run *domain.Run, node *domain.Node, attempt int) *TemplateContext {
	ctx := &TemplateContext{
		Context: run.TriggerContext,
		Run: RunRef{
			ID:          run.ID.String(),
			FlowID:      run.FlowID.String(),
			WorkspaceID: run.WorkspaceID.String(),
		},
		Node:    NodeRef{ID: node.ID, Type: node.Type},
		Attempt: attempt,
	}
	if ctx.Context == nil {
		ctx.Context = make(map[string]any)
	}
	return ctx
}

// templateFuncs — дополнительные функции для шаблонов конфигурации.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого или отсутствующего поля:
	// {{ default "друг" .Context.firstName }}
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			return v
		}
		return nil
	},

	"contains": strings.Contains,
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"replace":  strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Context.fanId }}
//	{{ .Context.order.total | printf "%.2f" }}
//	{{ if .Context.vip }}...{{ end }}
func Render(tmpl string, ctx *TemplateContext) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice в том виде, в котором их
// возвращает encoding/json.
func RenderValue(value any, ctx *TemplateContext) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// Для остальных типов (int, float, bool) возвращаем как есть
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию узла.
// Это обёртка над RenderValue для map[string]any.
func RenderConfig(config map[string]any, ctx *TemplateContext) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, ctx)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}

	return result, nil
}
