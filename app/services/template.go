package services

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// MessageRenderer personalises text campaign steps with liquid bindings such as {{ name }}
type MessageRenderer struct {
	engine *liquid.Engine
	cache  sync.Map // content -> *liquid.Template
}

func NewMessageRenderer() *MessageRenderer {
	return &MessageRenderer{engine: liquid.NewEngine()}
}

// Render returns the content unchanged when it fails to parse, so a stray
// brace in an admin-authored message never blocks a send.
func (r *MessageRenderer) Render(content string, bindings map[string]any) (string, error) {
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(content); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(content)
		if err != nil {
			return content, fmt.Errorf("failed to parse message template: %w", err)
		}
		r.cache.Store(content, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return content, fmt.Errorf("failed to render message template: %w", err)
	}
	return out, nil
}
