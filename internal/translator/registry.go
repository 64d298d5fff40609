package translator

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves engines by configured name.
type Registry struct {
	engines       map[string]Engine
	defaultEngine string
}

func NewRegistry(defaultEngine string) *Registry {
	return &Registry{
		engines:       make(map[string]Engine),
		defaultEngine: normalizeEngineName(defaultEngine),
	}
}

func (r *Registry) Register(engine Engine) error {
	if engine == nil {
		return fmt.Errorf("engine is nil")
	}
	name := normalizeEngineName(engine.Name())
	if name == "" {
		return fmt.Errorf("engine name is required")
	}
	r.engines[name] = engine
	return nil
}

// Engine resolves an engine by name. Empty names use the default engine.
func (r *Registry) Engine(name string) (Engine, error) {
	if len(r.engines) == 0 {
		return nil, fmt.Errorf("no translation engines are registered")
	}

	resolved := normalizeEngineName(name)
	if resolved == "" {
		resolved = r.defaultEngine
	}
	if engine, ok := r.engines[resolved]; ok {
		return engine, nil
	}
	return nil, fmt.Errorf("translation engine %q is not registered (available: %s)", resolved, strings.Join(r.Names(), ", "))
}

func (r *Registry) DefaultEngine() string {
	return r.defaultEngine
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeEngineName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
