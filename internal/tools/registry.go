package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the outcome of invoking a tool.
type Result struct {
	Success bool
	Output  string
	Err     error
}

// Tool is an invocable capability resolved by action name. Implementations
// are opaque to the scheduler; a tool that returns an error marks its step
// failed without aborting the run.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params map[string]any) (Result, error)
}

// Func adapts a plain function into a Tool.
func Func(name string, fn func(ctx context.Context, params map[string]any) (Result, error)) Tool {
	return funcTool{name: name, fn: fn}
}

type funcTool struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (Result, error)
}

func (t funcTool) Name() string { return t.name }

func (t funcTool) Invoke(ctx context.Context, params map[string]any) (Result, error) {
	return t.fn(ctx, params)
}

// Registry resolves action names to tools. It is an explicit, constructible
// instance so concurrent sessions can hold isolated tool sets; there is no
// package-level registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Returns an error if the name is already taken.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Resolve returns the tool registered under the given action name.
func (r *Registry) Resolve(action string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	return t, nil
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset removes all registered tools.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]Tool)
}

// StringParam extracts a required string parameter.
func StringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q is %T, want string", key, v)
	}
	return s, nil
}

// IntParam extracts a required integer parameter. JSON decoding produces
// float64, so both forms are accepted.
func IntParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %q is %T, want number", key, v)
	}
}

// StringsParam extracts an optional list-of-strings parameter.
func StringsParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q[%d] is %T, want string", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %q is %T, want list of strings", key, v)
	}
}
