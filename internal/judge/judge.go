// Package judge provides the external judgment call used by the reflection
// controller and the signal decision layer: a structured prompt goes out, text
// (or JSON) comes back, and every failure mode degrades to a deterministic
// fallback at the call site.
package judge

import "context"

// Judge is a text-completion capability. Implementations must honor context
// cancellation; callers impose their own deadlines.
type Judge interface {
	// Complete returns free-text output for a prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteJSON returns output that is expected to parse as JSON, with
	// any markdown fencing already stripped.
	CompleteJSON(ctx context.Context, prompt string) (string, error)
	// Close releases any resources held by the judge.
	Close() error
}
