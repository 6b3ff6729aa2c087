// Package schema validates tool call arguments against each tool's
// declared JSON Schema before dispatch, the same way the gateway
// validates inbound websocket frames against a compiled schema registry.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// Registry holds one compiled schema per tool name.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles rawSchema under name, replacing any existing schema
// for that name. Compilation happens once, at registration time, not on
// every validation call.
func (r *Registry) Register(name string, rawSchema json.RawMessage) error {
	compiled, err := jsonschema.CompileString(name, string(rawSchema))
	if err != nil {
		return fmt.Errorf("schema: compile %s: %w", name, err)
	}
	r.schemas[name] = compiled
	return nil
}

// Validate checks a tool call's arguments against its registered schema.
// A tool with no registered schema is not validated — not every tool
// needs one, and requiring one for every tool would make schema-less
// tools (e.g. "todo_read", which takes no arguments) a special case
// instead of the default.
func (r *Registry) Validate(name string, args types.RawArgs) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("schema: %s: malformed arguments: %w", name, err)
	}

	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("schema: %s: %w", name, err)
	}
	return nil
}

// Has reports whether name has a registered schema.
func (r *Registry) Has(name string) bool {
	_, ok := r.schemas[name]
	return ok
}

// ValidatingHandler wraps a dispatch handler so arguments are checked
// against the registered schema before the handler runs, returning a
// handler-shaped error (not a dispatch-level rejection) so the model
// sees the validation failure and can retry with corrected arguments in
// the same turn.
func (r *Registry) ValidatingHandler(name string, next func(args types.RawArgs) (string, error)) func(args types.RawArgs) (string, error) {
	return func(args types.RawArgs) (string, error) {
		if err := r.Validate(name, args); err != nil {
			return "", err
		}
		return next(args)
	}
}
