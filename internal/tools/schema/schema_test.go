package schema

import (
	"testing"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("shell", []byte(`{"type":"object","required":["command"],"properties":{"command":{"type":"string"}}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Validate("shell", types.RawArgs(`{"command":"ls"}`)); err != nil {
		t.Fatalf("expected valid arguments to pass, got %v", err)
	}
	if err := r.Validate("shell", types.RawArgs(`{}`)); err == nil {
		t.Fatalf("expected missing required field to fail validation")
	}
}

func TestValidateUnregisteredToolIsANoOp(t *testing.T) {
	r := NewRegistry()
	if err := r.Validate("unknown_tool", types.RawArgs(`{"anything":true}`)); err != nil {
		t.Fatalf("expected no-op for an unregistered tool, got %v", err)
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("shell", []byte(`{"type":"object"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Validate("shell", types.RawArgs(`not json`)); err == nil {
		t.Fatalf("expected malformed JSON to fail validation")
	}
}

func TestValidateEmptyArgsTreatedAsEmptyObject(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("todo_read", []byte(`{"type":"object","properties":{}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Validate("todo_read", nil); err != nil {
		t.Fatalf("expected empty args to validate against an empty-object schema, got %v", err)
	}
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("bad", []byte(`not a schema`)); err == nil {
		t.Fatalf("expected an error compiling an invalid schema")
	}
}

func TestRegisterBuiltinsCompilesWithoutError(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("unexpected error compiling builtin schemas: %v", err)
	}
	for name := range BuiltinSchemas {
		if !r.Has(name) {
			t.Fatalf("expected %s to be registered", name)
		}
	}
}

func TestValidatingHandlerRejectsBeforeCallingNext(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("shell", []byte(`{"type":"object","required":["command"],"properties":{"command":{"type":"string"}}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	called := false
	h := r.ValidatingHandler("shell", func(args types.RawArgs) (string, error) {
		called = true
		return "ok", nil
	})
	if _, err := h(types.RawArgs(`{}`)); err == nil {
		t.Fatalf("expected invalid args to be rejected")
	}
	if called {
		t.Fatalf("expected next handler not to run when validation fails")
	}
}
