package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateValidExecuteRun(t *testing.T) {
	data := []byte(`{"run_id":"7b0c4d5e-0000-0000-0000-000000000001"}`)
	if err := Validate(SubjectRunExecute, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectRunExecute, []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateWrongShape(t *testing.T) {
	err := Validate(SubjectRunExecute, []byte(`"just a string"`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	if err := Validate("unknown.subject", []byte(`{"foo":"bar"}`)); err != nil {
		t.Fatalf("unknown subjects should pass: %v", err)
	}
}
