package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("save: %w", Persistence("profiles.update", errors.New("connection reset")))

	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence kind, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("persistence error must not match validation")
	}
	if KindOf(err) != KindPersistence {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
}

func TestValidationFieldsAreReported(t *testing.T) {
	err := Validation("wizard.next", "step incomplete", "name", "age")

	fields := FieldsOf(err)
	if len(fields) != 2 || fields[0] != "name" || fields[1] != "age" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if !strings.Contains(err.Error(), "[name, age]") {
		t.Fatalf("expected fields in message, got %q", err.Error())
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("bucket gone")
	err := Persistence("attachment.remove", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if KindOf(cause) != "" {
		t.Fatal("plain errors have no kind")
	}
}
