package extproc

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRunJSONRoundTrip(t *testing.T) {
	r := NewRunner(5*time.Second, quietLogger)

	var out map[string]any
	err := r.RunJSON(context.Background(), []string{"sh", "-c", "cat"}, map[string]any{"intent": "assertive"}, &out)
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if out["intent"] != "assertive" {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestRunJSONNoInput(t *testing.T) {
	r := NewRunner(5*time.Second, quietLogger)

	var out map[string]any
	err := r.RunJSON(context.Background(), []string{"sh", "-c", `echo '{"ok":true}'`}, nil, &out)
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if out["ok"] != true {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestRunJSONFailureCarriesStderr(t *testing.T) {
	r := NewRunner(5*time.Second, quietLogger)

	var out map[string]any
	err := r.RunJSON(context.Background(), []string{"sh", "-c", "echo boom >&2; exit 3"}, nil, &out)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("stderr must surface in the error: %v", err)
	}
}

func TestRunJSONUndecodableOutput(t *testing.T) {
	r := NewRunner(5*time.Second, quietLogger)

	var out map[string]any
	err := r.RunJSON(context.Background(), []string{"sh", "-c", "echo not-json"}, nil, &out)
	if err == nil || !strings.Contains(err.Error(), "undecodable") {
		t.Errorf("expected an undecodable-output error, got %v", err)
	}
}

func TestRunJSONEmptyCommand(t *testing.T) {
	r := NewRunner(0, quietLogger)
	if err := r.RunJSON(context.Background(), nil, nil, nil); err == nil {
		t.Error("an empty argv must fail")
	}
}
