package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/relaylabs/relay/internal/config"
)

func TestWebSearchChargesByDepth(t *testing.T) {
	reg := testRegistry(t)

	standard := dispatch(t, reg, "web_search", `{"query":"go json schema"}`, nil)
	if standard.CreditsUsed != 5 {
		t.Errorf("standard credits = %d, want 5", standard.CreditsUsed)
	}
	if len(standard.Output) != 1 || standard.Output[0].Text != "results" {
		t.Errorf("output = %+v", standard.Output)
	}

	deep := dispatch(t, reg, "web_search", `{"query":"go json schema","depth":"deep"}`, nil)
	if deep.CreditsUsed != 10 {
		t.Errorf("deep credits = %d, want 10", deep.CreditsUsed)
	}
	if deep.CreditsUsed <= standard.CreditsUsed {
		t.Errorf("deep charge %d should exceed standard %d", deep.CreditsUsed, standard.CreditsUsed)
	}
}

func TestWebSearchAcceptsDocumentedDepths(t *testing.T) {
	reg := testRegistry(t)

	for _, depth := range []string{"standard", "deep"} {
		result := dispatch(t, reg, "web_search", `{"query":"x","depth":"`+depth+`"}`, nil)
		if len(result.Output) != 1 || result.Output[0].Text != "results" {
			t.Errorf("depth %s: output = %+v", depth, result.Output)
		}
	}
}

func TestWebSearchRejectsBadDepth(t *testing.T) {
	reg := testRegistry(t)

	result := dispatch(t, reg, "web_search", `{"query":"x","depth":"shallow"}`, nil)
	errorMessageOf(t, result)
	if result.CreditsUsed != 0 {
		t.Errorf("rejected call charged %d credits", result.CreditsUsed)
	}
}

func TestSearchFailureIsNonFatal(t *testing.T) {
	cfg := config.Default()
	reg, err := NewBuiltinRegistry(&fakeSearch{err: errors.New("upstream 503")}, &cfg.Pricing)
	if err != nil {
		t.Fatal(err)
	}

	result := dispatch(t, reg, "read_docs", `{"libraryTitle":"gorilla/websocket"}`, nil)
	errorMessageOf(t, result)
	if result.CreditsUsed != 0 {
		t.Errorf("failed call charged %d credits", result.CreditsUsed)
	}
}

func TestReadFilesReportsMisses(t *testing.T) {
	reg := testRegistry(t)

	result, err := reg.Dispatch(&HandlerContext{
		Ctx: context.Background(),
		Call: call("read_files", `{"paths":["a.go","missing.go"]}`),
		RequestFiles: func(ctx context.Context, paths []string) (map[string]string, error) {
			return map[string]string{"a.go": "package a\n"}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Output) != 2 {
		t.Fatalf("output = %+v", result.Output)
	}
	first := result.Output[0].Value.(map[string]any)
	if first["path"] != "a.go" || first["content"] != "package a\n" {
		t.Errorf("first = %#v", first)
	}
	second := result.Output[1].Value.(map[string]any)
	if second["errorMessage"] == nil {
		t.Errorf("second = %#v, want a miss report", second)
	}
}
