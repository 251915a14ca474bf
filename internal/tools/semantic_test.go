package tools

import (
	"context"
	"testing"

	"github.com/badgergraph/codegraph/internal/embed"
	"github.com/badgergraph/codegraph/internal/store"
)

func TestSemanticCodeSearchRanksByStoredSimilarity(t *testing.T) {
	s, st := newTestServer(t)
	enc := &embed.LocalEncoder{}

	matchID, _ := st.UpsertNode(&store.Node{
		Project: "demo", Label: "Function", Name: "ValidateEmail",
		QualifiedName: "demo.pkg.ValidateEmail", FilePath: "pkg/validate.go", StartLine: 1, EndLine: 5,
	})
	otherID, _ := st.UpsertNode(&store.Node{
		Project: "demo", Label: "Function", Name: "CrunchNumbers",
		QualifiedName: "demo.pkg.CrunchNumbers", FilePath: "pkg/math.go", StartLine: 1, EndLine: 5,
	})

	matchVec, err := enc.Encode(context.Background(), "demo.pkg.ValidateEmail\nvalidate email address format")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	otherVec, err := enc.Encode(context.Background(), "demo.pkg.CrunchNumbers\nxyz totally unrelated quantum hamster")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := st.WriteEmbedding(matchID, embed.EncodeVector(matchVec)); err != nil {
		t.Fatalf("write embedding: %v", err)
	}
	if err := st.WriteEmbedding(otherID, embed.EncodeVector(otherVec)); err != nil {
		t.Fatalf("write embedding: %v", err)
	}

	out := callTool(t, s, "semantic_code_search", map[string]any{
		"query":   "validate email address format",
		"limit":   1,
		"project": "demo",
	})

	results, _ := out["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d (%v)", len(results), out)
	}
	top := results[0].(map[string]any)
	if top["qualified_name"] != "demo.pkg.ValidateEmail" {
		t.Fatalf("expected top result ValidateEmail, got %v", top["qualified_name"])
	}
}

func TestSemanticCodeSearchFileGlobFilter(t *testing.T) {
	s, st := newTestServer(t)
	enc := &embed.LocalEncoder{}

	id, _ := st.UpsertNode(&store.Node{
		Project: "demo", Label: "Function", Name: "Handler",
		QualifiedName: "demo.pkg.Handler", FilePath: "pkg/http/handler.go", StartLine: 1, EndLine: 5,
	})
	vec, _ := enc.Encode(context.Background(), "demo.pkg.Handler")
	st.WriteEmbedding(id, embed.EncodeVector(vec))

	out := callTool(t, s, "semantic_code_search", map[string]any{
		"query":     "handler",
		"file_glob": "pkg/other/**",
		"project":   "demo",
	})

	results, _ := out["results"].([]any)
	if len(results) != 0 {
		t.Fatalf("expected no results under non-matching glob, got %v", results)
	}
}

func TestSemanticCodeSearchRequiresQuery(t *testing.T) {
	s, _ := newTestServer(t)
	out := callTool(t, s, "semantic_code_search", map[string]any{"project": "demo"})
	if out["type"] != "invalid_parameter" {
		t.Fatalf("expected invalid_parameter envelope, got %v", out)
	}
}
