package tools

import (
	"testing"

	"github.com/badgergraph/codegraph/internal/store"
)

func TestFindStructFieldAccessMatchesByStructAndField(t *testing.T) {
	s, st := newTestServer(t)

	st.UpsertNode(&store.Node{
		Project: "demo", Label: "StructFieldAccess", Name: "count",
		QualifiedName: "demo.pkg.Widget.count#1", FilePath: "pkg/widget.go", StartLine: 42,
		Properties: map[string]any{"struct": "Widget", "field": "count", "access_type": "read"},
	})
	st.UpsertNode(&store.Node{
		Project: "demo", Label: "StructFieldAccess", Name: "count",
		QualifiedName: "demo.pkg.Other.count#1", FilePath: "pkg/other.go", StartLine: 7,
		Properties: map[string]any{"struct": "Other", "field": "count", "access_type": "write"},
	})

	out := callTool(t, s, "find_struct_field_access", map[string]any{"struct": "Widget", "field": "count", "project": "demo"})

	matches, _ := out["matches"].([]any)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d (%v)", len(matches), out)
	}
	m := matches[0].(map[string]any)
	if m["file_path"] != "pkg/widget.go" {
		t.Errorf("unexpected file_path: %v", m["file_path"])
	}
	if m["access_type"] != "read" {
		t.Errorf("unexpected access_type: %v", m["access_type"])
	}
}

func TestFindStructFieldAccessRequiresBothArgs(t *testing.T) {
	s, _ := newTestServer(t)
	out := callTool(t, s, "find_struct_field_access", map[string]any{"struct": "Widget", "project": "demo"})
	if out["type"] != "invalid_parameter" {
		t.Fatalf("expected invalid_parameter envelope, got %v", out)
	}
}
