package tools

import (
	"testing"

	"github.com/badgergraph/codegraph/internal/store"
)

// seedImport creates Module nodes for importerFile and importedFile plus an
// IMPORTS edge between them, wiring importerFile as a dependent of importedFile.
func seedImport(t *testing.T, st *store.Store, importerFile, importedFile string) int64 {
	t.Helper()
	importerID, err := st.UpsertNode(&store.Node{
		Project: "demo", Label: "Module", Name: importerFile,
		QualifiedName: "demo.module." + importerFile, FilePath: importerFile,
	})
	if err != nil {
		t.Fatalf("UpsertNode importer: %v", err)
	}
	importedID, err := st.UpsertNode(&store.Node{
		Project: "demo", Label: "Module", Name: importedFile,
		QualifiedName: "demo.module." + importedFile, FilePath: importedFile,
	})
	if err != nil {
		t.Fatalf("UpsertNode imported: %v", err)
	}
	if _, err := st.InsertEdge(&store.Edge{Project: "demo", SourceID: importerID, TargetID: importedID, Type: "IMPORTS"}); err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	return importedID
}

func TestGetIncludeDependenciesTransitive(t *testing.T) {
	s, st := newTestServer(t)

	// c.py imports b.py imports a.py -> dependents of a.py are {b.py, c.py}
	seedImport(t, st, "b.py", "a.py")
	seedImport(t, st, "c.py", "b.py")

	out := callTool(t, s, "get_include_dependencies", map[string]any{"path": "a.py", "project": "demo"})

	deps, _ := out["dependents"].([]any)
	got := map[string]bool{}
	for _, d := range deps {
		got[d.(string)] = true
	}
	if !got["b.py"] || !got["c.py"] {
		t.Fatalf("expected b.py and c.py as dependents, got %v", out["dependents"])
	}
}

func TestGetIncludeDependenciesUnknownFileReturnsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	out := callTool(t, s, "get_include_dependencies", map[string]any{"path": "missing.py", "project": "demo"})
	deps, _ := out["dependents"].([]any)
	if len(deps) != 0 {
		t.Fatalf("expected no dependents, got %v", deps)
	}
}

func TestCheckAffectedFilesPartitionsByCause(t *testing.T) {
	s, st := newTestServer(t)

	seedImport(t, st, "b.py", "a.py")

	fnID, _ := st.UpsertNode(&store.Node{
		Project: "demo", Label: "Function", Name: "helper",
		QualifiedName: "demo.a.helper", FilePath: "a.py", StartLine: 1, EndLine: 5,
	})
	callerID, _ := st.UpsertNode(&store.Node{
		Project: "demo", Label: "Function", Name: "main",
		QualifiedName: "demo.c.main", FilePath: "c.py", StartLine: 1, EndLine: 5,
	})
	st.InsertEdge(&store.Edge{Project: "demo", SourceID: callerID, TargetID: fnID, Type: "CALLS"})

	out := callTool(t, s, "check_affected_files", map[string]any{"files": []any{"a.py"}, "project": "demo"})

	affected, ok := out["affected"].(map[string]any)
	if !ok {
		t.Fatalf("expected affected map, got %v", out)
	}
	direct, _ := affected["direct_include"].([]any)
	if len(direct) != 1 || direct[0] != "b.py" {
		t.Errorf("expected direct_include=[b.py], got %v", affected["direct_include"])
	}
	calls, _ := affected["function_call"].([]any)
	if len(calls) != 1 || calls[0] != "c.py" {
		t.Errorf("expected function_call=[c.py], got %v", affected["function_call"])
	}
}
