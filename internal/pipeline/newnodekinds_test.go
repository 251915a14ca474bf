package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/badgergraph/codegraph/internal/store"
)

// --- Typedef ---

func TestTypedefIntegration(t *testing.T) {
	dir := t.TempDir()
	writeLangTestFile(t, filepath.Join(dir, "main.c"),
		"typedef int MyInt;\ntypedef unsigned long Size;\n")

	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := New(context.Background(), s, dir)
	if err := p.Run(); err != nil {
		t.Fatal(err)
	}

	nodes, err := s.FindNodesByLabel(p.ProjectName, "Typedef")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 Typedef nodes, got %d", len(nodes))
	}

	byName := map[string]*store.Node{}
	for _, n := range nodes {
		byName[n.Name] = n
	}

	myInt, ok := byName["MyInt"]
	if !ok {
		t.Fatal("no Typedef node named MyInt")
	}
	if got, _ := myInt.Properties["underlying_type"].(string); got != "int" {
		t.Errorf("MyInt underlying_type = %q, want %q", got, "int")
	}

	size, ok := byName["Size"]
	if !ok {
		t.Fatal("no Typedef node named Size")
	}
	if got, _ := size.Properties["underlying_type"].(string); got != "unsigned long" {
		t.Errorf("Size underlying_type = %q, want %q", got, "unsigned long")
	}
}

func TestTypedefStructDoesNotDoubleEmit(t *testing.T) {
	// A typedef'd struct/union/enum folds into a Struct node, not a Typedef node.
	dir := t.TempDir()
	writeLangTestFile(t, filepath.Join(dir, "main.c"),
		"typedef struct {\n\tint x;\n\tint y;\n} Point;\n")

	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := New(context.Background(), s, dir)
	if err := p.Run(); err != nil {
		t.Fatal(err)
	}

	typedefs, err := s.FindNodesByLabel(p.ProjectName, "Typedef")
	if err != nil {
		t.Fatal(err)
	}
	if len(typedefs) != 0 {
		t.Errorf("expected 0 Typedef nodes for a typedef'd struct, got %d", len(typedefs))
	}

	structs, err := s.FindNodesByLabel(p.ProjectName, "Struct")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, n := range structs {
		if n.Name == "Point" {
			found = true
		}
	}
	if !found {
		t.Error("expected a Struct node named Point")
	}
}

// --- Import ---

func TestImportNodeIntegrationC(t *testing.T) {
	dir := t.TempDir()
	writeLangTestFile(t, filepath.Join(dir, "main.c"),
		"#include <stdio.h>\n#include \"helper.h\"\n")
	writeLangTestFile(t, filepath.Join(dir, "helper.h"), "void helper(void);\n")

	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := New(context.Background(), s, dir)
	if err := p.Run(); err != nil {
		t.Fatal(err)
	}

	nodes, err := s.FindNodesByLabel(p.ProjectName, "Import")
	if err != nil {
		t.Fatal(err)
	}

	var sawSystem, sawLocal bool
	for _, n := range nodes {
		if n.FilePath != "main.c" {
			continue
		}
		kind, _ := n.Properties["kind"].(string)
		switch n.Name {
		case "stdio.h":
			sawSystem = kind == "system"
		case "helper.h":
			sawLocal = kind == "local"
		}
	}
	if !sawSystem {
		t.Error("expected a system Import node for stdio.h")
	}
	if !sawLocal {
		t.Error("expected a local Import node for helper.h")
	}
}

func TestImportNodeIntegrationPython(t *testing.T) {
	dir := t.TempDir()
	writeLangTestFile(t, filepath.Join(dir, "main.py"),
		"import json\nfrom os import path as p\n")

	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := New(context.Background(), s, dir)
	if err := p.Run(); err != nil {
		t.Fatal(err)
	}

	nodes, err := s.FindNodesByLabel(p.ProjectName, "Import")
	if err != nil {
		t.Fatal(err)
	}

	byName := map[string]*store.Node{}
	for _, n := range nodes {
		byName[n.Name] = n
	}

	if _, ok := byName["json"]; !ok {
		t.Error("expected an Import node named json")
	}
	osImport, ok := byName["os"]
	if !ok {
		t.Fatal("expected an Import node named os")
	}
	if alias, _ := osImport.Properties["alias"].(string); alias != "p" {
		t.Errorf("os import alias = %q, want %q", alias, "p")
	}
	items, _ := osImport.Properties["imported_items"].([]interface{})
	if len(items) != 1 || items[0] != "path" {
		t.Errorf("os import imported_items = %v, want [path]", items)
	}
}

// --- StructFieldAccess ---

func TestStructFieldAccessIntegration(t *testing.T) {
	dir := t.TempDir()
	writeLangTestFile(t, filepath.Join(dir, "main.c"),
		"struct Point {\n\tint x;\n\tint y;\n};\n\n"+
			"int sum(struct Point p, struct Point *pp) {\n\treturn p.x + pp->y;\n}\n")

	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := New(context.Background(), s, dir)
	if err := p.Run(); err != nil {
		t.Fatal(err)
	}

	nodes, err := s.FindNodesByLabel(p.ProjectName, "StructFieldAccess")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 StructFieldAccess nodes, got %d", len(nodes))
	}

	var sawDirect, sawPointer bool
	for _, n := range nodes {
		structName, _ := n.Properties["struct"].(string)
		field, _ := n.Properties["field"].(string)
		accessType, _ := n.Properties["access_type"].(string)
		if structName != "Point" {
			t.Errorf("node %q struct = %q, want Point", n.QualifiedName, structName)
		}
		switch field {
		case "x":
			sawDirect = accessType == "direct"
		case "y":
			sawPointer = accessType == "pointer"
		}
	}
	if !sawDirect {
		t.Error("expected a direct access to field x")
	}
	if !sawPointer {
		t.Error("expected a pointer access to field y")
	}

	accesses, err := s.FindEdgesByType(p.ProjectName, "ACCESSES")
	if err != nil {
		t.Fatal(err)
	}
	if len(accesses) != 2 {
		t.Errorf("expected 2 ACCESSES edges, got %d", len(accesses))
	}

	accessedBy, err := s.FindEdgesByType(p.ProjectName, "ACCESSED_BY")
	if err != nil {
		t.Fatal(err)
	}
	if len(accessedBy) != 2 {
		t.Errorf("expected 2 ACCESSED_BY inverse edges, got %d", len(accessedBy))
	}
}
