package parser

import (
	"testing"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/badgergraph/codegraph/internal/lang"
)

func TestParsePython(t *testing.T) {
	source := []byte(`def greet(name):
    return f"Hello, {name}"

class MyClass:
    def method(self):
        pass
`)
	tree, err := Parse(lang.Python, source)
	if err != nil {
		t.Fatalf("Parse Python: %v", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var funcCount, classCount int
	Walk(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_definition":
			funcCount++
		case "class_definition":
			classCount++
		}
		return true
	})
	if funcCount != 2 {
		t.Errorf("expected 2 function_definitions, got %d", funcCount)
	}
	if classCount != 1 {
		t.Errorf("expected 1 class_definition, got %d", classCount)
	}
}

func TestParseC(t *testing.T) {
	source := []byte(`struct Point {
	int x;
	int y;
};

int add(int a, int b) {
	return a + b;
}

int sub(int a, int b) {
	return a - b;
}
`)
	tree, err := Parse(lang.C, source)
	if err != nil {
		t.Fatalf("Parse C: %v", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		t.Fatal("root node is nil")
	}

	var structCount, funcCount int
	Walk(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "struct_specifier":
			structCount++
		case "function_definition":
			funcCount++
		}
		return true
	})
	if structCount != 1 {
		t.Errorf("expected 1 struct_specifier, got %d", structCount)
	}
	if funcCount != 2 {
		t.Errorf("expected 2 function_definitions, got %d", funcCount)
	}
}

func TestAllLanguagesLoad(t *testing.T) {
	for _, l := range lang.AllLanguages() {
		_, err := GetLanguage(l)
		if err != nil {
			t.Errorf("GetLanguage(%s): %v", l, err)
		}
	}
}

func TestNodeText(t *testing.T) {
	source := []byte(`int add(int a, int b) {
	return a + b;
}
`)
	tree, err := Parse(lang.C, source)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	Walk(root, func(n *tree_sitter.Node) bool {
		if n.Kind() == "function_definition" {
			declNode := n.ChildByFieldName("declarator")
			if declNode == nil {
				t.Error("function has no declarator node")
				return false
			}
			nameNode := declNode.ChildByFieldName("declarator")
			if nameNode == nil {
				t.Error("function declarator has no name node")
				return false
			}
			name := NodeText(nameNode, source)
			if name != "add" {
				t.Errorf("expected add, got %s", name)
			}
			return false
		}
		return true
	})
}
