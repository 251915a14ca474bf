package main

import (
	"fmt"
	"os"

	"github.com/badgergraph/codegraph/internal/lang"
	"github.com/badgergraph/codegraph/internal/parser"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func printAST(node *tree_sitter.Node, source []byte, indent int) {
	if node == nil {
		return
	}
	prefix := ""
	for i := 0; i < indent; i++ {
		prefix += "  "
	}
	parentKind := "nil"
	if node.Parent() != nil {
		parentKind = node.Parent().Kind()
	}
	text := string(source[node.StartByte():node.EndByte()])
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	fmt.Printf("%s%s (parent=%s) %q\n", prefix, node.Kind(), parentKind, text)
	for i := uint(0); i < node.ChildCount(); i++ {
		printAST(node.Child(i), source, indent+1)
	}
}

func main() {
	// Test C typedef and struct field access shapes
	cCode := []byte("typedef struct {\n\tint x;\n\tint y;\n} Point;\n\nint f(Point *p) {\n\treturn p->x;\n}\n")
	fmt.Println("=== C AST ===")
	tree, err := parser.Parse(lang.C, cCode)
	if err != nil {
		fmt.Println("Error:", err)
	}
	if tree != nil {
		printAST(tree.RootNode(), cCode, 0)
		tree.Close()
	}

	// Test Python decorated function
	pyCode := []byte("@app.route('/api')\ndef handler():\n    pass\n")
	fmt.Println("\n=== PYTHON DECORATED FUNC ===")
	tree3, err := parser.Parse(lang.Python, pyCode)
	if err != nil {
		fmt.Println("Error:", err)
	}
	if tree3 != nil {
		printAST(tree3.RootNode(), pyCode, 0)
		tree3.Close()
	}

	// Test Python with type annotation assignment
	pyCode2 := []byte("x: int = 5\nlogger: Logger = get_logger()\n")
	fmt.Println("\n=== PYTHON TYPE ANNOTATED ASSIGNMENT ===")
	tree4, err := parser.Parse(lang.Python, pyCode2)
	if err != nil {
		fmt.Println("Error:", err)
	}
	if tree4 != nil {
		printAST(tree4.RootNode(), pyCode2, 0)
		tree4.Close()
	}

	os.Exit(0)
}
