package pipeline

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/badgergraph/codegraph/internal/fqn"
	"github.com/badgergraph/codegraph/internal/lang"
	"github.com/badgergraph/codegraph/internal/parser"
)

// TypeMap tracks variable names to their inferred class/type qualified names.
// Key: variable name, Value: class/type QN in the registry.
type TypeMap map[string]string

// inferTypes walks the AST looking for variable assignments where the value
// is a constructor call (class instantiation) and builds a mapping from
// variable name to the class QN. This enables resolving method calls like
// `obj.method()` to `ClassName.method`.
func inferTypes(
	root *tree_sitter.Node,
	source []byte,
	language lang.Language,
	registry *FunctionRegistry,
	moduleQN string,
	importMap map[string]string,
) TypeMap {
	types := make(TypeMap)

	if language == lang.Python {
		inferPythonTypes(root, source, registry, moduleQN, importMap, types)
	}

	return types
}

// inferPythonTypes handles Python patterns like:
//
//	x = ClassName(args)
//	x = module.ClassName(args)
func inferPythonTypes(
	root *tree_sitter.Node,
	source []byte,
	registry *FunctionRegistry,
	moduleQN string,
	importMap map[string]string,
	types TypeMap,
) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		// Look for assignment: expression_statement -> assignment
		if node.Kind() != "assignment" {
			return true
		}

		leftNode := node.ChildByFieldName("left")
		rightNode := node.ChildByFieldName("right")
		if leftNode == nil || rightNode == nil {
			return false
		}

		// Left side must be a simple identifier
		if leftNode.Kind() != "identifier" {
			return false
		}
		varName := parser.NodeText(leftNode, source)

		// Right side must be a call expression
		if rightNode.Kind() != "call" {
			return false
		}

		calleeName := extractCalleeForTypeInfer(rightNode, source)
		if calleeName == "" {
			return false
		}

		// Resolve the callee to see if it's a class
		classQN := resolveAsClass(calleeName, registry, moduleQN, importMap)
		if classQN != "" {
			types[varName] = classQN
		}

		return false
	})
}

// resolveAsClass checks if a name refers to a Class/Struct node in the registry.
func resolveAsClass(name string, registry *FunctionRegistry, moduleQN string, importMap map[string]string) string {
	qn := registry.Resolve(name, moduleQN, importMap)
	if qn == "" {
		return ""
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	label, exists := registry.exact[qn]
	if !exists {
		return ""
	}

	// Only return if it's a class-like node
	switch label {
	case "Class", "Struct":
		return qn
	}
	return ""
}

// extractCalleeForTypeInfer extracts the function/class name from a call node.
func extractCalleeForTypeInfer(callNode *tree_sitter.Node, source []byte) string {
	funcNode := callNode.ChildByFieldName("function")
	if funcNode == nil {
		return ""
	}

	switch funcNode.Kind() {
	case "identifier":
		return parser.NodeText(funcNode, source)
	case "attribute", "selector_expression":
		return parser.NodeText(funcNode, source)
	}
	return ""
}

// findEnclosingClassQN walks up the AST from a call node to find the enclosing
// class_definition (Python) and returns the class's qualified name.
// Returns "" if the call is not inside a class.
func findEnclosingClassQN(node *tree_sitter.Node, source []byte, project, relPath string) string {
	current := node.Parent()
	for current != nil {
		if current.Kind() == "class_definition" {
			nameNode := current.ChildByFieldName("name")
			if nameNode != nil {
				className := parser.NodeText(nameNode, source)
				return fqn.Compute(project, relPath, className)
			}
		}
		current = current.Parent()
	}
	return ""
}
