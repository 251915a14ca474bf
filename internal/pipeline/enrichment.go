package pipeline

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/badgergraph/codegraph/internal/lang"
	"github.com/badgergraph/codegraph/internal/parser"
	"github.com/badgergraph/codegraph/internal/store"
)

// countBranchingNodes counts branching AST nodes inside a function body
// as a proxy for cyclomatic complexity.
func countBranchingNodes(funcNode *tree_sitter.Node, branchingTypes []string) int {
	branchSet := toSet(branchingTypes)
	count := 0
	parser.Walk(funcNode, func(node *tree_sitter.Node) bool {
		if node.Id() == funcNode.Id() {
			return true // skip self, walk children
		}
		if branchSet[node.Kind()] {
			count++
		}
		return true
	})
	return count
}

// extractParamTypes extracts type names from a function's parameter list.
// Returns a slice of type name strings (e.g., ["Config", "string", "int"]).
func extractParamTypes(paramsNode *tree_sitter.Node, source []byte, language lang.Language) []string {
	var types []string
	seen := make(map[string]bool)

	addType := func(name string) {
		if name != "" && !isBuiltinType(name) && !seen[name] {
			seen[name] = true
			types = append(types, name)
		}
	}

	parser.Walk(paramsNode, func(node *tree_sitter.Node) bool {
		if node.Id() == paramsNode.Id() {
			return true
		}
		return extractParamType(node, source, language, addType)
	})
	return types
}

// extractParamType handles a single parameter node per language.
// Returns false to stop recursion when a param node is handled.
func extractParamType(node *tree_sitter.Node, source []byte, language lang.Language, addType func(string)) bool {
	switch language {
	case lang.Python:
		if node.Kind() == "typed_parameter" {
			if typeNode := node.ChildByFieldName("type"); typeNode != nil {
				addType(cleanTypeName(parser.NodeText(typeNode, source)))
			}
			return false
		}
	case lang.C:
		if node.Kind() == "parameter_declaration" {
			if typeNode := node.ChildByFieldName("type"); typeNode != nil {
				addType(cleanTypeName(parser.NodeText(typeNode, source)))
			}
			return false
		}
	}
	return true
}

// extractReturnTypes extracts type names from a return type node.
func extractReturnTypes(retNode *tree_sitter.Node, source []byte, _ lang.Language) []string {
	text := parser.NodeText(retNode, source)
	if text == "" {
		return nil
	}
	tn := cleanTypeName(text)
	if tn != "" && !isBuiltinType(tn) {
		return []string{tn}
	}
	return nil
}

// extractBaseClasses extracts superclass names from a class definition.
// Only Python has class inheritance in this extractor's scope; C structs
// have no base-class concept.
func extractBaseClasses(node *tree_sitter.Node, source []byte, language lang.Language) []string {
	if language == lang.Python {
		return extractPythonBases(node, source)
	}
	return nil
}

func extractPythonBases(node *tree_sitter.Node, source []byte) []string {
	superNode := node.ChildByFieldName("superclasses")
	if superNode == nil {
		return nil
	}
	var bases []string
	for i := uint(0); i < superNode.NamedChildCount(); i++ {
		child := superNode.NamedChild(i)
		if child == nil || child.Kind() == "keyword_argument" {
			continue
		}
		if name := parser.NodeText(child, source); name != "" {
			bases = append(bases, name)
		}
	}
	return bases
}

// isAbstractClass returns true if the class node has abstract modifiers.
// Neither Python nor C mark abstractness at the AST level in this extractor.
func isAbstractClass(_ *tree_sitter.Node, _ lang.Language) bool {
	return false
}

// extractAllDecorators extracts decorators from a node. Only Python has a
// decorator syntax in this extractor's scope.
func extractAllDecorators(node *tree_sitter.Node, source []byte, language lang.Language, _ *lang.LanguageSpec) []string {
	if language == lang.Python {
		return extractDecorators(node, source)
	}
	return nil
}

// cleanTypeName strips pointers, references, generics to get the base type name.
func cleanTypeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "*")
	s = strings.TrimPrefix(s, "&")
	s = strings.TrimPrefix(s, "[]")
	s = strings.TrimPrefix(s, "...")
	// Strip generic params: Map<String, Int> → Map
	if idx := strings.Index(s, "<"); idx > 0 {
		s = s[:idx]
	}
	// Strip array brackets: int[] → int
	if idx := strings.Index(s, "["); idx > 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// isBuiltinType returns true for primitive/builtin type names that aren't
// useful to track as USES_TYPE targets.
func isBuiltinType(name string) bool {
	switch name {
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64",
		"float", "float32", "float64", "double",
		"string", "str", "bool", "boolean", "byte", "rune",
		"void", "None", "any", "interface", "object", "Object",
		"error", "uintptr", "complex64", "complex128",
		"number", "bigint", "symbol", "undefined", "null",
		"char", "short", "long", "i8", "i16", "i32", "i64",
		"u8", "u16", "u32", "u64", "f32", "f64", "usize", "isize",
		"self", "Self", "cls", "type":
		return true
	}
	return false
}

// buildSymbolSummary creates a compact symbol list for File node enrichment.
// Format: "kind:name" where kind is func/method/class/struct/typedef/var/macro/import/field_access.
func buildSymbolSummary(nodes []*store.Node, moduleQN string) []string {
	symbols := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.QualifiedName == moduleQN {
			continue
		}
		prefix := labelToSymbolPrefix(n.Label)
		if prefix == "" {
			continue
		}
		symbols = append(symbols, prefix+":"+n.Name)
	}
	return symbols
}

func labelToSymbolPrefix(label string) string {
	switch label {
	case "Function":
		return "func"
	case "Method":
		return "method"
	case "Class":
		return "class"
	case "Struct":
		return "struct"
	case "Typedef":
		return "typedef"
	case "Variable":
		return "var"
	case "Macro":
		return "macro"
	case "Import":
		return "import"
	case "StructFieldAccess":
		return "field_access"
	default:
		return ""
	}
}
