package pipeline

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/badgergraph/codegraph/internal/lang"
	"github.com/badgergraph/codegraph/internal/parser"
)

// resolveModuleStrings performs in-memory constant propagation on module-level
// string assignments. It walks the AST top-to-bottom, collects simple string
// literals, then resolves interpolated and concatenated strings using the
// collected symbol table. Returns a map of variable name → resolved string.
//
// Supports: Python f-strings and concatenation, C #define and string-literal
// initializers.
//
// Source files are never modified — resolution is purely in RAM.
func resolveModuleStrings(root *tree_sitter.Node, source []byte, language lang.Language) map[string]string {
	symbols := make(map[string]string)

	// Walk only top-level children (module-level declarations)
	for i := uint(0); i < root.ChildCount(); i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		name, value := resolveAssignment(child, source, language, symbols)
		if name != "" && value != "" {
			symbols[name] = value
		}
	}

	return symbols
}

// resolveAssignment tries to extract a (name, resolved_value) pair from
// a top-level AST node. Returns ("","") if the node isn't a string assignment.
func resolveAssignment(node *tree_sitter.Node, source []byte, language lang.Language, symbols map[string]string) (name, value string) {
	switch language {
	case lang.Python:
		return resolvePython(node, source, symbols)
	case lang.C:
		return resolveC(node, source, symbols)
	default:
		return "", ""
	}
}

// --- Python ---
// expression_statement → assignment → (identifier, string|binary_operator)

func resolvePython(node *tree_sitter.Node, source []byte, symbols map[string]string) (name, value string) {
	if node.Kind() != "expression_statement" {
		return "", ""
	}
	assign := findChildByKind(node, "assignment")
	if assign == nil {
		return "", ""
	}
	nameNode := assign.ChildByFieldName("left")
	valueNode := assign.ChildByFieldName("right")
	if nameNode == nil || valueNode == nil || nameNode.Kind() != "identifier" {
		return "", ""
	}
	name = parser.NodeText(nameNode, source)
	value = resolveStringExpr(valueNode, source, symbols)
	return name, value
}

// --- C ---
// preproc_def → identifier + preproc_arg (for #define)
// declaration → init_declarator → identifier + value (for const char *x = "...")

func resolveC(node *tree_sitter.Node, source []byte, symbols map[string]string) (name, value string) {
	switch node.Kind() {
	case "preproc_def":
		nameNode := findChildByKind(node, "identifier")
		valueNode := findChildByKind(node, "preproc_arg")
		if nameNode == nil || valueNode == nil {
			return "", ""
		}
		name = parser.NodeText(nameNode, source)
		argText := strings.TrimSpace(parser.NodeText(valueNode, source))
		if len(argText) >= 2 && argText[0] == '"' && argText[len(argText)-1] == '"' {
			return name, argText[1 : len(argText)-1]
		}
		if val, ok := symbols[argText]; ok {
			return name, val
		}
		return "", ""

	case "declaration":
		initDecl := findChildByKind(node, "init_declarator")
		if initDecl == nil {
			return "", ""
		}
		nameNode := initDecl.ChildByFieldName("declarator")
		valueNode := initDecl.ChildByFieldName("value")
		if nameNode == nil || valueNode == nil {
			return "", ""
		}
		name = extractIdentifierFromDeclarator(nameNode, source)
		if name == "" {
			name = parser.NodeText(nameNode, source)
		}
		value = resolveStringExpr(valueNode, source, symbols)
		return name, value
	}
	return "", ""
}

// --- Universal expression resolver ---

// resolveStringExpr resolves a string expression node to its string value.
// Handles: literal strings, identifiers (symbol lookup), Python f-strings,
// and concatenation.
func resolveStringExpr(node *tree_sitter.Node, source []byte, symbols map[string]string) string {
	if node == nil {
		return ""
	}
	kind := node.Kind()

	if isStringLiteral(kind) {
		return extractStringContent(node, source)
	}

	if kind == "identifier" {
		return symbols[parser.NodeText(node, source)]
	}

	// Python f-strings: string with string_start = f" or f'
	if kind == "string" {
		start := findChildByKind(node, "string_start")
		if start != nil {
			startText := parser.NodeText(start, source)
			if strings.HasPrefix(startText, "f") || strings.HasPrefix(startText, "F") {
				return resolveInterpolatedChildren(node, source, symbols, "interpolation", "string_content")
			}
		}
		return extractStringContent(node, source)
	}

	// String concatenation with "+": binary_operator (Python) / binary_expression.
	// Adjacent C string literals (concatenated_string) are not resolved.
	if kind == "binary_expression" || kind == "binary_operator" {
		return resolveBinaryConcat(node, source, symbols)
	}

	if kind == "call" || kind == "call_expression" {
		return resolveCallExpr(node, source, symbols)
	}

	return ""
}

// resolveInterpolatedChildren resolves a node whose children alternate between
// interpolation nodes (containing variable refs) and literal content nodes.
// Used for Python f-strings.
func resolveInterpolatedChildren(node *tree_sitter.Node, source []byte, symbols map[string]string, interpKind, contentKind string) string {
	var b strings.Builder
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case interpKind:
			ident := findDescendantByKind(child, "identifier")
			if ident != nil {
				name := parser.NodeText(ident, source)
				if val, ok := symbols[name]; ok {
					b.WriteString(val)
				} else {
					b.WriteString("{}")
				}
			}
		case contentKind:
			b.WriteString(parser.NodeText(child, source))
		}
	}
	return b.String()
}

// resolveBinaryConcat resolves string concatenation: left + right.
func resolveBinaryConcat(node *tree_sitter.Node, source []byte, symbols map[string]string) string {
	opNode := node.ChildByFieldName("operator")
	if opNode == nil {
		return ""
	}
	op := parser.NodeText(opNode, source)

	switch op {
	case "+":
		left := resolveStringExpr(node.ChildByFieldName("left"), source, symbols)
		right := resolveStringExpr(node.ChildByFieldName("right"), source, symbols)
		if left == "" && right == "" {
			return ""
		}
		return left + right
	default:
		return ""
	}
}

// resolveCallExpr handles function calls with URL-like string arguments as a
// fallback, e.g. os.environ.get("KEY", "https://...") or getenv("KEY", "...").
func resolveCallExpr(node *tree_sitter.Node, source []byte, symbols map[string]string) string {
	args := node.ChildByFieldName("arguments")
	if args == nil {
		return ""
	}

	var argNodes []*tree_sitter.Node
	for i := uint(0); i < args.ChildCount(); i++ {
		child := args.Child(i)
		if child == nil {
			continue
		}
		kind := child.Kind()
		if kind == "(" || kind == ")" || kind == "," {
			continue
		}
		argNodes = append(argNodes, child)
	}

	return extractURLArgFallback(argNodes, source, symbols)
}

// extractURLArgFallback scans function arguments for URL-like string literals.
func extractURLArgFallback(argNodes []*tree_sitter.Node, source []byte, symbols map[string]string) string {
	for _, arg := range argNodes {
		val := resolveStringExpr(arg, source, symbols)
		if val != "" && looksLikeURL(val) {
			return val
		}
	}
	return ""
}

// looksLikeURL returns true if s appears to be a URL or API path.
func looksLikeURL(s string) bool {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return true
	}
	if strings.HasPrefix(s, "/") && strings.Count(s, "/") >= 2 {
		seg := strings.TrimPrefix(s, "/")
		return len(seg) > 3
	}
	return false
}

// --- Helpers ---

func isStringLiteral(kind string) bool {
	return kind == "string_literal"
}

// extractStringContent extracts the text content from a string literal node,
// stripping quotes.
func extractStringContent(node *tree_sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.Kind() == "string_content" {
			return parser.NodeText(child, source)
		}
	}
	text := parser.NodeText(node, source)
	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return text[1 : len(text)-1]
		}
	}
	return ""
}

func findChildByKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.Kind() == kind {
			return child
		}
	}
	return nil
}

func findDescendantByKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	if node.Kind() == kind {
		return node
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if found := findDescendantByKind(child, kind); found != nil {
			return found
		}
	}
	return nil
}
