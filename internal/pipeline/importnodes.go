package pipeline

import (
	"strconv"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/badgergraph/codegraph/internal/discover"
	"github.com/badgergraph/codegraph/internal/lang"
	"github.com/badgergraph/codegraph/internal/parser"
	"github.com/badgergraph/codegraph/internal/store"
)

// extractImportNodes emits one Import node per include/import statement,
// identified by (module, file, line) so re-indexing an unchanged file yields
// the same nodes. This is distinct from the module-dependency localName->QN
// map parseImports returns, which passImports later turns into the
// module-to-module IMPORTS/IMPORTED_BY edges.
func extractImportNodes(
	root *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, moduleQN string, result *parseResult,
) {
	switch f.Language {
	case lang.Python:
		extractPythonImportNodes(root, source, f, projectName, moduleQN, result)
	case lang.C:
		extractCImportNodes(root, source, f, projectName, moduleQN, result)
	}
}

func extractCImportNodes(
	root *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, moduleQN string, result *parseResult,
) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "preproc_include" {
			return true
		}

		pathNode := node.ChildByFieldName("path")
		if pathNode == nil {
			return false
		}

		kind := "local"
		moduleName := stripQuotes(parser.NodeText(pathNode, source))
		if pathNode.Kind() == "system_lib_string" {
			kind = "system"
			moduleName = strings.Trim(moduleName, "<>")
		}
		if moduleName == "" {
			return false
		}

		addImportNode(result, f, projectName, moduleQN, moduleName,
			parser.NodeText(node, source), "", kind, node)
		return false
	})
}

func extractPythonImportNodes(
	root *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, moduleQN string, result *parseResult,
) {
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		switch node.Kind() {
		case "import_statement":
			extractPythonImportStatementNode(node, source, f, projectName, moduleQN, result)
			return false
		case "import_from_statement":
			extractPythonFromImportNode(node, source, f, projectName, moduleQN, result)
			return false
		}
		return true
	})
}

func extractPythonImportStatementNode(
	node *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, moduleQN string, result *parseResult,
) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}

		var moduleName, alias string
		switch child.Kind() {
		case "dotted_name":
			moduleName = parser.NodeText(child, source)
		case "aliased_import":
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				moduleName = parser.NodeText(nameNode, source)
			}
			if aliasNode := child.ChildByFieldName("alias"); aliasNode != nil {
				alias = parser.NodeText(aliasNode, source)
			}
		default:
			continue
		}
		if moduleName == "" {
			continue
		}
		addImportNode(result, f, projectName, moduleQN, moduleName,
			parser.NodeText(node, source), alias, "local", node)
	}
}

func extractPythonFromImportNode(
	node *tree_sitter.Node, source []byte, f discover.FileInfo,
	projectName, moduleQN string, result *parseResult,
) {
	moduleNode := node.ChildByFieldName("module_name")
	var modulePath string
	if moduleNode != nil {
		modulePath = parser.NodeText(moduleNode, source)
	} else if text := parser.NodeText(node, source); strings.HasPrefix(text, "from .") {
		modulePath = "."
	}
	if modulePath == "" {
		return
	}

	var items []string
	var alias string
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			name := parser.NodeText(child, source)
			if name == modulePath {
				continue
			}
			items = append(items, name)
		case "aliased_import":
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				items = append(items, parser.NodeText(nameNode, source))
			}
			if aliasNode := child.ChildByFieldName("alias"); aliasNode != nil {
				alias = parser.NodeText(aliasNode, source)
			}
		}
	}

	importNode := addImportNode(result, f, projectName, moduleQN, modulePath,
		parser.NodeText(node, source), alias, "local", node)
	if importNode != nil && len(items) > 0 {
		importNode.Properties["imported_items"] = items
	}
}

// addImportNode builds and appends an Import node plus its containing DEFINES
// edge, returning the node so callers can attach further properties.
func addImportNode(
	result *parseResult, f discover.FileInfo, projectName, moduleQN,
	moduleName, text, alias, kind string, node *tree_sitter.Node,
) *store.Node {
	startLine := safeRowToLine(node.StartPosition().Row)
	importQN := moduleQN + "::import::" + moduleName + "::" + strconv.Itoa(startLine)

	props := map[string]any{
		"module": moduleName,
		"text":   text,
		"kind":   kind,
	}
	if alias != "" {
		props["alias"] = alias
	}

	importNode := &store.Node{
		Project:       projectName,
		Label:         "Import",
		Name:          moduleName,
		QualifiedName: importQN,
		FilePath:      f.RelPath,
		StartLine:     startLine,
		EndLine:       startLine,
		Properties:    props,
	}
	result.Nodes = append(result.Nodes, importNode)

	result.PendingEdges = append(result.PendingEdges, pendingEdge{
		SourceQN: moduleQN,
		TargetQN: importQN,
		Type:     "DEFINES",
	})

	return importNode
}
