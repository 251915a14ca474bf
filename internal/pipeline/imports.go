package pipeline

import (
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/badgergraph/codegraph/internal/discover"
	"github.com/badgergraph/codegraph/internal/fqn"
	"github.com/badgergraph/codegraph/internal/lang"
	"github.com/badgergraph/codegraph/internal/parser"
)

// parseImports extracts the import map for a source file.
// Returns localName -> resolvedQN mapping.
func parseImports(
	root *tree_sitter.Node,
	source []byte,
	language lang.Language,
	projectName, relPath string,
	basenameIndex map[string]string,
) map[string]string {
	switch language {
	case lang.Python:
		return parsePythonImports(root, source, projectName, relPath)
	case lang.C:
		return parseCIncludes(root, source, projectName, relPath, basenameIndex)
	default:
		return nil
	}
}

// parseCIncludes extracts local #include directives and resolves them to
// project modules. System includes (<...>) are dropped entirely — the spec's
// C extractor only tracks local header dependencies.
//
// C include AST structure:
//
//	preproc_include
//	  path: string_literal (local, "foo.h") or system_lib_string (<foo.h>)
//
// Resolution first tries the include path relative to the including file's
// directory, then falls back to matching any project file by basename —
// deliberately simple, matching the resolver's file-dependency heuristic.
func parseCIncludes(
	root *tree_sitter.Node,
	source []byte,
	projectName, relPath string,
	basenameIndex map[string]string,
) map[string]string {
	imports := make(map[string]string)
	dir := filepath.Dir(relPath)

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if node.Kind() != "preproc_include" {
			return true
		}

		pathNode := node.ChildByFieldName("path")
		if pathNode == nil {
			return false
		}
		if pathNode.Kind() == "system_lib_string" {
			return false
		}

		includeText := stripQuotes(parser.NodeText(pathNode, source))
		if includeText == "" {
			return false
		}

		resolved := resolveCInclude(includeText, dir, basenameIndex)
		if resolved == "" {
			return false
		}

		imports[includeText] = fqn.ModuleQN(projectName, resolved)
		return false
	})

	return imports
}

// resolveCInclude resolves a local #include path to a project-relative file
// path: first relative to the including file's directory, then by basename
// match against every discovered project file.
func resolveCInclude(includeText, dir string, basenameIndex map[string]string) string {
	candidate := filepath.ToSlash(filepath.Clean(filepath.Join(dir, includeText)))
	if _, ok := basenameIndex["/rel/"+candidate]; ok {
		return candidate
	}
	if resolved, ok := basenameIndex[filepath.Base(includeText)]; ok {
		return resolved
	}
	return ""
}

// buildBasenameIndex builds a lookup used to resolve C #include directives:
// "/rel/<path>" entries allow an exact relative-path check, while bare
// basename keys support the fallback any-file-with-this-name match.
func buildBasenameIndex(files []discover.FileInfo) map[string]string {
	index := make(map[string]string, len(files)*2)
	for _, f := range files {
		relPath := filepath.ToSlash(f.RelPath)
		index["/rel/"+relPath] = relPath
		base := filepath.Base(relPath)
		if _, exists := index[base]; !exists {
			index[base] = relPath
		}
	}
	return index
}

// parsePythonImports extracts Python import statements.
//
// Python import AST structures:
//
//	import_statement:
//	  dotted_name children (e.g., "import foo.bar")
//	  aliased_import with alias (e.g., "import foo as f")
//
//	import_from_statement:
//	  module_name: dotted_name or relative_import
//	  name: dotted_name (what's being imported)
//	  Multiple names possible (e.g., "from foo import bar, baz")
func parsePythonImports(
	root *tree_sitter.Node,
	source []byte,
	projectName, relPath string,
) map[string]string {
	imports := make(map[string]string)

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		switch node.Kind() {
		case "import_statement":
			processPythonImport(node, source, projectName, imports)
			return false
		case "import_from_statement":
			processPythonFromImport(node, source, projectName, relPath, imports)
			return false
		}
		return true
	})

	return imports
}

// processPythonImport handles "import X" and "import X as Y" statements.
func processPythonImport(node *tree_sitter.Node, source []byte, projectName string, imports map[string]string) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}

		switch child.Kind() {
		case "dotted_name":
			name := parser.NodeText(child, source)
			localName := lastDotSegment(name)
			imports[localName] = resolvePythonModule(name, projectName)

		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil {
				continue
			}
			name := parser.NodeText(nameNode, source)
			localName := lastDotSegment(name)
			if aliasNode != nil {
				localName = parser.NodeText(aliasNode, source)
			}
			imports[localName] = resolvePythonModule(name, projectName)
		}
	}
}

// processPythonFromImport handles "from X import Y" statements.
func processPythonFromImport(
	node *tree_sitter.Node,
	source []byte,
	projectName, relPath string,
	imports map[string]string,
) {
	// Get the module being imported from
	moduleNode := node.ChildByFieldName("module_name")
	var modulePath string
	isRelative := false

	if moduleNode != nil {
		modulePath = parser.NodeText(moduleNode, source)
		isRelative = strings.HasPrefix(modulePath, ".")
	} else {
		// Check for bare relative import: "from . import X"
		text := parser.NodeText(node, source)
		if strings.HasPrefix(text, "from .") {
			isRelative = true
			modulePath = "."
		}
	}

	// Resolve the base module
	var baseModule string
	if isRelative {
		baseModule = resolveRelativePythonImport(modulePath, relPath, projectName)
	} else {
		baseModule = resolvePythonModule(modulePath, projectName)
	}

	// Extract each imported name
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}

		switch child.Kind() {
		case "dotted_name":
			name := parser.NodeText(child, source)
			// Skip the module_name itself (first dotted_name is often the source)
			if name == modulePath {
				continue
			}
			localName := lastDotSegment(name)
			if baseModule != "" {
				imports[localName] = baseModule + "." + name
			} else {
				imports[localName] = name
			}

		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil {
				continue
			}
			name := parser.NodeText(nameNode, source)
			localName := lastDotSegment(name)
			if aliasNode != nil {
				localName = parser.NodeText(aliasNode, source)
			}
			if baseModule != "" {
				imports[localName] = baseModule + "." + name
			} else {
				imports[localName] = name
			}
		}
	}
}

// resolvePythonModule converts a Python module path to a project QN.
// "utils" -> "project.utils", "foo.bar" -> "project.foo.bar"
func resolvePythonModule(modulePath, projectName string) string {
	if modulePath == "" {
		return projectName
	}
	return projectName + "." + modulePath
}

// resolveRelativePythonImport resolves relative imports like "from . import X"
// or "from ..utils import X" based on the current file's location.
func resolveRelativePythonImport(modulePath, relPath, projectName string) string {
	// Count leading dots for relative depth
	dots := 0
	for _, ch := range modulePath {
		if ch == '.' {
			dots++
		} else {
			break
		}
	}
	remainder := strings.TrimLeft(modulePath, ".")

	// Navigate up from the current file's directory
	dir := filepath.Dir(relPath)
	for i := 1; i < dots; i++ {
		dir = filepath.Dir(dir)
	}

	baseQN := fqn.FolderQN(projectName, dir)
	if dir == "." || dir == "" {
		baseQN = projectName
	}

	if remainder != "" {
		return baseQN + "." + remainder
	}
	return baseQN
}

// stripQuotes removes surrounding quotes from a string literal.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// lastDotSegment returns the last segment of a .-separated name.
func lastDotSegment(name string) string {
	parts := strings.Split(name, ".")
	return parts[len(parts)-1]
}
