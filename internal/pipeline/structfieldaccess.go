package pipeline

import (
	"log/slog"
	"strconv"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/badgergraph/codegraph/internal/fqn"
	"github.com/badgergraph/codegraph/internal/lang"
	"github.com/badgergraph/codegraph/internal/parser"
	"github.com/badgergraph/codegraph/internal/store"
)

// passStructFieldAccesses walks cached C ASTs for `x.f` / `x->f` struct field
// accesses, emitting StructFieldAccess nodes and ACCESSES/ACCESSED_BY edges to
// the struct the access resolves against.
func (p *Pipeline) passStructFieldAccesses() {
	slog.Info("pass.structfieldaccess")

	var nodes []*store.Node
	var edges []pendingEdge
	seen := make(map[string]bool)

	for relPath, cached := range p.astCache {
		if cached.Language != lang.C {
			continue
		}
		n, e := p.extractStructFieldAccessesForFile(relPath, cached, seen)
		nodes = append(nodes, n...)
		edges = append(edges, e...)
	}

	if len(nodes) == 0 {
		return
	}

	idMap, err := p.Store.UpsertNodeBatch(nodes)
	if err != nil {
		slog.Warn("pass.structfieldaccess.upsert.err", "err", err)
		return
	}

	var missing []string
	for _, pe := range edges {
		if _, ok := idMap[pe.SourceQN]; !ok {
			missing = append(missing, pe.SourceQN)
		}
		if _, ok := idMap[pe.TargetQN]; !ok {
			missing = append(missing, pe.TargetQN)
		}
	}
	if len(missing) > 0 {
		extra, err := p.Store.FindNodeIDsByQNs(p.ProjectName, missing)
		if err != nil {
			slog.Warn("pass.structfieldaccess.resolve.err", "err", err)
		} else {
			for qn, id := range extra {
				idMap[qn] = id
			}
		}
	}

	realEdges := make([]*store.Edge, 0, len(edges))
	for _, pe := range edges {
		srcID, srcOK := idMap[pe.SourceQN]
		tgtID, tgtOK := idMap[pe.TargetQN]
		if srcOK && tgtOK {
			realEdges = appendEdgeWithInverse(realEdges, p.ProjectName, srcID, tgtID, pe.Type, pe.Properties)
		}
	}

	if err := p.Store.InsertEdgeBatch(realEdges); err != nil {
		slog.Warn("pass.structfieldaccess.edges.err", "err", err)
	}

	slog.Info("pass.structfieldaccess.done", "nodes", len(nodes), "edges", len(realEdges))
}

// extractStructFieldAccessesForFile finds every field_expression in a cached
// C file and resolves it to a StructFieldAccess node plus an ACCESSES edge
// toward the struct the base variable's declared type names.
func (p *Pipeline) extractStructFieldAccessesForFile(
	relPath string, cached *cachedAST, seen map[string]bool,
) ([]*store.Node, []pendingEdge) {
	moduleQN := fqn.ModuleQN(p.ProjectName, relPath)
	varTypes := buildVarTypeMap(cached.Tree.RootNode(), cached.Source)

	var nodes []*store.Node
	var edges []pendingEdge

	parser.Walk(cached.Tree.RootNode(), func(node *tree_sitter.Node) bool {
		if node.Kind() != "field_expression" {
			return true
		}

		argNode := node.ChildByFieldName("argument")
		fieldNode := node.ChildByFieldName("field")
		if argNode == nil || fieldNode == nil {
			return true
		}

		fieldName := parser.NodeText(fieldNode, cached.Source)
		baseName := baseIdentifierName(argNode, cached.Source)
		if fieldName == "" || baseName == "" {
			return true
		}

		accessType := "direct"
		if strings.Contains(string(cached.Source[argNode.EndByte():fieldNode.StartByte()]), "->") {
			accessType = "pointer"
		}

		structName := varTypes[baseName]
		if structName == "" {
			structName = baseName
		}

		startLine := safeRowToLine(node.StartPosition().Row)
		accessQN := moduleQN + "::" + structName + "." + fieldName + "::" + strconv.Itoa(startLine)
		if seen[accessQN] {
			return true
		}
		seen[accessQN] = true

		nodes = append(nodes, &store.Node{
			Project:       p.ProjectName,
			Label:         "StructFieldAccess",
			Name:          structName + "." + fieldName,
			QualifiedName: accessQN,
			FilePath:      relPath,
			StartLine:     startLine,
			EndLine:       startLine,
			Properties: map[string]any{
				"struct":      structName,
				"field":       fieldName,
				"access_type": accessType,
			},
		})

		edges = append(edges, pendingEdge{
			SourceQN: moduleQN,
			TargetQN: accessQN,
			Type:     "DEFINES",
		})

		if structQN := p.resolveStructQN(structName, moduleQN); structQN != "" {
			edges = append(edges, pendingEdge{
				SourceQN: accessQN,
				TargetQN: structQN,
				Type:     "ACCESSES",
			})
		}

		return true
	})

	return nodes, edges
}

// resolveStructQN finds the qualified name of a Struct node by its tag or
// typedef alias, preferring a same-module match over a project-wide one.
func (p *Pipeline) resolveStructQN(structName, moduleQN string) string {
	p.registry.mu.RLock()
	defer p.registry.mu.RUnlock()

	sameModule := moduleQN + "." + structName
	if label, ok := p.registry.exact[sameModule]; ok && label == "Struct" {
		return sameModule
	}

	for _, qn := range p.registry.byName[structName] {
		if label, ok := p.registry.exact[qn]; ok && label == "Struct" {
			return qn
		}
	}
	return ""
}

// buildVarTypeMap walks declarations and parameters in a C file to build a
// variable name -> struct/typedef type name map, used to resolve the struct
// behind a `x.f`/`x->f` access.
func buildVarTypeMap(root *tree_sitter.Node, source []byte) map[string]string {
	varTypes := make(map[string]string)

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		kind := node.Kind()
		if kind != "declaration" && kind != "parameter_declaration" {
			return true
		}

		typeNode := node.ChildByFieldName("type")
		declNode := node.ChildByFieldName("declarator")
		if typeNode == nil || declNode == nil {
			return true
		}

		typeName := structTypeName(typeNode, source)
		if typeName == "" {
			return true
		}

		if varName := extractIdentifierFromDeclarator(declNode, source); varName != "" {
			varTypes[varName] = typeName
		}
		return true
	})

	return varTypes
}

// structTypeName resolves the struct/union/enum tag or typedef alias named by
// a declaration's type field, ignoring anonymous and primitive types.
func structTypeName(typeNode *tree_sitter.Node, source []byte) string {
	switch typeNode.Kind() {
	case "struct_specifier", "union_specifier", "enum_specifier":
		if nameNode := typeNode.ChildByFieldName("name"); nameNode != nil {
			return parser.NodeText(nameNode, source)
		}
		return ""
	case "type_identifier":
		return parser.NodeText(typeNode, source)
	default:
		return ""
	}
}

// baseIdentifierName descends through chained field/pointer accesses to find
// the leftmost base identifier, e.g. "a" in "a.b.c" or "(*a).b".
func baseIdentifierName(node *tree_sitter.Node, source []byte) string {
	for node != nil {
		switch node.Kind() {
		case "identifier":
			return parser.NodeText(node, source)
		case "field_expression":
			node = node.ChildByFieldName("argument")
		case "pointer_expression":
			node = node.ChildByFieldName("argument")
		case "parenthesized_expression":
			if node.NamedChildCount() == 0 {
				return ""
			}
			node = node.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}
