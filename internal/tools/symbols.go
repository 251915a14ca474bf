package tools

import (
	"context"
	"fmt"

	"github.com/badgergraph/codegraph/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// kindLabels maps a find_symbol_usages/get_function_callers "kind" argument
// to the node labels that satisfy it.
var kindLabels = map[string][]string{
	"function": {"Function", "Method"},
	"macro":    {"Macro"},
	"variable": {"Variable"},
	"struct":   {"Struct", "Class"},
	"typedef":  {"Typedef"},
}

// usageEdgeType returns the edge type that carries a reference into a node
// of the given kind; the edge's source is the referencing side.
func usageEdgeType(kind string) string {
	if kind == "function" {
		return "CALLS"
	}
	return "USAGE"
}

func (s *Server) handleFindSymbolUsages(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	name := getStringArg(args, "name")
	kind := getStringArg(args, "kind")
	labels, ok := kindLabels[kind]
	if name == "" || !ok {
		return invalidParam(fmt.Sprintf("name is required and kind must be one of function, macro, variable, struct, typedef (got %q)", kind)), nil
	}

	st, project, err := s.resolveStore(getStringArg(args, "project"))
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	defs := make([]*store.Node, 0, 1)
	for _, label := range labels {
		nodes, err := st.FindNodesByName(project, name)
		if err != nil {
			return errResult(fmt.Sprintf("find nodes: %v", err)), nil
		}
		for _, n := range nodes {
			if n.Label == label {
				defs = append(defs, n)
			}
		}
	}

	edgeType := usageEdgeType(kind)
	definitions := make([]map[string]any, 0, len(defs))
	usages := make([]map[string]any, 0)
	for _, def := range defs {
		definitions = append(definitions, map[string]any{
			"qualified_name": def.QualifiedName,
			"name":           def.Name,
			"label":          def.Label,
			"file_path":      def.FilePath,
			"start_line":     def.StartLine,
			"end_line":       def.EndLine,
		})

		refs, err := st.FindEdgesByTargetAndType(def.ID, edgeType)
		if err != nil {
			return errResult(fmt.Sprintf("find edges: %v", err)), nil
		}
		for _, edge := range refs {
			src, err := st.FindNodeByID(edge.SourceID)
			if err != nil || src == nil {
				continue
			}
			usages = append(usages, map[string]any{
				"qualified_name": def.QualifiedName,
				"from":           src.QualifiedName,
				"from_file":      src.FilePath,
				"type":           usageKindLabel(kind),
			})
		}
	}

	result := map[string]any{
		"name":        name,
		"kind":        kind,
		"definitions": definitions,
		"usages":      usages,
	}
	s.addIndexStatus(result)
	return jsonResult(result), nil
}

// usageKindLabel names the usage record's "type" field per symbol kind.
func usageKindLabel(kind string) string {
	switch kind {
	case "function":
		return "call"
	case "struct":
		return "field_access"
	default:
		return "usage"
	}
}

func (s *Server) handleGetFunctionCallers(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	name := getStringArg(args, "name")
	if name == "" {
		return invalidParam("name is required"), nil
	}
	includeIndirect := getBoolArg(args, "include_indirect")

	st, project, err := s.resolveStore(getStringArg(args, "project"))
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	nodes, err := st.FindNodesByName(project, name)
	if err != nil {
		return errResult(fmt.Sprintf("find nodes: %v", err)), nil
	}

	direct := make([]map[string]any, 0)
	for _, n := range nodes {
		if n.Label != "Function" && n.Label != "Method" {
			continue
		}
		callers, err := st.FindEdgesByTargetAndType(n.ID, "CALLS")
		if err != nil {
			return errResult(fmt.Sprintf("find edges: %v", err)), nil
		}
		for _, edge := range callers {
			caller, err := st.FindNodeByID(edge.SourceID)
			if err != nil || caller == nil {
				continue
			}
			direct = append(direct, map[string]any{
				"callee":         n.QualifiedName,
				"caller":         caller.QualifiedName,
				"caller_file":    caller.FilePath,
				"caller_label":   caller.Label,
			})
		}
	}

	result := map[string]any{
		"name":   name,
		"direct": direct,
	}

	if includeIndirect {
		vars, err := st.FindNodesByLabel(project, "Variable")
		if err != nil {
			return errResult(fmt.Sprintf("find variables: %v", err)), nil
		}
		indirect := make([]map[string]any, 0)
		for _, v := range vars {
			typeText, _ := v.Properties["type"].(string)
			if containsFunctionPointerHeuristic(v.Name, typeText, name) {
				indirect = append(indirect, map[string]any{
					"variable":      v.QualifiedName,
					"variable_file": v.FilePath,
					"type":          typeText,
				})
			}
		}
		result["indirect"] = indirect
	}

	s.addIndexStatus(result)
	return jsonResult(result), nil
}

// containsFunctionPointerHeuristic flags a Variable as a plausible holder of
// a pointer to the target function when its declared type or its own name
// textually references the function name.
func containsFunctionPointerHeuristic(varName, typeText, funcName string) bool {
	if funcName == "" {
		return false
	}
	return containsWord(typeText, funcName) || containsWord(varName, funcName)
}

func containsWord(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
