package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleFindStructFieldAccess(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	structName := getStringArg(args, "struct")
	field := getStringArg(args, "field")
	if structName == "" || field == "" {
		return invalidParam("struct and field are both required"), nil
	}

	st, project, err := s.resolveStore(getStringArg(args, "project"))
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	nodes, err := st.FindNodesByLabel(project, "StructFieldAccess")
	if err != nil {
		return errResult(fmt.Sprintf("find nodes: %v", err)), nil
	}

	matches := make([]map[string]any, 0)
	for _, n := range nodes {
		gotStruct, _ := n.Properties["struct"].(string)
		gotField, _ := n.Properties["field"].(string)
		if gotStruct != structName || gotField != field {
			continue
		}
		matches = append(matches, map[string]any{
			"struct":      gotStruct,
			"field":       gotField,
			"file_path":   n.FilePath,
			"line":        n.StartLine,
			"access_type": n.Properties["access_type"],
		})
	}

	result := map[string]any{
		"struct":  structName,
		"field":   field,
		"matches": matches,
	}
	s.addIndexStatus(result)
	return jsonResult(result), nil
}
