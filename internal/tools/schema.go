package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleGetGraphSchema(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	st, project, err := s.resolveStore(getStringArg(args, "project"))
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	schema, err := st.GetSchema(project)
	if err != nil {
		return errResult(fmt.Sprintf("get schema: %v", err)), nil
	}

	result := map[string]any{
		"project": project,
		"schema":  schema,
	}
	s.addIndexStatus(result)
	return jsonResult(result), nil
}
