package tools

import (
	"context"
	"fmt"

	"github.com/badgergraph/codegraph/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const maxIncludeDepth = 20

func (s *Server) handleGetIncludeDependencies(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	path := getStringArg(args, "path")
	if path == "" {
		return invalidParam("path is required"), nil
	}

	st, project, err := s.resolveStore(getStringArg(args, "project"))
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	dependents, err := reverseIncludeDependents(st, project, path)
	if err != nil {
		return errResult(fmt.Sprintf("reverse dependencies: %v", err)), nil
	}

	result := map[string]any{
		"path":       path,
		"dependents": dependents,
	}
	s.addIndexStatus(result)
	return jsonResult(result), nil
}

// findModuleByFile locates the per-file Module node for path, which is the
// source endpoint of every IMPORTS edge recorded against that file.
func findModuleByFile(st *store.Store, project, path string) (*store.Node, error) {
	nodes, err := st.FindNodesByLabel(project, "Module")
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.FilePath == path {
			return n, nil
		}
	}
	return nil, nil
}

// reverseIncludeDependents returns the set (in no particular order) of file paths that
// transitively import/include the file at path, walking inbound IMPORTS
// edges breadth-first up to maxIncludeDepth with cycle detection.
func reverseIncludeDependents(st *store.Store, project, path string) ([]string, error) {
	start, err := findModuleByFile(st, project, path)
	if err != nil {
		return nil, err
	}
	if start == nil {
		return []string{}, nil
	}

	visited := map[int64]bool{start.ID: true}
	dependentFiles := make(map[string]bool)
	frontier := []*store.Node{start}

	for depth := 0; depth < maxIncludeDepth && len(frontier) > 0; depth++ {
		var next []*store.Node
		for _, node := range frontier {
			edges, err := st.FindEdgesByTargetAndType(node.ID, "IMPORTS")
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if visited[edge.SourceID] {
					continue
				}
				visited[edge.SourceID] = true
				src, err := st.FindNodeByID(edge.SourceID)
				if err != nil || src == nil {
					continue
				}
				dependentFiles[src.FilePath] = true
				next = append(next, src)
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(dependentFiles))
	for f := range dependentFiles {
		out = append(out, f)
	}
	return out, nil
}

func (s *Server) handleCheckAffectedFiles(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	files := getStringSliceArg(args, "files")
	if len(files) == 0 {
		return invalidParam("files must be a non-empty array"), nil
	}

	st, project, err := s.resolveStore(getStringArg(args, "project"))
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	seen := make(map[string]string) // file -> cause, highest-priority cause wins
	causePriority := map[string]int{"direct_include": 3, "transitive_include": 2, "function_call": 1}
	record := func(file, cause string) {
		if existing, ok := seen[file]; !ok || causePriority[cause] > causePriority[existing] {
			seen[file] = cause
		}
	}

	for _, f := range files {
		module, err := findModuleByFile(st, project, f)
		if err != nil {
			return errResult(fmt.Sprintf("find module: %v", err)), nil
		}
		if module != nil {
			directEdges, err := st.FindEdgesByTargetAndType(module.ID, "IMPORTS")
			if err != nil {
				return errResult(fmt.Sprintf("find edges: %v", err)), nil
			}
			for _, edge := range directEdges {
				src, err := st.FindNodeByID(edge.SourceID)
				if err != nil || src == nil {
					continue
				}
				record(src.FilePath, "direct_include")
			}
		}

		dependents, err := reverseIncludeDependents(st, project, f)
		if err != nil {
			return errResult(fmt.Sprintf("reverse dependencies: %v", err)), nil
		}
		for _, d := range dependents {
			record(d, "transitive_include")
		}

		contained, err := st.FindNodesByFile(project, f)
		if err != nil {
			return errResult(fmt.Sprintf("find nodes by file: %v", err)), nil
		}
		for _, n := range contained {
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
				record(caller.FilePath, "function_call")
			}
		}
	}

	byCause := map[string][]string{"direct_include": {}, "transitive_include": {}, "function_call": {}}
	for file, cause := range seen {
		byCause[cause] = append(byCause[cause], file)
	}

	result := map[string]any{
		"files":    files,
		"affected": byCause,
	}
	s.addIndexStatus(result)
	return jsonResult(result), nil
}
