package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/badgergraph/codegraph/internal/embed"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type scoredNode struct {
	qualifiedName string
	name          string
	label         string
	filePath      string
	startLine     int
	endLine       int
	score         float64
}

func (s *Server) handleSemanticCodeSearch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	query := getStringArg(args, "query")
	if query == "" {
		return invalidParam("query is required"), nil
	}
	fileGlob := getStringArg(args, "file_glob")
	limit := getIntArg(args, "limit", 10)
	if limit <= 0 {
		limit = 10
	}

	st, project, err := s.resolveStore(getStringArg(args, "project"))
	if err != nil {
		return invalidParam(err.Error()), nil
	}

	queryVec, err := s.encoder.Encode(ctx, query)
	if err != nil {
		return errResult(fmt.Sprintf("encode query: %v", err)), nil
	}

	nodes, err := st.AllNodes(project)
	if err != nil {
		return errResult(fmt.Sprintf("load nodes: %v", err)), nil
	}

	candidates := make([]scoredNode, 0, len(nodes))
	for _, n := range nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		if fileGlob != "" && !matchesGlob(fileGlob, n.FilePath) {
			continue
		}
		vec := embed.DecodeVector(n.Embedding)
		if len(vec) != embed.Dim {
			continue
		}
		candidates = append(candidates, scoredNode{
			qualifiedName: n.QualifiedName,
			name:          n.Name,
			label:         n.Label,
			filePath:      n.FilePath,
			startLine:     n.StartLine,
			endLine:       n.EndLine,
			score:         embed.Cosine(queryVec, vec),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, map[string]any{
			"qualified_name": c.qualifiedName,
			"name":           c.name,
			"label":          c.label,
			"file_path":      c.filePath,
			"start_line":     c.startLine,
			"end_line":       c.endLine,
			"score":          c.score,
		})
	}

	result := map[string]any{
		"query":   query,
		"results": results,
	}
	s.addIndexStatus(result)
	return jsonResult(result), nil
}

// matchesGlob matches pattern (which may contain "**") against both the
// full file path and its base name, so callers can pass either
// "internal/**/*.go" or "*_test.go".
func matchesGlob(pattern, path string) bool {
	if ok, err := doublestar.Match(pattern, path); err == nil && ok {
		return true
	}
	if ok, err := doublestar.Match(pattern, filepath.Base(path)); err == nil && ok {
		return true
	}
	return false
}
