package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/badgergraph/codegraph/internal/embed"
	"github.com/badgergraph/codegraph/internal/pipeline"
	"github.com/badgergraph/codegraph/internal/store"
	"github.com/badgergraph/codegraph/internal/watcher"
	"github.com/badgergraph/codegraph/internal/workspace"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with tool handlers implementing the query layer.
type Server struct {
	mcp      *mcp.Server
	router   *store.StoreRouter
	watcher  *watcher.Watcher
	encoder  embed.Encoder
	indexMu  sync.Mutex
	handlers map[string]mcp.ToolHandler

	// Session-aware fields (set once via sync.Once, then immutable)
	sessionOnce    sync.Once
	sessionRoot    string // absolute path from client
	sessionProject string // filepath.Base(sessionRoot)
	indexStatus    atomic.Value
	indexStartedAt atomic.Value // time.Time — when current/last index started
}

// NewServer creates a new MCP server with all query tools registered.
func NewServer(r *store.StoreRouter) *Server {
	srv := &Server{
		router:  r,
		encoder: embed.NewEncoder(embed.Config{Endpoint: os.Getenv("CODEGRAPH_EMBEDDING_ENDPOINT"), Model: os.Getenv("CODEGRAPH_EMBEDDING_MODEL")}),
		handlers: make(map[string]mcp.ToolHandler),
	}

	srv.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "codegraph",
			Version: "0.1.0",
		},
		&mcp.ServerOptions{
			InitializedHandler:      srv.onInitialized,
			RootsListChangedHandler: srv.onRootsChanged,
		},
	)

	srv.registerTools()
	srv.watcher = watcher.New(r, srv.reindexProject)
	return srv
}

// StartWatcher launches the background file-watch goroutine. It stops when
// ctx is cancelled.
func (s *Server) StartWatcher(ctx context.Context) {
	go s.watcher.Run(ctx)
}

// reindexProject is called by the watcher after a project's tree settles
// following a burst of filesystem events.
func (s *Server) reindexProject(ctx context.Context, projectName, rootPath string) error {
	if !s.indexMu.TryLock() {
		slog.Debug("watcher.skip", "path", rootPath, "reason", "index_in_progress")
		return nil
	}
	defer s.indexMu.Unlock()
	st, err := s.router.ForProject(projectName)
	if err != nil {
		return fmt.Errorf("store for %s: %w", projectName, err)
	}
	p := pipeline.New(ctx, st, rootPath)
	return p.Run()
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Router returns the underlying StoreRouter for direct access (e.g. CLI mode).
func (s *Server) Router() *store.StoreRouter {
	return s.router
}

// SessionProject returns the auto-detected session project name (may be empty).
func (s *Server) SessionProject() string {
	return s.sessionProject
}

// SetSessionRoot sets the session root path directly (for CLI mode).
func (s *Server) SetSessionRoot(rootPath string) {
	s.sessionOnce.Do(func() {
		s.sessionRoot = rootPath
		if rootPath != "" {
			s.sessionProject = filepath.Base(rootPath)
			s.startAutoIndex()
		}
	})
}

// --- Session detection ---

// onInitialized is called when the client sends notifications/initialized.
func (s *Server) onInitialized(ctx context.Context, req *mcp.InitializedRequest) {
	s.sessionOnce.Do(func() {
		s.sessionRoot = s.detectSessionRoot(ctx, req.Session)
		if s.sessionRoot != "" {
			s.sessionProject = filepath.Base(s.sessionRoot)
			s.startAutoIndex()
		}
	})
}

// onRootsChanged re-detects session root if not yet set.
func (s *Server) onRootsChanged(ctx context.Context, req *mcp.RootsListChangedRequest) {
	s.sessionOnce.Do(func() {
		s.sessionRoot = s.detectSessionRoot(ctx, req.Session)
		if s.sessionRoot != "" {
			s.sessionProject = filepath.Base(s.sessionRoot)
			s.startAutoIndex()
		}
	})
}

// detectSessionRoot tries multiple fallback strategies to find the workspace root.
func (s *Server) detectSessionRoot(ctx context.Context, session *mcp.ServerSession) string {
	// 1. Try MCP roots protocol
	if session != nil {
		result, err := session.ListRoots(ctx, nil)
		if err == nil && len(result.Roots) > 0 {
			uri := result.Roots[0].URI
			if path, ok := parseFileURI(uri); ok {
				slog.Info("session.root.from_roots", "path", path)
				return path
			}
		}
	}

	// 2. Fall back to process working directory
	if cwd, err := os.Getwd(); err == nil && cwd != "/" && cwd != os.Getenv("HOME") {
		slog.Info("session.root.from_cwd", "path", cwd)
		return cwd
	}

	// 3. Fall back to the single registered workspace
	if wp, ok := workspace.Load(); ok {
		slog.Info("session.root.from_workspace_registry", "path", wp)
		return wp
	}

	slog.Info("session.root.none", "reason", "no_roots_no_cwd_no_registered_workspace")
	return ""
}

// parseFileURI extracts a filesystem path from a file:// URI.
func parseFileURI(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, true
}

// startAutoIndex triggers background indexing for the session project if it
// hasn't been indexed yet, then hands the project to the watcher.
func (s *Server) startAutoIndex() {
	hasDB := s.router.HasProject(s.sessionProject)

	if !hasDB {
		s.indexStatus.Store("indexing")
	} else {
		s.indexStatus.Store("ready")
	}

	go func() {
		if !s.indexMu.TryLock() {
			slog.Debug("autoindex.skip", "reason", "index_in_progress")
			return
		}
		defer s.indexMu.Unlock()

		s.indexStartedAt.Store(time.Now())
		if !hasDB {
			s.indexStatus.Store("indexing")
		}

		st, err := s.router.ForProject(s.sessionProject)
		if err != nil {
			slog.Warn("autoindex.store.err", "err", err)
			return
		}
		if err := st.UpsertProject(s.sessionProject, s.sessionRoot); err != nil {
			slog.Warn("autoindex.upsert_project.err", "err", err)
		}
		p := pipeline.New(context.Background(), st, s.sessionRoot)
		if err := p.Run(); err != nil {
			slog.Warn("autoindex.err", "err", err)
			return
		}
		s.indexStatus.Store("ready")
		slog.Info("autoindex.done", "project", s.sessionProject)
	}()

	if s.sessionRoot != "" {
		if err := workspace.Save(s.sessionRoot); err != nil {
			slog.Warn("workspace.save.err", "err", err)
		}
	}
}

// --- Store routing ---

// resolveStore returns the Store for the given project, falling back to the
// session project when empty.
func (s *Server) resolveStore(project string) (*store.Store, string, error) {
	if project == "" {
		project = s.sessionProject
	}
	if project == "" {
		return nil, "", fmt.Errorf("no project specified and no session project detected")
	}
	if !s.router.HasProject(project) {
		return nil, "", fmt.Errorf("project %q not indexed yet", project)
	}
	st, err := s.router.ForProject(project)
	return st, project, err
}

// addIndexStatus adds the index_status field to response data if indexing is in progress.
func (s *Server) addIndexStatus(data map[string]any) {
	status, _ := s.indexStatus.Load().(string)
	if status == "indexing" {
		data["index_status"] = "indexing"
	}
}

// --- Tool registration ---

func (s *Server) addTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	s.mcp.AddTool(tool, handler)
	s.handlers[tool.Name] = handler
}

// CallTool invokes a tool handler directly by name, bypassing MCP transport.
func (s *Server) CallTool(ctx context.Context, name string, argsJSON json.RawMessage) (*mcp.CallToolResult, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return jsonResult(map[string]any{
			"error": fmt.Sprintf("unknown tool: %s", name),
			"type":  "unknown_tool",
		}), nil
	}
	if len(argsJSON) == 0 {
		argsJSON = json.RawMessage(`{}`)
	}
	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      name,
			Arguments: argsJSON,
		},
	}
	return handler(ctx, req)
}

// ToolNames returns all registered tool names in sorted order.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registerTools registers the eight query-layer tools: the six contractual
// operations plus the two supplementary schema/snippet tools.
func (s *Server) registerTools() {
	s.registerUsageTools()
	s.registerDependencyTools()
	s.registerSchemaAndSnippetTools()
}

func (s *Server) registerUsageTools() {
	s.addTool(&mcp.Tool{
		Name:        "find_symbol_usages",
		Description: "Find every definition and usage of a symbol by exact name. kind selects which node label to look for (function, macro, variable, struct, typedef). Returns one definition record per match plus one usage record per inbound edge (calls for functions, file references for macros/typedefs, containing-function references for variables, field accesses for structs).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Exact symbol name to look up"},
				"kind": {
					"type": "string",
					"enum": ["function", "macro", "variable", "struct", "typedef"],
					"description": "Node kind to search for"
				},
				"project": {"type": "string", "description": "Project to search in. Defaults to session project."}
			},
			"required": ["name", "kind"]
		}`),
	}, s.handleFindSymbolUsages)

	s.addTool(&mcp.Tool{
		Name:        "get_function_callers",
		Description: "Return the direct callers of a function (inverse CALLS edges). With include_indirect=true, also runs a heuristic pass over Variable nodes whose type text or name suggests they hold a function pointer to the target.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Exact function name"},
				"include_indirect": {"type": "boolean", "description": "Include function-pointer heuristic matches"},
				"project": {"type": "string", "description": "Project to search in. Defaults to session project."}
			},
			"required": ["name"]
		}`),
	}, s.handleGetFunctionCallers)

	s.addTool(&mcp.Tool{
		Name:        "find_struct_field_access",
		Description: "Find every StructFieldAccess node matching an exact (struct, field) pair.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"struct": {"type": "string", "description": "Struct name"},
				"field": {"type": "string", "description": "Field name"},
				"project": {"type": "string", "description": "Project to search in. Defaults to session project."}
			},
			"required": ["struct", "field"]
		}`),
	}, s.handleFindStructFieldAccess)
}

func (s *Server) registerDependencyTools() {
	s.addTool(&mcp.Tool{
		Name:        "get_include_dependencies",
		Description: "Return the transitive set of files that depend on the given file (reverse dependency). For Python files this follows import resolution against dotted module names; for C/C++ files this follows #include membership, capped at depth 20 with cycle detection.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the project root"},
				"project": {"type": "string", "description": "Project to search in. Defaults to session project."}
			},
			"required": ["path"]
		}`),
	}, s.handleGetIncludeDependencies)

	s.addTool(&mcp.Tool{
		Name:        "check_affected_files",
		Description: "For each file in the input set, union the reverse-include dependents with the caller-files of every function the file contains. Results are partitioned by cause: direct_include, transitive_include, function_call.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"files": {"type": "array", "items": {"type": "string"}, "description": "File paths to check"},
				"project": {"type": "string", "description": "Project to search in. Defaults to session project."}
			},
			"required": ["files"]
		}`),
	}, s.handleCheckAffectedFiles)

	s.addTool(&mcp.Tool{
		Name:        "semantic_code_search",
		Description: "Embed the query text and return the nodes whose stored embedding is most similar (cosine), optionally filtered by a glob against file path or basename.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Natural-language or code-like search text"},
				"file_glob": {"type": "string", "description": "Optional glob to restrict results to matching file paths"},
				"limit": {"type": "integer", "description": "Max results (default 10)"},
				"project": {"type": "string", "description": "Project to search in. Defaults to session project."}
			},
			"required": ["query"]
		}`),
	}, s.handleSemanticCodeSearch)
}

func (s *Server) registerSchemaAndSnippetTools() {
	s.addTool(&mcp.Tool{
		Name:        "get_graph_schema",
		Description: "Return the schema of the indexed code graph: node label counts, edge type counts, relationship patterns (e.g. Function-CALLS->Function), and sample function/class names. Use to understand what's in the graph before querying.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project": {"type": "string", "description": "Project to get schema for. Defaults to session project."}
			}
		}`),
	}, s.handleGetGraphSchema)

	s.addTool(&mcp.Tool{
		Name:        "get_code_snippet",
		Description: "Retrieve source code for a node by qualified name. Reads directly from disk using the stored file path and line range. Returns the source code with line numbers.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"qualified_name": {"type": "string", "description": "Fully qualified name of the node"},
				"project": {"type": "string", "description": "Project to search in. Defaults to session project."}
			},
			"required": ["qualified_name"]
		}`),
	}, s.handleGetCodeSnippet)
}

// --- Helpers ---

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result carrying the {error, type: tool_error} envelope.
func errResult(msg string) *mcp.CallToolResult {
	b, _ := json.Marshal(map[string]any{"error": msg, "type": "tool_error"})
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
		IsError: true,
	}
}

// invalidParam returns the {error, type: invalid_parameter} envelope.
func invalidParam(msg string) *mcp.CallToolResult {
	b, _ := json.Marshal(map[string]any{"error": msg, "type": "invalid_parameter"})
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return str
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	f, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument from parsed args.
func getBoolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		return false
	}
	return b
}

// getStringSliceArg extracts a string array argument.
func getStringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// findNodeByQNAcrossProjects searches for a node by qualified name, preferring
// the given project filter and falling back to the session project.
func (s *Server) findNodeByQNAcrossProjects(qn, projectFilter string) (*store.Node, string, error) {
	st, project, err := s.resolveStore(projectFilter)
	if err != nil {
		return nil, "", err
	}
	node, err := st.FindNodeByQN(project, qn)
	if err != nil {
		return nil, "", err
	}
	if node == nil {
		return nil, "", fmt.Errorf("node not found: %s", qn)
	}
	return node, project, nil
}
