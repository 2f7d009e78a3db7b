// Package mcpserver registers Cortex's tool surface (§6) once and exposes
// it two ways: as a real MCP server over stdio for assistants that spawn
// cortexd as a subprocess, and as a plain dispatch table internal/httpapi
// drives for the daemon's /mcp/tools/call HTTP surface. Both paths call
// the same handler functions, so there is exactly one implementation of
// each tool's behavior.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexmemory/cortex/internal/config"
	"github.com/cortexmemory/cortex/internal/cortexlog"
	"github.com/cortexmemory/cortex/internal/ingest"
	"github.com/cortexmemory/cortex/internal/initiative"
	"github.com/cortexmemory/cortex/internal/memory"
	"github.com/cortexmemory/cortex/internal/orient"
	"github.com/cortexmemory/cortex/internal/search"
	"github.com/cortexmemory/cortex/internal/store"
)

var log = cortexlog.Named("mcpserver")

// Version is set by cmd/cortexd before Serve is called.
var Version = "dev"

// Deps wires every engine a tool handler can call into.
type Deps struct {
	DB          *store.DB
	Memory      *memory.Engine
	Search      *search.Engine
	Initiatives *initiative.Engine
	Ingest      *ingest.Engine
	Orient      *orient.Engine
	ConfigStore *ConfigStore
}

// ConfigStore holds the daemon's mutable runtime configuration behind a
// lock (§5: "Runtime configuration map ... updates happen under a lock").
type ConfigStore struct {
	mu  sync.RWMutex
	cfg *config.Config
}

// NewConfigStore wraps cfg for concurrent access.
func NewConfigStore(cfg *config.Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Get returns the current configuration. Callers must not mutate the
// returned value; use Update.
func (c *ConfigStore) Get() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c.cfg
	return &cp
}

// Update applies fn to a copy of the current config and publishes the result.
func (c *ConfigStore) Update(fn func(*config.Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.cfg)
}

type toolEntry struct {
	description string
	schema      *jsonschema.Schema
	call        func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error)
}

// Registry is Cortex's 12-tool surface, built once at daemon bootstrap.
type Registry struct {
	deps    Deps
	server  *mcp.Server
	entries map[string]*toolEntry
	order   []string
}

// New builds the registry and registers every tool against both the MCP
// server (for stdio) and the HTTP dispatch table.
func New(deps Deps) *Registry {
	r := &Registry{
		deps:    deps,
		entries: map[string]*toolEntry{},
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "cortex",
			Version: Version,
		}, nil),
	}
	r.registerAll()
	return r
}

func register[In any](r *Registry, tool *mcp.Tool, handler func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, any, error)) {
	mcp.AddTool(r.server, tool, handler)

	schema, err := jsonschema.For[In]()
	if err != nil {
		log.Warn("schema for tool %s: %v", tool.Name, err)
	}

	r.entries[tool.Name] = &toolEntry{
		description: tool.Description,
		schema:      schema,
		call: func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
			var input In
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &input); err != nil {
					return nil, fmt.Errorf("decode arguments: %w", err)
				}
			}
			result, _, err := handler(ctx, nil, input)
			return result, err
		},
	}
	r.order = append(r.order, tool.Name)
}

// Serve runs the MCP protocol over stdio until ctx is canceled.
func (r *Registry) Serve(ctx context.Context) error {
	return r.server.Run(ctx, &mcp.StdioTransport{})
}

// ToolInfo describes one registered tool for GET /mcp/tools/list.
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema,omitempty"`
}

// List returns every tool's name, description, and input schema.
func (r *Registry) List() []ToolInfo {
	out := make([]ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, ToolInfo{Name: name, Description: e.description, InputSchema: e.schema})
	}
	return out
}

// Call dispatches a named tool call with raw JSON arguments — the engine
// behind POST /mcp/tools/call.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %q", name)
	}
	return e.call(ctx, args)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textResult(fmt.Sprintf("error: %v", err))
	}
	return textResult(string(data))
}

func errResult(err error) (*mcp.CallToolResult, any, error) {
	return textResult("Error: " + err.Error()), nil, nil
}
