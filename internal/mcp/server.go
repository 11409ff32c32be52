// Package mcp exposes taskrank over the Model Context Protocol: query,
// reindex, and stats as tools, plus the effective status vocabulary and
// index statistics as resources. Stdio transport only; agents run the
// server as a local subprocess.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fernwick/taskrank/internal/ingest"
	"github.com/fernwick/taskrank/internal/rank"
	"github.com/fernwick/taskrank/internal/resolve"
	"github.com/fernwick/taskrank/internal/store"
	"github.com/fernwick/taskrank/internal/vocab"
)

// ServerConfig holds the collaborators for the MCP server.
type ServerConfig struct {
	Store      store.Store
	Engine     *resolve.Engine
	Vocabulary *vocab.Vocabulary
	CorpusRoot string
	Options    resolve.Options // base query options; per-call args override
	Version    string
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and concurrent
// reads during writes can return stale results. A global mutex ensures
// correct ordering: reindexes complete before queries see their data.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all taskrank tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Vocabulary == nil {
		cfg.Vocabulary = vocab.Default()
	}

	s := server.NewMCPServer(
		"taskrank",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerQueryTool(s, cfg)
	registerIndexTool(s, cfg)
	registerStatsTool(s, cfg)

	registerStatsResource(s, cfg)
	registerStatusesResource(s, cfg)

	return s
}

// --- Tools ---

func registerQueryTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("taskrank_query",
		mcp.WithDescription("Query the task index with a natural-language question. Returns scored, ranked tasks with provenance, and optionally a model-written analysis. Degrades to deterministic matching when no model is available."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language task query, e.g. 'urgent deploy tasks due this week'"),
		),
		mcp.WithString("mode",
			mcp.Description("Pipeline mode: plain, assisted-match, or assisted-analysis (default: plain)"),
			mcp.Enum("plain", "assisted-match", "assisted-analysis"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tasks to return (default: 20, max: 100)"),
		),
		mcp.WithString("sort",
			mcp.Description("Comma-separated sort criteria after relevance: due, priority, status, created, alphabetical, auto"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		opts := cfg.Options
		if modeStr, err := req.RequireString("mode"); err == nil && modeStr != "" {
			mode, err := resolve.ParseMode(modeStr)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid mode: %v", err)), nil
			}
			opts.Mode = mode
		}
		if limitVal, err := req.RequireFloat("limit"); err == nil {
			limit := int(limitVal)
			if limit > 100 {
				limit = 100
			}
			if limit > 0 {
				opts.Limit = limit
			}
		}
		if sortStr, err := req.RequireString("sort"); err == nil && sortStr != "" {
			chain, err := parseSortArg(sortStr)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid sort: %v", err)), nil
			}
			opts.Criteria = chain
		}

		result, err := cfg.Engine.Resolve(ctx, query, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerIndexTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("taskrank_index",
		mcp.WithDescription("Rebuild the task index from the markdown corpus. Walks the corpus root, parses checkbox tasks, and replaces each source file's rows atomically."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("root",
			mcp.Description("Corpus root directory to index (default: the configured root)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		root := cfg.CorpusRoot
		if r, err := req.RequireString("root"); err == nil && strings.TrimSpace(r) != "" {
			root = strings.TrimSpace(r)
		}
		if root == "" {
			return mcp.NewToolResultError("no corpus root configured; pass root or set corpus_root in config"), nil
		}

		result, err := ingest.ImportDir(ctx, cfg.Store, root, cfg.Vocabulary)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("index error: %v", err)), nil
		}

		out := map[string]interface{}{
			"root":       root,
			"files":      result.Files,
			"tasks":      result.Tasks,
			"elapsed_ms": result.Elapsed.Milliseconds(),
			"message":    fmt.Sprintf("Indexed %d task(s) from %d file(s)", result.Tasks, result.Files),
		}
		if len(result.Errors) > 0 {
			msgs := make([]string, len(result.Errors))
			for i, e := range result.Errors {
				msgs[i] = e
			}
			out["errors"] = msgs
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("taskrank_stats",
		mcp.WithDescription("Get task index statistics: task count, source file count, corpus version, and database size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := cfg.Store.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, cfg ServerConfig) {
	resource := mcp.NewResource(
		"taskrank://stats",
		"Index Statistics",
		mcp.WithResourceDescription("Task index statistics: counts, corpus version, and storage size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := cfg.Store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerStatusesResource(s *server.MCPServer, cfg ServerConfig) {
	resource := mcp.NewResource(
		"taskrank://statuses",
		"Status Vocabulary",
		mcp.WithResourceDescription("The effective status categories in sort order, including user-configured custom categories."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, _ := json.MarshalIndent(statusEntries(cfg.Vocabulary), "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

type statusInfo struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Symbols     []string `json:"symbols,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Order       int      `json:"order"`
}

func statusEntries(voc *vocab.Vocabulary) []statusInfo {
	entries := voc.Statuses()
	out := make([]statusInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, statusInfo{
			Key:         e.Key,
			DisplayName: e.DisplayName,
			Symbols:     e.Symbols,
			Aliases:     e.Aliases,
			Order:       e.Order,
		})
	}
	return out
}

// --- Helpers ---

func parseSortArg(arg string) ([]rank.Criterion, error) {
	parts := strings.Split(arg, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return rank.ParseCriteria(parts)
}
