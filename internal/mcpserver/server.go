// Package mcpserver exposes Scribe's tool surface over MCP. Stdio is the
// default transport; SSE and Streamable HTTP are available for clients that
// connect over a port:
// - SSE transport (/sse) for Claude Desktop, Cursor, etc.
// - Streamable HTTP transport (/mcp) for Codex
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/agentctx"
	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/docs"
	"github.com/scribe-dev/scribe/internal/execctx"
	"github.com/scribe-dev/scribe/internal/logbook"
	"github.com/scribe-dev/scribe/internal/reminder"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/sentinel"
	"github.com/scribe-dev/scribe/internal/state"
	"github.com/scribe-dev/scribe/internal/storage"
)

// Deps bundles the services the tool handlers dispatch into.
type Deps struct {
	Cfg       *config.Config
	Log       *logger.Logger
	Store     storage.Store
	Files     *sandbox.Checker
	Appender  *logbook.Appender
	Docs      *docs.Engine
	Reminders *reminder.Engine
	Agents    *agentctx.Service
	Sessions  *execctx.Manager
	Sentinel  *sentinel.Service
	State     *state.File
	RepoRoot  string
}

// Server wraps the MCP server with lifecycle management for the stdio and
// HTTP transports.
type Server struct {
	deps Deps
	mcp  *server.MCPServer

	mu                   sync.Mutex
	running              bool
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
}

// New creates the server and registers the tool surface.
func New(deps Deps) *Server {
	s := &Server{deps: deps}
	s.mcp = server.NewMCPServer(
		deps.Cfg.Server.Name,
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

func (s *Server) repoRoot() string { return s.deps.RepoRoot }

// ServeStdio runs the stdio transport until the client disconnects. Stdout
// carries JSON-RPC, which is why the logger writes to stderr.
func (s *Server) ServeStdio() error {
	s.deps.Log.Info("serving MCP over stdio",
		zap.String("server", s.deps.Cfg.Server.Name))
	return server.ServeStdio(s.mcp)
}

// StartHTTP starts the SSE and Streamable HTTP transports on addr and
// returns once listening.
func (s *Server) StartHTTP(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	s.sseServer = server.NewSSEServer(s.mcp)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.deps.Log.Info("MCP server listening",
			zap.String("addr", listener.Addr().String()),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.deps.Log.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the HTTP transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.deps.Log.Warn("failed to shutdown SSE server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.deps.Log.Warn("failed to shutdown Streamable HTTP server", zap.Error(err))
		}
	}
	return nil
}

func newExecutionID() string { return uuid.New().String() }

// docStatus reports each scaffolded doc as missing, incomplete, or complete
// for the reminder context. A checklist with unchecked items is incomplete.
func (s *Server) docStatus(project *storage.Project) map[string]string {
	projectDir := filepath.Dir(project.ProgressLogPath)
	status := make(map[string]string, 3)
	for name, file := range map[string]string{
		"architecture": "ARCHITECTURE.md",
		"phase_plan":   "PHASE_PLAN.md",
		"checklist":    "CHECKLIST.md",
	} {
		path := filepath.Join(projectDir, file)
		if _, err := os.Stat(path); err != nil {
			status[name] = "missing"
			continue
		}
		status[name] = "complete"
		if name == "checklist" {
			if doc, err := docs.LoadDocument(path); err == nil {
				for _, item := range docs.ListChecklistItems(doc, docs.ChecklistFilter{}) {
					if !item.Checked {
						status[name] = "incomplete"
						break
					}
				}
			}
		}
	}
	return status
}

// currentPhase reads the phase plan's current_phase front-matter value, or
// empty when the plan is absent.
func (s *Server) currentPhase(project *storage.Project) string {
	path := filepath.Join(filepath.Dir(project.ProgressLogPath), "PHASE_PLAN.md")
	doc, err := docs.LoadDocument(path)
	if err != nil || !doc.Exists {
		return ""
	}
	if v, ok := doc.FrontMatter.Values["current_phase"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
