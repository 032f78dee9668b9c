package mcp

import (
	"context"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	DefaultName    = "tip.md"
	DefaultVersion = "1.0.0"
)

const instructions = "Tools for tipping tip.md users in USDC. Call check_balance first to create or find your " +
	"tipping wallet and keep the returned userId; pass it to tip, withdraw and export_wallet. Use get_wallet_types " +
	"to see where a user can be tipped, and crypto_tip to tip from a wallet you control yourself."

type Options struct {
	Name    string
	Version string
	Logger  *zap.Logger
}

// Server is the MCP server carrying the tipping tools.
type Server struct {
	mcp   *mcpsdk.Server
	tools Tools
	log   *zap.Logger
}

func NewServer(tools Tools, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		mcp: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    opts.Name,
			Version: opts.Version,
		}, &mcpsdk.ServerOptions{Instructions: instructions}),
		tools: tools,
		log:   log.Named("mcp"),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying go-sdk server.
func (s *Server) MCPServer() *mcpsdk.Server {
	return s.mcp
}

// Handler returns the streamable HTTP transport. All sessions share one
// server.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.mcp
	}, nil)
}

// RunStdio serves a single session on stdin/stdout until the client
// disconnects or ctx is done.
func (s *Server) RunStdio(ctx context.Context) error {
	s.log.Info("serving on stdio")
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

func addTool[In, Out any](s *Server, tool *mcpsdk.Tool, h mcpsdk.ToolHandlerFor[In, Out]) {
	mcpsdk.AddTool(s.mcp, tool, instrument(s.log, tool.Name, h))
}

// instrument logs every call of h with its latency and outcome.
func instrument[In, Out any](log *zap.Logger, name string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)

		ok, code := outcome(out)
		fields := []zap.Field{
			zap.String("tool", name),
			zap.Duration("latency", time.Since(start)),
			zap.Bool("success", ok),
		}
		if code != "" {
			fields = append(fields, zap.String("code", code))
		}
		if err != nil {
			log.Error("tool call failed", append(fields, zap.Error(err))...)
			return res, out, err
		}
		log.Info("tool call", fields...)
		return res, out, nil
	}
}
