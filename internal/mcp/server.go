package mcp

import (
	"context"

	mcp_server "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/workflow"
)

type Server struct {
	server    *mcp_server.MCPServer
	processor *workflow.Processor
	logger    *zap.Logger
	handler   *Handler
}

func NewServer(processor *workflow.Processor, logger *zap.Logger) (*Server, error) {
	mcpServer := mcp_server.NewMCPServer(
		"youtube-podcast-workflow-server",
		"1.0.0",
		mcp_server.WithToolCapabilities(true),
		mcp_server.WithRecovery(),
	)

	s := &Server{
		server:    mcpServer,
		processor: processor,
		logger:    logger,
	}

	s.handler = NewHandler(s.server, processor, logger)
	s.handler.RegisterTools()

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	// 使用标准输入输出提供MCP服务
	if err := mcp_server.ServeStdio(s.server); err != nil {
		s.logger.Error("Failed to start MCP server", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) GetToolNames() []string {
	return s.handler.GetToolNames()
}
