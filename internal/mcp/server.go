// Package mcp exposes the characterization engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/results"
	"github.com/bc-pathway-engine/internal/service"
)

// Tool names.
const (
	ToolCharacterizeCohort   = "characterize_cohort"
	ToolClassifyChemoRegimen = "classify_chemo_regimen"
	ToolClassifyPathway      = "classify_pathway"
	ToolLookupConcept        = "lookup_concept"
)

// Server represents the MCP server
type Server struct {
	mcpServer     *mcp.Server
	characterizer *service.Characterizer
	store         results.Store
	logger        *logrus.Logger
}

// NewServer creates a new MCP server instance. store may be nil, in which case runs are not
// persisted.
func NewServer(cfg domain.MCPConfig, characterizer *service.Characterizer, store results.Store, logger *logrus.Logger) *Server {
	name, version := cfg.ServerName, cfg.ServerVersion
	if name == "" {
		name = "bc-pathway-engine"
	}
	if version == "" {
		version = "v1.0.0"
	}

	s := &Server{
		mcpServer:     mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		characterizer: characterizer,
		store:         store,
		logger:        logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolCharacterizeCohort,
		Description: "Build the breast-cancer care pathway table for a cohort of patients over a study period",
	}, s.handleCharacterizeCohort)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolClassifyChemoRegimen,
		Description: "Classify a chemotherapy administration history as OneTreatment, Unitherapy, Bitherapy or Unknown",
	}, s.handleClassifyChemoRegimen)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolClassifyPathway,
		Description: "Map treatment presence and setting flags to a therapeutic pathway and tumor subtype",
	}, s.handleClassifyPathway)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolLookupConcept,
		Description: "Look up a medical concept of the code vocabulary, or list the concept names",
	}, s.handleLookupConcept)

	s.logger.WithField("tool_count", 4).Debug("Registered MCP tools")
}

// Run serves MCP over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close releases the results store.
func (s *Server) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func jsonResult(summary string, v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// createErrorResult reports a tool-level failure to the client without failing the call.
func (s *Server) createErrorResult(tool string, err error) *mcp.CallToolResult {
	s.logger.WithError(err).WithField("tool", tool).Warn("Tool call rejected")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s failed: %v", tool, err)},
		},
		IsError: true,
	}
}
