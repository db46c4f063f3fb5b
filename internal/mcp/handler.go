package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	mcp "github.com/mark3labs/mcp-go/mcp"
	mcp_server "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/balancer"
	"github.com/crosspostly/youtube-podcast-sub002/internal/collab"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/workflow"
)

// Handler processes MCP requests
type Handler struct {
	server    *mcp_server.MCPServer
	processor *workflow.Processor
	logger    *zap.Logger
	toolNames []string
}

// NewHandler creates a new handler
func NewHandler(server *mcp_server.MCPServer, processor *workflow.Processor, logger *zap.Logger) *Handler {
	return &Handler{
		server:    server,
		processor: processor,
		logger:    logger,
		toolNames: make([]string, 0),
	}
}

// RegisterTools registers all tools with the MCP server
func (h *Handler) RegisterTools() {
	assembleTool := mcp.NewTool("assemble_podcast",
		mcp.WithDescription("Run the full podcast assembly pipeline for a project file: script, speech, sound effects, mixing, subtitles, image schedule, render plan and export bundle"),
		mcp.WithString("project_file", mcp.Required(), mcp.Description("Path to the project definition JSON file")),
		mcp.WithString("output_dir", mcp.Description("Output directory, defaults to config output.dir")),
		mcp.WithString("audio_format", mcp.Description("Master audio container: wav or mp3")),
		mcp.WithString("subtitle_mode", mcp.Description("Subtitle timing mode: precise or estimated")),
	)
	h.server.AddTool(assembleTool, h.handleAssemble)
	h.toolNames = append(h.toolNames, "assemble_podcast")

	mixTool := mcp.NewTool("mix_project",
		mcp.WithDescription("Mix the speech, music and sound-effect layers of an already prepared project into one master audio track"),
		mcp.WithString("project_file", mcp.Required(), mcp.Description("Path to the project definition JSON file")),
		mcp.WithString("output_dir", mcp.Description("Output directory for the master audio")),
		mcp.WithString("audio_format", mcp.Description("Master audio container: wav or mp3")),
	)
	h.server.AddTool(mixTool, h.handleMix)
	h.toolNames = append(h.toolNames, "mix_project")

	scriptTool := mcp.NewTool("generate_script",
		mcp.WithDescription("Generate a chaptered narration script for a project topic and write the updated project definition back to disk"),
		mcp.WithString("project_file", mcp.Required(), mcp.Description("Path to the project definition JSON file")),
		mcp.WithString("knowledge_base", mcp.Description("Optional background material to ground the script on")),
	)
	h.server.AddTool(scriptTool, h.handleGenerateScript)
	h.toolNames = append(h.toolNames, "generate_script")

	speechTool := mcp.NewTool("synthesize_chapters",
		mcp.WithDescription("Synthesize speech audio for every chapter of a scripted project and write the updated project definition back to disk"),
		mcp.WithString("project_file", mcp.Required(), mcp.Description("Path to the project definition JSON file")),
	)
	h.server.AddTool(speechTool, h.handleSynthesize)
	h.toolNames = append(h.toolNames, "synthesize_chapters")

	scheduleTool := mcp.NewTool("plan_image_schedule",
		mcp.WithDescription("Compute how many images to show and for how long given a fixed total runtime"),
		mcp.WithNumber("image_count", mcp.Required(), mcp.Description("Number of images in the pool")),
		mcp.WithNumber("total_duration", mcp.Required(), mcp.Description("Total runtime in seconds")),
	)
	h.server.AddTool(scheduleTool, h.handlePlanImages)
	h.toolNames = append(h.toolNames, "plan_image_schedule")

	h.logger.Info("MCP tools registered",
		zap.Int("tool_count", len(h.toolNames)))
}

func (h *Handler) loadProject(path string) (*podcast.Project, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取项目文件失败: %v", err)
	}
	var project podcast.Project
	if err := json.Unmarshal(content, &project); err != nil {
		return nil, fmt.Errorf("项目文件不是合法JSON: %v", err)
	}
	if project.ID == "" {
		return nil, fmt.Errorf("项目文件缺少id字段")
	}
	return &project, nil
}

// handleAssemble runs the end-to-end pipeline
func (h *Handler) handleAssemble(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectFile, err := request.RequireString("project_file")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: project_file"), nil
	}
	project, err := h.loadProject(projectFile)
	if err != nil {
		h.logger.Error("Failed to load project", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	params := workflow.AssembleParams{
		OutputDir:    request.GetString("output_dir", ""),
		AudioFormat:  request.GetString("audio_format", "wav"),
		SubtitleMode: request.GetString("subtitle_mode", "precise"),
		Pacing:       balancer.PacingAuto,
	}
	result, err := h.processor.Run(ctx, project, collab.VoiceAssignment{}, params)
	if err != nil {
		h.logger.Error("Failed to assemble podcast", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assemble podcast: %v", err)), nil
	}

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

// handleMix mixes an already prepared project
func (h *Handler) handleMix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectFile, err := request.RequireString("project_file")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: project_file"), nil
	}
	project, err := h.loadProject(projectFile)
	if err != nil {
		h.logger.Error("Failed to load project", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := h.processor.Assemble(ctx, project, workflow.AssembleParams{
		OutputDir:   request.GetString("output_dir", ""),
		AudioFormat: request.GetString("audio_format", "wav"),
	})
	if err != nil {
		h.logger.Error("Failed to mix project", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to mix project: %v", err)), nil
	}

	response := map[string]interface{}{
		"success":     true,
		"audio_file":  result.AudioFile,
		"duration":    result.Duration,
		"bytes_freed": result.BytesFreed,
	}
	responseJSON, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}

// saveProject writes the updated project definition back to its file
func (h *Handler) saveProject(path string, project *podcast.Project) error {
	content, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化项目失败: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("写回项目文件失败: %v", err)
	}
	return nil
}

// handleGenerateScript runs the script stage only
func (h *Handler) handleGenerateScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectFile, err := request.RequireString("project_file")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: project_file"), nil
	}
	project, err := h.loadProject(projectFile)
	if err != nil {
		h.logger.Error("Failed to load project", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := h.processor.PrepareScript(ctx, project, request.GetString("knowledge_base", "")); err != nil {
		h.logger.Error("Failed to generate script", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to generate script: %v", err)), nil
	}
	if err := h.saveProject(projectFile, project); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lineCount := 0
	for _, ch := range project.Chapters {
		lineCount += len(ch.Lines)
	}
	response := map[string]interface{}{
		"success":       true,
		"chapter_count": len(project.Chapters),
		"line_count":    lineCount,
	}
	responseJSON, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(responseJSON)), nil
}

// handleSynthesize runs the speech stage only
func (h *Handler) handleSynthesize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectFile, err := request.RequireString("project_file")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: project_file"), nil
	}
	project, err := h.loadProject(projectFile)
	if err != nil {
		h.logger.Error("Failed to load project", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	h.processor.PrepareSpeech(ctx, project, collab.VoiceAssignment{})
	if err := h.saveProject(projectFile, project); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	synthesized := 0
	failed := 0
	for _, ch := range project.Chapters {
		if ch.Audio != nil {
			synthesized++
		} else {
			failed++
		}
	}
	response := map[string]interface{}{
		"success":     failed == 0,
		"synthesized": synthesized,
		"failed":      failed,
	}
	responseJSON, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(responseJSON)), nil
}

// handlePlanImages exposes the image/duration balancer
func (h *Handler) handlePlanImages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageCount, err := request.RequireFloat("image_count")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: image_count"), nil
	}
	totalDuration, err := request.RequireFloat("total_duration")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: total_duration"), nil
	}

	pool := make([]*podcast.ImageAsset, int(imageCount))
	for i := range pool {
		pool[i] = &podcast.ImageAsset{ID: fmt.Sprintf("img_%d", i)}
	}
	plan, err := balancer.NewBalancer(h.logger).Plan(pool, totalDuration, balancer.PacingAuto, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to plan image schedule: %v", err)), nil
	}

	durations := make([]float64, len(plan))
	for i, p := range plan {
		durations[i] = p.Duration
	}
	response := map[string]interface{}{
		"final_image_count": len(plan),
		"durations":         durations,
	}
	responseJSON, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}

// GetToolNames gets all tool names
func (h *Handler) GetToolNames() []string {
	return h.toolNames
}
