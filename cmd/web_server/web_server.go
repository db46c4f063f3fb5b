package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/balancer"
	"github.com/crosspostly/youtube-podcast-sub002/internal/collab"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/workflow"
	"github.com/crosspostly/youtube-podcast-sub002/pkg/broadcast"
	"github.com/crosspostly/youtube-podcast-sub002/pkg/database"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebServer 播客装配的HTTP入口：REST接口提交和查询项目，
// WebSocket推送装配进度。
type WebServer struct {
	db     *database.GormManager
	events *broadcast.Service
	logger *zap.Logger

	mu       sync.Mutex
	projects map[string]*podcast.Project // 内存中的完整项目定义
	running  map[string]bool             // 装配中的项目
}

func NewWebServer(logger *zap.Logger) (*WebServer, error) {
	db, err := database.NewGormManager()
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %v", err)
	}
	return &WebServer{
		db:       db,
		events:   broadcast.NewService(),
		logger:   logger,
		projects: make(map[string]*podcast.Project),
		running:  make(map[string]bool),
	}, nil
}

func (s *WebServer) setupRoutes(r *gin.Engine) {
	r.GET("/api/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	{
		api.POST("/projects", s.handleCreateProject)
		api.GET("/projects", s.handleListProjects)
		api.GET("/projects/:id", s.handleGetProject)
		api.POST("/projects/:id/assemble", s.handleAssemble)
		api.GET("/projects/:id/runs", s.handleListRuns)
		api.GET("/projects/:id/bundle", s.handleDownloadBundle)
	}
}

func (s *WebServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format("2006-01-02 15:04:05")})
}

// handleCreateProject 接收完整项目定义并持久化元数据
func (s *WebServer) handleCreateProject(c *gin.Context) {
	var project podcast.Project
	if err := c.ShouldBindJSON(&project); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("项目定义不是合法JSON: %v", err)})
		return
	}
	if project.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "项目缺少id字段"})
		return
	}

	record, err := s.db.SaveProject(&project)
	if err != nil {
		s.logger.Error("保存项目失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.projects[project.ID] = &project
	s.mu.Unlock()

	c.JSON(http.StatusCreated, record)
}

func (s *WebServer) handleListProjects(c *gin.Context) {
	projects, err := s.db.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (s *WebServer) handleGetProject(c *gin.Context) {
	record, err := s.db.GetProjectByProjectID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目不存在"})
		return
	}
	c.JSON(http.StatusOK, record)
}

type assembleRequest struct {
	OutputDir    string `json:"output_dir"`
	AudioFormat  string `json:"audio_format"`
	SubtitleMode string `json:"subtitle_mode"`
	Pacing       string `json:"pacing"`
	MaxImages    int    `json:"max_images"`
}

// handleAssemble 异步触发装配，进度通过WebSocket推送
func (s *WebServer) handleAssemble(c *gin.Context) {
	projectID := c.Param("id")

	s.mu.Lock()
	project, ok := s.projects[projectID]
	if ok && s.running[projectID] {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "项目正在装配中"})
		return
	}
	if ok {
		s.running[projectID] = true
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目不存在或定义未加载，请先POST /api/projects"})
		return
	}

	var req assembleRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		s.mu.Lock()
		delete(s.running, projectID)
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go s.assemble(project, req)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "project_id": projectID})
}

func (s *WebServer) assemble(project *podcast.Project, req assembleRequest) {
	defer func() {
		s.mu.Lock()
		delete(s.running, project.ID)
		s.mu.Unlock()
	}()

	record, err := s.db.GetProjectByProjectID(project.ID)
	if err != nil || record == nil {
		s.logger.Error("装配前查询项目失败", zap.String("项目", project.ID), zap.Error(err))
		return
	}

	run := &database.AssemblyRun{StartTime: database.MyTime{Time: time.Now()}}
	s.events.Publish(project.ID, "mix", "log", "开始装配")

	// 每次装配使用独立流水线，进度回调互不串扰
	processor := workflow.NewProcessor(s.logger)
	processor.OnProgress(func(stage string, percent float64, message string) {
		s.events.PublishProgress(project.ID, stage, message, percent)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	result, err := processor.Run(ctx, project, collab.VoiceAssignment{}, workflow.AssembleParams{
		OutputDir:    req.OutputDir,
		AudioFormat:  req.AudioFormat,
		SubtitleMode: req.SubtitleMode,
		Pacing:       balancer.PacingMode(req.Pacing),
		MaxImages:    req.MaxImages,
	})
	if err != nil {
		s.logger.Error("装配失败", zap.String("项目", project.ID), zap.Error(err))
		if dbErr := s.db.RecordAssemblyFailure(record.ID, run, err.Error()); dbErr != nil {
			s.logger.Error("写回失败记录失败", zap.Error(dbErr))
		}
		s.events.Publish(project.ID, "mix", "error", err.Error())
		return
	}

	run.CueCount = result.CueCount
	run.ImageCount = result.ImageCount
	if err := s.db.RecordAssembly(record.ID, run, result.AudioFile, result.SubtitleFile, result.ExportFile, result.Duration, result.BytesFreed); err != nil {
		s.logger.Error("写回装配结果失败", zap.Error(err))
	}
	for _, timing := range result.Timeline {
		status := database.StatusCompleted
		if timing.Offset < 0 {
			status = database.StatusFailed
		}
		if err := s.db.UpdateChapterTimeline(record.ID, timing.ChapterID, timing.Offset, timing.Duration, status); err != nil {
			s.logger.Error("写回章节时间线失败",
				zap.String("章节", timing.ChapterID), zap.Error(err))
		}
	}
	s.events.Publish(project.ID, "export", "success",
		fmt.Sprintf("装配完成，时长%.1f秒，释放%d字节", result.Duration, result.BytesFreed))
}

func (s *WebServer) handleListRuns(c *gin.Context) {
	record, err := s.db.GetProjectByProjectID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目不存在"})
		return
	}
	runs, err := s.db.GetRunsByProjectID(record.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// handleDownloadBundle 下载最近一次装配的导出包
func (s *WebServer) handleDownloadBundle(c *gin.Context) {
	record, err := s.db.GetProjectByProjectID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目不存在"})
		return
	}
	if record.ExportFile == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目尚未装配，没有导出包"})
		return
	}
	c.FileAttachment(record.ExportFile, filepath.Base(record.ExportFile))
}

// handleWebSocket 订阅装配进度
func (s *WebServer) handleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket升级失败", zap.Error(err))
		return
	}
	defer ws.Close()

	client := s.events.RegisterClient(ws)
	defer s.events.UnregisterClient(client)

	for event := range client.Send {
		if err := ws.WriteJSON(event); err != nil {
			s.logger.Warn("推送进度失败，断开客户端", zap.Error(err))
			return
		}
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("读取配置失败，使用默认值", zap.Error(err))
	}

	server, err := NewWebServer(logger)
	if err != nil {
		logger.Fatal("创建Web服务器失败", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go server.events.Start(&wg)
	defer func() {
		server.events.Close()
		wg.Wait()
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	server.setupRoutes(r)

	port := viper.GetString("server.port")
	if port == "" {
		port = "8080"
	}
	logger.Info("Web服务器启动", zap.String("port", port))
	if err := r.Run(":" + port); err != nil {
		logger.Fatal("Web服务器退出", zap.Error(err))
	}
}
