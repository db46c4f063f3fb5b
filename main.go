package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/mcp"
	"github.com/crosspostly/youtube-podcast-sub002/internal/workflow"
)

func main() {
	fmt.Println("启动播客装配工作流系统...")

	// 启动 MCP 服务器
	go runMCPModeBackground()

	fmt.Println("MCP 服务器正在后台运行，供 AI 代理和其他客户端调用。")
	fmt.Println("Web 服务器请单独运行 cmd/web_server。")
	fmt.Println("按 Ctrl+C 停止服务")

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n正在关闭服务器...")
}

func runMCPModeBackground() {
	fmt.Println("启动 MCP 服务器模式...")

	// 1. 初始化日志（第一个操作，用于记录）
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// 2. 加载配置文件 - 首先尝试当前工作目录，然后尝试可执行文件目录
	var configPath string

	wd, _ := os.Getwd()
	configPath = filepath.Join(wd, "config.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		exe, exeErr := os.Executable()
		if exeErr != nil {
			logger.Fatal("无法获取可执行文件路径", zap.Error(exeErr))
		}
		exeDir := filepath.Dir(exe)
		configPath = filepath.Join(exeDir, "config.yaml")
	}

	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("读取配置文件失败",
			zap.String("configPath", configPath),
			zap.Error(err),
		)
	}
	// 重要：MCP走stdio，不要向stdout打印任何内容！使用logger记录到stderr。
	logger.Info("配置文件加载成功", zap.String("path", configPath))

	// 3. 检查协作方服务可用性
	unavailableServices := runSelfCheck()
	if len(unavailableServices) > 0 {
		logger.Warn("部分协作方服务不可用，相关阶段将失败",
			zap.Strings("不可用服务", unavailableServices))
	}

	// 4. 创建工作流处理器和MCP服务器
	processor := workflow.NewProcessor(logger)

	mcpServer, err := mcp.NewServer(processor, logger)
	if err != nil {
		logger.Fatal("创建MCP服务器失败", zap.Error(err))
	}

	// 5. 启动服务器
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mcpServer.Start(ctx); err != nil {
		logger.Fatal("MCP服务器启动失败", zap.Error(err))
	}
}

// runSelfCheck 检查四个协作方服务的可达性
func runSelfCheck() []string {
	serviceChecks := []struct {
		name      string
		configKey string
		fallback  string
	}{
		{"文案服务", "collab.script_url", "http://localhost:8801"},
		{"语音服务", "collab.speech_url", "http://localhost:8802"},
		{"配图服务", "collab.image_url", "http://localhost:8803"},
		{"音效服务", "collab.sfx_url", "http://localhost:8804"},
	}

	var unavailableServices []string
	for _, check := range serviceChecks {
		baseURL := viper.GetString(check.configKey)
		if baseURL == "" {
			baseURL = check.fallback
		}
		if err := checkService(baseURL); err != nil {
			unavailableServices = append(unavailableServices, check.name)
		}
	}

	return unavailableServices
}

// checkService 对服务根路径做一次探活
func checkService(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("状态码: %d", resp.StatusCode)
	}

	return nil
}
