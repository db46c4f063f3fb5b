package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/balancer"
	"github.com/crosspostly/youtube-podcast-sub002/internal/collab"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/workflow"
)

func main() {
	projectFile := flag.String("project", "", "项目定义JSON文件路径")
	projectDir := flag.String("dir", "", "批量模式：包含多个项目JSON的目录")
	outputDir := flag.String("output", "", "输出目录（默认取配置 output.dir）")
	format := flag.String("format", "wav", "母带音频格式: wav 或 mp3")
	subtitleMode := flag.String("subtitles", "precise", "字幕模式: precise 或 estimated")
	pacing := flag.String("pacing", "auto", "配图排期模式: auto 或 manual")
	flag.Parse()

	if *projectFile == "" && *projectDir == "" {
		fmt.Println("用法: assemble -project <项目.json> 或 assemble -dir <项目目录>")
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("读取配置失败，使用默认值", zap.Error(err))
	}

	processor := workflow.NewProcessor(logger)
	params := workflow.AssembleParams{
		OutputDir:    *outputDir,
		AudioFormat:  *format,
		SubtitleMode: *subtitleMode,
		Pacing:       balancer.PacingMode(*pacing),
	}

	ctx := context.Background()

	if *projectDir != "" {
		results, err := processor.BatchAssemble(ctx, *projectDir, collab.VoiceAssignment{}, params)
		if err != nil {
			logger.Fatal("批量装配失败", zap.Error(err))
		}
		fmt.Printf("批量装配完成，成功 %d 个项目\n", len(results))
		for _, r := range results {
			fmt.Printf("  - %s (%.1f秒, %d条字幕)\n", r.AudioFile, r.Duration, r.CueCount)
		}
		return
	}

	data, err := os.ReadFile(*projectFile)
	if err != nil {
		logger.Fatal("读取项目文件失败", zap.String("路径", *projectFile), zap.Error(err))
	}

	var project podcast.Project
	if err := json.Unmarshal(data, &project); err != nil {
		logger.Fatal("项目文件不是合法JSON", zap.Error(err))
	}
	if project.ID == "" {
		base := filepath.Base(*projectFile)
		project.ID = base[:len(base)-len(filepath.Ext(base))]
	}

	result, err := processor.Run(ctx, &project, collab.VoiceAssignment{}, params)
	if err != nil {
		logger.Fatal("装配失败", zap.Error(err))
	}

	fmt.Println("装配完成:")
	fmt.Printf("- 母带音频: %s (%.1f秒)\n", result.AudioFile, result.Duration)
	fmt.Printf("- 字幕文件: %s (%d条)\n", result.SubtitleFile, result.CueCount)
	fmt.Printf("- 导出包: %s\n", result.ExportFile)
	fmt.Printf("- 配图排期: %d张\n", result.ImageCount)
	fmt.Printf("- 释放字节: %d\n", result.BytesFreed)
}
