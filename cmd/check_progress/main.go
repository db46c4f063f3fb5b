package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/crosspostly/youtube-podcast-sub002/pkg/database"
)

func main() {
	projectID := flag.String("project", "", "按项目ID查看装配历史，留空则列出全部项目")
	flag.Parse()

	db, err := database.NewGormManager()
	if err != nil {
		fmt.Printf("无法打开数据库: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *projectID == "" {
		listProjects(db)
		return
	}
	showProject(db, *projectID)
}

func listProjects(db *database.GormManager) {
	projects, err := db.ListProjects()
	if err != nil {
		fmt.Printf("查询项目失败: %v\n", err)
		return
	}

	fmt.Printf("共 %d 个项目:\n", len(projects))
	for _, p := range projects {
		fmt.Printf("- %s [%s] %s\n", p.ProjectID, p.Status, p.Title)
		if p.AudioFile != "" {
			fmt.Printf("  母带: %s (%.1f秒)\n", p.AudioFile, p.Duration)
		}
		if p.ErrorMsg != "" {
			fmt.Printf("  错误: %s\n", p.ErrorMsg)
		}
	}
}

func showProject(db *database.GormManager, projectID string) {
	record, err := db.GetProjectByProjectID(projectID)
	if err != nil {
		fmt.Printf("查询项目失败: %v\n", err)
		return
	}
	if record == nil {
		fmt.Printf("项目 %s 不存在\n", projectID)
		return
	}

	fmt.Printf("项目 %s 处理进度:\n", record.ProjectID)
	fmt.Printf("- 标题: %s\n", record.Title)
	fmt.Printf("- 状态: %s\n", record.Status)
	fmt.Printf("- 章节数量: %d 个\n", len(record.Chapters))
	for _, ch := range record.Chapters {
		fmt.Printf("  - %s [%s] 起点%.1f秒 时长%.1f秒\n", ch.Title, ch.Status, ch.Offset, ch.Duration)
	}

	runs, err := db.GetRunsByProjectID(record.ID)
	if err != nil {
		fmt.Printf("查询装配历史失败: %v\n", err)
		return
	}
	fmt.Printf("- 装配历史: %d 次\n", len(runs))
	for _, run := range runs {
		fmt.Printf("  - [%s] 时长%.1f秒 字幕%d条 配图%d张 释放%d字节 耗时%d秒\n",
			run.Status, run.Duration, run.CueCount, run.ImageCount, run.BytesFreed, run.ElapsedSec)
		if run.ErrorMsg != "" {
			fmt.Printf("    错误: %s\n", run.ErrorMsg)
		}
	}
}
