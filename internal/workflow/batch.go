package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/collab"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// BatchAssemble 批量装配目录中的项目文件。每个json文件是一个
// 完整的项目定义，单个项目失败不影响后续项目。
func (p *Processor) BatchAssemble(ctx context.Context, projectDir string, voices collab.VoiceAssignment, params AssembleParams) ([]*AssembleResult, error) {
	files, err := filepath.Glob(filepath.Join(projectDir, "*.json"))
	if err != nil {
		return nil, err
	}

	var results []*AssembleResult
	for _, file := range files {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		content, err := os.ReadFile(file)
		if err != nil {
			p.logger.Warn("读取项目文件失败",
				zap.String("文件", file), zap.Error(err))
			continue
		}
		var project podcast.Project
		if err := json.Unmarshal(content, &project); err != nil {
			p.logger.Warn("项目文件不是合法JSON",
				zap.String("文件", file), zap.Error(err))
			continue
		}
		if project.ID == "" {
			base := filepath.Base(file)
			project.ID = base[:len(base)-len(filepath.Ext(base))]
		}

		result, err := p.Run(ctx, &project, voices, params)
		if err != nil {
			p.logger.Warn("项目装配失败",
				zap.String("项目", project.ID), zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
