package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/renderplan"
)

// Bundle 导出适配方的输入契约：主音轨、字幕文件、配图和渲染计划
type Bundle struct {
	MasterAudio  string
	SubtitleFile string
	Images       []*podcast.ImageAsset
	RenderPlan   *renderplan.RenderPlan
}

// Exporter 把一次装配的全部产物打成可下载的压缩包
type Exporter struct {
	logger *zap.Logger
}

func NewExporter(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{logger: logger}
}

// Export 写出zip包。渲染计划序列化为JSON放在包根，音频和字幕按
// 原文件名收录，配图放入images/子目录。
func (e *Exporter) Export(bundle Bundle, outputFile string) error {
	if bundle.MasterAudio == "" {
		return fmt.Errorf("导出包缺少主音轨")
	}
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("创建导出目录失败: %v", err)
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("创建导出文件失败: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	if err := e.addFile(zw, bundle.MasterAudio, filepath.Base(bundle.MasterAudio)); err != nil {
		return err
	}
	if bundle.SubtitleFile != "" {
		if err := e.addFile(zw, bundle.SubtitleFile, filepath.Base(bundle.SubtitleFile)); err != nil {
			return err
		}
	}
	for _, img := range bundle.Images {
		if img.Path == "" {
			continue
		}
		if err := e.addFile(zw, img.Path, "images/"+filepath.Base(img.Path)); err != nil {
			// 单张配图缺失不阻塞导出
			e.logger.Warn("配图打包失败", zap.String("path", img.Path), zap.Error(err))
		}
	}
	if bundle.RenderPlan != nil {
		planJSON, err := json.MarshalIndent(bundle.RenderPlan, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化渲染计划失败: %v", err)
		}
		w, err := zw.Create("render_plan.json")
		if err != nil {
			return fmt.Errorf("写入渲染计划失败: %v", err)
		}
		if _, err := w.Write(planJSON); err != nil {
			return fmt.Errorf("写入渲染计划失败: %v", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("关闭导出包失败: %v", err)
	}
	e.logger.Info("导出包已生成",
		zap.String("文件", outputFile),
		zap.Int("配图", len(bundle.Images)))
	return nil
}

func (e *Exporter) addFile(zw *zip.Writer, srcPath, name string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("打开%s失败: %v", srcPath, err)
	}
	defer src.Close()
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("创建压缩条目%s失败: %v", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("写入压缩条目%s失败: %v", name, err)
	}
	return nil
}
