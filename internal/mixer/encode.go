package mixer

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/audio"
)

// Encoder 主音轨落盘编码器。WAV直接写出，MP3通过ffmpeg转码，
// 与字幕、视频工具使用同一套外部命令依赖。
type Encoder struct {
	logger *zap.Logger
}

// NewEncoder 创建编码器
func NewEncoder(logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{logger: logger}
}

// Encode 按目标格式写出主音轨。format为"wav"或"mp3"，
// 其余后缀按输出文件扩展名推断。
func (e *Encoder) Encode(track *MasterTrack, outputFile string) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(outputFile))
	switch ext {
	case ".wav", "":
		return e.encodeWAV(track.Clip, outputFile)
	case ".mp3":
		return e.encodeMP3(track.Clip, outputFile)
	default:
		return fmt.Errorf("不支持的输出格式: %s", ext)
	}
}

func (e *Encoder) encodeWAV(clip *audio.Clip, outputFile string) error {
	if err := os.WriteFile(outputFile, audio.EncodeWAV(clip), 0644); err != nil {
		return fmt.Errorf("写入WAV文件失败: %w", err)
	}
	e.logger.Info("主音轨已写出",
		zap.String("文件", outputFile),
		zap.Float64("时长", clip.Seconds()),
	)
	return nil
}

// encodeMP3 先写临时WAV再用ffmpeg转码
func (e *Encoder) encodeMP3(clip *audio.Clip, outputFile string) error {
	tmpWAV := outputFile + ".tmp.wav"
	if err := os.WriteFile(tmpWAV, audio.EncodeWAV(clip), 0644); err != nil {
		return fmt.Errorf("写入临时WAV失败: %w", err)
	}
	defer os.Remove(tmpWAV)

	cmd := exec.Command("ffmpeg", "-y",
		"-i", tmpWAV,
		"-codec:a", "libmp3lame",
		"-q:a", "2",
		outputFile,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg转码MP3失败: %v, 输出: %s", err, string(output))
	}

	e.logger.Info("主音轨已转码为MP3", zap.String("文件", outputFile))
	return nil
}
