package renderplan

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/balancer"
)

// Input 渲染计划的一个输入文件
type Input struct {
	Path     string  `json:"path"`
	Kind     string  `json:"kind"` // image / audio / sfx
	Duration float64 `json:"duration,omitempty"`
	Loop     bool    `json:"loop,omitempty"` // 静态图片需要循环成视频流
}

// SFXInput 需要在渲染阶段叠加的音效
type SFXInput struct {
	Path   string  `json:"path"`
	Start  float64 `json:"start"` // 主时间线秒数
	Volume float64 `json:"volume"`
}

// RenderPlan 声明式渲染计划。只描述合成步骤，不执行任何渲染；
// 滤镜阶段按顺序排列，最终音视频输出标签显式命名，导出端无需猜测。
type RenderPlan struct {
	Inputs           []Input  `json:"inputs"`
	FilterStages     []string `json:"filter_stages"`
	OutputVideoLabel string   `json:"output_video_label"`
	OutputAudioLabel string   `json:"output_audio_label"`
	SubtitleFile     string   `json:"subtitle_file,omitempty"`
	FrameRate        int      `json:"frame_rate"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
}

// FilterComplex 拼接完整的filter_complex表达式
func (p *RenderPlan) FilterComplex() string {
	return strings.Join(p.FilterStages, ";")
}

// Args 生成ffmpeg参数列表，供外部渲染协作方使用
func (p *RenderPlan) Args(outputFile string) []string {
	args := []string{"-y"}
	for _, in := range p.Inputs {
		if in.Loop {
			args = append(args, "-loop", "1", "-t", fmt.Sprintf("%.3f", in.Duration), "-framerate", fmt.Sprintf("%d", p.FrameRate))
		}
		args = append(args, "-i", in.Path)
	}
	args = append(args,
		"-filter_complex", p.FilterComplex(),
		"-map", p.OutputVideoLabel,
		"-map", p.OutputAudioLabel,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
		"-r", fmt.Sprintf("%d", p.FrameRate),
		outputFile,
	)
	return args
}

// Builder 滤镜图构建器
type Builder struct {
	frameRate int
	width     int
	height    int
	zoom      float64 // Ken Burns终点缩放倍率
	fontName  string
	fontSize  int
	logger    *zap.Logger
}

// NewBuilder 创建滤镜图构建器，视频参数从配置读取
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{
		frameRate: 25,
		width:     1920,
		height:    1080,
		zoom:      1.1,
		fontName:  "Noto Sans CJK SC",
		fontSize:  28,
		logger:    logger,
	}
	if viper.IsSet("video.frame_rate") {
		b.frameRate = viper.GetInt("video.frame_rate")
	}
	if viper.IsSet("video.width") {
		b.width = viper.GetInt("video.width")
	}
	if viper.IsSet("video.height") {
		b.height = viper.GetInt("video.height")
	}
	if viper.IsSet("video.ken_burns_zoom") {
		b.zoom = viper.GetFloat64("video.ken_burns_zoom")
	}
	if viper.IsSet("video.subtitle_font") {
		b.fontName = viper.GetString("video.subtitle_font")
	}
	if viper.IsSet("video.subtitle_font_size") {
		b.fontSize = viper.GetInt("video.subtitle_font_size")
	}
	return b
}

// Build 构建渲染计划。每张配图生成缩放+缓慢推拉滤镜并按排期时长
// 切片，全部拼接为连续视频流；每个音效生成延时滤镜并与主音轨做
// 两输入混音，N个音效串成N级链而不是一次N输入混音；最后叠加字幕
// 烧录。masterAudio是已混好语音和音乐的主音轨文件。
func (b *Builder) Build(images []balancer.ScheduledImage, masterAudio string, effects []SFXInput, subtitleFile string) (*RenderPlan, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("配图排期为空，无法构建渲染计划")
	}
	if masterAudio == "" {
		return nil, fmt.Errorf("缺少主音轨文件")
	}

	plan := &RenderPlan{
		FrameRate:    b.frameRate,
		Width:        b.width,
		Height:       b.height,
		SubtitleFile: subtitleFile,
	}

	// 图片输入
	for _, img := range images {
		plan.Inputs = append(plan.Inputs, Input{
			Path:     img.Image.Path,
			Kind:     "image",
			Duration: img.Duration,
			Loop:     true,
		})
	}
	audioIndex := len(images)
	plan.Inputs = append(plan.Inputs, Input{Path: masterAudio, Kind: "audio"})
	for _, fx := range effects {
		plan.Inputs = append(plan.Inputs, Input{Path: fx.Path, Kind: "sfx"})
	}

	// 每张图：缩放适配+补边+推拉镜头
	videoLabels := make([]string, 0, len(images))
	for i, img := range images {
		frames := int(math.Round(img.Duration * float64(b.frameRate)))
		if frames < 1 {
			frames = 1
		}
		// 每帧缩放增量由时长和终点倍率决定，保证推拉速度恒定
		step := (b.zoom - 1.0) / float64(frames)
		label := fmt.Sprintf("v%d", i)
		stage := fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,"+
				"zoompan=z='min(zoom+%.6f,%.3f)':d=%d:s=%dx%d:fps=%d[%s]",
			i, b.width, b.height, b.width, b.height,
			step, b.zoom, frames, b.width, b.height, b.frameRate, label,
		)
		plan.FilterStages = append(plan.FilterStages, stage)
		videoLabels = append(videoLabels, label)
	}

	// 拼接所有图片视频流
	var concat strings.Builder
	for _, l := range videoLabels {
		concat.WriteString("[" + l + "]")
	}
	concat.WriteString(fmt.Sprintf("concat=n=%d:v=1:a=0[vslides]", len(videoLabels)))
	plan.FilterStages = append(plan.FilterStages, concat.String())

	// 字幕烧录
	if subtitleFile != "" {
		style := fmt.Sprintf("FontName=%s,FontSize=%d,PrimaryColour=&Hffffff,Outline=2,Shadow=1", b.fontName, b.fontSize)
		plan.FilterStages = append(plan.FilterStages,
			fmt.Sprintf("[vslides]subtitles=%s:force_style='%s'[vout]", escapeFilterPath(subtitleFile), style))
		plan.OutputVideoLabel = "[vout]"
	} else {
		plan.OutputVideoLabel = "[vslides]"
	}

	// 音效链：逐个延时后与主音轨做两输入混音
	current := fmt.Sprintf("[%d:a]", audioIndex)
	for j, fx := range effects {
		delayMs := int(math.Round(fx.Start * 1000))
		if delayMs < 0 {
			delayMs = 0
		}
		fxLabel := fmt.Sprintf("sfx%d", j)
		plan.FilterStages = append(plan.FilterStages,
			fmt.Sprintf("[%d:a]volume=%.2f,adelay=%d|%d[%s]", audioIndex+1+j, fx.Volume, delayMs, delayMs, fxLabel))
		mixLabel := fmt.Sprintf("amix%d", j)
		if j == len(effects)-1 {
			mixLabel = "aout"
		}
		plan.FilterStages = append(plan.FilterStages,
			fmt.Sprintf("%s[%s]amix=inputs=2:duration=first:dropout_transition=0[%s]", current, fxLabel, mixLabel))
		current = "[" + mixLabel + "]"
	}
	if len(effects) == 0 {
		// 没有音效也要显式命名音频输出标签
		plan.FilterStages = append(plan.FilterStages, fmt.Sprintf("%sanull[aout]", current))
	}
	plan.OutputAudioLabel = "[aout]"

	b.logger.Info("渲染计划构建完成",
		zap.Int("图片", len(images)),
		zap.Int("音效", len(effects)),
		zap.Int("滤镜阶段", len(plan.FilterStages)))
	return plan, nil
}

// escapeFilterPath 字幕路径中的冒号和引号需要转义
func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, ":", `\:`)
	p = strings.ReplaceAll(p, "'", `\'`)
	return p
}
