package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/balancer"
	"github.com/crosspostly/youtube-podcast-sub002/internal/collab"
	"github.com/crosspostly/youtube-podcast-sub002/internal/dispatch"
	"github.com/crosspostly/youtube-podcast-sub002/internal/export"
	"github.com/crosspostly/youtube-podcast-sub002/internal/mixer"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/renderplan"
	"github.com/crosspostly/youtube-podcast-sub002/internal/subtitle"
	"github.com/crosspostly/youtube-podcast-sub002/internal/timing"
)

// AssembleParams 装配参数
type AssembleParams struct {
	OutputDir    string
	AudioFormat  string // wav / mp3
	SubtitleMode string // precise / estimated
	Pacing       balancer.PacingMode
	MaxImages    int // 每章节配图数
}

// ChapterTiming 章节在主时间线上的落位，Offset为-1表示该章未能解码
type ChapterTiming struct {
	ChapterID string  `json:"chapter_id"`
	Offset    float64 `json:"offset"`
	Duration  float64 `json:"duration"`
}

// AssembleResult 装配产物
type AssembleResult struct {
	AudioFile    string                 `json:"audio_file"`
	SubtitleFile string                 `json:"subtitle_file"`
	ExportFile   string                 `json:"export_file"`
	Duration     float64                `json:"duration"`
	CueCount     int                    `json:"cue_count"`
	ImageCount   int                    `json:"image_count"`
	BytesFreed   int64                  `json:"bytes_freed"`
	Timeline     []ChapterTiming        `json:"timeline"`
	Plan         *renderplan.RenderPlan `json:"plan,omitempty"`
	Status       string                 `json:"status"`
	Message      string                 `json:"message"`
}

// Processor 播客装配流水线：脚本 -> 语音 -> 音效 -> 混音 -> 字幕 ->
// 配图排期 -> 渲染计划 -> 导出 -> 资产释放。
type Processor struct {
	dispatcher *dispatch.RateLimitedDispatcher
	script     *collab.ScriptClient
	speech     *collab.SpeechClient
	images     *collab.ImageClient
	sfx        *collab.SFXClient
	mixer      *mixer.Mixer
	encoder    *mixer.Encoder
	subtitles  *subtitle.Generator
	balancer   *balancer.Balancer
	builder    *renderplan.Builder
	exporter   *export.Exporter
	progress   ProgressFunc
	logger     *zap.Logger
}

// ProgressFunc 接收流水线的阶段性进度，percent 取值 [0,100]
type ProgressFunc func(stage string, percent float64, message string)

// OnProgress 注册进度回调，流水线各阶段完成时调用
func (p *Processor) OnProgress(fn ProgressFunc) {
	p.progress = fn
}

func (p *Processor) report(stage string, percent float64, message string) {
	if p.progress != nil {
		p.progress(stage, percent, message)
	}
}

// NewProcessor 创建装配流水线，所有外部调用共享同一个限流调度器
func NewProcessor(logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := dispatch.NewDispatcherFromConfig(logger)
	estimator := timing.NewEstimator(timing.DefaultCharStrategy(), logger)
	music := collab.NewMusicClient(logger, dispatcher)

	return &Processor{
		dispatcher: dispatcher,
		script:     collab.NewScriptClient(logger, dispatcher),
		speech:     collab.NewSpeechClient(logger, dispatcher),
		images:     collab.NewImageClient(logger, dispatcher),
		sfx:        collab.NewSFXClient(logger, dispatcher),
		mixer:      mixer.NewMixer(mixer.ConfigFromViper(), estimator, music, logger),
		encoder:    mixer.NewEncoder(logger),
		subtitles:  subtitle.NewGenerator(estimator, logger),
		balancer:   balancer.NewBalancer(logger),
		builder:    renderplan.NewBuilder(logger),
		exporter:   export.NewExporter(logger),
		logger:     logger,
	}
}

// PrepareScript 为空项目生成结构化脚本
func (p *Processor) PrepareScript(ctx context.Context, project *podcast.Project, knowledgeBase string) error {
	if len(project.Chapters) > 0 {
		return nil
	}
	result, err := p.script.GenerateScript(ctx, project.Topic, knowledgeBase, collab.ScriptConstraints{
		TargetMinutes: project.TargetMinutes,
		Language:      project.Language,
		Mode:          project.Mode,
	})
	if err != nil {
		return fmt.Errorf("脚本生成失败: %w", err)
	}
	result.ToProject(project)
	return nil
}

// PrepareSpeech 为所有章节合成语音。各章节彼此独立，并发进行，
// 实际并发度由限流调度器约束；单章失败只记录并置为错误状态。
func (p *Processor) PrepareSpeech(ctx context.Context, project *podcast.Project, voices collab.VoiceAssignment) {
	var wg sync.WaitGroup
	for _, ch := range project.Chapters {
		if ch.Audio != nil && len(ch.Audio.Data) > 0 {
			continue
		}
		wg.Add(1)
		go func(ch *podcast.Chapter) {
			defer wg.Done()
			ch.Status = podcast.StatusAudioGenerating
			data, err := p.speech.Synthesize(ctx, ch, project.Mode, voices)
			if err != nil {
				p.logger.Warn("章节语音合成失败",
					zap.String("章节", ch.ID), zap.Error(err))
				ch.Status = podcast.StatusError
				return
			}
			ch.Audio = &podcast.AudioAsset{Data: data}
			ch.Status = podcast.StatusCompleted
		}(ch)
	}
	wg.Wait()
}

// PrepareEffects 解析并下载全部音效行。行与行独立，并发进行；
// 单行失败只丢掉该音效，不影响其他行。
func (p *Processor) PrepareEffects(ctx context.Context, project *podcast.Project) {
	var wg sync.WaitGroup
	for ci, ch := range project.Chapters {
		for li, line := range ch.Lines {
			if !line.IsSFX() {
				continue
			}
			wg.Add(1)
			go func(ci, li int, line *podcast.ScriptLine) {
				defer wg.Done()
				if err := p.sfx.ResolveLine(ctx, line); err != nil {
					p.logger.Warn("音效解析失败，该行将被跳过",
						zap.Int("章节", ci), zap.Int("行", li), zap.Error(err))
					return
				}
				if err := p.sfx.Download(ctx, line); err != nil {
					p.logger.Warn("音效下载失败，该行将被跳过",
						zap.Int("章节", ci), zap.Int("行", li), zap.Error(err))
				}
			}(ci, li, line)
		}
	}
	wg.Wait()
}

// PrepareImages 为缺图的章节拉取配图
func (p *Processor) PrepareImages(ctx context.Context, project *podcast.Project, maxImages int) {
	if maxImages < 1 {
		maxImages = 3
	}
	for _, ch := range project.Chapters {
		if len(ch.Images) > 0 {
			continue
		}
		assets, err := p.images.GetImages(ctx, imagePrompt(project, ch), maxImages)
		if err != nil {
			p.logger.Warn("章节配图拉取失败",
				zap.String("章节", ch.ID), zap.Error(err))
			continue
		}
		ch.Images = assets
	}
}

// imagePrompt 用章节标题加旁白摘录拼出配图提示词
func imagePrompt(project *podcast.Project, ch *podcast.Chapter) string {
	prompt := ch.Title
	if prompt == "" {
		prompt = project.Topic
	}
	excerpt := []rune(ch.DialogueText())
	if len(excerpt) > 80 {
		excerpt = excerpt[:80]
	}
	if len(excerpt) > 0 {
		prompt = prompt + "：" + string(excerpt)
	}
	return prompt
}

// Assemble 混音并装配全部产物。没有任何可解码语音时立即中止，
// 不再触碰字幕和渲染计划。装配完成后释放所有已消费的二进制负载
// 并记录释放字节数。
func (p *Processor) Assemble(ctx context.Context, project *podcast.Project, params AssembleParams) (*AssembleResult, error) {
	if params.OutputDir == "" {
		params.OutputDir = viper.GetString("output.dir")
		if params.OutputDir == "" {
			params.OutputDir = "output"
		}
	}
	if params.AudioFormat == "" {
		params.AudioFormat = "wav"
	}
	if params.Pacing == "" {
		params.Pacing = balancer.PacingAuto
	}
	if err := os.MkdirAll(params.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %v", err)
	}

	// 1. 混音。唯一的致命条件在这里提前暴露。
	track, err := p.mixer.Mix(ctx, project)
	if err != nil {
		if errors.Is(err, mixer.ErrNoAudioAssets) {
			return nil, fmt.Errorf("装配中止: %w", err)
		}
		return nil, err
	}

	audioFile := filepath.Join(params.OutputDir, fmt.Sprintf("%s_master.%s", project.ID, params.AudioFormat))
	if err := p.encoder.Encode(track, audioFile); err != nil {
		return nil, fmt.Errorf("主音轨编码失败: %w", err)
	}
	p.report("mix", 80, "主音轨混音完成")

	// 2. 字幕
	var cues []subtitle.Cue
	if params.SubtitleMode == "estimated" {
		cues = p.subtitles.GenerateEstimated(project)
	} else {
		cues = p.subtitles.GeneratePrecise(project)
	}
	subtitleFile := ""
	if len(cues) > 0 {
		subtitleFile = filepath.Join(params.OutputDir, project.ID+".srt")
		if err := subtitle.WriteSRT(cues, subtitleFile); err != nil {
			return nil, fmt.Errorf("写出字幕失败: %w", err)
		}
	}
	p.report("subtitle", 90, "字幕生成完成")

	// 3. 配图排期
	pool := collectImages(project)
	var schedule []balancer.ScheduledImage
	if len(pool) > 0 {
		overrides := collectImageDurations(project)
		schedule, err = p.balancer.Plan(pool, track.Duration, params.Pacing, overrides)
		if err != nil {
			return nil, fmt.Errorf("配图排期失败: %w", err)
		}
	}

	// 4. 渲染计划。音效负载在释放之前落盘供渲染端引用。
	var plan *renderplan.RenderPlan
	if len(schedule) > 0 {
		sfxInputs, err := p.dumpEffects(project, track, params.OutputDir)
		if err != nil {
			return nil, err
		}
		plan, err = p.builder.Build(schedule, audioFile, sfxInputs, subtitleFile)
		if err != nil {
			return nil, fmt.Errorf("渲染计划构建失败: %w", err)
		}
	}

	// 5. 导出
	exportFile := filepath.Join(params.OutputDir, project.ID+"_bundle.zip")
	if err := p.exporter.Export(export.Bundle{
		MasterAudio:  audioFile,
		SubtitleFile: subtitleFile,
		Images:       pool,
		RenderPlan:   plan,
	}, exportFile); err != nil {
		return nil, fmt.Errorf("导出失败: %w", err)
	}

	// 6. 释放已消费的二进制负载
	freed := podcast.ReleaseAssets(project)
	p.logger.Info("装配完成，已释放消费过的资产",
		zap.String("项目", project.ID),
		zap.Float64("总时长", track.Duration),
		zap.Int64("释放字节", freed))

	return &AssembleResult{
		AudioFile:    audioFile,
		SubtitleFile: subtitleFile,
		ExportFile:   exportFile,
		Duration:     track.Duration,
		CueCount:     len(cues),
		ImageCount:   len(schedule),
		BytesFreed:   freed,
		Timeline:     chapterTimeline(project, track),
		Plan:         plan,
		Status:       "completed",
		Message:      "播客装配完成",
	}, nil
}

// chapterTimeline 由混音结果推导每章在主时间线上的起点和真实时长
func chapterTimeline(project *podcast.Project, track *mixer.MasterTrack) []ChapterTiming {
	timeline := make([]ChapterTiming, len(project.Chapters))
	for i, ch := range project.Chapters {
		timeline[i] = ChapterTiming{ChapterID: ch.ID, Offset: track.ChapterOffsets[i]}
	}
	// 章节时长 = 下一个已落位章节的起点（或总时长）- 本章起点
	for i := range timeline {
		if timeline[i].Offset < 0 {
			continue
		}
		end := track.Duration
		for j := i + 1; j < len(timeline); j++ {
			if timeline[j].Offset >= 0 {
				end = timeline[j].Offset
				break
			}
		}
		timeline[i].Duration = end - timeline[i].Offset
	}
	return timeline
}

// Run 端到端执行：脚本、语音、音效、配图全部就绪后装配
func (p *Processor) Run(ctx context.Context, project *podcast.Project, voices collab.VoiceAssignment, params AssembleParams) (*AssembleResult, error) {
	if err := p.PrepareScript(ctx, project, ""); err != nil {
		return nil, err
	}
	p.report("script", 15, "脚本就绪")
	p.PrepareSpeech(ctx, project, voices)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.report("speech", 40, "章节语音就绪")
	p.PrepareEffects(ctx, project)
	p.report("sfx", 55, "音效资产就绪")
	p.PrepareImages(ctx, project, params.MaxImages)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.report("images", 65, "配图就绪")
	result, err := p.Assemble(ctx, project, params)
	if err != nil {
		return nil, err
	}
	p.report("export", 100, "装配完成")
	return result, nil
}

// dumpEffects 把已排期音效的负载写成文件，返回渲染计划的音效输入
func (p *Processor) dumpEffects(project *podcast.Project, track *mixer.MasterTrack, outputDir string) ([]renderplan.SFXInput, error) {
	if len(track.Effects) == 0 {
		return nil, nil
	}
	sfxDir := filepath.Join(outputDir, "sfx")
	if err := os.MkdirAll(sfxDir, 0755); err != nil {
		return nil, fmt.Errorf("创建音效目录失败: %v", err)
	}
	var inputs []renderplan.SFXInput
	for _, fx := range track.Effects {
		line := project.Chapters[fx.ChapterIndex].Lines[fx.LineIndex]
		if line.Effect.Phase != podcast.SFXDownloaded {
			continue
		}
		name := fmt.Sprintf("fx_%d_%d%s", fx.ChapterIndex, fx.LineIndex, effectExt(line))
		path := filepath.Join(sfxDir, name)
		if err := os.WriteFile(path, line.Effect.Payload, 0644); err != nil {
			return nil, fmt.Errorf("写出音效文件失败: %v", err)
		}
		inputs = append(inputs, renderplan.SFXInput{
			Path:   path,
			Start:  fx.Start,
			Volume: fx.Volume,
		})
	}
	return inputs, nil
}

func effectExt(line *podcast.ScriptLine) string {
	if line.Effect.Meta != nil {
		for _, u := range line.Effect.Meta.PreviewURLs {
			if strings.HasSuffix(u, ".ogg") {
				return ".ogg"
			}
			if strings.HasSuffix(u, ".mp3") {
				return ".mp3"
			}
		}
	}
	return ".wav"
}

func collectImages(project *podcast.Project) []*podcast.ImageAsset {
	var pool []*podcast.ImageAsset
	for _, ch := range project.Chapters {
		pool = append(pool, ch.Images...)
	}
	return pool
}

// collectImageDurations 汇总手动逐图时长，任何一章缺失则整体退回
// 自动排期
func collectImageDurations(project *podcast.Project) []float64 {
	var overrides []float64
	for _, ch := range project.Chapters {
		if len(ch.Images) == 0 {
			continue
		}
		if len(ch.ImageDurations) != len(ch.Images) {
			return nil
		}
		overrides = append(overrides, ch.ImageDurations...)
	}
	return overrides
}
