/*主时间线混音*/
package mixer

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/audio"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/timing"
)

// ErrNoAudioAssets 所有章节都没有可解码语音时返回，整个混音中止
var ErrNoAudioAssets = errors.New("没有任何章节包含可解码的语音音频")

// MusicResolver 背景音乐拉取接口，返回可解码的音频字节
type MusicResolver interface {
	Resolve(ctx context.Context, track *podcast.MusicTrack) ([]byte, error)
}

// Config 混音参数
type Config struct {
	MusicVolume      float64 // 背景音乐默认音量
	EffectVolume     float64 // 音效默认音量
	CrossfadeSeconds float64 // 音乐淡入淡出时长，实际取值不超过章节时长一半
}

// ConfigFromViper 从配置读取混音参数
func ConfigFromViper() Config {
	cfg := Config{MusicVolume: 0.3, EffectVolume: 0.4, CrossfadeSeconds: 1.5}
	if viper.IsSet("audio.music_volume") {
		cfg.MusicVolume = viper.GetFloat64("audio.music_volume")
	}
	if viper.IsSet("audio.effect_volume") {
		cfg.EffectVolume = viper.GetFloat64("audio.effect_volume")
	}
	if viper.IsSet("audio.crossfade_seconds") {
		cfg.CrossfadeSeconds = viper.GetFloat64("audio.crossfade_seconds")
	}
	return cfg
}

// ScheduledEffect 已排期的音效
type ScheduledEffect struct {
	ChapterIndex int     `json:"chapter_index"`
	LineIndex    int     `json:"line_index"`
	Start        float64 `json:"start"` // 主时间线秒数，已做边界钳制
	Duration     float64 `json:"duration"`
	Volume       float64 `json:"volume"`
}

// ScheduledMusic 已排期的背景音乐段
type ScheduledMusic struct {
	ChapterIndex int     `json:"chapter_index"`
	TrackID      string  `json:"track_id"`
	Start        float64 `json:"start"`
	Duration     float64 `json:"duration"`
	Volume       float64 `json:"volume"`
	FadeIn       bool    `json:"fade_in"`  // 与上一章共用音轨时为false
	FadeOut      bool    `json:"fade_out"` // 与下一章共用音轨时为false
}

// MasterTrack 混音结果：主音轨以及确定性的排期信息
type MasterTrack struct {
	Clip           *audio.Clip
	Duration       float64   // 等于各章节解码时长之和
	ChapterOffsets []float64 // 每个已解码章节在主时间线上的起始秒数，未解码为-1
	Music          []ScheduledMusic
	Effects        []ScheduledEffect
}

// Mixer 音频混音器。语音层是唯一致命层：音乐或音效的拉取/解码失败
// 只记录日志并跳过对应章节/行，不影响主音轨。
type Mixer struct {
	cfg       Config
	estimator *timing.Estimator
	music     MusicResolver
	logger    *zap.Logger
}

// NewMixer 创建混音器。music可以为nil，此时所有背景音乐层被跳过。
func NewMixer(cfg Config, estimator *timing.Estimator, music MusicResolver, logger *zap.Logger) *Mixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mixer{cfg: cfg, estimator: estimator, music: music, logger: logger}
}

// decodedChapter 解码后的单章语音
type decodedChapter struct {
	index int
	clip  *audio.Clip
	start float64 // 主时间线起始秒
}

// Mix 将项目的所有章节语音、背景音乐和音效混为一条主音轨。
// 章节按顺序首尾相接，解码出的真实时长取代一切估算值。
// 可以在章节之间取消；已写入主缓冲的章节保持有效，重跑幂等。
func (m *Mixer) Mix(ctx context.Context, project *podcast.Project) (*MasterTrack, error) {
	// 1. 解码所有章节语音，得到权威时长
	offsets := make([]float64, len(project.Chapters))
	var decoded []decodedChapter
	var master audio.Format
	cursor := 0.0

	for i, ch := range project.Chapters {
		offsets[i] = -1
		if ch.Audio == nil || len(ch.Audio.Data) == 0 {
			m.logger.Warn("章节缺少语音资产，跳过",
				zap.String("章节", ch.ID), zap.Int("序号", i))
			continue
		}
		clip, err := audio.DecodeWAV(ch.Audio.Data)
		if err != nil {
			m.logger.Warn("章节语音解码失败，跳过",
				zap.String("章节", ch.ID), zap.Error(err))
			continue
		}
		if len(decoded) == 0 {
			// 主缓冲采用第一个可解码章节的格式
			master = clip.Format
		} else if clip.Format != master {
			// 采样率/声道不一致时快速失败并跳过该章节，不做重采样
			m.logger.Warn("章节语音格式与主时间线不一致，跳过",
				zap.String("章节", ch.ID),
				zap.String("章节格式", clip.Format.String()),
				zap.String("主格式", master.String()))
			continue
		}
		offsets[i] = cursor
		decoded = append(decoded, decodedChapter{index: i, clip: clip, start: cursor})
		cursor += clip.Seconds()
	}

	if len(decoded) == 0 {
		return nil, ErrNoAudioAssets
	}
	totalDuration := cursor

	// 2. 分配主缓冲
	totalFrames := 0
	for _, d := range decoded {
		totalFrames += d.clip.Frames()
	}
	buf := audio.NewMasterBuffer(master, totalFrames)

	result := &MasterTrack{
		Duration:       totalDuration,
		ChapterOffsets: offsets,
	}

	// 3. 逐章节铺设语音层并叠加音乐、音效
	cueFrames := 0 // 当前连续乐段已消耗的帧数，跨章节共用音轨时延续相位
	for _, d := range decoded {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		startFrame := master.FramesInSeconds(d.start)
		if err := buf.AddClip(startFrame, d.clip, 1.0); err != nil {
			return nil, fmt.Errorf("铺设章节语音失败: %w", err)
		}

		cueFrames = m.overlayMusic(ctx, project, d, buf, result, cueFrames)
		m.overlayEffects(project, d, buf, totalDuration, result)
	}

	result.Clip = buf.Render()
	return result, nil
}

// overlayMusic 为单个章节叠加背景音乐层。
// 返回当前连续乐段累计消耗的帧数；章节不共用音轨或叠加失败时归零。
func (m *Mixer) overlayMusic(ctx context.Context, project *podcast.Project, d decodedChapter, buf *audio.MasterBuffer, result *MasterTrack, cueFrames int) int {
	ch := project.Chapters[d.index]
	if ch.Music == nil || m.music == nil {
		return 0
	}

	data, err := m.music.Resolve(ctx, ch.Music)
	if err != nil {
		m.logger.Warn("背景音乐拉取失败，本章仅保留语音",
			zap.String("章节", ch.ID), zap.String("音轨", ch.Music.ID), zap.Error(err))
		return 0
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		m.logger.Warn("背景音乐解码失败，本章仅保留语音",
			zap.String("章节", ch.ID), zap.Error(err))
		return 0
	}
	if clip.Format != buf.Format() {
		m.logger.Warn("背景音乐格式与主时间线不一致，本章仅保留语音",
			zap.String("章节", ch.ID), zap.String("音乐格式", clip.Format.String()))
		return 0
	}

	volume := ch.EffectiveMusicVolume(project.MusicVolume)
	if volume <= 0 {
		volume = m.cfg.MusicVolume
	}

	// 共用同一音轨的相邻章节视为连续乐段，共享边界不做淡入淡出
	fadeIn := !sharesTrackWithPrev(project, d.index)
	fadeOut := !sharesTrackWithNext(project, d.index)

	// 承接上一章的乐段时从累计相位继续循环，换轨时从头开始
	phase := 0
	if !fadeIn {
		phase = cueFrames
	}

	chapterSeconds := d.clip.Seconds()
	looped := loopToDuration(clip, chapterSeconds, phase)

	fade := m.cfg.CrossfadeSeconds
	if fade > chapterSeconds/2 {
		fade = chapterSeconds / 2
	}
	fadeFrames := buf.Format().FramesInSeconds(fade)
	totalFrames := looped.Frames()

	envelope := func(fr int) float64 {
		g := volume
		if fadeIn && fadeFrames > 0 && fr < fadeFrames {
			g *= float64(fr) / float64(fadeFrames)
		}
		if fadeOut && fadeFrames > 0 && fr >= totalFrames-fadeFrames {
			g *= float64(totalFrames-fr) / float64(fadeFrames)
		}
		return g
	}

	startFrame := buf.Format().FramesInSeconds(d.start)
	if err := buf.AddClipEnvelope(startFrame, looped, envelope); err != nil {
		m.logger.Warn("背景音乐叠加失败", zap.String("章节", ch.ID), zap.Error(err))
		return 0
	}

	result.Music = append(result.Music, ScheduledMusic{
		ChapterIndex: d.index,
		TrackID:      ch.Music.ID,
		Start:        d.start,
		Duration:     chapterSeconds,
		Volume:       volume,
		FadeIn:       fadeIn,
		FadeOut:      fadeOut,
	})
	return phase + looped.Frames()
}

// overlayEffects 为单个章节叠加音效层。锚点来自文本估算游标，
// 与资产下载完成的先后顺序无关。
func (m *Mixer) overlayEffects(project *podcast.Project, d decodedChapter, buf *audio.MasterBuffer, totalDuration float64, result *MasterTrack) {
	ch := project.Chapters[d.index]
	sched := m.estimator.ScheduleChapter(ch.Lines)

	for _, anchor := range sched.Effects {
		line := ch.Lines[anchor.LineIndex]
		if line.Effect.Phase != podcast.SFXDownloaded || len(line.Effect.Payload) == 0 {
			// 没有解析出负载的音效行整体跳过，不产生空排期
			continue
		}

		clip, err := audio.DecodeWAV(line.Effect.Payload)
		if err != nil {
			m.logger.Warn("音效解码失败，丢弃该音效",
				zap.String("章节", ch.ID), zap.Int("行", anchor.LineIndex), zap.Error(err))
			continue
		}
		if clip.Format != buf.Format() {
			m.logger.Warn("音效格式与主时间线不一致，丢弃该音效",
				zap.String("章节", ch.ID), zap.Int("行", anchor.LineIndex))
			continue
		}

		// 锚点钳制到 [0, 主时长-音效时长]
		start := d.start + anchor.Anchor
		if start+clip.Seconds() > totalDuration {
			start = totalDuration - clip.Seconds()
		}
		if start < 0 {
			start = 0
		}

		volume := m.cfg.EffectVolume
		if line.Effect.Meta != nil && line.Effect.Meta.Volume > 0 {
			volume = line.Effect.Meta.Volume
		}

		startFrame := buf.Format().FramesInSeconds(start)
		if err := buf.AddClip(startFrame, clip, volume); err != nil {
			m.logger.Warn("音效叠加失败", zap.String("章节", ch.ID), zap.Error(err))
			continue
		}

		result.Effects = append(result.Effects, ScheduledEffect{
			ChapterIndex: d.index,
			LineIndex:    anchor.LineIndex,
			Start:        start,
			Duration:     clip.Seconds(),
			Volume:       volume,
		})
	}
}

// loopToDuration 从指定帧相位开始循环音乐，直到覆盖指定秒数，最后一次循环截断
func loopToDuration(clip *audio.Clip, seconds float64, phaseFrames int) *audio.Clip {
	ch := clip.Format.Channels
	wantFrames := clip.Format.FramesInSeconds(seconds)
	out := make([]int16, wantFrames*ch)
	srcLen := len(clip.Samples)
	if srcLen == 0 {
		return &audio.Clip{Format: clip.Format, Samples: out}
	}
	offset := (phaseFrames % clip.Frames()) * ch
	for i := range out {
		out[i] = clip.Samples[(offset+i)%srcLen]
	}
	return &audio.Clip{Format: clip.Format, Samples: out}
}

// sharesTrackWithPrev 前一章与本章共用同一音乐
func sharesTrackWithPrev(project *podcast.Project, index int) bool {
	if index == 0 {
		return false
	}
	return podcast.SameTrack(project.Chapters[index-1].Music, project.Chapters[index].Music)
}

// sharesTrackWithNext 后一章与本章共用同一音乐
func sharesTrackWithNext(project *podcast.Project, index int) bool {
	if index+1 >= len(project.Chapters) {
		return false
	}
	return podcast.SameTrack(project.Chapters[index].Music, project.Chapters[index+1].Music)
}
