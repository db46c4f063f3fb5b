/*朗读时长估算*/
package timing

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// Strategy 时长估算策略，按文本估算朗读秒数
type Strategy interface {
	Estimate(text string) float64
}

// WordRateStrategy 按词速估算（默认2.5词/秒）
type WordRateStrategy struct {
	WordsPerSecond float64
	MinSeconds     float64
}

// Estimate 估算朗读秒数，空白文本取最小时长下限
func (s WordRateStrategy) Estimate(text string) float64 {
	words := len(strings.Fields(text))
	d := float64(words) / s.WordsPerSecond
	if d < s.MinSeconds {
		return s.MinSeconds
	}
	return d
}

// CharRateStrategy 按字速估算（默认15字/秒），草稿字幕使用的简化版本
type CharRateStrategy struct {
	CharsPerSecond float64
	MinSeconds     float64
}

func (s CharRateStrategy) Estimate(text string) float64 {
	chars := len([]rune(strings.TrimSpace(text)))
	d := float64(chars) / s.CharsPerSecond
	if d < s.MinSeconds {
		return s.MinSeconds
	}
	return d
}

// EffectAnchor 音效锚点：音效行出现时游标所处的时间
type EffectAnchor struct {
	LineIndex int     // 台词行下标
	Anchor    float64 // 锚点秒数，已减去提前量
}

// ChapterSchedule 单章节的时间排期
type ChapterSchedule struct {
	LineOffsets []float64      // 每行开始时的游标位置（音效行为锚点原始位置）
	Effects     []EffectAnchor // 音效锚点
	Total       float64        // 章节估算总时长
}

// Estimator 时间估算器。游标按行累加：每行估算时长加固定行间停顿。
// 音效行不推进游标，但记录游标当前位置作为音效锚点（减去提前量，
// 让音效稍微先于旁白出现）。
type Estimator struct {
	strategy     Strategy
	pause        float64
	anticipation float64
	logger       *zap.Logger
}

// NewEstimator 创建时间估算器，参数从配置读取
func NewEstimator(strategy Strategy, logger *zap.Logger) *Estimator {
	return &Estimator{
		strategy:     strategy,
		pause:        floatOr("timing.line_pause_seconds", 0.3),
		anticipation: floatOr("timing.sfx_anticipation_seconds", 0.5),
		logger:       logger,
	}
}

// DefaultWordStrategy 配置化的词速策略
func DefaultWordStrategy() WordRateStrategy {
	return WordRateStrategy{
		WordsPerSecond: floatOr("timing.words_per_second", 2.5),
		MinSeconds:     floatOr("timing.min_line_seconds", 1.2),
	}
}

// DefaultCharStrategy 配置化的字速策略
func DefaultCharStrategy() CharRateStrategy {
	return CharRateStrategy{
		CharsPerSecond: floatOr("timing.chars_per_second", 15),
		MinSeconds:     floatOr("timing.min_line_seconds", 1.2),
	}
}

// EstimateLine 估算单行朗读时长，音效行返回0
func (e *Estimator) EstimateLine(line *podcast.ScriptLine) float64 {
	if line.IsSFX() {
		return 0
	}
	return e.strategy.Estimate(line.Text)
}

// ScheduleChapter 为章节内所有行计算游标排期和音效锚点
func (e *Estimator) ScheduleChapter(lines []*podcast.ScriptLine) ChapterSchedule {
	sched := ChapterSchedule{
		LineOffsets: make([]float64, len(lines)),
	}
	cursor := 0.0
	for i, line := range lines {
		sched.LineOffsets[i] = cursor
		if line.IsSFX() {
			anchor := cursor - e.anticipation
			if anchor < 0 {
				anchor = 0
			}
			sched.Effects = append(sched.Effects, EffectAnchor{LineIndex: i, Anchor: anchor})
			continue // 音效行不推进游标
		}
		cursor += e.strategy.Estimate(line.Text) + e.pause
	}
	sched.Total = cursor
	return sched
}

func floatOr(key string, fallback float64) float64 {
	if viper.IsSet(key) {
		return viper.GetFloat64(key)
	}
	return fallback
}
