/*字幕生成*/
package subtitle

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/audio"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/timing"
)

// Cue 单条字幕
type Cue struct {
	Index     int           `json:"index"`
	StartTime time.Duration `json:"start_time"`
	EndTime   time.Duration `json:"end_time"`
	Text      string        `json:"text"`
}

// Generator 字幕生成器。两种模式：
// precise 解码真实章节时长后按字符占比分配；
// estimated 不解码音频，纯按字速估算，用于草稿或音频未就绪时。
type Generator struct {
	estimator  *timing.Estimator
	minCue     float64 // 可读性下限，低于此时长的字幕跳过但游标照常推进
	wrapWidth  int     // estimated模式的折行宽度
	logger     *zap.Logger
}

// NewGenerator 创建字幕生成器
func NewGenerator(estimator *timing.Estimator, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{
		estimator: estimator,
		minCue:    0.5,
		wrapWidth: 42,
		logger:    logger,
	}
	if viper.IsSet("subtitle.min_cue_seconds") {
		g.minCue = viper.GetFloat64("subtitle.min_cue_seconds")
	}
	if viper.IsSet("subtitle.wrap_width") {
		g.wrapWidth = viper.GetInt("subtitle.wrap_width")
	}
	return g
}

// GeneratePrecise 精确模式：解码每章真实音频时长，按各行字符数占比分配。
// 解码失败的章节跳过字幕但用估算时长推进全局游标，保持后续章节同步。
func (g *Generator) GeneratePrecise(project *podcast.Project) []Cue {
	var cues []Cue
	elapsed := 0.0
	index := 1

	for _, ch := range project.Chapters {
		duration, ok := g.decodeDuration(ch)
		if !ok {
			// 用估算时长占位，后续章节保持同步
			nominal := g.estimator.ScheduleChapter(ch.Lines).Total
			g.logger.Warn("章节音频不可用，字幕跳过该章",
				zap.String("章节", ch.ID), zap.Float64("估算时长", nominal))
			elapsed += nominal
			continue
		}

		// 统计章节非音效行的总字符数
		totalChars := 0
		for _, line := range ch.Lines {
			if line.IsSFX() {
				continue
			}
			totalChars += len([]rune(strings.TrimSpace(line.Text)))
		}
		if totalChars == 0 {
			elapsed += duration
			continue
		}

		cursor := elapsed
		for _, line := range ch.Lines {
			if line.IsSFX() {
				continue
			}
			chars := len([]rune(strings.TrimSpace(line.Text)))
			share := duration * float64(chars) / float64(totalChars)
			if share >= g.minCue && strings.TrimSpace(line.Text) != "" {
				cues = append(cues, Cue{
					Index:     index,
					StartTime: toDuration(cursor),
					EndTime:   toDuration(cursor + share),
					Text:      strings.TrimSpace(line.Text),
				})
				index++
			}
			// 跳过的行同样推进游标，避免闪切字幕挤占后续时间
			cursor += share
		}
		elapsed += duration
	}

	return cues
}

// GenerateEstimated 估算模式：不解码音频，将每行文本折成固定宽度的
// 两行块，按字符占比切分该行的估算时长。
func (g *Generator) GenerateEstimated(project *podcast.Project) []Cue {
	var cues []Cue
	elapsed := 0.0
	index := 1

	for _, ch := range project.Chapters {
		sched := g.estimator.ScheduleChapter(ch.Lines)
		for i, line := range ch.Lines {
			if line.IsSFX() {
				continue
			}
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}

			lineStart := elapsed + sched.LineOffsets[i]
			lineDuration := g.estimator.EstimateLine(line)

			chunks := wrapChunks(text, g.wrapWidth)
			totalChars := 0
			for _, c := range chunks {
				totalChars += len([]rune(c))
			}

			cursor := lineStart
			for _, chunk := range chunks {
				share := lineDuration * float64(len([]rune(chunk))) / float64(totalChars)
				cues = append(cues, Cue{
					Index:     index,
					StartTime: toDuration(cursor),
					EndTime:   toDuration(cursor + share),
					Text:      chunk,
				})
				index++
				cursor += share
			}
		}
		elapsed += sched.Total
	}

	return cues
}

// decodeDuration 解码章节音频时长
func (g *Generator) decodeDuration(ch *podcast.Chapter) (float64, bool) {
	if ch.Audio == nil || len(ch.Audio.Data) == 0 {
		return 0, false
	}
	clip, err := audio.DecodeWAV(ch.Audio.Data)
	if err != nil {
		return 0, false
	}
	return clip.Seconds(), true
}

// wrapChunks 将文本折成最多两行、每行不超过width个字符的块
func wrapChunks(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	// 先折成单行
	var lines []string
	var current strings.Builder
	for _, w := range words {
		candidate := w
		if current.Len() > 0 {
			candidate = current.String() + " " + w
		}
		if len([]rune(candidate)) > width && current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
			current.WriteString(w)
		} else {
			current.Reset()
			current.WriteString(candidate)
		}
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}

	// 无空格的长文本（如中文）按宽度硬切
	var flat []string
	for _, l := range lines {
		runes := []rune(l)
		for len(runes) > width {
			flat = append(flat, string(runes[:width]))
			runes = runes[width:]
		}
		flat = append(flat, string(runes))
	}

	// 每两行合并为一个双行字幕块
	var chunks []string
	for i := 0; i < len(flat); i += 2 {
		if i+1 < len(flat) {
			chunks = append(chunks, flat[i]+"\n"+flat[i+1])
		} else {
			chunks = append(chunks, flat[i])
		}
	}
	return chunks
}

func toDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// FormatSRTTime SRT时间码 HH:MM:SS,mmm
func FormatSRTTime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}
