/*播客项目数据模型*/
package podcast

import (
	"strings"
)

// NarrationMode 旁白模式
type NarrationMode string

const (
	ModeDialogue  NarrationMode = "dialogue"  // 多角色对话
	ModeMonologue NarrationMode = "monologue" // 单人旁白
)

// ImageSource 配图来源
type ImageSource string

const (
	ImageGenerated ImageSource = "generated" // AI生成
	ImageStock     ImageSource = "stock"     // 图库检索
)

// ChapterStatus 章节处理状态
type ChapterStatus string

const (
	StatusPending          ChapterStatus = "pending"
	StatusScriptGenerating ChapterStatus = "script_generating"
	StatusAudioGenerating  ChapterStatus = "audio_generating"
	StatusCompleted        ChapterStatus = "completed"
	StatusError            ChapterStatus = "error"
)

// SpeakerSFX 保留的音效伪说话人标签，带此标签的台词不计入朗读时长
const SpeakerSFX = "SFX"

// Project 播客项目，聚合根
type Project struct {
	ID            string        `json:"id"`
	Topic         string        `json:"topic"`
	Title         string        `json:"title"`
	Language      string        `json:"language"`
	TargetMinutes int           `json:"target_minutes"` // 目标时长，实际以解码时长为准
	Mode          NarrationMode `json:"mode"`
	Chapters      []*Chapter    `json:"chapters"`
	MusicVolume   float64       `json:"music_volume"` // 全局背景音乐音量默认值
	ImageSource   ImageSource   `json:"image_source"`
}

// Chapter 章节
type Chapter struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Lines          []*ScriptLine `json:"lines"`
	Audio          *AudioAsset   `json:"-"` // 语音音频，混音的唯一事实来源
	Status         ChapterStatus `json:"status"`
	Music          *MusicTrack   `json:"music,omitempty"`
	MusicVolume    float64       `json:"music_volume,omitempty"` // 0表示使用项目默认值
	Images         []*ImageAsset `json:"images,omitempty"`
	ImageDurations []float64     `json:"image_durations,omitempty"` // 手动逐图时长
}

// ScriptLine 台词行
type ScriptLine struct {
	Speaker string   `json:"speaker"`
	Text    string   `json:"text"`
	Effect  SFXState `json:"effect,omitempty"`
}

// IsSFX 判断是否为音效行
func (l *ScriptLine) IsSFX() bool {
	return l.Speaker == SpeakerSFX
}

// SFXPhase 音效附件的解析阶段
type SFXPhase int

const (
	SFXUnresolved SFXPhase = iota // 未解析
	SFXResolved                   // 已解析出元数据
	SFXDownloaded                 // 已下载音频负载
)

// SFXState 音效附件的显式状态机：
// 未解析 -> 已解析(元数据) -> 已下载(元数据+负载)。
// 负载只有在已下载阶段才存在，混音完成后会被释放回已解析阶段。
type SFXState struct {
	Phase   SFXPhase     `json:"phase"`
	Meta    *SoundEffect `json:"meta,omitempty"`
	Payload []byte       `json:"-"`
}

// Resolve 附加元数据，进入已解析阶段
func (s *SFXState) Resolve(meta *SoundEffect) {
	s.Phase = SFXResolved
	s.Meta = meta
	s.Payload = nil
}

// Attach 附加下载好的负载，进入已下载阶段
func (s *SFXState) Attach(payload []byte) {
	if s.Phase == SFXUnresolved || s.Meta == nil {
		return // 未解析的音效不能直接持有负载
	}
	s.Phase = SFXDownloaded
	s.Payload = payload
}

// Release 释放负载，返回释放的字节数
func (s *SFXState) Release() int64 {
	if s.Phase != SFXDownloaded {
		return 0
	}
	n := int64(len(s.Payload))
	s.Payload = nil
	s.Phase = SFXResolved
	return n
}

// SoundEffect 音效元数据
type SoundEffect struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	License string  `json:"license"`
	// 预览地址按优先级排列：高清MP3 > 高清OGG > 低清MP3 > 低清OGG
	PreviewURLs []string `json:"preview_urls"`
	Volume      float64  `json:"volume,omitempty"` // 逐行音量覆盖，0表示使用默认值
}

// MusicTrack 背景音乐
type MusicTrack struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
}

// SameTrack 相邻章节共用同一音乐时按连续乐段处理，边界不做淡入淡出
func SameTrack(a, b *MusicTrack) bool {
	return a != nil && b != nil && a.ID == b.ID
}

// AudioAsset 不透明的音频资产，可解码为PCM
type AudioAsset struct {
	Data []byte `json:"-"`
}

// ImageAsset 图片资产
type ImageAsset struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Prompt string `json:"prompt,omitempty"`
	Data   []byte `json:"-"`
}

// EffectiveMusicVolume 章节生效的音乐音量
func (c *Chapter) EffectiveMusicVolume(projectDefault float64) float64 {
	if c.MusicVolume > 0 {
		return c.MusicVolume
	}
	return projectDefault
}

// DialogueText 章节的全部旁白文本（不含音效行）
func (c *Chapter) DialogueText() string {
	var b strings.Builder
	for _, line := range c.Lines {
		if line.IsSFX() {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line.Text)
	}
	return b.String()
}

// ReleaseAssets 释放项目中所有已消费的大负载（音效、音乐缓存、图片字节），
// 返回释放总字节数。混音器不会重读已释放的资产，重跑需要重新拉取。
func ReleaseAssets(p *Project) int64 {
	var freed int64
	for _, ch := range p.Chapters {
		for _, line := range ch.Lines {
			freed += line.Effect.Release()
		}
		for _, img := range ch.Images {
			if img.Data != nil {
				freed += int64(len(img.Data))
				img.Data = nil
			}
		}
	}
	return freed
}
