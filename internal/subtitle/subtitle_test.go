package subtitle

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crosspostly/youtube-podcast-sub002/internal/audio"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/timing"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

func wavOfSeconds(sec float64) []byte {
	return audio.EncodeWAV(&audio.Clip{
		Format:  testFormat,
		Samples: make([]int16, testFormat.FramesInSeconds(sec)),
	})
}

func newTestGenerator() *Generator {
	est := timing.NewEstimator(timing.CharRateStrategy{CharsPerSecond: 15, MinSeconds: 1.2}, nil)
	g := NewGenerator(est, nil)
	g.minCue = 0.5
	g.wrapWidth = 42
	return g
}

// assertMonotonic 所有模式下时间码必须严格递增且互不重叠
func assertMonotonic(t *testing.T, cues []Cue) {
	t.Helper()
	for i, cue := range cues {
		if cue.StartTime >= cue.EndTime {
			t.Errorf("字幕 %d 起止颠倒: %v >= %v", i, cue.StartTime, cue.EndTime)
		}
		if i+1 < len(cues) && cues[i].EndTime > cues[i+1].StartTime {
			t.Errorf("字幕 %d 与 %d 重叠: %v > %v", i, i+1, cues[i].EndTime, cues[i+1].StartTime)
		}
	}
}

// TestGeneratePreciseShares 精确模式按字符占比分配章节时长
func TestGeneratePreciseShares(t *testing.T) {
	project := &podcast.Project{
		Chapters: []*podcast.Chapter{
			{
				ID: "c1",
				Lines: []*podcast.ScriptLine{
					{Speaker: "主播", Text: strings.Repeat("甲", 30)}, // 3/4字符
					{Speaker: "嘉宾", Text: strings.Repeat("乙", 10)}, // 1/4字符
				},
				Audio: &podcast.AudioAsset{Data: wavOfSeconds(8.0)},
			},
		},
	}

	cues := newTestGenerator().GeneratePrecise(project)
	if len(cues) != 2 {
		t.Fatalf("字幕数量 = %d, 期望 2", len(cues))
	}
	assertMonotonic(t, cues)

	if d := cues[0].EndTime - cues[0].StartTime; math.Abs(d.Seconds()-6.0) > 0.01 {
		t.Errorf("第一条时长 = %.3f, 期望 6.0", d.Seconds())
	}
	if d := cues[1].EndTime - cues[1].StartTime; math.Abs(d.Seconds()-2.0) > 0.01 {
		t.Errorf("第二条时长 = %.3f, 期望 2.0", d.Seconds())
	}
	if math.Abs(cues[1].EndTime.Seconds()-8.0) > 0.01 {
		t.Errorf("末条结束 = %.3f, 期望 8.0", cues[1].EndTime.Seconds())
	}
}

// TestGeneratePreciseSkipsFlashCue 低于可读下限的行跳过但游标照常推进
func TestGeneratePreciseSkipsFlashCue(t *testing.T) {
	project := &podcast.Project{
		Chapters: []*podcast.Chapter{
			{
				ID: "c1",
				Lines: []*podcast.ScriptLine{
					{Speaker: "主播", Text: strings.Repeat("长", 99)},
					{Speaker: "主播", Text: "短"}, // 1/100字符 * 4秒 = 0.04秒 < 0.5下限
					{Speaker: "主播", Text: ""},  // 空行不挤占时间轴
				},
				Audio: &podcast.AudioAsset{Data: wavOfSeconds(4.0)},
			},
		},
	}

	cues := newTestGenerator().GeneratePrecise(project)
	if len(cues) != 1 {
		t.Fatalf("字幕数量 = %d, 期望 1（闪切行被跳过）", len(cues))
	}
	assertMonotonic(t, cues)
	// 被跳过的行仍占时间轴份额
	if math.Abs(cues[0].EndTime.Seconds()-4.0*99/100) > 0.01 {
		t.Errorf("首条结束 = %.3f, 期望 %.3f", cues[0].EndTime.Seconds(), 4.0*99/100)
	}
}

// TestGeneratePreciseFailedChapterKeepsSync 解码失败的章节跳过字幕，
// 后续章节用估算时长保持全局同步
func TestGeneratePreciseFailedChapterKeepsSync(t *testing.T) {
	g := newTestGenerator()

	badChapter := &podcast.Chapter{
		ID: "c1",
		Lines: []*podcast.ScriptLine{
			{Speaker: "主播", Text: strings.Repeat("坏", 30)},
		},
		Audio: &podcast.AudioAsset{Data: []byte("不可解码")},
	}
	project := &podcast.Project{
		Chapters: []*podcast.Chapter{
			badChapter,
			{
				ID: "c2",
				Lines: []*podcast.ScriptLine{
					{Speaker: "主播", Text: strings.Repeat("好", 30)},
				},
				Audio: &podcast.AudioAsset{Data: wavOfSeconds(5.0)},
			},
		},
	}

	cues := g.GeneratePrecise(project)
	if len(cues) != 1 {
		t.Fatalf("字幕数量 = %d, 期望 1", len(cues))
	}
	assertMonotonic(t, cues)

	// 第二章起点 = 第一章估算时长（30字/15 + 0.3停顿）
	nominal := 30.0/15 + 0.3
	if math.Abs(cues[0].StartTime.Seconds()-nominal) > 0.01 {
		t.Errorf("第二章首条起点 = %.3f, 期望 %.3f", cues[0].StartTime.Seconds(), nominal)
	}
}

// TestPreciseSFXLineProducesNoCue 音效行不产生字幕也不占时长份额
func TestPreciseSFXLineProducesNoCue(t *testing.T) {
	project := &podcast.Project{
		Chapters: []*podcast.Chapter{
			{
				ID: "c1",
				Lines: []*podcast.ScriptLine{
					{Speaker: "主播", Text: strings.Repeat("字", 20)},
					{Speaker: podcast.SpeakerSFX, Text: "雷声"},
					{Speaker: "主播", Text: strings.Repeat("字", 20)},
				},
				Audio: &podcast.AudioAsset{Data: wavOfSeconds(6.0)},
			},
		},
	}

	cues := newTestGenerator().GeneratePrecise(project)
	if len(cues) != 2 {
		t.Fatalf("字幕数量 = %d, 期望 2", len(cues))
	}
	assertMonotonic(t, cues)
	// 两条台词各占一半
	if d := cues[0].EndTime - cues[0].StartTime; math.Abs(d.Seconds()-3.0) > 0.01 {
		t.Errorf("首条时长 = %.3f, 期望 3.0", d.Seconds())
	}
}

// TestGenerateEstimatedWrap 估算模式折行后按字符占比切分时长
func TestGenerateEstimatedWrap(t *testing.T) {
	project := &podcast.Project{
		Chapters: []*podcast.Chapter{
			{
				ID: "c1",
				Lines: []*podcast.ScriptLine{
					{Speaker: "主播", Text: strings.Repeat("讲", 180)}, // 折成多个双行块
				},
			},
		},
	}

	cues := newTestGenerator().GenerateEstimated(project)
	if len(cues) < 2 {
		t.Fatalf("字幕数量 = %d, 期望折行出多条", len(cues))
	}
	assertMonotonic(t, cues)

	// 各块时长之和等于整行估算时长
	var sum float64
	for _, c := range cues {
		sum += (c.EndTime - c.StartTime).Seconds()
		for _, l := range strings.Split(c.Text, "\n") {
			if n := len([]rune(l)); n > 42 {
				t.Errorf("单行宽度 = %d, 超过42", n)
			}
		}
	}
	if math.Abs(sum-180.0/15) > 0.01 {
		t.Errorf("总时长 = %.3f, 期望 %.3f", sum, 180.0/15)
	}
}

// TestWriteSRTFormat SRT输出为标准时间码与连续序号
func TestWriteSRTFormat(t *testing.T) {
	cues := []Cue{
		{StartTime: 0, EndTime: 2500 * time.Millisecond, Text: "第一句"},
		{StartTime: 2500 * time.Millisecond, EndTime: 1*time.Hour + 2*time.Minute + 3*time.Second + 456*time.Millisecond, Text: "第二句\n跨两行"},
	}

	out := filepath.Join(t.TempDir(), "out.srt")
	if err := WriteSRT(cues, out); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	// 默认带BOM前缀
	if len(data) < 3 || data[0] != 0xEF || data[1] != 0xBB || data[2] != 0xBF {
		t.Error("缺少BOM前缀")
	}

	text := string(data[3:])
	want := "1\n00:00:00,000 --> 00:00:02,500\n第一句\n\n2\n00:00:02,500 --> 01:02:03,456\n第二句\n跨两行\n\n"
	if text != want {
		t.Errorf("SRT内容不符:\n%q\n期望:\n%q", text, want)
	}
}

// TestFormatSRTTime 时间码格式化
func TestFormatSRTTime(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{1500 * time.Millisecond, "00:00:01,500"},
		{59*time.Minute + 59*time.Second + 999*time.Millisecond, "00:59:59,999"},
		{10 * time.Hour, "10:00:00,000"},
	}
	for _, c := range cases {
		if got := FormatSRTTime(c.d); got != c.want {
			t.Errorf("FormatSRTTime(%v) = %s, 期望 %s", c.d, got, c.want)
		}
	}
}
