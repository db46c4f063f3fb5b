package timing

import (
	"math"
	"strings"
	"testing"

	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

func newTestEstimator() *Estimator {
	e := NewEstimator(WordRateStrategy{WordsPerSecond: 2.5, MinSeconds: 1.2}, nil)
	e.pause = 0.3
	e.anticipation = 0.5
	return e
}

// TestEstimateLineFloor 空白行必须落到最小时长下限，避免零时长字幕
func TestEstimateLineFloor(t *testing.T) {
	e := newTestEstimator()

	cases := []struct {
		text string
		want float64
	}{
		{"", 1.2},
		{"   ", 1.2},
		{"one", 1.2},                    // 1词/2.5 = 0.4 < 下限
		{"a b c d e f g h i j", 4.0},    // 10词/2.5
		{"one two three four five", 2.0}, // 5词/2.5
	}

	for _, c := range cases {
		got := e.EstimateLine(&podcast.ScriptLine{Speaker: "主播", Text: c.text})
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("估算 %q = %.3f, 期望 %.3f", c.text, got, c.want)
		}
	}
}

// TestCharRateStrategy 字速策略按字符数估算
func TestCharRateStrategy(t *testing.T) {
	s := CharRateStrategy{CharsPerSecond: 15, MinSeconds: 1.2}

	if got := s.Estimate(strings.Repeat("字", 30)); math.Abs(got-30.0/15) > 1e-9 {
		t.Errorf("30字文本估算 = %.3f, 期望 2.0", got)
	}
	if got := s.Estimate(" "); got != 1.2 {
		t.Errorf("空白文本应取下限, 实际 %.3f", got)
	}
}

// TestScheduleChapterCursor 游标按行累加，音效行不推进游标
func TestScheduleChapterCursor(t *testing.T) {
	e := newTestEstimator()

	lines := []*podcast.ScriptLine{
		{Speaker: "主播", Text: "one two three four five"},          // 2.0秒
		{Speaker: podcast.SpeakerSFX, Text: "门吱呀一声打开"},            // 锚点
		{Speaker: "嘉宾", Text: "a b c d e f g h i j"},              // 4.0秒
		{Speaker: "主播", Text: "hi"},                               // 下限 1.2秒
	}

	sched := e.ScheduleChapter(lines)

	wantOffsets := []float64{0, 2.3, 2.3, 6.6}
	for i, want := range wantOffsets {
		if math.Abs(sched.LineOffsets[i]-want) > 1e-9 {
			t.Errorf("行 %d 游标 = %.3f, 期望 %.3f", i, sched.LineOffsets[i], want)
		}
	}

	wantTotal := 2.0 + 0.3 + 4.0 + 0.3 + 1.2 + 0.3
	if math.Abs(sched.Total-wantTotal) > 1e-9 {
		t.Errorf("章节总时长 = %.3f, 期望 %.3f", sched.Total, wantTotal)
	}

	if len(sched.Effects) != 1 {
		t.Fatalf("音效锚点数量 = %d, 期望 1", len(sched.Effects))
	}
	// 锚点位置为遇到音效行时的游标位置减去提前量
	if math.Abs(sched.Effects[0].Anchor-(2.3-0.5)) > 1e-9 {
		t.Errorf("音效锚点 = %.3f, 期望 1.8", sched.Effects[0].Anchor)
	}
	if sched.Effects[0].LineIndex != 1 {
		t.Errorf("音效行下标 = %d, 期望 1", sched.Effects[0].LineIndex)
	}
}

// TestAnchorClampNonNegative 章节开头的音效锚点不会为负
func TestAnchorClampNonNegative(t *testing.T) {
	e := newTestEstimator()

	lines := []*podcast.ScriptLine{
		{Speaker: podcast.SpeakerSFX, Text: "开场雷声"},
		{Speaker: "主播", Text: "one two three"},
	}

	sched := e.ScheduleChapter(lines)
	if len(sched.Effects) != 1 {
		t.Fatalf("音效锚点数量 = %d, 期望 1", len(sched.Effects))
	}
	if sched.Effects[0].Anchor != 0 {
		t.Errorf("开头音效锚点 = %.3f, 期望 0", sched.Effects[0].Anchor)
	}
}
