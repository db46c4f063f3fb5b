package renderplan

import (
	"strings"
	"testing"

	"github.com/crosspostly/youtube-podcast-sub002/internal/balancer"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

func testImages(n int, dur float64) []balancer.ScheduledImage {
	images := make([]balancer.ScheduledImage, n)
	for i := range images {
		images[i] = balancer.ScheduledImage{
			Image:    &podcast.ImageAsset{ID: "img", Path: "/tmp/img.png"},
			Duration: dur,
		}
	}
	return images
}

func TestBuildVideoChain(t *testing.T) {
	plan, err := NewBuilder(nil).Build(testImages(3, 10), "/tmp/master.wav", nil, "/tmp/subs.srt")
	if err != nil {
		t.Fatal(err)
	}
	// 3图 + 1主音轨
	if len(plan.Inputs) != 4 {
		t.Fatalf("输入数 = %d, 期望 4", len(plan.Inputs))
	}
	graph := plan.FilterComplex()
	if !strings.Contains(graph, "concat=n=3:v=1:a=0[vslides]") {
		t.Errorf("缺少视频拼接阶段: %s", graph)
	}
	if !strings.Contains(graph, "zoompan") {
		t.Errorf("缺少推拉镜头滤镜: %s", graph)
	}
	if !strings.Contains(graph, "force_style=") {
		t.Errorf("缺少字幕烧录阶段: %s", graph)
	}
	if plan.OutputVideoLabel != "[vout]" {
		t.Errorf("视频输出标签 = %s, 期望 [vout]", plan.OutputVideoLabel)
	}
	if plan.OutputAudioLabel != "[aout]" {
		t.Errorf("音频输出标签 = %s, 期望 [aout]", plan.OutputAudioLabel)
	}
}

// TestBuildSFXChain N个音效串成N级两输入混音链
func TestBuildSFXChain(t *testing.T) {
	effects := []SFXInput{
		{Path: "/tmp/fx1.wav", Start: 1.5, Volume: 0.4},
		{Path: "/tmp/fx2.wav", Start: 7.25, Volume: 0.4},
		{Path: "/tmp/fx3.wav", Start: 12, Volume: 0.6},
	}
	plan, err := NewBuilder(nil).Build(testImages(2, 10), "/tmp/master.wav", effects, "")
	if err != nil {
		t.Fatal(err)
	}
	graph := plan.FilterComplex()
	if n := strings.Count(graph, "amix=inputs=2"); n != 3 {
		t.Errorf("两输入混音级数 = %d, 期望 3", n)
	}
	// 延时取毫秒整数
	if !strings.Contains(graph, "adelay=1500|1500") {
		t.Errorf("缺少1500ms延时: %s", graph)
	}
	if !strings.Contains(graph, "adelay=7250|7250") {
		t.Errorf("缺少7250ms延时: %s", graph)
	}
	// 链式连接：第一级输出进入第二级
	if !strings.Contains(graph, "[amix0][sfx1]amix=inputs=2") {
		t.Errorf("混音链未串联: %s", graph)
	}
	// 最后一级直接命名为aout
	if !strings.Contains(graph, "[amix1][sfx2]amix=inputs=2:duration=first:dropout_transition=0[aout]") {
		t.Errorf("末级输出标签不是aout: %s", graph)
	}
	// 无字幕时视频输出就是拼接结果
	if plan.OutputVideoLabel != "[vslides]" {
		t.Errorf("视频输出标签 = %s, 期望 [vslides]", plan.OutputVideoLabel)
	}
}

// TestBuildNoEffects 无音效时主音轨仍要有显式输出标签
func TestBuildNoEffects(t *testing.T) {
	plan, err := NewBuilder(nil).Build(testImages(1, 5), "/tmp/master.wav", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(plan.FilterComplex(), "[1:a]anull[aout]") {
		t.Errorf("缺少音频直通阶段: %s", plan.FilterComplex())
	}
}

func TestBuildValidation(t *testing.T) {
	if _, err := NewBuilder(nil).Build(nil, "/tmp/a.wav", nil, ""); err == nil {
		t.Error("空配图排期期望报错")
	}
	if _, err := NewBuilder(nil).Build(testImages(1, 5), "", nil, ""); err == nil {
		t.Error("缺少主音轨期望报错")
	}
}

func TestArgs(t *testing.T) {
	plan, err := NewBuilder(nil).Build(testImages(2, 6), "/tmp/master.wav", nil, "/tmp/subs.srt")
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Join(plan.Args("/tmp/out.mp4"), " ")
	if !strings.Contains(args, "-loop 1 -t 6.000") {
		t.Errorf("图片输入缺少循环参数: %s", args)
	}
	if !strings.Contains(args, "-map [vout]") || !strings.Contains(args, "-map [aout]") {
		t.Errorf("缺少输出映射: %s", args)
	}
	if !strings.HasSuffix(args, "/tmp/out.mp4") {
		t.Errorf("输出文件应在末尾: %s", args)
	}
}
