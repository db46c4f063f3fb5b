package export

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
	"github.com/crosspostly/youtube-podcast-sub002/internal/renderplan"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExportBundle(t *testing.T) {
	dir := t.TempDir()
	audio := writeTemp(t, dir, "master.wav", "RIFF假音频")
	srt := writeTemp(t, dir, "subs.srt", "1\n00:00:00,000 --> 00:00:01,000\n你好\n")
	img := writeTemp(t, dir, "scene.png", "PNG假图片")

	out := filepath.Join(dir, "bundle.zip")
	err := NewExporter(nil).Export(Bundle{
		MasterAudio:  audio,
		SubtitleFile: srt,
		Images:       []*podcast.ImageAsset{{ID: "i1", Path: img}},
		RenderPlan:   &renderplan.RenderPlan{OutputVideoLabel: "[vout]", OutputAudioLabel: "[aout]"},
	}, out)
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	r, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	names := make(map[string]bool)
	for _, f := range r.File {
		names[f.Name] = true
	}
	for _, want := range []string{"master.wav", "subs.srt", "images/scene.png", "render_plan.json"} {
		if !names[want] {
			t.Errorf("压缩包缺少 %s, 实际内容 %v", want, names)
		}
	}
}

func TestExportMissingImageNonFatal(t *testing.T) {
	dir := t.TempDir()
	audio := writeTemp(t, dir, "master.wav", "RIFF假音频")
	out := filepath.Join(dir, "bundle.zip")
	err := NewExporter(nil).Export(Bundle{
		MasterAudio: audio,
		Images:      []*podcast.ImageAsset{{ID: "gone", Path: filepath.Join(dir, "不存在.png")}},
	}, out)
	if err != nil {
		t.Fatalf("单张配图缺失不应阻塞导出: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatal("导出包应已生成")
	}
}

func TestExportRequiresAudio(t *testing.T) {
	if err := NewExporter(nil).Export(Bundle{}, "x.zip"); err == nil {
		t.Error("缺少主音轨应报错")
	}
}
