package balancer

import (
	"fmt"
	"math"
	"testing"

	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

func newTestBalancer() *Balancer {
	return NewBalancer(nil)
}

func pool(n int) []*podcast.ImageAsset {
	images := make([]*podcast.ImageAsset, n)
	for i := range images {
		images[i] = &podcast.ImageAsset{ID: fmt.Sprintf("img_%d", i)}
	}
	return images
}

func sumDurations(plan []ScheduledImage) float64 {
	var sum float64
	for _, p := range plan {
		sum += p.Duration
	}
	return sum
}

// TestPlanReplication 3图60秒：20秒/图超上限，复制到6图后10秒/图
func TestPlanReplication(t *testing.T) {
	plan, err := newTestBalancer().Plan(pool(3), 60, PacingAuto, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 6 {
		t.Fatalf("排期张数 = %d, 期望 6", len(plan))
	}
	for i, p := range plan {
		if math.Abs(p.Duration-10.0) > 1e-9 {
			t.Errorf("第 %d 张时长 = %.3f, 期望 10.0", i, p.Duration)
		}
	}
	if math.Abs(sumDurations(plan)-60) > 1e-9 {
		t.Errorf("总时长 = %.6f, 期望精确 60", sumDurations(plan))
	}
}

// TestPlanSubsample 图片过多时等距抽取，份额不低于舒适下限
func TestPlanSubsample(t *testing.T) {
	plan, err := newTestBalancer().Plan(pool(30), 60, PacingAuto, nil)
	if err != nil {
		t.Fatal(err)
	}
	// 60/4 = 15张上限
	if len(plan) != 15 {
		t.Fatalf("排期张数 = %d, 期望 15", len(plan))
	}
	per := 60.0 / 15
	for _, p := range plan {
		if p.Duration < 4.0-1e-9 || p.Duration > 15.0+1e-9 {
			t.Errorf("时长 %.3f 超出舒适区间 [4,15]", p.Duration)
		}
		if math.Abs(p.Duration-per) > 1e-9 {
			t.Errorf("时长 = %.3f, 期望 %.3f", p.Duration, per)
		}
	}
	if math.Abs(sumDurations(plan)-60) > 1e-9 {
		t.Errorf("总时长 = %.6f, 期望精确 60", sumDurations(plan))
	}
}

// TestPlanExactSum 任意组合下时长之和都精确等于总时长
func TestPlanExactSum(t *testing.T) {
	b := newTestBalancer()
	cases := []struct {
		images int
		total  float64
	}{
		{1, 7.3},
		{2, 100},
		{7, 33.33},
		{13, 421.7},
		{100, 60},
	}
	for _, c := range cases {
		plan, err := b.Plan(pool(c.images), c.total, PacingAuto, nil)
		if err != nil {
			t.Fatalf("images=%d total=%.2f: %v", c.images, c.total, err)
		}
		if math.Abs(sumDurations(plan)-c.total) > 1e-9 {
			t.Errorf("images=%d total=%.2f: 总和 = %.9f", c.images, c.total, sumDurations(plan))
		}
		for _, p := range plan {
			if len(plan) > 1 && (p.Duration < b.minComfort-1e-9 || p.Duration > b.maxComfort+1e-9) {
				t.Errorf("images=%d total=%.2f: 时长 %.3f 超出舒适区间", c.images, c.total, p.Duration)
			}
		}
	}
}

// TestPlanSingleImage 单张图片独占全部时长，不受舒适区间约束
func TestPlanSingleImage(t *testing.T) {
	for _, total := range []float64{8.5, 60, 421.7} {
		plan, err := newTestBalancer().Plan(pool(1), total, PacingAuto, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan) != 1 {
			t.Fatalf("总时长 %.1f: 排期张数 = %d, 期望 1（单图不复制）", total, len(plan))
		}
		if math.Abs(plan[0].Duration-total) > 1e-9 {
			t.Errorf("总时长 %.1f: 单图时长 = %.6f, 期望全部时长", total, plan[0].Duration)
		}
	}
}

// TestPlanManualOverrides 手动模式使用逐图时长，数量不符退回自动
func TestPlanManualOverrides(t *testing.T) {
	b := newTestBalancer()
	images := pool(3)

	plan, err := b.Plan(images, 60, PacingManual, []float64{5, 25, 30})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 3 {
		t.Fatalf("排期张数 = %d, 期望 3", len(plan))
	}
	want := []float64{5, 25, 30}
	for i, p := range plan {
		if p.Duration != want[i] {
			t.Errorf("第 %d 张时长 = %.3f, 期望 %.3f", i, p.Duration, want[i])
		}
	}

	// 覆盖数量不符 → 自动均分
	plan, err = b.Plan(images, 60, PacingManual, []float64{5, 25})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(sumDurations(plan)-60) > 1e-9 {
		t.Errorf("退回自动后总时长 = %.6f, 期望 60", sumDurations(plan))
	}
}

// TestPlanEmptyPool 空图片池报错
func TestPlanEmptyPool(t *testing.T) {
	if _, err := newTestBalancer().Plan(nil, 60, PacingAuto, nil); err == nil {
		t.Error("空图片池期望报错")
	}
	if _, err := newTestBalancer().Plan(pool(3), 0, PacingAuto, nil); err == nil {
		t.Error("零总时长期望报错")
	}
}
