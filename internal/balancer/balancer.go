/*配图时长排期*/
package balancer

import (
	"fmt"
	"math"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// PacingMode 排期模式
type PacingMode string

const (
	PacingAuto   PacingMode = "auto"   // 自动均分
	PacingManual PacingMode = "manual" // 使用逐图手动时长
)

// ScheduledImage 单张配图的展示排期
type ScheduledImage struct {
	Image    *podcast.ImageAsset `json:"image"`
	Duration float64             `json:"duration"`
}

// Balancer 配图时长均衡器。自动模式下将总时长均分给图片池：
// 单图份额超过舒适上限时整组复制拉长序列，复制后低于舒适下限时
// 改为等距抽取缩短序列，最终份额严格等于 总时长/最终张数，
// 保证各图时长之和精确等于总时长，不产生漂移。
type Balancer struct {
	minComfort float64
	maxComfort float64
	logger     *zap.Logger
}

// NewBalancer 创建均衡器，舒适区间从配置读取（默认4~15秒）
func NewBalancer(logger *zap.Logger) *Balancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Balancer{minComfort: 4.0, maxComfort: 15.0, logger: logger}
	if viper.IsSet("images.min_seconds") {
		b.minComfort = viper.GetFloat64("images.min_seconds")
	}
	if viper.IsSet("images.max_seconds") {
		b.maxComfort = viper.GetFloat64("images.max_seconds")
	}
	return b
}

// Plan 计算配图排期。manual模式使用逐图时长覆盖；覆盖数量与图片
// 数量不符时退回自动均分。单张图片获得全部时长。
func (b *Balancer) Plan(images []*podcast.ImageAsset, totalDuration float64, mode PacingMode, overrides []float64) ([]ScheduledImage, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("图片池为空")
	}
	if totalDuration <= 0 {
		return nil, fmt.Errorf("总时长必须为正: %.3f", totalDuration)
	}

	if mode == PacingManual {
		if len(overrides) == len(images) {
			out := make([]ScheduledImage, len(images))
			for i, img := range images {
				out[i] = ScheduledImage{Image: img, Duration: overrides[i]}
			}
			return out, nil
		}
		b.logger.Warn("手动时长数量与图片数量不符，退回自动均分",
			zap.Int("图片", len(images)), zap.Int("时长", len(overrides)))
	}

	// 单张图片不受舒适区间约束，独占全部时长
	if len(images) == 1 {
		return []ScheduledImage{{Image: images[0], Duration: totalDuration}}, nil
	}

	sequence := b.balance(images, totalDuration)
	per := totalDuration / float64(len(sequence))
	out := make([]ScheduledImage, len(sequence))
	for i, img := range sequence {
		out[i] = ScheduledImage{Image: img, Duration: per}
	}
	return out, nil
}

// balance 调整图片序列长度，使单图份额尽量落在舒适区间内
func (b *Balancer) balance(images []*podcast.ImageAsset, totalDuration float64) []*podcast.ImageAsset {
	sequence := images
	per := totalDuration / float64(len(sequence))

	// 份额过长：整组复制足够多次
	if per > b.maxComfort {
		factor := int(math.Ceil(per / b.maxComfort))
		replicated := make([]*podcast.ImageAsset, 0, len(images)*factor)
		for i := 0; i < factor; i++ {
			replicated = append(replicated, images...)
		}
		sequence = replicated
		per = totalDuration / float64(len(sequence))
	}

	// 份额过短：等距抽取缩短序列
	if per < b.minComfort {
		target := int(math.Floor(totalDuration / b.minComfort))
		if target < 1 {
			target = 1
		}
		if target < len(sequence) {
			picked := make([]*podcast.ImageAsset, target)
			for i := 0; i < target; i++ {
				picked[i] = sequence[i*len(sequence)/target]
			}
			sequence = picked
		}
	}

	return sequence
}
