package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RateLimitedDispatcher 对外部协作方调用做限流：并发上限+最小请求
// 间隔。显式构造后按引用传给需要调用外部服务的组件，不依赖任何
// 全局单例。
type RateLimitedDispatcher struct {
	sem         chan struct{}
	minInterval time.Duration

	mu       sync.Mutex
	lastCall time.Time

	logger *zap.Logger
}

// NewDispatcher 创建限流调度器。maxConcurrent小于1时按1处理。
func NewDispatcher(maxConcurrent int, minInterval time.Duration, logger *zap.Logger) *RateLimitedDispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedDispatcher{
		sem:         make(chan struct{}, maxConcurrent),
		minInterval: minInterval,
		logger:      logger,
	}
}

// NewDispatcherFromConfig 从配置构造，缺省并发4、间隔200ms
func NewDispatcherFromConfig(logger *zap.Logger) *RateLimitedDispatcher {
	maxConcurrent := 4
	interval := 200 * time.Millisecond
	if viper.IsSet("collab.max_concurrent") {
		maxConcurrent = viper.GetInt("collab.max_concurrent")
	}
	if viper.IsSet("collab.min_interval_ms") {
		interval = time.Duration(viper.GetInt("collab.min_interval_ms")) * time.Millisecond
	}
	return NewDispatcher(maxConcurrent, interval, logger)
}

// Do 在限流约束下执行fn。会先占用并发槽位，再等待与上一次请求
// 的最小间隔；ctx取消时立即返回ctx.Err()，不执行fn。
func (d *RateLimitedDispatcher) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.sem }()

	if wait := d.reserve(); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fn(ctx)
}

// reserve 计算本次请求需要等待的时长，并把时间片预占到lastCall，
// 保证并发调用之间也维持最小间隔。
func (d *RateLimitedDispatcher) reserve() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	next := d.lastCall.Add(d.minInterval)
	if next.Before(now) {
		next = now
	}
	d.lastCall = next
	return next.Sub(now)
}
