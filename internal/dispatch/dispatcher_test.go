package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestDoBoundedConcurrency 并发执行数不超过上限
func TestDoBoundedConcurrency(t *testing.T) {
	d := NewDispatcher(2, 0, nil)
	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("并发峰值 = %d, 超过上限 2", p)
	}
}

// TestDoMinInterval 相邻请求之间保持最小间隔
func TestDoMinInterval(t *testing.T) {
	d := NewDispatcher(4, 30*time.Millisecond, nil)
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Do(context.Background(), func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()
	// 4次请求至少跨3个间隔
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("总耗时 = %v, 间隔未生效", elapsed)
	}
}

// TestDoCancelled ctx取消时不执行fn
func TestDoCancelled(t *testing.T) {
	d := NewDispatcher(1, time.Hour, nil)
	// 占住时间片，下一次调用必须等待
	d.Do(context.Background(), func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	executed := false
	err := d.Do(ctx, func(ctx context.Context) error {
		executed = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, 期望 context.Canceled", err)
	}
	if executed {
		t.Error("ctx取消后不应执行fn")
	}
}

// TestDoPropagatesError fn的错误原样返回
func TestDoPropagatesError(t *testing.T) {
	d := NewDispatcher(1, 0, nil)
	want := errors.New("上游失败")
	if err := d.Do(context.Background(), func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("err = %v, 期望 %v", err, want)
	}
}
