package collab

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Kind 协作方错误的封闭分类。在协作方边界一次性判定，内部逻辑
// 只按Kind分支，不再从字符串或状态码重新推断。
type Kind int

const (
	KindRateLimited Kind = iota + 1 // 限流，可退避重试
	KindServerUnavailable
	KindNetworkFailure
	KindMalformedResponse // 应为结构化数据但不是
	KindFatal             // 不可重试
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServerUnavailable:
		return "server_unavailable"
	case KindNetworkFailure:
		return "network_failure"
	case KindMalformedResponse:
		return "malformed_response"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error 协作方错误。Layer标明哪一层协作方失败，面向用户的消息
// 与上游原始错误分离。
type Error struct {
	Kind    Kind
	Layer   string // script / speech / image / sfx / music
	Message string // 人类可读的失败原因
	Cause   error  // 上游原始错误
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s协作方失败(%s): %s: %v", e.Layer, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s协作方失败(%s): %s", e.Layer, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError 构造协作方错误
func NewError(kind Kind, layer, message string, cause error) *Error {
	return &Error{Kind: kind, Layer: layer, Message: message, Cause: cause}
}

// KindOf 提取错误分类，非协作方错误归为Fatal
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// Retryable 限流、服务不可用和网络抖动可以退避后重试
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindServerUnavailable, KindNetworkFailure:
		return true
	}
	return false
}

// ClassifyHTTP 按状态码判定错误分类。只在协作方边界调用一次。
func ClassifyHTTP(statusCode int, layer string, cause error) *Error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewError(KindRateLimited, layer, "请求被限流", cause)
	case statusCode == http.StatusServiceUnavailable || statusCode == http.StatusBadGateway || statusCode == http.StatusGatewayTimeout:
		return NewError(KindServerUnavailable, layer, fmt.Sprintf("服务不可用，状态码%d", statusCode), cause)
	case statusCode >= 500:
		return NewError(KindServerUnavailable, layer, fmt.Sprintf("服务端错误，状态码%d", statusCode), cause)
	default:
		return NewError(KindFatal, layer, fmt.Sprintf("请求失败，状态码%d", statusCode), cause)
	}
}

// ClassifyTransport 传输层错误：超时归为网络抖动，其余网络错误同样
// 可重试。
func ClassifyTransport(err error, layer string) *Error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(KindNetworkFailure, layer, "请求超时", err)
	}
	return NewError(KindNetworkFailure, layer, "网络请求失败", err)
}

// RetryPolicy 指数退避+抖动的重试策略
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	logger      *zap.Logger
}

// NewRetryPolicy 从配置构造重试策略，缺省3次、基础500ms、上限10s
func NewRetryPolicy(logger *zap.Logger) *RetryPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, logger: logger}
	if viper.IsSet("collab.max_attempts") {
		p.MaxAttempts = viper.GetInt("collab.max_attempts")
	}
	if viper.IsSet("collab.base_delay_ms") {
		p.BaseDelay = time.Duration(viper.GetInt("collab.base_delay_ms")) * time.Millisecond
	}
	return p
}

// Do 执行fn，可重试错误按指数退避+抖动重试，次数用尽后返回最后
// 一次错误。不可重试错误立即返回。
func (p *RetryPolicy) Do(ctx context.Context, layer string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.backoff(attempt)
		p.logger.Warn("协作方调用失败，准备重试",
			zap.String("层", layer),
			zap.Int("第几次", attempt),
			zap.Duration("退避", delay),
			zap.Error(lastErr))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s协作方重试%d次后仍失败: %w", layer, p.MaxAttempts, lastErr)
}

// backoff 第attempt次失败后的等待时长：base*2^(attempt-1)加满幅抖动
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	d = d/2 + jitter/2
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
