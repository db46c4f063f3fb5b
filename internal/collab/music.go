package collab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/dispatch"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// MusicClient 背景音乐下载客户端，实现混音器的MusicResolver接口
type MusicClient struct {
	HTTPClient *http.Client
	dispatcher *dispatch.RateLimitedDispatcher
	retry      *RetryPolicy

	mu    sync.Mutex
	cache map[string][]byte

	logger *zap.Logger
}

// NewMusicClient 创建背景音乐客户端。同一音轨在一次混音里可能被
// 多个章节引用，按音轨ID缓存避免重复下载。
func NewMusicClient(logger *zap.Logger, dispatcher *dispatch.RateLimitedDispatcher) *MusicClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MusicClient{
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		dispatcher: dispatcher,
		retry:      NewRetryPolicy(logger),
		cache:      make(map[string][]byte),
		logger:     logger,
	}
}

// Resolve 下载音轨音频，限流和网络抖动退避重试
func (c *MusicClient) Resolve(ctx context.Context, track *podcast.MusicTrack) ([]byte, error) {
	if track == nil || track.URL == "" {
		return nil, NewError(KindFatal, "music", "音轨缺少下载地址", nil)
	}

	c.mu.Lock()
	cached, ok := c.cache[track.ID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var data []byte
	err := c.retry.Do(ctx, "music", func(ctx context.Context) error {
		return c.dispatcher.Do(ctx, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.URL, nil)
			if err != nil {
				return NewError(KindFatal, "music", "创建请求失败", err)
			}
			resp, err := c.HTTPClient.Do(req)
			if err != nil {
				return ClassifyTransport(err, "music")
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return ClassifyHTTP(resp.StatusCode, "music", nil)
			}
			data, err = io.ReadAll(resp.Body)
			if err != nil {
				return ClassifyTransport(err, "music")
			}
			if len(data) == 0 {
				return NewError(KindMalformedResponse, "music", "下载到空音轨", nil)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("下载背景音乐%s失败: %w", track.Name, err)
	}

	c.mu.Lock()
	c.cache[track.ID] = data
	c.mu.Unlock()
	c.logger.Info("背景音乐已下载",
		zap.String("音轨", track.Name),
		zap.Int("字节", len(data)))
	return data, nil
}
