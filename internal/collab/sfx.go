package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/dispatch"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// SFXClient 音效检索协作方客户端
type SFXClient struct {
	BaseURL    string
	HTTPClient *http.Client
	dispatcher *dispatch.RateLimitedDispatcher
	retry      *RetryPolicy
	logger     *zap.Logger
}

// NewSFXClient 创建音效检索客户端
func NewSFXClient(logger *zap.Logger, dispatcher *dispatch.RateLimitedDispatcher) *SFXClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := viper.GetString("collab.sfx_url")
	if baseURL == "" {
		baseURL = "http://localhost:8804"
	}
	return &SFXClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		dispatcher: dispatcher,
		retry:      NewRetryPolicy(logger),
		logger:     logger,
	}
}

// Search 按关键词检索音效，结果的预览地址按音质优先级排列
func (c *SFXClient) Search(ctx context.Context, keywords string) ([]*podcast.SoundEffect, error) {
	var results []*podcast.SoundEffect
	err := c.retry.Do(ctx, "sfx", func(ctx context.Context) error {
		return c.dispatcher.Do(ctx, func(ctx context.Context) error {
			endpoint := fmt.Sprintf("%s/v1/search?q=%s", c.BaseURL, url.QueryEscape(keywords))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return NewError(KindFatal, "sfx", "创建请求失败", err)
			}
			resp, err := c.HTTPClient.Do(req)
			if err != nil {
				return ClassifyTransport(err, "sfx")
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return ClassifyHTTP(resp.StatusCode, "sfx", fmt.Errorf("%s", body))
			}
			var payload struct {
				Results []*podcast.SoundEffect `json:"results"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return NewError(KindMalformedResponse, "sfx", "检索响应不是合法JSON", err)
			}
			results = payload.Results
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ResolveLine 为一条音效行解析元数据：检索关键词并取第一条结果。
// 已解析过的行直接跳过，避免重复请求。
func (c *SFXClient) ResolveLine(ctx context.Context, line *podcast.ScriptLine) error {
	if !line.IsSFX() {
		return nil
	}
	if line.Effect.Phase != podcast.SFXUnresolved {
		return nil
	}
	results, err := c.Search(ctx, line.Text)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return NewError(KindFatal, "sfx", fmt.Sprintf("未检索到音效: %s", line.Text), nil)
	}
	line.Effect.Resolve(results[0])
	c.logger.Info("音效已解析",
		zap.String("关键词", line.Text),
		zap.String("音效", results[0].Name))
	return nil
}

// Download 下载音效负载：按预览地址优先级逐个尝试，第一个成功的
// 生效。已下载的行直接跳过。
func (c *SFXClient) Download(ctx context.Context, line *podcast.ScriptLine) error {
	if line.Effect.Phase == podcast.SFXDownloaded {
		return nil
	}
	if line.Effect.Phase != podcast.SFXResolved || line.Effect.Meta == nil {
		return NewError(KindFatal, "sfx", "音效尚未解析，无法下载", nil)
	}

	var lastErr error
	for _, previewURL := range line.Effect.Meta.PreviewURLs {
		data, err := c.fetchPreview(ctx, previewURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.logger.Warn("预览地址下载失败，尝试下一个",
				zap.String("音效", line.Effect.Meta.Name),
				zap.String("url", previewURL),
				zap.Error(err))
			continue
		}
		line.Effect.Attach(data)
		c.logger.Info("音效负载已下载",
			zap.String("音效", line.Effect.Meta.Name),
			zap.Int("字节", len(data)))
		return nil
	}
	if lastErr == nil {
		lastErr = NewError(KindFatal, "sfx", "音效没有可用的预览地址", nil)
	}
	return fmt.Errorf("音效%s所有预览地址都下载失败: %w", line.Effect.Meta.Name, lastErr)
}

func (c *SFXClient) fetchPreview(ctx context.Context, previewURL string) ([]byte, error) {
	var data []byte
	err := c.dispatcher.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
		if err != nil {
			return NewError(KindFatal, "sfx", "创建下载请求失败", err)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return ClassifyTransport(err, "sfx")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return ClassifyHTTP(resp.StatusCode, "sfx", nil)
		}
		// 体积上限防止单个音效把内存撑爆
		limit := maxSFXBytes()
		data, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return ClassifyTransport(err, "sfx")
		}
		if int64(len(data)) > limit {
			return NewError(KindFatal, "sfx", fmt.Sprintf("音效负载超过%d字节上限", limit), nil)
		}
		if len(data) == 0 {
			return NewError(KindMalformedResponse, "sfx", "下载到空负载", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func maxSFXBytes() int64 {
	if viper.IsSet("collab.max_sfx_bytes") {
		return viper.GetInt64("collab.max_sfx_bytes")
	}
	return 8 * 1024 * 1024
}
