package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/dispatch"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// ScriptConstraints 脚本生成约束
type ScriptConstraints struct {
	TargetMinutes int                   `json:"target_minutes"`
	ChapterCount  int                   `json:"chapter_count,omitempty"`
	Language      string                `json:"language,omitempty"`
	Mode          podcast.NarrationMode `json:"mode,omitempty"`
}

// ScriptResult 脚本生成结果
type ScriptResult struct {
	Chapters []struct {
		Title string `json:"title"`
		Lines []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"lines"`
	} `json:"chapters"`
	Characters []string `json:"characters,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// ScriptClient 脚本生成协作方客户端
type ScriptClient struct {
	BaseURL    string
	HTTPClient *http.Client
	dispatcher *dispatch.RateLimitedDispatcher
	retry      *RetryPolicy
	logger     *zap.Logger
}

// NewScriptClient 创建脚本生成客户端
func NewScriptClient(logger *zap.Logger, dispatcher *dispatch.RateLimitedDispatcher) *ScriptClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := viper.GetString("collab.script_url")
	if baseURL == "" {
		baseURL = "http://localhost:8801"
	}
	return &ScriptClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		dispatcher: dispatcher,
		retry:      NewRetryPolicy(logger),
		logger:     logger,
	}
}

// GenerateScript 生成结构化脚本。限流和网络错误按指数退避重试；
// 返回的文本不是合法JSON时，做一次受限的重格式化请求再失败。
func (c *ScriptClient) GenerateScript(ctx context.Context, topic, knowledgeBase string, constraints ScriptConstraints) (*ScriptResult, error) {
	var result *ScriptResult
	err := c.retry.Do(ctx, "script", func(ctx context.Context) error {
		raw, err := c.call(ctx, "/v1/script", map[string]interface{}{
			"topic":          topic,
			"knowledge_base": knowledgeBase,
			"constraints":    constraints,
		})
		if err != nil {
			return err
		}
		parsed, err := parseScript(raw)
		if err != nil {
			c.logger.Warn("脚本响应不是合法结构化数据，尝试一次重格式化", zap.Error(err))
			parsed, err = c.reformat(ctx, raw)
			if err != nil {
				return err
			}
		}
		result = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("脚本生成完成",
		zap.String("主题", topic),
		zap.Int("章节数", len(result.Chapters)))
	return result, nil
}

// reformat 受限的自纠正：把畸形文本发回去请求重排为合法JSON，
// 只尝试一次。
func (c *ScriptClient) reformat(ctx context.Context, raw []byte) (*ScriptResult, error) {
	fixed, err := c.call(ctx, "/v1/reformat", map[string]interface{}{
		"text":   string(raw),
		"schema": "podcast_script",
	})
	if err != nil {
		return nil, err
	}
	parsed, err := parseScript(fixed)
	if err != nil {
		return nil, NewError(KindMalformedResponse, "script", "重格式化后仍不是合法脚本", err)
	}
	return parsed, nil
}

func (c *ScriptClient) call(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(KindFatal, "script", "序列化请求失败", err)
	}
	var raw []byte
	doErr := c.dispatcher.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return NewError(KindFatal, "script", "创建请求失败", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return ClassifyTransport(err, "script")
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return ClassifyTransport(err, "script")
		}
		if resp.StatusCode != http.StatusOK {
			return ClassifyHTTP(resp.StatusCode, "script", fmt.Errorf("%s", respBody))
		}
		raw = respBody
		return nil
	})
	if doErr != nil {
		return nil, doErr
	}
	return raw, nil
}

func parseScript(raw []byte) (*ScriptResult, error) {
	var result ScriptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, NewError(KindMalformedResponse, "script", "响应不是合法JSON", err)
	}
	if len(result.Chapters) == 0 {
		return nil, NewError(KindMalformedResponse, "script", "响应缺少章节", nil)
	}
	return &result, nil
}

// ToProject 把脚本结果装配为项目章节
func (r *ScriptResult) ToProject(p *podcast.Project) {
	for i, ch := range r.Chapters {
		chapter := &podcast.Chapter{
			ID:     fmt.Sprintf("%s_ch%d", p.ID, i+1),
			Title:  ch.Title,
			Status: podcast.StatusPending,
		}
		for _, line := range ch.Lines {
			chapter.Lines = append(chapter.Lines, &podcast.ScriptLine{
				Speaker: line.Speaker,
				Text:    line.Text,
			})
		}
		p.Chapters = append(p.Chapters, chapter)
	}
}
