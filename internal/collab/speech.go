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

// VoiceAssignment 说话人到音色的映射，单人旁白模式只用Narrator
type VoiceAssignment struct {
	Narrator string            `json:"narrator"`
	Speakers map[string]string `json:"speakers,omitempty"`
}

// SpeechClient 语音合成协作方客户端
type SpeechClient struct {
	BaseURL    string
	HTTPClient *http.Client
	dispatcher *dispatch.RateLimitedDispatcher
	retry      *RetryPolicy
	logger     *zap.Logger
}

// NewSpeechClient 创建语音合成客户端
func NewSpeechClient(logger *zap.Logger, dispatcher *dispatch.RateLimitedDispatcher) *SpeechClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := viper.GetString("collab.speech_url")
	if baseURL == "" {
		baseURL = "http://localhost:8802"
	}
	return &SpeechClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 300 * time.Second}, // 语音合成可能较慢
		dispatcher: dispatcher,
		retry:      NewRetryPolicy(logger),
		logger:     logger,
	}
}

// Synthesize 合成一个章节的语音。多角色对话合成失败时自动降级为
// 单人旁白重试一次，再失败才向上报错。音效行不发给合成端。
func (c *SpeechClient) Synthesize(ctx context.Context, chapter *podcast.Chapter, mode podcast.NarrationMode, voices VoiceAssignment) ([]byte, error) {
	lines := make([]map[string]string, 0, len(chapter.Lines))
	for _, l := range chapter.Lines {
		if l.IsSFX() {
			continue
		}
		lines = append(lines, map[string]string{"speaker": l.Speaker, "text": l.Text})
	}
	if len(lines) == 0 {
		return nil, NewError(KindFatal, "speech", "章节没有可朗读的台词", nil)
	}

	audio, err := c.synthesize(ctx, lines, mode, voices)
	if err != nil && mode == podcast.ModeDialogue {
		c.logger.Warn("多角色合成失败，降级为单人旁白重试",
			zap.String("章节", chapter.ID), zap.Error(err))
		audio, err = c.synthesize(ctx, lines, podcast.ModeMonologue, voices)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("语音合成完成",
		zap.String("章节", chapter.ID),
		zap.Int("台词行", len(lines)),
		zap.Int("字节", len(audio)))
	return audio, nil
}

func (c *SpeechClient) synthesize(ctx context.Context, lines []map[string]string, mode podcast.NarrationMode, voices VoiceAssignment) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"lines":  lines,
		"mode":   mode,
		"voices": voices,
		"format": "wav",
	})
	if err != nil {
		return nil, NewError(KindFatal, "speech", "序列化请求失败", err)
	}

	var audio []byte
	retryErr := c.retry.Do(ctx, "speech", func(ctx context.Context) error {
		return c.dispatcher.Do(ctx, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/synthesize", bytes.NewReader(payload))
			if err != nil {
				return NewError(KindFatal, "speech", "创建请求失败", err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := c.HTTPClient.Do(req)
			if err != nil {
				return ClassifyTransport(err, "speech")
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return ClassifyHTTP(resp.StatusCode, "speech", fmt.Errorf("%s", body))
			}
			audio, err = io.ReadAll(resp.Body)
			if err != nil {
				return ClassifyTransport(err, "speech")
			}
			if len(audio) == 0 {
				return NewError(KindMalformedResponse, "speech", "合成端返回空音频", nil)
			}
			return nil
		})
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return audio, nil
}
