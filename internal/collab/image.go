package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/image/font"

	"github.com/crosspostly/youtube-podcast-sub002/internal/dispatch"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// ImageClient 配图协作方客户端。拉取失败时退回本地绘制的占位图，
// 幻灯片永远不会因为缺图停摆。
type ImageClient struct {
	BaseURL    string
	HTTPClient *http.Client
	dispatcher *dispatch.RateLimitedDispatcher
	retry      *RetryPolicy
	outputDir  string
	width      int
	height     int
	logger     *zap.Logger
}

// NewImageClient 创建配图客户端
func NewImageClient(logger *zap.Logger, dispatcher *dispatch.RateLimitedDispatcher) *ImageClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := viper.GetString("collab.image_url")
	if baseURL == "" {
		baseURL = "http://localhost:8803"
	}
	outputDir := viper.GetString("images.output_dir")
	if outputDir == "" {
		outputDir = "output/images"
	}
	c := &ImageClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		dispatcher: dispatcher,
		retry:      NewRetryPolicy(logger),
		outputDir:  outputDir,
		width:      1920,
		height:     1080,
		logger:     logger,
	}
	if viper.IsSet("video.width") {
		c.width = viper.GetInt("video.width")
	}
	if viper.IsSet("video.height") {
		c.height = viper.GetInt("video.height")
	}
	return c
}

// GetImages 按提示词拉取count张配图。单张失败只降级为占位图并
// 记录日志，不影响其余图片。
func (c *ImageClient) GetImages(ctx context.Context, prompt string, count int) ([]*podcast.ImageAsset, error) {
	if count < 1 {
		count = 1
	}
	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建配图目录失败: %v", err)
	}

	assets := make([]*podcast.ImageAsset, 0, count)
	for i := 0; i < count; i++ {
		asset, err := c.fetchOne(ctx, prompt, i)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("配图拉取失败，使用占位图",
				zap.String("提示词", prompt), zap.Int("序号", i), zap.Error(err))
			asset, err = c.placeholder(prompt)
			if err != nil {
				return nil, fmt.Errorf("绘制占位图失败: %v", err)
			}
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (c *ImageClient) fetchOne(ctx context.Context, prompt string, index int) (*podcast.ImageAsset, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"prompt": prompt,
		"index":  index,
		"width":  c.width,
		"height": c.height,
	})
	if err != nil {
		return nil, NewError(KindFatal, "image", "序列化请求失败", err)
	}

	var data []byte
	retryErr := c.retry.Do(ctx, "image", func(ctx context.Context) error {
		return c.dispatcher.Do(ctx, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/images", bytes.NewReader(payload))
			if err != nil {
				return NewError(KindFatal, "image", "创建请求失败", err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := c.HTTPClient.Do(req)
			if err != nil {
				return ClassifyTransport(err, "image")
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return ClassifyHTTP(resp.StatusCode, "image", fmt.Errorf("%s", body))
			}
			data, err = io.ReadAll(resp.Body)
			if err != nil {
				return ClassifyTransport(err, "image")
			}
			if len(data) == 0 {
				return NewError(KindMalformedResponse, "image", "返回空图片", nil)
			}
			return nil
		})
	})
	if retryErr != nil {
		return nil, retryErr
	}

	id := uuid.New().String()
	path := filepath.Join(c.outputDir, fmt.Sprintf("img_%s.png", id))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("保存配图失败: %v", err)
	}
	return &podcast.ImageAsset{ID: id, Path: path, Prompt: prompt, Data: data}, nil
}

// placeholder 本地绘制带提示词的占位图
func (c *ImageClient) placeholder(prompt string) (*podcast.ImageAsset, error) {
	dc := gg.NewContext(c.width, c.height)
	dc.SetColor(color.RGBA{R: 30, G: 34, B: 42, A: 255})
	dc.Clear()

	// 几条斜向色带，避免纯色画面在推拉镜头下完全静止
	for i := 0; i < 5; i++ {
		dc.SetColor(color.RGBA{R: 52, G: 63, B: 82, A: 90})
		x := float64(i) * float64(c.width) / 5
		dc.DrawLine(x, 0, x+float64(c.width)/3, float64(c.height))
		dc.SetLineWidth(60)
		dc.Stroke()
	}

	fontSize := 48.0
	var face font.Face
	if fontPath := viper.GetString("image.font_path"); fontPath != "" {
		if fontBytes, err := os.ReadFile(fontPath); err == nil {
			if parsed, err := truetype.Parse(fontBytes); err == nil {
				face = truetype.NewFace(parsed, &truetype.Options{Size: fontSize})
				dc.SetFontFace(face)
			}
		}
	}

	w, h := dc.MeasureString(prompt)
	x := (float64(c.width) - w) / 2
	y := (float64(c.height)-h)/2 + fontSize
	dc.SetRGB(0, 0, 0)
	dc.DrawString(prompt, x+2, y+2)
	dc.SetRGB(1, 1, 1)
	dc.DrawString(prompt, x, y)

	id := uuid.New().String()
	path := filepath.Join(c.outputDir, fmt.Sprintf("placeholder_%s.png", id))
	if err := dc.SavePNG(path); err != nil {
		return nil, err
	}
	c.logger.Info("已生成占位图", zap.String("path", path))
	return &podcast.ImageAsset{ID: id, Path: path, Prompt: prompt}, nil
}
