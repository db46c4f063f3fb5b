package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crosspostly/youtube-podcast-sub002/internal/dispatch"
	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

func testDispatcher() *dispatch.RateLimitedDispatcher {
	return dispatch.NewDispatcher(4, 0, nil)
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, logger: zap.NewNop()}
}

const validScript = `{"chapters":[{"title":"第一章","lines":[{"speaker":"旁白","text":"很久以前"}]}]}`

// TestScriptReformat 畸形响应触发一次重格式化再解析
func TestScriptReformat(t *testing.T) {
	var reformatCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/script":
			fmt.Fprint(w, "这不是JSON，模型跑偏了")
		case "/v1/reformat":
			atomic.AddInt32(&reformatCalls, 1)
			fmt.Fprint(w, validScript)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := &ScriptClient{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		dispatcher: testDispatcher(),
		retry:      fastRetry(),
		logger:     zap.NewNop(),
	}
	result, err := c.GenerateScript(context.Background(), "丝绸之路", "", ScriptConstraints{TargetMinutes: 10})
	if err != nil {
		t.Fatalf("重格式化后应成功: %v", err)
	}
	if n := atomic.LoadInt32(&reformatCalls); n != 1 {
		t.Errorf("重格式化调用次数 = %d, 期望 1", n)
	}
	if len(result.Chapters) != 1 || result.Chapters[0].Title != "第一章" {
		t.Errorf("解析结果不符: %+v", result)
	}
}

// TestScriptReformatFailsOnce 重格式化仍畸形则直接失败，不再自纠
func TestScriptReformatFailsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "还是不是JSON")
	}))
	defer srv.Close()

	c := &ScriptClient{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		dispatcher: testDispatcher(),
		retry:      fastRetry(),
		logger:     zap.NewNop(),
	}
	_, err := c.GenerateScript(context.Background(), "题目", "", ScriptConstraints{})
	if err == nil {
		t.Fatal("重格式化仍畸形应报错")
	}
	if KindOf(err) != KindMalformedResponse {
		t.Errorf("错误分类 = %s, 期望 malformed_response", KindOf(err))
	}
}

// TestScriptRateLimitRetry 限流响应按退避重试直至成功
func TestScriptRateLimitRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, validScript)
	}))
	defer srv.Close()

	c := &ScriptClient{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		dispatcher: testDispatcher(),
		retry:      fastRetry(),
		logger:     zap.NewNop(),
	}
	if _, err := c.GenerateScript(context.Background(), "题目", "", ScriptConstraints{}); err != nil {
		t.Fatalf("第三次成功后不应报错: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("请求次数 = %d, 期望 3", n)
	}
}

// TestSynthesizeDialogueFallback 多角色失败后自动降级单人旁白
func TestSynthesizeDialogueFallback(t *testing.T) {
	var modes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode string `json:"mode"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		modes = append(modes, req.Mode)
		if req.Mode == string(podcast.ModeDialogue) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("RIFF假装是音频"))
	}))
	defer srv.Close()

	c := &SpeechClient{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		dispatcher: testDispatcher(),
		retry:      fastRetry(),
		logger:     zap.NewNop(),
	}
	chapter := &podcast.Chapter{
		ID: "ch1",
		Lines: []*podcast.ScriptLine{
			{Speaker: "甲", Text: "你好"},
			{Speaker: podcast.SpeakerSFX, Text: "门铃"},
			{Speaker: "乙", Text: "请进"},
		},
	}
	audio, err := c.Synthesize(context.Background(), chapter, podcast.ModeDialogue, VoiceAssignment{Narrator: "v1"})
	if err != nil {
		t.Fatalf("降级后应成功: %v", err)
	}
	if len(audio) == 0 {
		t.Error("应返回音频数据")
	}
	if len(modes) != 2 || modes[0] != string(podcast.ModeDialogue) || modes[1] != string(podcast.ModeMonologue) {
		t.Errorf("模式序列 = %v, 期望 [dialogue monologue]", modes)
	}
}

// TestSFXResolveAndDownload 解析取第一条结果，下载按预览优先级尝试
func TestSFXResolveAndDownload(t *testing.T) {
	var searchSrv, fileSrv *httptest.Server
	fileSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hq.mp3":
			w.WriteHeader(http.StatusNotFound) // 高清地址失效
		case "/lq.mp3":
			w.Write([]byte("sfx-payload"))
		}
	}))
	defer fileSrv.Close()
	searchSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{
					"id": "fx1", "name": "门铃", "license": "CC0",
					"preview_urls": []string{fileSrv.URL + "/hq.mp3", fileSrv.URL + "/lq.mp3"},
				},
			},
		})
	}))
	defer searchSrv.Close()

	c := &SFXClient{
		BaseURL:    searchSrv.URL,
		HTTPClient: http.DefaultClient,
		dispatcher: testDispatcher(),
		retry:      fastRetry(),
		logger:     zap.NewNop(),
	}
	line := &podcast.ScriptLine{Speaker: podcast.SpeakerSFX, Text: "门铃"}
	if err := c.ResolveLine(context.Background(), line); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if line.Effect.Phase != podcast.SFXResolved || line.Effect.Meta.ID != "fx1" {
		t.Fatalf("解析状态不符: %+v", line.Effect)
	}
	if err := c.Download(context.Background(), line); err != nil {
		t.Fatalf("下载失败: %v", err)
	}
	if line.Effect.Phase != podcast.SFXDownloaded || string(line.Effect.Payload) != "sfx-payload" {
		t.Errorf("下载状态不符: %+v", line.Effect)
	}
	// 已下载的行再次下载应直接跳过
	if err := c.Download(context.Background(), line); err != nil {
		t.Errorf("重复下载应为空操作: %v", err)
	}
}
