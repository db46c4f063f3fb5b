package types

// ProgressEvent 装配流水线的进度事件，推送给订阅的前端
type ProgressEvent struct {
	ProjectID string  `json:"projectId"`
	Stage     string  `json:"stage"` // script / speech / sfx / mix / subtitle / plan / export
	Type      string  `json:"type"`  // "log", "progress", "success", "error"
	Message   string  `json:"message"`
	Percent   float64 `json:"percent,omitempty"`
	Timestamp string  `json:"timestamp"`
}
