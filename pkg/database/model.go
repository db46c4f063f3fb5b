package database

import (
	"gorm.io/gorm"
)

// BaseModel 包含公共字段
type BaseModel struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt MyTime         `json:"created_at"`
	UpdatedAt MyTime         `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// PodcastProject 播客项目模型
type PodcastProject struct {
	BaseModel
	ProjectID     string          `json:"project_id" gorm:"uniqueIndex"` // 业务层项目ID
	Topic         string          `json:"topic"`                         // 选题
	Title         string          `json:"title"`                         // 节目标题
	Language      string          `json:"language"`                      // 语言
	Mode          string          `json:"mode"`                          // 旁白模式：dialogue/monologue
	TargetMinutes int             `json:"target_minutes"`                // 目标时长（分钟）
	Status        ProcessStatus   `json:"status" gorm:"default:pending"` // 项目整体状态
	ErrorMsg      string          `json:"error_msg,omitempty"`           // 错误信息
	AudioFile     string          `json:"audio_file,omitempty"`          // 主音轨文件
	SubtitleFile  string          `json:"subtitle_file,omitempty"`       // 字幕文件
	ExportFile    string          `json:"export_file,omitempty"`         // 导出包
	Duration      float64         `json:"duration"`                      // 混音后实际时长（秒）
	BytesFreed    int64           `json:"bytes_freed"`                   // 装配后释放的负载字节数
	Chapters      []ChapterRecord `json:"chapters" gorm:"foreignKey:ProjectID;references:ID"`
	Runs          []AssemblyRun   `json:"runs" gorm:"foreignKey:ProjectID;references:ID"`
}

// ChapterRecord 章节记录模型
type ChapterRecord struct {
	BaseModel
	ProjectID    uint           `json:"project_id"`
	Project      PodcastProject `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ChapterID    string         `json:"chapter_id"`                    // 业务层章节ID
	Title        string         `json:"title"`                         // 章节标题
	OrderIndex   int            `json:"order_index"`                   // 章节顺序
	LineCount    int            `json:"line_count"`                    // 台词行数
	SFXCount     int            `json:"sfx_count"`                     // 音效行数
	MusicTrackID string         `json:"music_track_id,omitempty"`      // 背景音乐音轨
	Offset       float64        `json:"offset" gorm:"column:start_offset"` // 主时间线起始秒，-1表示未解码
	Duration     float64        `json:"duration"`                      // 解码出的真实时长
	Status       ProcessStatus  `json:"status" gorm:"default:pending"` // 处理状态
	ErrorMsg     string         `json:"error_msg,omitempty"`           // 错误信息
}

// AssemblyRun 一次装配的执行记录，用于排查失败和追踪资源释放
type AssemblyRun struct {
	BaseModel
	ProjectID  uint           `json:"project_id"`
	Project    PodcastProject `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Status     ProcessStatus  `json:"status" gorm:"default:processing"`
	ErrorMsg   string         `json:"error_msg,omitempty"`
	Duration   float64        `json:"duration"`    // 混音时长（秒）
	CueCount   int            `json:"cue_count"`   // 字幕条数
	ImageCount int            `json:"image_count"` // 排期配图张数
	BytesFreed int64          `json:"bytes_freed"` // 本次释放的字节数
	StartTime  MyTime         `json:"start_time,omitempty"`
	EndTime    MyTime         `json:"end_time,omitempty"`
	ElapsedSec int64          `json:"elapsed_sec"` // 装配耗时（秒）
}
