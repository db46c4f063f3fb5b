package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/crosspostly/youtube-podcast-sub002/internal/podcast"
)

// GormManager GORM数据库管理器
type GormManager struct {
	DB *gorm.DB
}

// NewGormManager 创建新的GORM数据库管理器
func NewGormManager() (*GormManager, error) {
	dbPath, err := GetDatabasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %v", err)
	}
	return newManagerAt(dbPath)
}

// NewGormManagerAt 在指定路径打开数据库，测试用
func NewGormManagerAt(dbPath string) (*GormManager, error) {
	return newManagerAt(dbPath)
}

func newManagerAt(dbPath string) (*GormManager, error) {
	newLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dsn := fmt.Sprintf("%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %v", err)
	}

	manager := &GormManager{DB: db}
	if err := manager.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}
	return manager, nil
}

// Migrate 执行数据库迁移
func (gm *GormManager) Migrate() error {
	return gm.DB.AutoMigrate(&PodcastProject{}, &ChapterRecord{}, &AssemblyRun{})
}

// Close 关闭数据库连接
func (gm *GormManager) Close() error {
	sqlDB, err := gm.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB 获取数据库实例
func (gm *GormManager) GetDB() *gorm.DB {
	return gm.DB
}

// SaveProject 持久化项目及其章节结构。已存在的项目按ProjectID更新。
func (gm *GormManager) SaveProject(p *podcast.Project) (*PodcastProject, error) {
	record := &PodcastProject{
		ProjectID:     p.ID,
		Topic:         p.Topic,
		Title:         p.Title,
		Language:      p.Language,
		Mode:          string(p.Mode),
		TargetMinutes: p.TargetMinutes,
		Status:        StatusPending,
	}

	existing, err := gm.GetProjectByProjectID(p.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		record.BaseModel = existing.BaseModel
		record.Status = existing.Status
	}

	if result := gm.DB.Save(record); result.Error != nil {
		return nil, fmt.Errorf("failed to save project: %v", result.Error)
	}

	for i, ch := range p.Chapters {
		sfxCount := 0
		for _, line := range ch.Lines {
			if line.IsSFX() {
				sfxCount++
			}
		}
		chapter := &ChapterRecord{
			ProjectID:  record.ID,
			ChapterID:  ch.ID,
			Title:      ch.Title,
			OrderIndex: i,
			LineCount:  len(ch.Lines),
			SFXCount:   sfxCount,
			Offset:     -1,
			Status:     ProcessStatus(ch.Status),
		}
		if ch.Music != nil {
			chapter.MusicTrackID = ch.Music.ID
		}
		var prev ChapterRecord
		result := gm.DB.First(&prev, "project_id = ? AND chapter_id = ?", record.ID, ch.ID)
		if result.Error == nil {
			chapter.BaseModel = prev.BaseModel
		} else if result.Error != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to query chapter: %v", result.Error)
		}
		if result := gm.DB.Save(chapter); result.Error != nil {
			return nil, fmt.Errorf("failed to save chapter: %v", result.Error)
		}
	}

	return record, nil
}

// GetProjectByProjectID 按业务ID获取项目
func (gm *GormManager) GetProjectByProjectID(projectID string) (*PodcastProject, error) {
	var project PodcastProject
	result := gm.DB.Preload("Chapters").First(&project, "project_id = ?", projectID)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project: %v", result.Error)
	}
	return &project, nil
}

// ListProjects 列出全部项目
func (gm *GormManager) ListProjects() ([]PodcastProject, error) {
	var projects []PodcastProject
	result := gm.DB.Order("created_at desc").Find(&projects)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list projects: %v", result.Error)
	}
	return projects, nil
}

// UpdateProjectStatus 更新项目状态
func (gm *GormManager) UpdateProjectStatus(id uint, status ProcessStatus, errorMsg string) error {
	result := gm.DB.Model(&PodcastProject{BaseModel: BaseModel{ID: id}}).Updates(map[string]interface{}{
		"status":     status,
		"error_msg":  errorMsg,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update project status: %v", result.Error)
	}
	return nil
}

// RecordAssembly 写回一次装配的产物和释放账目
func (gm *GormManager) RecordAssembly(projectID uint, run *AssemblyRun, audioFile, subtitleFile, exportFile string, duration float64, bytesFreed int64) error {
	run.ProjectID = projectID
	run.Status = StatusCompleted
	run.Duration = duration
	run.BytesFreed = bytesFreed
	run.EndTime = MyTime{Time: time.Now()}
	if !run.StartTime.IsZero() {
		run.ElapsedSec = int64(run.EndTime.Sub(run.StartTime.Time).Seconds())
	}
	if result := gm.DB.Save(run); result.Error != nil {
		return fmt.Errorf("failed to save assembly run: %v", result.Error)
	}

	result := gm.DB.Model(&PodcastProject{BaseModel: BaseModel{ID: projectID}}).Updates(map[string]interface{}{
		"status":        StatusCompleted,
		"audio_file":    audioFile,
		"subtitle_file": subtitleFile,
		"export_file":   exportFile,
		"duration":      duration,
		"bytes_freed":   bytesFreed,
		"updated_at":    time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update project outputs: %v", result.Error)
	}
	return nil
}

// RecordAssemblyFailure 记录装配失败
func (gm *GormManager) RecordAssemblyFailure(projectID uint, run *AssemblyRun, errorMsg string) error {
	run.ProjectID = projectID
	run.Status = StatusFailed
	run.ErrorMsg = errorMsg
	run.EndTime = MyTime{Time: time.Now()}
	if result := gm.DB.Save(run); result.Error != nil {
		return fmt.Errorf("failed to save assembly run: %v", result.Error)
	}
	return gm.UpdateProjectStatus(projectID, StatusFailed, errorMsg)
}

// UpdateChapterTimeline 混音完成后写回每个章节的主时间线位置
func (gm *GormManager) UpdateChapterTimeline(projectID uint, chapterID string, offset, duration float64, status ProcessStatus) error {
	result := gm.DB.Model(&ChapterRecord{}).
		Where("project_id = ? AND chapter_id = ?", projectID, chapterID).
		Updates(map[string]interface{}{
			"start_offset": offset,
			"duration":   duration,
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update chapter timeline: %v", result.Error)
	}
	return nil
}

// GetChaptersByProjectID 获取项目的全部章节记录
func (gm *GormManager) GetChaptersByProjectID(projectID uint) ([]ChapterRecord, error) {
	var chapters []ChapterRecord
	result := gm.DB.Order("order_index asc").Find(&chapters, "project_id = ?", projectID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get chapters: %v", result.Error)
	}
	return chapters, nil
}

// GetRunsByProjectID 获取项目的装配历史
func (gm *GormManager) GetRunsByProjectID(projectID uint) ([]AssemblyRun, error) {
	var runs []AssemblyRun
	result := gm.DB.Order("created_at desc").Find(&runs, "project_id = ?", projectID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get assembly runs: %v", result.Error)
	}
	return runs, nil
}
