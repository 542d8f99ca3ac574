// internal/services/library_service.go
package services

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
	"github.com/Corphon/StoryboardMCP/internal/vectorsearch"
)

const defaultLibraryLimit = 500

// LibraryLister 媒体库列举服务
type LibraryLister interface {
	List(ctx context.Context, req vectorsearch.ListRequest) (*vectorsearch.ListResponse, error)
}

// SyncReport 一次同步的统计
type SyncReport struct {
	ProjectID string `json:"project_id"`
	Directory string `json:"directory"`
	Listed    int    `json:"listed"`
	Added     int    `json:"added"`
	Skipped   int    `json:"skipped"`
}

// LibraryService 把媒体库文件合并进项目素材
type LibraryService struct {
	lister     LibraryLister
	projects   *ProjectService
	defaultDir string
	cron       *cron.Cron
	logger     *utils.Logger
}

func NewLibraryService(lister LibraryLister, projects *ProjectService, defaultDir string) *LibraryService {
	return &LibraryService{
		lister:     lister,
		projects:   projects,
		defaultDir: defaultDir,
		logger:     utils.GetLogger(),
	}
}

// Sync 列举目录并加入新文件；已存在的素材（ID 或路径相同）保持不变
func (s *LibraryService) Sync(ctx context.Context, projectID, directory string, limit int) (*SyncReport, error) {
	if directory == "" {
		directory = s.defaultDir
	}
	if limit <= 0 {
		limit = defaultLibraryLimit
	}
	if _, err := s.projects.GetProject(projectID); err != nil {
		return nil, err
	}

	resp, err := s.lister.List(ctx, vectorsearch.ListRequest{
		Directory: directory,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	report := &SyncReport{ProjectID: projectID, Directory: directory, Listed: len(resp.Files)}
	_, err = s.projects.UpdateProject(projectID, func(p *models.Project) error {
		known := make(map[string]bool, len(p.Assets)*2)
		for _, a := range p.Assets {
			known["id:"+a.ID] = true
			if a.FilePath != "" {
				known["path:"+a.FilePath] = true
			}
		}
		for _, f := range resp.Files {
			if f.FilePath == "" || known["path:"+f.FilePath] || (f.ShotID != "" && known["id:"+f.ShotID]) {
				report.Skipped++
				continue
			}
			asset := assetFromLibraryFile(f)
			p.Assets = append(p.Assets, asset)
			known["id:"+asset.ID] = true
			known["path:"+asset.FilePath] = true
			report.Added++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("media library synced", map[string]interface{}{
		"project_id": projectID,
		"directory":  directory,
		"listed":     report.Listed,
		"added":      report.Added,
	})
	return report, nil
}

func assetFromLibraryFile(f vectorsearch.LibraryFile) models.Asset {
	id := f.ShotID
	if id == "" {
		id = uuid.New().String()
	}
	label := f.Label
	if label == "" {
		base := filepath.Base(f.FilePath)
		label = strings.TrimSuffix(base, filepath.Ext(base))
	}
	status := models.AssetPending
	switch models.AssetStatus(f.Status) {
	case models.AssetProcessing, models.AssetReady, models.AssetError:
		status = models.AssetStatus(f.Status)
	}
	return models.Asset{
		ID:       id,
		Label:    label,
		Duration: f.Duration,
		FilePath: f.FilePath,
		Status:   status,
	}
}

// StartScheduledSync 按 cron 表达式同步所有项目；dispatch 为 nil 时在进程内同步
func (s *LibraryService) StartScheduledSync(spec string, dispatch func(projectID string) error) error {
	if dispatch == nil {
		dispatch = func(projectID string) error {
			_, err := s.Sync(context.Background(), projectID, "", 0)
			return err
		}
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ids, err := s.projects.ListProjects()
		if err != nil {
			s.logger.Error("scheduled sync: list projects failed", map[string]interface{}{"error": err.Error()})
			return
		}
		for _, id := range ids {
			if err := dispatch(id); err != nil {
				s.logger.Warn("scheduled sync failed", map[string]interface{}{
					"project_id": id,
					"error":      err.Error(),
				})
			}
		}
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("scheduled library sync enabled", map[string]interface{}{"schedule": spec})
	return nil
}

// Stop 停止定时同步并等待正在运行的任务
func (s *LibraryService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
