// internal/services/project_service.go
package services

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/storage"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

const (
	projectsDir     = "projects"
	projectFileName = "project.json"
)

// ProjectService 项目文档的读写，所有修改在项目锁内完成
type ProjectService struct {
	storage *storage.FileStorage
	locks   *LockManager
	logger  *utils.Logger
}

func NewProjectService(fs *storage.FileStorage, locks *LockManager) *ProjectService {
	if locks == nil {
		locks = NewLockManager()
	}
	return &ProjectService{
		storage: fs,
		locks:   locks,
		logger:  utils.GetLogger(),
	}
}

// CreateProject 新建空项目
func (s *ProjectService) CreateProject(name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("project name is required", nil)
	}

	now := time.Now()
	project := &models.Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.locks.ExecuteWithProjectLock(project.ID, func() error {
		return s.save(project)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("project created", map[string]interface{}{
		"project_id": project.ID,
		"name":       name,
	})
	return project, nil
}

// GetProject 读取项目
func (s *ProjectService) GetProject(id string) (*models.Project, error) {
	var project *models.Project
	err := s.locks.ExecuteWithProjectReadLock(id, func() error {
		p, err := s.load(id)
		project = p
		return err
	})
	return project, err
}

// ListProjects 所有项目 ID
func (s *ProjectService) ListProjects() ([]string, error) {
	return s.storage.ListDirs(projectsDir)
}

// UpdateProject 在写锁内读取、修改并保存项目
func (s *ProjectService) UpdateProject(id string, fn func(p *models.Project) error) (*models.Project, error) {
	var project *models.Project
	err := s.locks.ExecuteWithProjectLock(id, func() error {
		p, err := s.load(id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now()
		project = p
		return s.save(p)
	})
	return project, err
}

// ReplaceScript 替换剧本；原有 Clip 和候选随之清空
func (s *ProjectService) ReplaceScript(id string, doc *models.ScriptDocument) (*models.Project, error) {
	return s.UpdateProject(id, func(p *models.Project) error {
		p.Scenes = doc.Scenes
		p.Clips = nil
		p.Candidates = nil
		return nil
	})
}

// CheckStatus 播放前检查：剧本存在、每个分镜都有 Clip、每个 Clip 指向可用素材
func (s *ProjectService) CheckStatus(id string) (*models.ProjectStatus, error) {
	project, err := s.GetProject(id)
	if err != nil {
		return nil, err
	}
	return ComputeStatus(project), nil
}

// ComputeStatus 计算项目完整性
func ComputeStatus(p *models.Project) *models.ProjectStatus {
	status := &models.ProjectStatus{
		MissingBlocks:     []string{},
		MissingShots:      []string{},
		PlaceholderBlocks: []string{},
		TotalDuration:     p.TimelineDuration(),
	}

	blocks := p.Blocks()
	status.HasScript = len(blocks) > 0

	for _, b := range blocks {
		clip, ok := p.ClipForBlock(b.ID)
		if !ok {
			status.MissingBlocks = append(status.MissingBlocks, b.ID)
			continue
		}
		asset, ok := p.FindAsset(clip.ShotID)
		switch {
		case !ok:
			status.MissingShots = append(status.MissingShots, clip.ShotID)
		case asset.IsPlaceholder():
			status.PlaceholderBlocks = append(status.PlaceholderBlocks, b.ID)
		}
	}

	status.AllBlocksHaveClips = status.HasScript && len(status.MissingBlocks) == 0
	status.AllClipsHaveShots = len(status.MissingShots) == 0 && len(status.PlaceholderBlocks) == 0
	status.ReadyToPlay = status.AllBlocksHaveClips && status.AllClipsHaveShots
	return status
}

func (s *ProjectService) load(id string) (*models.Project, error) {
	// ID 必须是 uuid，避免路径穿越
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("project not found: "+id, nil)
	}
	dir := filepath.Join(projectsDir, id)
	if !s.storage.FileExists(dir, projectFileName) {
		return nil, apperrors.NewNotFoundError("project not found: "+id, nil)
	}
	var project models.Project
	if err := s.storage.LoadJSONFile(dir, projectFileName, &project); err != nil {
		return nil, apperrors.NewProcessingError("load project "+id, err)
	}
	return &project, nil
}

func (s *ProjectService) save(p *models.Project) error {
	if err := s.storage.SaveJSONFile(filepath.Join(projectsDir, p.ID), projectFileName, p); err != nil {
		return apperrors.NewProcessingError("save project "+p.ID, err)
	}
	return nil
}
