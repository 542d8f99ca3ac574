// internal/services/match_service.go
package services

import (
	"context"
	"fmt"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// BlockMatchResult 单个分镜匹配并绑定后的结果
type BlockMatchResult struct {
	MatchOutcome
	Assignment *Assignment `json:"assignment"`
}

// MatchService 匹配分镜并把最佳候选写入项目
type MatchService struct {
	projects *ProjectService
	matcher  *AssetMatcher
	assigner *ClipAssigner
	logger   *utils.Logger
}

func NewMatchService(projects *ProjectService, matcher *AssetMatcher, assigner *ClipAssigner) *MatchService {
	if assigner == nil {
		assigner = NewClipAssigner()
	}
	return &MatchService{
		projects: projects,
		matcher:  matcher,
		assigner: assigner,
		logger:   utils.GetLogger(),
	}
}

// Matcher 底层匹配器
func (s *MatchService) Matcher() *AssetMatcher {
	return s.matcher
}

// MatchBlock 匹配一个分镜，保存候选并自动接受第一个
func (s *MatchService) MatchBlock(ctx context.Context, projectID, blockID string) (*BlockMatchResult, error) {
	project, err := s.projects.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	block, ok := project.FindBlock(blockID)
	if !ok {
		return nil, apperrors.NewNotFoundError("script block not found: "+blockID, nil)
	}

	outcome := s.matcher.Match(ctx, *block, project.Assets)
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeTimeout, "matching interrupted for block "+blockID, err)
	}
	assignment, err := s.bind(projectID, *block, outcome.Candidates)
	if err != nil {
		return nil, err
	}
	return &BlockMatchResult{MatchOutcome: outcome, Assignment: assignment}, nil
}

// bind 在项目锁内重新读取最新项目后绑定，避免覆盖并发写入
func (s *MatchService) bind(projectID string, block models.ScriptBlock, candidates []models.MatchResult) (*Assignment, error) {
	var assignment *Assignment
	_, err := s.projects.UpdateProject(projectID, func(p *models.Project) error {
		if _, ok := p.FindBlock(block.ID); !ok {
			return apperrors.NewConflictError(fmt.Sprintf("script block %s was removed during matching", block.ID), nil)
		}
		if p.Candidates == nil {
			p.Candidates = make(map[string][]models.MatchResult)
		}
		p.Candidates[block.ID] = candidates

		a, err := s.assigner.Assign(p, block, candidates)
		if err != nil {
			return apperrors.NewProcessingError("assign clip", err)
		}
		assignment = a
		return nil
	})
	return assignment, err
}
