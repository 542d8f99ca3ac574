// internal/services/retrieval_cascade.go
package services

import (
	"context"

	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// RetrievalInput 一次分镜匹配的输入
type RetrievalInput struct {
	Block  models.ScriptBlock
	Query  string
	Assets []models.Asset
}

// RetrievalStrategy 级联中的一层；返回空结果或错误都会让级联继续
type RetrievalStrategy interface {
	Name() string
	Retrieve(ctx context.Context, in RetrievalInput) ([]models.MatchResult, error)
}

// StrategyFunc 以函数实现 RetrievalStrategy
type StrategyFunc struct {
	StrategyName string
	Fn           func(ctx context.Context, in RetrievalInput) ([]models.MatchResult, error)
}

func (s StrategyFunc) Name() string { return s.StrategyName }

func (s StrategyFunc) Retrieve(ctx context.Context, in RetrievalInput) ([]models.MatchResult, error) {
	return s.Fn(ctx, in)
}

// CascadeOutcome 级联结果；Strategy 为空表示所有层均无结果
type CascadeOutcome struct {
	Results  []models.MatchResult
	Strategy string
	Errors   map[string]error
}

// RunCascade 依次尝试各层，返回第一个非空结果
func RunCascade(ctx context.Context, strategies []RetrievalStrategy, in RetrievalInput) CascadeOutcome {
	logger := utils.GetLogger()
	outcome := CascadeOutcome{}

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			outcome.addError(s.Name(), err)
			break
		}

		results, err := s.Retrieve(ctx, in)
		if err != nil {
			outcome.addError(s.Name(), err)
			logger.Debug("retrieval tier failed", map[string]interface{}{
				"block_id": in.Block.ID,
				"strategy": s.Name(),
				"error":    err.Error(),
			})
			continue
		}
		if len(results) > 0 {
			outcome.Results = results
			outcome.Strategy = s.Name()
			return outcome
		}
	}
	return outcome
}

func (o *CascadeOutcome) addError(name string, err error) {
	if o.Errors == nil {
		o.Errors = make(map[string]error)
	}
	o.Errors[name] = err
}
