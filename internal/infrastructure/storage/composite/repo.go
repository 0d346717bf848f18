package composite

import (
	"context"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Repo 把一批机会分发给所有 sink；全部执行，返回第一个错误
type Repo struct {
	sinks []port.OpportunitySink
}

func New(sinks ...port.OpportunitySink) *Repo {
	// nil sinks are allowed; filter in constructor
	out := make([]port.OpportunitySink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Repo{sinks: out}
}

func (r *Repo) Len() int { return len(r.sinks) }

func (r *Repo) SaveOpportunities(ctx context.Context, batch []model.Opportunity) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SaveOpportunities(ctx, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.OpportunitySink = (*Repo)(nil)
