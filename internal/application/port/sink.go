package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// OpportunitySink receives each ranked batch once per scan cycle.
type OpportunitySink interface {
	SaveOpportunities(ctx context.Context, batch []model.Opportunity) error
}

// Display 机会展示（控制台）
type Display interface {
	ShowOpportunities(batch []model.Opportunity)
}
