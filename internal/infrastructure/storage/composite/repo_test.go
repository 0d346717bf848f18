package composite

import (
	"context"
	"errors"
	"testing"

	"fundarb/internal/domain/model"
)

type recordingSink struct {
	calls int
	err   error
}

func (s *recordingSink) SaveOpportunities(ctx context.Context, batch []model.Opportunity) error {
	s.calls++
	return s.err
}

func TestCompositeFansOut(t *testing.T) {
	failing := &recordingSink{err: errors.New("redis down")}
	ok1, ok2 := &recordingSink{}, &recordingSink{}
	r := New(ok1, failing, nil, ok2)
	if r.Len() != 3 {
		t.Fatalf("nil sinks should be filtered, got %d", r.Len())
	}

	err := r.SaveOpportunities(context.Background(), []model.Opportunity{{Symbol: "BTC/USDT"}})
	if err == nil || err.Error() != "redis down" {
		t.Errorf("expected first error, got %v", err)
	}
	if ok1.calls != 1 || failing.calls != 1 || ok2.calls != 1 {
		t.Errorf("every sink should run once: %d %d %d", ok1.calls, failing.calls, ok2.calls)
	}
}
