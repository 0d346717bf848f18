package jsonl

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Writer 机会日志：每个机会一行 JSON，只追加
type Writer struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Writer{path: path}, nil
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) SaveOpportunities(ctx context.Context, batch []model.Opportunity) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, o := range batch {
		if err := enc.Encode(o.LogEntry()); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

var _ port.OpportunitySink = (*Writer)(nil)
