package recorder

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/chessduel/internal/domain"
)

// Memory keeps records in process. Used when no store is configured.
type Memory struct {
	mu    sync.RWMutex
	games map[string]*domain.GameRecord
	order []string
}

func NewMemory() *Memory {
	return &Memory{games: make(map[string]*domain.GameRecord)}
}

func (m *Memory) SaveGame(_ context.Context, rec *domain.GameRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	cp := *rec
	complete(&cp)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[cp.ID]; !exists {
		m.order = append(m.order, cp.ID)
	}
	m.games[cp.ID] = &cp
	return nil
}

func (m *Memory) RecentGames(_ context.Context, limit int) ([]*domain.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*domain.GameRecord, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		cp := *m.games[m.order[i]]
		items = append(items, &cp)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].EndedAt.After(items[j].EndedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) Close() error { return nil }
