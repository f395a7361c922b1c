package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

// MemoryResultStore keeps results in process memory
type MemoryResultStore struct {
	items     map[string]types.ItemRecord
	downloads map[string]*types.TransferResult
	mu        sync.RWMutex
}

// NewMemoryResultStore creates a new in-memory result store
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		items:     make(map[string]types.ItemRecord),
		downloads: make(map[string]*types.TransferResult),
	}
}

// SaveItems inserts items that are not yet recorded
func (r *MemoryResultStore) SaveItems(ctx context.Context, items []types.ItemRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := 0
	for _, it := range items {
		if _, exists := r.items[it.ID]; exists {
			continue
		}
		r.items[it.ID] = it
		inserted++
	}
	return inserted, nil
}

// ListItems returns every recorded item ordered by path name
func (r *MemoryResultStore) ListItems(ctx context.Context) ([]types.ItemRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]types.ItemRecord, 0, len(r.items))
	for _, it := range r.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, k int) bool { return items[i].PathName < items[k].PathName })
	return items, nil
}

// SaveDownload upserts a download outcome and returns the stored attempt count
func (r *MemoryResultStore) SaveDownload(ctx context.Context, result *types.TransferResult) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *result
	c.UpdatedAt = time.Now().UTC()
	if existing, ok := r.downloads[result.ItemID]; ok {
		c.Attempts = existing.Attempts + 1
	} else {
		c.Attempts = 1
	}
	r.downloads[result.ItemID] = &c
	return c.Attempts, nil
}

// GetDownload retrieves the recorded outcome for an item
func (r *MemoryResultStore) GetDownload(ctx context.Context, id string) (*types.TransferResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.downloads[id]
	if !ok {
		return nil, errors.NotFoundError("download", id)
	}
	c := *result
	return &c, nil
}

// ListDownloads returns recorded outcomes, optionally only the failed ones
func (r *MemoryResultStore) ListDownloads(ctx context.Context, failedOnly bool) ([]*types.TransferResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*types.TransferResult, 0, len(r.downloads))
	for _, d := range r.downloads {
		if failedOnly && d.Success {
			continue
		}
		c := *d
		results = append(results, &c)
	}
	sort.Slice(results, func(i, k int) bool {
		if results[i].Name != results[k].Name {
			return results[i].Name < results[k].Name
		}
		return results[i].ItemID < results[k].ItemID
	})
	return results, nil
}
