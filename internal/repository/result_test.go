package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

type resultStore interface {
	SaveItems(ctx context.Context, items []types.ItemRecord) (int, error)
	ListItems(ctx context.Context) ([]types.ItemRecord, error)
	SaveDownload(ctx context.Context, result *types.TransferResult) (int, error)
	GetDownload(ctx context.Context, id string) (*types.TransferResult, error)
	ListDownloads(ctx context.Context, failedOnly bool) ([]*types.TransferResult, error)
}

func resultStores(t *testing.T) map[string]resultStore {
	return map[string]resultStore{
		"memory": NewMemoryResultStore(),
		"sqlite": NewResultRepository(newTestDB(t)),
	}
}

func TestResultStoreSaveItemsSkipsExisting(t *testing.T) {
	for name, store := range resultStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			items := []types.ItemRecord{
				{ID: "b", Name: "b.txt", PathName: "/root/b.txt", Size: 10},
				{ID: "a", Name: "a", PathName: "/root/a", IsFolder: true},
			}

			n, err := store.SaveItems(ctx, items)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			items[0].Name = "renamed.txt"
			n, err = store.SaveItems(ctx, items)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			got, err := store.ListItems(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "/root/a", got[0].PathName)
			assert.True(t, got[0].IsFolder)
			assert.Equal(t, "b.txt", got[1].Name)
			assert.Equal(t, int64(10), got[1].Size)
		})
	}
}

func TestResultStoreSaveDownloadCountsAttempts(t *testing.T) {
	for name, store := range resultStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			attempts, err := store.SaveDownload(ctx, &types.TransferResult{
				ItemID: "f1", Name: "movie.mkv", Size: 100, BytesCopied: 40, Error: "reset",
			})
			require.NoError(t, err)
			assert.Equal(t, 1, attempts)

			attempts, err = store.SaveDownload(ctx, &types.TransferResult{
				ItemID: "f1", Name: "movie.mkv", Size: 100, BytesCopied: 100, Success: true,
			})
			require.NoError(t, err)
			assert.Equal(t, 2, attempts)

			got, err := store.GetDownload(ctx, "f1")
			require.NoError(t, err)
			assert.True(t, got.Success)
			assert.Equal(t, int64(100), got.BytesCopied)
			assert.Equal(t, 2, got.Attempts)
			assert.Empty(t, got.Error)

			_, err = store.GetDownload(ctx, "missing")
			assert.True(t, errors.Is(err, errors.ErrNotFound))
		})
	}
}

func TestResultStoreListFailedDownloads(t *testing.T) {
	for name, store := range resultStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.SaveDownload(ctx, &types.TransferResult{ItemID: "ok", Name: "a", Success: true})
			require.NoError(t, err)
			_, err = store.SaveDownload(ctx, &types.TransferResult{ItemID: "bad", Name: "b", Error: "boom"})
			require.NoError(t, err)

			all, err := store.ListDownloads(ctx, false)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			failed, err := store.ListDownloads(ctx, true)
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, "bad", failed[0].ItemID)
		})
	}
}
