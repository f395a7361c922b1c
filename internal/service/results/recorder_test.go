package results

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
	"github.com/xuecangming/drivefetch/internal/repository"
)

type fakeSource struct {
	success []scheduler.Listener
	failure []scheduler.Listener
}

func (f *fakeSource) OnSuccess(fn scheduler.Listener) { f.success = append(f.success, fn) }
func (f *fakeSource) OnFailure(fn scheduler.Listener) { f.failure = append(f.failure, fn) }

func newRecorder(t *testing.T) (*Recorder, *fakeSource) {
	t.Helper()
	r := NewRecorder(repository.NewMemoryResultStore(), logger.Nop())
	src := &fakeSource{}
	r.Listen(src)
	require.Len(t, src.success, 1)
	require.Len(t, src.failure, 1)
	return r, src
}

func TestRecorderSavesListResults(t *testing.T) {
	r, src := newRecorder(t)
	job := &types.Job{ID: "list:/"}

	batch := &types.ListResult{Items: []types.ItemRecord{
		{ID: "b", PathName: "/b"},
		{ID: "a", PathName: "/a"},
	}}
	src.success[0](scheduler.JobEvent{Job: job, Result: batch})
	// the same batch again, as after a rerun
	src.success[0](scheduler.JobEvent{Job: job, Result: batch})
	src.success[0](scheduler.JobEvent{Job: job, Result: &types.File{ItemMeta: types.ItemMeta{ID: "c", PathName: "/c"}}})

	items, err := r.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "/a", items[0].PathName)
	assert.Equal(t, "/c", items[2].PathName)
}

func TestRecorderCountsDownloadAttempts(t *testing.T) {
	r, src := newRecorder(t)
	job := &types.Job{ID: "download:f1"}

	partial := &types.TransferResult{ItemID: "f1", Name: "f1", Size: 10, BytesCopied: 4}
	src.failure[0](scheduler.JobEvent{Job: job, Err: apperrors.NewDownloadError(partial, errors.New("reset"))})

	got, err := r.GetDownload(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, int64(4), got.BytesCopied)
	assert.Equal(t, "reset", got.Error)
	assert.Equal(t, 1, got.Attempts)

	src.success[0](scheduler.JobEvent{Job: job, Result: &types.TransferResult{ItemID: "f1", Name: "f1", Size: 10, BytesCopied: 10, Success: true}})

	got, err = r.GetDownload(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, 2, got.Attempts)

	failed, err := r.Downloads(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRecorderIgnoresOtherFailures(t *testing.T) {
	r, src := newRecorder(t)
	src.failure[0](scheduler.JobEvent{Job: &types.Job{ID: "x"}, Err: errors.New("boom")})
	src.success[0](scheduler.JobEvent{Job: &types.Job{ID: "y"}, Result: nil})

	all, err := r.Downloads(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, all)
}
