// Package results records job outcomes in the result store.
package results

import (
	"context"
	stderrors "errors"
	"time"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
)

const saveTimeout = 30 * time.Second

// Store persists listed items and download outcomes
type Store interface {
	SaveItems(ctx context.Context, items []types.ItemRecord) (int, error)
	ListItems(ctx context.Context) ([]types.ItemRecord, error)
	SaveDownload(ctx context.Context, result *types.TransferResult) (int, error)
	GetDownload(ctx context.Context, id string) (*types.TransferResult, error)
	ListDownloads(ctx context.Context, failedOnly bool) ([]*types.TransferResult, error)
}

// Source emits job events
type Source interface {
	OnSuccess(fn scheduler.Listener)
	OnFailure(fn scheduler.Listener)
}

// Recorder saves job results. Saving is idempotent for items; each saved
// download outcome counts one attempt.
type Recorder struct {
	store  Store
	logger logger.Logger
}

// NewRecorder creates a result recorder
func NewRecorder(store Store, log logger.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.OrGlobal(log).With(logger.String("component", "results")),
	}
}

// Listen subscribes the recorder to job events
func (r *Recorder) Listen(src Source) {
	src.OnSuccess(r.RecordSuccess)
	src.OnFailure(r.RecordFailure)
}

// RecordSuccess stores the result of a successful job
func (r *Recorder) RecordSuccess(event scheduler.JobEvent) {
	if event.Result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	switch v := event.Result.(type) {
	case *types.ListResult:
		r.saveItems(ctx, v.Items)
	case types.RemoteItem:
		r.saveItems(ctx, []types.ItemRecord{types.NewItemRecord(v)})
	case *types.TransferResult:
		r.saveDownload(ctx, v)
	}
}

// RecordFailure stores the partial progress of a failed download
func (r *Recorder) RecordFailure(event scheduler.JobEvent) {
	r.logger.Debug("Received failed job",
		logger.String("job_id", event.Job.ID),
		logger.Error(event.Err))

	var dlErr *apperrors.DownloadError
	if !stderrors.As(event.Err, &dlErr) || dlErr.Result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	r.saveDownload(ctx, dlErr.Result)
}

// GetDownload returns the recorded outcome for an item
func (r *Recorder) GetDownload(ctx context.Context, id string) (*types.TransferResult, error) {
	return r.store.GetDownload(ctx, id)
}

// Items returns every recorded item ordered by path name
func (r *Recorder) Items(ctx context.Context) ([]types.ItemRecord, error) {
	return r.store.ListItems(ctx)
}

// Downloads returns recorded download outcomes
func (r *Recorder) Downloads(ctx context.Context, failedOnly bool) ([]*types.TransferResult, error) {
	return r.store.ListDownloads(ctx, failedOnly)
}

func (r *Recorder) saveItems(ctx context.Context, items []types.ItemRecord) {
	n, err := r.store.SaveItems(ctx, items)
	if err != nil {
		r.logger.Error("Error committing results to list store", logger.Error(err))
		return
	}
	r.logger.Debug("Saved list results",
		logger.Int("received", len(items)),
		logger.Int("new", n))
}

func (r *Recorder) saveDownload(ctx context.Context, result *types.TransferResult) {
	attempts, err := r.store.SaveDownload(ctx, result)
	if err != nil {
		r.logger.Error("Error committing results to download store",
			logger.String("id", result.ItemID),
			logger.Error(err))
		return
	}
	r.logger.Debug("Saved download result",
		logger.String("id", result.ItemID),
		logger.Bool("success", result.Success),
		logger.Int("attempts", attempts))
}
