package traversal

import (
	"context"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
	"github.com/xuecangming/drivefetch/internal/service/move"
)

// Register binds the traversal work functions. Files are fetched by engine;
// a successful download with a move destination is followed by a move job.
func (s *Service) Register(r scheduler.Registrar, engine Transferer) {
	r.Register(FuncListFolder, s.listWork)
	r.Register(FuncDownloadFolder, s.downloadFolderWork)
	r.Register(FuncDownloadFile, func(ctx context.Context, job *types.Job) (any, error) {
		return s.downloadFileWork(ctx, job, engine)
	})
}

func (s *Service) listWork(ctx context.Context, job *types.Job) (any, error) {
	var req ListRequest
	if err := job.DecodeArgs(&req); err != nil {
		return nil, apperrors.InvalidRequest("invalid list arguments").WithCause(err)
	}
	req.Mode = ModeJobs
	return s.List(ctx, req)
}

func (s *Service) downloadFolderWork(ctx context.Context, job *types.Job) (any, error) {
	var req DownloadRequest
	if err := job.DecodeArgs(&req); err != nil {
		return nil, apperrors.InvalidRequest("invalid download arguments").WithCause(err)
	}
	req.Mode = ModeJobs
	return s.Download(ctx, req)
}

func (s *Service) downloadFileWork(ctx context.Context, job *types.Job, engine Transferer) (any, error) {
	var args FileJob
	if err := job.DecodeArgs(&args); err != nil {
		return nil, apperrors.InvalidRequest("invalid download arguments").WithCause(err)
	}

	result, err := engine.Download(ctx, args.Request)
	if err != nil {
		return nil, err
	}

	if args.MoveTo != "" && result.Success {
		req := move.Request{ItemID: args.ItemID, Src: args.Destination, Dst: args.MoveTo}
		if _, err := s.jobs.AddJob(ctx, types.CategoryMove, move.FuncMoveFile, req, "move:"+args.ItemID); err != nil {
			s.logger.Error("Failed to queue move",
				logger.String("id", args.ItemID),
				logger.Error(err))
		}
	}
	return result, nil
}
