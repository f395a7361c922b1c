// Package move relocates downloaded files to their final destination.
package move

import (
	"context"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
	"github.com/xuecangming/drivefetch/internal/infrastructure/storage"
)

// FuncMoveFile is the work reference of move jobs
const FuncMoveFile = "move_file"

// Request is the argument of a move job
type Request struct {
	ItemID string `json:"id"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
}

// Service moves local files
type Service struct {
	storage *storage.LocalStorage
	logger  logger.Logger
}

// NewService creates a move service
func NewService(store *storage.LocalStorage, log logger.Logger) *Service {
	return &Service{
		storage: store,
		logger:  logger.OrGlobal(log).With(logger.String("component", "move")),
	}
}

// Move relocates req.Src to req.Dst. A missing source whose destination
// already exists counts as done, so a rerun job does not fail.
func (s *Service) Move(ctx context.Context, req Request) (*Request, error) {
	if req.Src == "" || req.Dst == "" {
		return nil, apperrors.InvalidRequest("move requires source and destination")
	}
	if !s.storage.Exists(req.Src) {
		if s.storage.Exists(req.Dst) {
			return &req, nil
		}
		return nil, apperrors.NotFoundError("file", req.Src)
	}

	if err := s.storage.Move(ctx, req.Src, req.Dst); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.InternalError("failed to move file").WithCause(err)
	}
	s.logger.Info("Moved file",
		logger.String("src", req.Src),
		logger.String("dst", req.Dst))
	return &req, nil
}

// Work adapts Move to a scheduler work function
func (s *Service) Work(ctx context.Context, job *types.Job) (any, error) {
	var req Request
	if err := job.DecodeArgs(&req); err != nil {
		return nil, apperrors.InvalidRequest("invalid move arguments").WithCause(err)
	}
	return s.Move(ctx, req)
}

// Register binds the move work function
func (s *Service) Register(r scheduler.Registrar) {
	r.Register(FuncMoveFile, s.Work)
}
