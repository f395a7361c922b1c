// Package transfer downloads single files with resume and bounded retries.
package transfer

import (
	"context"
	"io"
	"time"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/common/utils"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/progress"
	"github.com/xuecangming/drivefetch/internal/core/retry"
	"github.com/xuecangming/drivefetch/internal/core/session"
	"github.com/xuecangming/drivefetch/internal/infrastructure/storage"
)

// Sessions hands out authenticated sessions
type Sessions interface {
	Pop(ctx context.Context, force bool) (*session.Session, error)
	Push(s *session.Session)
	Discard(s *session.Session)
}

// Downloader opens remote content streams
type Downloader interface {
	OpenDownload(ctx context.Context, creds *types.Credentials, path string, offset int64) (*types.Download, error)
}

// Config holds the transfer budgets
type Config struct {
	ChunkSize        int
	MaxRetries       int // connection failures tolerated per file
	SizeRetries      int // short streams tolerated per file
	ProgressInterval time.Duration
	Retry            *retry.Config
}

// ConfigFrom builds the engine configuration from the transfer section
func ConfigFrom(tc types.TransferConfig) Config {
	return Config{
		ChunkSize:        tc.ChunkSize,
		MaxRetries:       tc.MaxRetries,
		SizeRetries:      tc.SizeRetries,
		ProgressInterval: time.Duration(tc.ProgressInterval) * time.Second,
		Retry:            retry.FromTypes(tc.Retry, tc.MaxRetries),
	}
}

// Request identifies one file to fetch
type Request struct {
	ItemID      string `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Destination string `json:"destination"`
	Size        int64  `json:"size"`
}

// Engine runs file transfers
type Engine struct {
	config   Config
	sessions Sessions
	remote   Downloader
	storage  *storage.LocalStorage
	logger   logger.Logger
}

// NewEngine creates a transfer engine
func NewEngine(config Config, sessions Sessions, remote Downloader, store *storage.LocalStorage, log logger.Logger) *Engine {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1 << 20
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultConfig()
	}
	return &Engine{
		config:   config,
		sessions: sessions,
		remote:   remote,
		storage:  store,
		logger:   logger.OrGlobal(log).With(logger.String("component", "transfer")),
	}
}

// Download fetches req.Path into req.Destination. It returns a successful
// result, a *errors.DownloadError once a retry budget is exhausted or a
// non-retryable failure occurs, or the context error when interrupted.
func (e *Engine) Download(ctx context.Context, req Request) (*types.TransferResult, error) {
	log := e.logger.With(logger.String("id", req.ItemID), logger.String("destination", req.Destination))
	result := &types.TransferResult{
		ItemID:      req.ItemID,
		Name:        req.Name,
		Destination: req.Destination,
		Size:        req.Size,
	}

	state, err := e.localState(req)
	if err != nil {
		return nil, apperrors.NewDownloadError(result, err)
	}
	if state.Mode == types.WriteAppend && state.Seek == state.Expected {
		log.Debug("Found complete local file, nothing to download")
		result.BytesCopied = state.Copied
		result.Success = true
		return result, nil
	}
	if state.Seek > 0 {
		log.Info("Continuing download", logger.Int64("seek", state.Seek))
	}

	log.Debug("Downloading file", logger.String("size", utils.FormatSize(req.Size)))
	start := time.Now()
	firstSeek := state.Seek

	var sess *session.Session
	defer func() {
		if sess != nil {
			e.sessions.Push(sess)
		}
	}()

	for {
		if sess == nil {
			sess, err = e.sessions.Pop(ctx, false)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				result.BytesCopied = state.Copied
				return nil, apperrors.NewDownloadError(result, err)
			}
		}

		err = e.stream(ctx, sess, req, state, log)
		result.BytesCopied = state.Copied
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var attempt int
		switch {
		case apperrors.Is(err, apperrors.ErrSizeMismatch):
			state.SizeRetries++
			if state.SizeRetries > e.config.SizeRetries {
				log.Error("Max size retries reached", logger.Error(err))
				return nil, apperrors.NewDownloadError(result, err)
			}
			attempt = state.SizeRetries
		case apperrors.Is(err, apperrors.ErrConnection):
			// the connection is suspect; never reuse it
			e.sessions.Discard(sess)
			sess = nil
			state.ConnRetries++
			if state.ConnRetries > e.config.MaxRetries {
				log.Error("Max retries reached", logger.Error(err))
				return nil, apperrors.NewDownloadError(result, err)
			}
			attempt = state.ConnRetries
		default:
			log.Error("Download failed", logger.Error(err))
			return nil, apperrors.NewDownloadError(result, err)
		}

		state.Seek = state.Copied
		state.Mode = types.WriteAppend
		if state.Expected > 0 && state.Copied >= state.Expected {
			break
		}

		log.Warn("Retrying download",
			logger.Int("attempt", attempt),
			logger.Int64("seek", state.Seek),
			logger.Error(err))
		if err := retry.Sleep(ctx, e.config.Retry.Delay(attempt-1)); err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	snap := progress.Compute(state.Copied-firstSeek, state.Copied, state.Expected, elapsed)
	log.Debug("Finished downloading file",
		logger.String("speed", utils.FormatSpeed(snap.Speed)),
		logger.Duration("elapsed", elapsed))

	result.Success = true
	result.Error = ""
	return result, nil
}

// localState inspects the local file and decides where streaming starts
func (e *Engine) localState(req Request) (*types.TransferState, error) {
	state := &types.TransferState{Expected: req.Size, Mode: types.WriteOverwrite}

	local, exists, err := e.storage.Size(req.Destination)
	if err != nil {
		return nil, err
	}
	switch {
	case !exists:
	case local > req.Size:
		// larger than the remote file; start over
	case local > 0 || req.Size == 0:
		state.Seek, state.Copied, state.Mode = local, local, types.WriteAppend
	}
	return state, nil
}

// stream runs one request through sess and writes what arrives. Bytes read
// together with a transport error are written before the error is returned.
func (e *Engine) stream(ctx context.Context, sess *session.Session, req Request, state *types.TransferState, log logger.Logger) error {
	return sess.Do(ctx, func(ctx context.Context, creds *types.Credentials) error {
		dl, err := e.remote.OpenDownload(ctx, creds, req.Path, state.Seek)
		if err != nil {
			return err
		}
		defer dl.Body.Close()

		if state.Seek > 0 && !dl.Partial {
			log.Warn("Server ignored range request, restarting from zero", logger.Int64("seek", state.Seek))
			state.Seek, state.Copied, state.Mode = 0, 0, types.WriteOverwrite
		}

		f, err := e.storage.Open(req.Destination, state.Mode)
		if err != nil {
			return apperrors.InternalError(err.Error()).WithCause(err)
		}
		defer f.Close()

		reporter := progress.NewReporter(progress.Options{
			Name:     req.Name,
			Total:    state.Expected,
			Initial:  state.Copied,
			Interval: e.config.ProgressInterval,
			Logger:   log,
		})
		reporter.Start()
		defer reporter.Stop()

		buf := make([]byte, e.config.ChunkSize)
		warned := false
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, rerr := dl.Body.Read(buf)
			if n > 0 {
				if _, werr := f.Write(buf[:n]); werr != nil {
					return apperrors.InternalError("failed to write local file").WithCause(werr)
				}
				state.Copied += int64(n)
				reporter.Add(int64(n))
				if state.Copied > state.Expected && !warned {
					warned = true
					log.Warn("Downloaded more than expected",
						logger.String("copied", utils.FormatSize(state.Copied)),
						logger.String("expected", utils.FormatSize(state.Expected)))
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return apperrors.ConnectionError("download stream interrupted", rerr)
			}
		}
		// later attempts continue this file
		state.Mode = types.WriteAppend

		if state.Copied < state.Expected {
			return apperrors.SizeMismatch(state.Expected, state.Copied).
				WithDetails("path", req.Path)
		}
		return nil
	})
}
