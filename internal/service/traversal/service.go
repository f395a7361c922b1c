// Package traversal walks remote folders to list them or queue their files
// for download.
package traversal

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/session"
	"github.com/xuecangming/drivefetch/internal/infrastructure/storage"
	"github.com/xuecangming/drivefetch/internal/service/transfer"
)

// Work references registered with the scheduler
const (
	FuncListFolder     = "list_folder"
	FuncDownloadFolder = "download_folder"
	FuncDownloadFile   = "download_file"
)

// Mode selects how subfolders are visited
type Mode int

const (
	// ModeSync recurses depth-first in the calling goroutine and aggregates results
	ModeSync Mode = iota
	// ModeJobs submits every subfolder as a new job
	ModeJobs
)

// Sessions hands out authenticated sessions
type Sessions interface {
	Pop(ctx context.Context, force bool) (*session.Session, error)
	Push(s *session.Session)
	Discard(s *session.Session)
}

// FolderFetcher lists one remote folder
type FolderFetcher interface {
	FetchFolder(ctx context.Context, creds *types.Credentials, path string, level int) (*types.Folder, error)
}

// JobScheduler accepts new jobs
type JobScheduler interface {
	AddJob(ctx context.Context, category types.Category, funcName string, args any, jobID string) (string, error)
}

// DownloadLedger answers what earlier runs recorded for a file
type DownloadLedger interface {
	GetDownload(ctx context.Context, id string) (*types.TransferResult, error)
}

// Transferer fetches a single file
type Transferer interface {
	Download(ctx context.Context, req transfer.Request) (*types.TransferResult, error)
}

// Config holds traversal settings
type Config struct {
	// MaxAttempts is the recorded attempt count after which a file is no longer tried, 0 disables the limit
	MaxAttempts int
}

// ListRequest describes one listing step
type ListRequest struct {
	Path     string `json:"path"`
	Level    int    `json:"level"`
	MaxDepth int    `json:"max_depth"`
	// Parent is the remote path of the containing folder
	Parent string `json:"parent,omitempty"`
	Mode   Mode   `json:"mode"`
}

// DownloadRequest describes one download step. Destination is the local
// directory mirroring the remote folder.
type DownloadRequest struct {
	Path        string `json:"path"`
	Level       int    `json:"level"`
	MaxDepth    int    `json:"max_depth"`
	Parent      string `json:"parent,omitempty"`
	Destination string `json:"destination"`
	MoveTo      string `json:"move_to,omitempty"`
	Mode        Mode   `json:"mode"`
}

// DownloadSummary counts what one download step did, including synchronous descendants
type DownloadSummary struct {
	Folders int `json:"folders"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// FileJob is the argument of a download_file job
type FileJob struct {
	transfer.Request
	MoveTo string `json:"move_to,omitempty"`
}

// Service walks remote folders
type Service struct {
	config   Config
	sessions Sessions
	fetcher  FolderFetcher
	jobs     JobScheduler
	ledger   DownloadLedger
	storage  *storage.LocalStorage
	logger   logger.Logger
}

// NewService creates a traversal service. ledger may be nil.
func NewService(config Config, sessions Sessions, fetcher FolderFetcher, jobs JobScheduler,
	ledger DownloadLedger, store *storage.LocalStorage, log logger.Logger) *Service {
	return &Service{
		config:   config,
		sessions: sessions,
		fetcher:  fetcher,
		jobs:     jobs,
		ledger:   ledger,
		storage:  store,
		logger:   logger.OrGlobal(log).With(logger.String("component", "traversal")),
	}
}

// List fetches the folder at req.Path. The result holds the folder followed by
// its children sorted by lowercase name; in ModeSync each subfolder within the
// depth bound is followed directly by its own descendants. In ModeJobs those
// subfolders are submitted as list jobs instead.
func (s *Service) List(ctx context.Context, req ListRequest) (*types.ListResult, error) {
	folder, err := s.fetch(ctx, req.Path, req.Level)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Listed folder",
		logger.String("path", folder.Path),
		logger.String("parent", req.Parent),
		logger.Int("children", len(folder.Children)))

	result := &types.ListResult{Items: []types.ItemRecord{types.NewItemRecord(folder)}}
	for _, child := range SortedChildren(folder) {
		result.Items = append(result.Items, types.NewItemRecord(child))

		sub, ok := child.(*types.Folder)
		if !ok || !descend(req.Level, req.MaxDepth) {
			continue
		}
		next := ListRequest{
			Path:     sub.Path,
			Level:    sub.Level,
			MaxDepth: req.MaxDepth,
			Parent:   folder.Path,
			Mode:     req.Mode,
		}
		if req.Mode == ModeJobs {
			if _, err := s.jobs.AddJob(ctx, types.CategoryList, FuncListFolder, next, "list:"+sub.Path); err != nil {
				return nil, err
			}
			continue
		}
		nested, err := s.List(ctx, next)
		if err != nil {
			return nil, err
		}
		// the first record is sub itself, already present
		result.Items = append(result.Items, nested.Items[1:]...)
	}
	return result, nil
}

// Download fetches the folder at req.Path, creates its local directory and
// queues a download job for every file not already done or given up on.
// Subfolders within the depth bound recurse per req.Mode.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*DownloadSummary, error) {
	folder, err := s.fetch(ctx, req.Path, req.Level)
	if err != nil {
		return nil, err
	}
	if err := s.storage.EnsureDir(req.Destination); err != nil {
		return nil, apperrors.InternalError(err.Error()).WithCause(err)
	}

	summary := &DownloadSummary{Folders: 1}
	for _, child := range SortedChildren(folder) {
		switch item := child.(type) {
		case *types.File:
			queued, err := s.queueFile(ctx, item, req)
			if err != nil {
				return nil, err
			}
			if queued {
				summary.Queued++
			} else {
				summary.Skipped++
			}

		case *types.Folder:
			if !descend(req.Level, req.MaxDepth) {
				continue
			}
			next := DownloadRequest{
				Path:        item.Path,
				Level:       item.Level,
				MaxDepth:    req.MaxDepth,
				Parent:      folder.Path,
				Destination: filepath.Join(req.Destination, LocalName(item)),
				Mode:        req.Mode,
			}
			if req.MoveTo != "" {
				next.MoveTo = filepath.Join(req.MoveTo, LocalName(item))
			}
			if req.Mode == ModeJobs {
				if _, err := s.jobs.AddJob(ctx, types.CategoryList, FuncDownloadFolder, next, "download_folder:"+item.Path); err != nil {
					return nil, err
				}
				continue
			}
			nested, err := s.Download(ctx, next)
			if err != nil {
				return nil, err
			}
			summary.Folders += nested.Folders
			summary.Queued += nested.Queued
			summary.Skipped += nested.Skipped
		}
	}
	return summary, nil
}

func (s *Service) queueFile(ctx context.Context, file *types.File, req DownloadRequest) (bool, error) {
	log := s.logger.With(logger.String("id", file.ID), logger.String("name", file.Name))

	if s.ledger != nil {
		recorded, err := s.ledger.GetDownload(ctx, file.ID)
		switch {
		case err == nil && recorded.Success:
			log.Debug("Already downloaded, skipping")
			return false, nil
		case err == nil && s.config.MaxAttempts > 0 && recorded.Attempts >= s.config.MaxAttempts:
			log.Warn("Max attempts reached, skipping",
				logger.Int("attempts", recorded.Attempts),
				logger.String("error", recorded.Error))
			return false, nil
		case err != nil && !apperrors.Is(err, apperrors.ErrNotFound):
			return false, err
		}
	}

	job := FileJob{
		Request: transfer.Request{
			ItemID:      file.ID,
			Name:        file.Name,
			Path:        file.Path,
			Destination: filepath.Join(req.Destination, LocalName(file)),
			Size:        file.Size,
		},
	}
	if req.MoveTo != "" {
		job.MoveTo = filepath.Join(req.MoveTo, LocalName(file))
	}
	if _, err := s.jobs.AddJob(ctx, types.CategoryDownload, FuncDownloadFile, job, "download:"+file.ID); err != nil {
		return false, err
	}
	return true, nil
}

// fetch lists one folder through a pooled session. A rejected session is
// retried once with fresh credentials.
func (s *Service) fetch(ctx context.Context, path string, level int) (*types.Folder, error) {
	folder, err := s.fetchOnce(ctx, path, level)
	if apperrors.IsSessionExpired(err) && ctx.Err() == nil {
		s.logger.Warn("Session rejected, reconnecting",
			logger.String("path", path),
			logger.Error(err))
		folder, err = s.fetchOnce(ctx, path, level)
	}
	return folder, err
}

func (s *Service) fetchOnce(ctx context.Context, path string, level int) (*types.Folder, error) {
	sess, err := s.sessions.Pop(ctx, false)
	if err != nil {
		return nil, err
	}

	var folder *types.Folder
	err = sess.Do(ctx, func(ctx context.Context, creds *types.Credentials) error {
		var err error
		folder, err = s.fetcher.FetchFolder(ctx, creds, path, level)
		return err
	})
	if apperrors.Is(err, apperrors.ErrConnection) {
		s.sessions.Discard(sess)
	} else {
		s.sessions.Push(sess)
	}
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// descend reports whether children of a folder at level are visited; maxDepth 0 is unbounded
func descend(level, maxDepth int) bool {
	return maxDepth <= 0 || level+1 < maxDepth
}

// SortedChildren returns the folder's children ordered by lowercase name
func SortedChildren(folder *types.Folder) []types.RemoteItem {
	items := make([]types.RemoteItem, 0, len(folder.Children))
	for _, it := range folder.Children {
		items = append(items, it)
	}
	sort.Slice(items, func(i, k int) bool {
		a, b := strings.ToLower(items[i].Meta().Name), strings.ToLower(items[k].Meta().Name)
		if a != b {
			return a < b
		}
		return items[i].Meta().ID < items[k].Meta().ID
	})
	return items
}

// LocalName returns a file system safe name for an item
func LocalName(item types.RemoteItem) string {
	m := item.Meta()
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, m.Name)
	if name == "" || name == "." || name == ".." {
		return m.ID
	}
	return name
}
