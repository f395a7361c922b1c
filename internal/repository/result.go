package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/infrastructure/database"
)

// ResultRepository stores listed items and download outcomes
type ResultRepository struct {
	db *database.DB
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *database.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveItems inserts items that are not yet recorded and returns how many were new
func (r *ResultRepository) SaveItems(ctx context.Context, items []types.ItemRecord) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	query := r.db.Dialect.Rebind(`
		INSERT INTO items (
			id, parent_id, name, path, path_name, level, version,
			is_folder, is_root, size, extension, mime,
			nonce, blid, digest, payload, created, modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			it.ID, it.ParentID, it.Name, it.Path, it.PathName, it.Level, it.Version,
			boolToInt(it.IsFolder), boolToInt(it.IsRoot), it.Size, it.Extension, it.Mime,
			it.Nonce, it.Blid, it.Digest, it.Payload,
			it.Created.UnixMilli(), it.Modified.UnixMilli(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to save item %s: %w", it.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListItems returns every recorded item ordered by path name
func (r *ResultRepository) ListItems(ctx context.Context) ([]types.ItemRecord, error) {
	query := `
		SELECT id, parent_id, name, path, path_name, level, version,
		       is_folder, is_root, size, extension, mime,
		       nonce, blid, digest, payload, created, modified
		FROM items
		ORDER BY path_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]types.ItemRecord, 0)
	for rows.Next() {
		var it types.ItemRecord
		var isFolder, isRoot int
		var created, modified int64
		err := rows.Scan(
			&it.ID, &it.ParentID, &it.Name, &it.Path, &it.PathName, &it.Level, &it.Version,
			&isFolder, &isRoot, &it.Size, &it.Extension, &it.Mime,
			&it.Nonce, &it.Blid, &it.Digest, &it.Payload, &created, &modified,
		)
		if err != nil {
			return nil, err
		}
		it.IsFolder = isFolder != 0
		it.IsRoot = isRoot != 0
		it.Created = time.UnixMilli(created).UTC()
		it.Modified = time.UnixMilli(modified).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

// SaveDownload upserts a download outcome. A new record starts at one attempt;
// an existing one is overwritten and its attempt count incremented. The stored
// attempt count is returned.
func (r *ResultRepository) SaveDownload(ctx context.Context, result *types.TransferResult) (int, error) {
	upsert := r.db.Dialect.Rebind(`
		INSERT INTO downloads (id, name, size, size_downloaded, destination, attempts, error, success, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			size = excluded.size,
			size_downloaded = excluded.size_downloaded,
			destination = excluded.destination,
			attempts = downloads.attempts + 1,
			error = excluded.error,
			success = excluded.success,
			updated_at = excluded.updated_at
	`)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, upsert,
		result.ItemID, result.Name, result.Size, result.BytesCopied, result.Destination,
		result.Error, boolToInt(result.Success), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save download %s: %w", result.ItemID, err)
	}

	var attempts int
	err = tx.QueryRowContext(ctx, r.db.Dialect.Rebind(`SELECT attempts FROM downloads WHERE id = ?`), result.ItemID).Scan(&attempts)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return attempts, nil
}

// GetDownload retrieves the recorded outcome for an item
func (r *ResultRepository) GetDownload(ctx context.Context, id string) (*types.TransferResult, error) {
	query := r.db.Dialect.Rebind(`
		SELECT id, name, size, size_downloaded, destination, attempts, error, success, updated_at
		FROM downloads
		WHERE id = ?
	`)

	result, err := scanDownload(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("download", id)
	}
	return result, err
}

// ListDownloads returns recorded outcomes, optionally only the failed ones
func (r *ResultRepository) ListDownloads(ctx context.Context, failedOnly bool) ([]*types.TransferResult, error) {
	query := `
		SELECT id, name, size, size_downloaded, destination, attempts, error, success, updated_at
		FROM downloads
	`
	if failedOnly {
		query += ` WHERE success = 0`
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*types.TransferResult, 0)
	for rows.Next() {
		result, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanDownload(row rowScanner) (*types.TransferResult, error) {
	result := &types.TransferResult{}
	var success int
	var updated int64
	err := row.Scan(
		&result.ItemID, &result.Name, &result.Size, &result.BytesCopied, &result.Destination,
		&result.Attempts, &result.Error, &success, &updated,
	)
	if err != nil {
		return nil, err
	}
	result.Success = success != 0
	result.UpdatedAt = time.UnixMilli(updated).UTC()
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
