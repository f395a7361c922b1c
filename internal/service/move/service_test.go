package move

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
	"github.com/xuecangming/drivefetch/internal/infrastructure/storage"
)

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return NewService(store, logger.Nop()), dir
}

func TestMoveRelocatesFile(t *testing.T) {
	svc, dir := newService(t)
	src := filepath.Join(dir, "dl", "a.txt")
	dst := filepath.Join(dir, "final", "nested", "a.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	got, err := svc.Move(context.Background(), Request{ItemID: "f1", Src: src, Dst: dst})
	require.NoError(t, err)
	assert.Equal(t, dst, got.Dst)

	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMoveAlreadyDone(t *testing.T) {
	svc, dir := newService(t)
	dst := filepath.Join(dir, "final.txt")
	require.NoError(t, os.WriteFile(dst, []byte("x"), 0o644))

	_, err := svc.Move(context.Background(), Request{Src: filepath.Join(dir, "gone.txt"), Dst: dst})
	assert.NoError(t, err)
}

func TestMoveErrors(t *testing.T) {
	svc, dir := newService(t)

	_, err := svc.Move(context.Background(), Request{Src: filepath.Join(dir, "a")})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRequest))

	_, err = svc.Move(context.Background(), Request{Src: filepath.Join(dir, "a"), Dst: filepath.Join(dir, "b")})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

type registry map[string]scheduler.WorkFunc

func (r registry) Register(name string, fn scheduler.WorkFunc) { r[name] = fn }

func TestWorkDecodesJobArguments(t *testing.T) {
	svc, dir := newService(t)
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "moved", "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))

	reg := registry{}
	svc.Register(reg)
	require.Contains(t, reg, FuncMoveFile)

	args, err := json.Marshal(Request{ItemID: "f1", Src: src, Dst: dst})
	require.NoError(t, err)
	result, err := reg[FuncMoveFile](context.Background(), &types.Job{ID: "move:f1", Args: args})
	require.NoError(t, err)
	assert.Equal(t, "f1", result.(*Request).ItemID)
	assert.FileExists(t, dst)

	_, err = svc.Work(context.Background(), &types.Job{Args: json.RawMessage(`{"src":1}`)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRequest))
}
