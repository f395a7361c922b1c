package transfer

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/retry"
	"github.com/xuecangming/drivefetch/internal/core/session"
	"github.com/xuecangming/drivefetch/internal/infrastructure/remote"
	"github.com/xuecangming/drivefetch/internal/infrastructure/remote/remotetest"
	"github.com/xuecangming/drivefetch/internal/infrastructure/storage"
)

const content = "0123456789"

type staticAuth struct{}

func (staticAuth) Authenticate(ctx context.Context) (*types.Credentials, error) {
	return &types.Credentials{}, nil
}

func (staticAuth) Invalidate() error { return nil }

// rotatingAuth hands out the values in order and repeats the last one
type rotatingAuth struct {
	mu     sync.Mutex
	values []string
	calls  int
}

func (a *rotatingAuth) Authenticate(ctx context.Context) (*types.Credentials, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.values[min(a.calls, len(a.values)-1)]
	a.calls++
	return &types.Credentials{Cookies: []*http.Cookie{{Name: "sid", Value: v}}}, nil
}

func (a *rotatingAuth) Invalidate() error { return nil }

func (a *rotatingAuth) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fixture struct {
	engine *Engine
	srv    *remotetest.Server
	pool   *session.Pool
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithAuth(t, staticAuth{})
}

func newFixtureWithAuth(t *testing.T, auth session.Authenticator) *fixture {
	t.Helper()
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddFile("/f1", []byte(content))

	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	pool := session.NewPool(session.Config{MaxConnections: 2}, auth, nil, logger.Nop())
	client := remote.NewClient(srv.RemoteConfig(), logger.Nop())
	engine := NewEngine(Config{
		ChunkSize:   4,
		MaxRetries:  2,
		SizeRetries: 2,
		Retry:       &retry.Config{Multiplier: 1},
	}, pool, client, store, logger.Nop())

	return &fixture{engine: engine, srv: srv, pool: pool, dir: dir}
}

func (f *fixture) request() Request {
	return Request{
		ItemID:      "f1",
		Name:        "f1.txt",
		Path:        "/f1",
		Destination: filepath.Join(f.dir, "f1.txt"),
		Size:        int64(len(content)),
	}
}

func (f *fixture) local(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.request().Destination)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) seed(t *testing.T, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.request().Destination, []byte(data), 0644))
}

func TestDownloadFresh(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(10), result.BytesCopied)
	assert.Equal(t, content, f.local(t))
	assert.Equal(t, []int64{0}, f.srv.Ranges("/f1"))
	assert.Equal(t, 1, f.pool.Stats().Idle, "session is returned to the pool")
}

func TestDownloadSkipsCompleteLocalFile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, content)

	result, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, f.srv.Requests("/f1"))
	assert.Equal(t, int64(0), f.pool.Stats().Created)
}

func TestDownloadResumesPartialFile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "0123")

	_, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, content, f.local(t))
	assert.Equal(t, []int64{4}, f.srv.Ranges("/f1"))
}

func TestDownloadOverwritesOversizedFile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "this file is far too large")

	_, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, content, f.local(t))
	assert.Equal(t, []int64{0}, f.srv.Ranges("/f1"))
}

func TestDownloadRestartsWhenRangeIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "0123")
	f.srv.IgnoreRange("/f1")

	result, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, content, f.local(t))
	assert.Equal(t, int64(10), result.BytesCopied)
}

func TestDownloadRetriesConnectionFailureWithNewSession(t *testing.T) {
	f := newFixture(t)
	f.srv.TruncateNext("/f1", 1)

	result, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, content, f.local(t))
	assert.Equal(t, []int64{0, 5}, f.srv.Ranges("/f1"), "resumes after the bytes delivered before the failure")
	assert.Equal(t, int64(2), f.pool.Stats().Created, "the failed session is discarded")
}

func TestDownloadRetriesSizeMismatchOnSameSession(t *testing.T) {
	f := newFixture(t)
	f.srv.ShortNext("/f1", 1)

	_, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, content, f.local(t))
	assert.Equal(t, []int64{0, 5}, f.srv.Ranges("/f1"))
	assert.Equal(t, int64(1), f.pool.Stats().Created)
}

func TestDownloadReauthenticatesRejectedSession(t *testing.T) {
	auth := &rotatingAuth{values: []string{"stale", "good"}}
	f := newFixtureWithAuth(t, auth)
	f.srv.RequireCookie("sid", "good")

	result, err := f.engine.Download(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, content, f.local(t))
	assert.Equal(t, 2, f.srv.Requests("/f1"))
	assert.Equal(t, 2, auth.Calls())
	assert.Equal(t, int64(2), f.pool.Stats().Created, "the rejected session is discarded")
}

func TestDownloadExhaustsConnectionBudget(t *testing.T) {
	f := newFixture(t)
	f.srv.TruncateNext("/f1", 10)

	result, err := f.engine.Download(context.Background(), f.request())
	assert.Nil(t, result)

	var dlErr *apperrors.DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.False(t, dlErr.Result.Success)
	assert.Equal(t, "f1", dlErr.Result.ItemID)
	assert.NotEmpty(t, dlErr.Result.Error)
	assert.True(t, apperrors.Is(err, apperrors.ErrConnection))
	// the first attempt plus MaxRetries, each resuming where the last one broke off
	assert.Equal(t, 3, f.srv.Requests("/f1"))
	assert.Equal(t, []int64{0, 5, 7}, f.srv.Ranges("/f1"))
	assert.Equal(t, int64(8), dlErr.Result.BytesCopied)
}

func TestDownloadExhaustsSizeBudget(t *testing.T) {
	f := newFixture(t)
	f.srv.AddFile("/f1", []byte("0123456789abcdef"))
	f.srv.ShortNext("/f1", 10)

	req := f.request()
	req.Size = 16
	_, err := f.engine.Download(context.Background(), req)

	var dlErr *apperrors.DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.True(t, apperrors.Is(err, apperrors.ErrSizeMismatch))
	assert.Equal(t, 3, f.srv.Requests("/f1"))
	assert.Greater(t, dlErr.Result.BytesCopied, int64(0))
}

func TestDownloadOverrunIsNotAnError(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Size = 6

	result, err := f.engine.Download(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(10), result.BytesCopied)
}

func TestDownloadNotFoundIsTerminal(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Path = "/missing"

	_, err := f.engine.Download(context.Background(), req)
	assert.True(t, apperrors.Is(err, apperrors.ErrDownload))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, 1, f.srv.Requests("/missing"))
}

func TestDownloadStopsWhenCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Download(ctx, f.request())
	assert.ErrorIs(t, err, context.Canceled)
}
