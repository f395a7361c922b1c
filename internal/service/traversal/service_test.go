package traversal

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/retry"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
	"github.com/xuecangming/drivefetch/internal/core/session"
	"github.com/xuecangming/drivefetch/internal/infrastructure/remote"
	"github.com/xuecangming/drivefetch/internal/infrastructure/remote/remotetest"
	"github.com/xuecangming/drivefetch/internal/infrastructure/storage"
	"github.com/xuecangming/drivefetch/internal/repository"
	"github.com/xuecangming/drivefetch/internal/service/move"
	"github.com/xuecangming/drivefetch/internal/service/results"
	"github.com/xuecangming/drivefetch/internal/service/transfer"
)

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

type addedJob struct {
	category types.Category
	fn       string
	args     any
	id       string
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []addedJob
}

func (f *fakeJobs) AddJob(ctx context.Context, category types.Category, funcName string, args any, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, addedJob{category: category, fn: funcName, args: args, id: jobID})
	return jobID, nil
}

type fakeLedger map[string]*types.TransferResult

func (l fakeLedger) GetDownload(ctx context.Context, id string) (*types.TransferResult, error) {
	if r, ok := l[id]; ok {
		return r, nil
	}
	return nil, apperrors.NotFoundError("download", id)
}

// newTree serves:
//
//	/            A.txt, b.txt, Docs/
//	/Docs        c.txt, Sub/
//	/Docs/Sub    deep.txt
func newTree(t *testing.T) *remotetest.Server {
	t.Helper()
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)

	docs := remotetest.Item{ID: "d1", ParentID: "root", Name: "Docs", Type: "folder", PathName: "/Docs"}
	sub := remotetest.Item{ID: "d2", ParentID: "d1", Name: "Sub", Type: "folder", PathName: "/Docs/Sub"}

	srv.AddFolder("/", &remotetest.Item{ID: "root", Type: "root", PathName: "/"},
		remotetest.Item{ID: "f1", Name: "b.txt", Type: "file", Size: 10},
		docs,
		remotetest.Item{ID: "f0", Name: "A.txt", Type: "file", Size: 3},
	)
	srv.AddFolder("/d1", &docs,
		sub,
		remotetest.Item{ID: "f2", Name: "c.txt", Type: "file", Size: 5},
	)
	srv.AddFolder("/d1/d2", &sub,
		remotetest.Item{ID: "f3", Name: "deep.txt", Type: "file", Size: 4},
	)

	srv.AddFile("/f0", []byte("abc"))
	srv.AddFile("/f1", []byte("0123456789"))
	srv.AddFile("/d1/f2", []byte("hello"))
	srv.AddFile("/d1/d2/f3", []byte("deep"))
	return srv
}

type fixture struct {
	srv     *remotetest.Server
	pool    *session.Pool
	client  *remote.Client
	storage *storage.LocalStorage
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := newTree(t)
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return &fixture{
		srv:     srv,
		pool:    session.NewPool(session.Config{MaxConnections: 4}, staticAuth{}, nil, logger.Nop()),
		client:  remote.NewClient(srv.RemoteConfig(), logger.Nop()),
		storage: store,
		dir:     dir,
	}
}

func (f *fixture) service(jobs JobScheduler, ledger DownloadLedger) *Service {
	return NewService(Config{MaxAttempts: 3}, f.pool, f.client, jobs, ledger, f.storage, logger.Nop())
}

func ids(items []types.ItemRecord) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestListSyncDepthFirst(t *testing.T) {
	f := newFixture(t)
	svc := f.service(&fakeJobs{}, nil)

	result, err := svc.List(context.Background(), ListRequest{Path: "/", MaxDepth: 0, Mode: ModeSync})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "f0", "f1", "d1", "f2", "d2", "f3"}, ids(result.Items))

	byID := map[string]types.ItemRecord{}
	for _, it := range result.Items {
		byID[it.ID] = it
	}
	assert.Equal(t, "/d1/d2/f3", byID["f3"].Path)
	assert.Equal(t, 3, byID["f3"].Level)
	assert.True(t, byID["d2"].IsFolder)
	assert.True(t, byID["root"].IsRoot)
}

func TestListRespectsMaxDepth(t *testing.T) {
	f := newFixture(t)
	svc := f.service(&fakeJobs{}, nil)

	result, err := svc.List(context.Background(), ListRequest{Path: "/", MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "f0", "f1", "d1"}, ids(result.Items))
	assert.Equal(t, 0, f.srv.Requests("/d1"))

	result, err = svc.List(context.Background(), ListRequest{Path: "/", MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "f0", "f1", "d1", "f2", "d2"}, ids(result.Items))
	assert.Equal(t, 0, f.srv.Requests("/d1/d2"))
}

func TestListJobsModeSubmitsSubfolders(t *testing.T) {
	f := newFixture(t)
	jobs := &fakeJobs{}
	svc := f.service(jobs, nil)

	result, err := svc.List(context.Background(), ListRequest{Path: "/", MaxDepth: 0, Mode: ModeJobs})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "f0", "f1", "d1"}, ids(result.Items))

	require.Len(t, jobs.jobs, 1)
	job := jobs.jobs[0]
	assert.Equal(t, types.CategoryList, job.category)
	assert.Equal(t, FuncListFolder, job.fn)
	assert.Equal(t, "list:/d1", job.id)
	assert.Equal(t, ListRequest{Path: "/d1", Level: 1, MaxDepth: 0, Parent: "/", Mode: ModeJobs}, job.args)
}

func TestListMissingFolder(t *testing.T) {
	f := newFixture(t)
	_, err := f.service(&fakeJobs{}, nil).List(context.Background(), ListRequest{Path: "/nope"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.Equal(t, 0, f.pool.Stats().Waiting)
	assert.Equal(t, 1, f.pool.Stats().Idle, "session is returned after an error")
}

func TestListReconnectsRejectedSession(t *testing.T) {
	f := newFixture(t)
	auth := &rotatingAuth{values: []string{"stale", "good"}}
	f.pool = session.NewPool(session.Config{MaxConnections: 4}, auth, nil, logger.Nop())
	f.srv.RequireCookie("sid", "good")

	result, err := f.service(&fakeJobs{}, nil).List(context.Background(), ListRequest{Path: "/", MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "f0", "f1", "d1"}, ids(result.Items))
	assert.Equal(t, 2, f.srv.Requests("/"))
	assert.Equal(t, 2, auth.calls)
}

func TestListThroughRetryingClientReconnects(t *testing.T) {
	f := newFixture(t)
	auth := &rotatingAuth{values: []string{"stale", "good"}}
	pool := session.NewPool(session.Config{MaxConnections: 4}, auth, nil, logger.Nop())
	f.srv.RequireCookie("sid", "good")
	// the rejected request also uses up one failure
	f.srv.FailNext("/", 2)

	metadata := remote.NewClientWithRetry(f.client, &retry.Config{MaxAttempts: 3, Multiplier: 1}, logger.Nop())
	svc := NewService(Config{MaxAttempts: 3}, pool, metadata, &fakeJobs{}, nil, f.storage, logger.Nop())

	result, err := svc.List(context.Background(), ListRequest{Path: "/", MaxDepth: 1})
	require.NoError(t, err)
	assert.Len(t, result.Items, 4)
	// 401 is not retried by the client; the refreshed session gets a 503, then the listing
	assert.Equal(t, 3, f.srv.Requests("/"))
	assert.Equal(t, 2, auth.calls)
}

func TestListRejectedTwiceIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.srv.RequireCookie("sid", "good")

	_, err := f.service(&fakeJobs{}, nil).List(context.Background(), ListRequest{Path: "/", MaxDepth: 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsSessionExpired(err))
	assert.True(t, apperrors.IsRetryable(err), "the list job is requeued")
	assert.Equal(t, 2, f.srv.Requests("/"))
}

func TestDownloadQueuesFilesAndSkipsRecorded(t *testing.T) {
	f := newFixture(t)
	jobs := &fakeJobs{}
	ledger := fakeLedger{
		"f0": {ItemID: "f0", Success: true, Attempts: 1},
		"f2": {ItemID: "f2", Success: false, Attempts: 3, Error: "reset"},
		"f3": {ItemID: "f3", Success: false, Attempts: 1},
	}
	svc := f.service(jobs, ledger)
	dest := filepath.Join(f.dir, "dl")

	summary, err := svc.Download(context.Background(), DownloadRequest{Path: "/", Destination: dest, MaxDepth: 0})
	require.NoError(t, err)
	assert.Equal(t, &DownloadSummary{Folders: 3, Queued: 2, Skipped: 2}, summary)

	assert.DirExists(t, filepath.Join(dest, "Docs", "Sub"))

	var queued []string
	for _, j := range jobs.jobs {
		assert.Equal(t, types.CategoryDownload, j.category)
		queued = append(queued, j.id)
	}
	assert.Equal(t, []string{"download:f1", "download:f3"}, queued)

	deep := jobs.jobs[1].args.(FileJob)
	assert.Equal(t, filepath.Join(dest, "Docs", "Sub", "deep.txt"), deep.Destination)
	assert.Equal(t, "/d1/d2/f3", deep.Path)
	assert.Equal(t, int64(4), deep.Size)
	assert.Zero(t, f.srv.Requests("/f0"), "no download request for recorded files")
}

func TestDownloadToleratesExistingDirectory(t *testing.T) {
	f := newFixture(t)
	dest := filepath.Join(f.dir, "dl")
	require.NoError(t, os.MkdirAll(dest, 0755))

	_, err := f.service(&fakeJobs{}, nil).Download(context.Background(), DownloadRequest{Path: "/", Destination: dest, MaxDepth: 1})
	require.NoError(t, err)
}

func TestDownloadJobsModeSubmitsFolderContinuations(t *testing.T) {
	f := newFixture(t)
	jobs := &fakeJobs{}
	dest := filepath.Join(f.dir, "dl")

	_, err := f.service(jobs, nil).Download(context.Background(), DownloadRequest{
		Path: "/", Destination: dest, MoveTo: filepath.Join(f.dir, "final"), Mode: ModeJobs,
	})
	require.NoError(t, err)

	var folderJobs []addedJob
	for _, j := range jobs.jobs {
		if j.fn == FuncDownloadFolder {
			folderJobs = append(folderJobs, j)
		}
	}
	require.Len(t, folderJobs, 1)
	next := folderJobs[0].args.(DownloadRequest)
	assert.Equal(t, types.CategoryList, folderJobs[0].category)
	assert.Equal(t, filepath.Join(dest, "Docs"), next.Destination)
	assert.Equal(t, filepath.Join(f.dir, "final", "Docs"), next.MoveTo)
	assert.Equal(t, 1, next.Level)
}

func TestSortedChildrenCaseInsensitive(t *testing.T) {
	folder := &types.Folder{Children: map[string]types.RemoteItem{
		"1": &types.File{ItemMeta: types.ItemMeta{ID: "1", Name: "beta"}},
		"2": &types.File{ItemMeta: types.ItemMeta{ID: "2", Name: "Alpha"}},
		"3": &types.Folder{ItemMeta: types.ItemMeta{ID: "3", Name: "alpha"}},
	}}
	var got []string
	for _, it := range SortedChildren(folder) {
		got = append(got, it.Meta().ID)
	}
	assert.Equal(t, []string{"2", "3", "1"}, got)
}

func TestLocalName(t *testing.T) {
	assert.Equal(t, "a_b", LocalName(&types.File{ItemMeta: types.ItemMeta{ID: "x", Name: "a/b"}}))
	assert.Equal(t, "x", LocalName(&types.File{ItemMeta: types.ItemMeta{ID: "x", Name: ".."}}))
}

func TestDownloadEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stores := map[types.Category]scheduler.JobStore{
		types.CategoryList:     repository.NewMemoryJobStore(types.CategoryList),
		types.CategoryDownload: repository.NewMemoryJobStore(types.CategoryDownload),
		types.CategoryMove:     repository.NewMemoryJobStore(types.CategoryMove),
	}
	sched, err := scheduler.New(scheduler.Config{
		Workers:    map[types.Category]int{types.CategoryList: 2, types.CategoryDownload: 2, types.CategoryMove: 1},
		MaxRetries: 1,
		MaxWait:    50 * time.Millisecond,
		Retry:      &retry.Config{Multiplier: 1},
	}, stores, logger.Nop())
	require.NoError(t, err)
	defer sched.Shutdown(true)

	recorder := results.NewRecorder(repository.NewMemoryResultStore(), logger.Nop())
	recorder.Listen(sched)

	svc := f.service(sched, recorder)
	engine := transfer.NewEngine(transfer.Config{ChunkSize: 3, MaxRetries: 1, SizeRetries: 1, Retry: &retry.Config{Multiplier: 1}},
		f.pool, f.client, f.storage, logger.Nop())
	svc.Register(sched, engine)
	move.NewService(f.storage, logger.Nop()).Register(sched)

	require.NoError(t, sched.Start(ctx))

	dest := filepath.Join(f.dir, "dl")
	final := filepath.Join(f.dir, "final")
	run := func() {
		_, err := sched.AddJob(ctx, types.CategoryList, FuncDownloadFolder,
			DownloadRequest{Path: "/", Destination: dest, MoveTo: final}, "")
		require.NoError(t, err)
		require.NoError(t, sched.Wait(ctx))
	}
	run()

	for path, want := range map[string]string{
		"A.txt":             "abc",
		"b.txt":             "0123456789",
		"Docs/c.txt":        "hello",
		"Docs/Sub/deep.txt": "deep",
	} {
		data, err := os.ReadFile(filepath.Join(final, filepath.FromSlash(path)))
		require.NoError(t, err, path)
		assert.Equal(t, want, string(data), path)
		assert.NoFileExists(t, filepath.Join(dest, filepath.FromSlash(path)))
	}

	downloads, err := recorder.Downloads(ctx, false)
	require.NoError(t, err)
	assert.Len(t, downloads, 4)
	for _, d := range downloads {
		assert.True(t, d.Success, d.ItemID)
	}

	before := f.srv.Requests("/f1")
	run()
	assert.Equal(t, before, f.srv.Requests("/f1"), "recorded downloads are not fetched again")
}
