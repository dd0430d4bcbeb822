package project

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClaraKoka/cocalc/pkg/quota"
	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
)

// fakeBackend simulates a sandbox in memory. BringUp flips the sandbox to
// running after an optional delay, so readiness polling is exercised for
// real.
type fakeBackend struct {
	mu         sync.Mutex
	running    bool
	readyAt    time.Time
	startDelay time.Duration
	bringUps   int
	tearDowns  int
	signals    []int
	bringUpErr error
}

func (f *fakeBackend) BringUp(ctx context.Context, rec *types.ProjectRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bringUps++
	if f.bringUpErr != nil {
		return f.bringUpErr
	}
	f.running = true
	f.readyAt = time.Now().Add(f.startDelay)
	return nil
}

func (f *fakeBackend) TearDown(ctx context.Context, rec *types.ProjectRecord, signal int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tearDowns++
	f.signals = append(f.signals, signal)
	if signal == int(syscall.SIGTERM) || signal == int(syscall.SIGKILL) {
		f.running = false
	}
	return nil
}

func (f *fakeBackend) Probe(ctx context.Context, projectId string) (*ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running || time.Now().Before(f.readyAt) {
		return &ProbeResult{Running: f.running && !time.Now().Before(f.readyAt)}, nil
	}
	return &ProbeResult{
		Running:     true,
		PID:         4242,
		Port:        34567,
		SecretToken: "0123456789abcdef0123456789abcdef",
		StartedAt:   f.readyAt,
	}, nil
}

func (f *fakeBackend) CopyPath(ctx context.Context, projectId string, opts types.CopyOptions) (string, error) {
	return "", nil
}

func (f *fakeBackend) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bringUps, f.tearDowns
}

func newControllerForTest(t *testing.T, backend Backend) (*Controller, repository.ProjectRepository) {
	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	repo := repository.NewProjectRedisRepositoryForTest(rdb)

	ctrl := NewController(ControllerConfig{
		ProjectId: "proj-test",
		Repo:      repo,
		Backend:   backend,
		Host:      "hub-1",
	})
	return ctrl, repo
}

func TestStartBringsProjectUp(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, repo := newControllerForTest(t, backend)
	ctx := context.Background()

	err := ctrl.Start(ctx)
	assert.NoError(t, err)

	bringUps, _ := backend.counts()
	assert.Equal(t, 1, bringUps)

	rec, err := repo.GetProject(ctx, "proj-test")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStateRunning, rec.State)
	assert.NotEmpty(t, rec.SecretToken)

	state, err := ctrl.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, types.ProjectStateRunning, state)
}

func TestStartAlreadyRunningDoesNotLaunchAgain(t *testing.T) {
	backend := &fakeBackend{running: true}
	ctrl, repo := newControllerForTest(t, backend)
	ctx := context.Background()

	err := ctrl.Start(ctx)
	assert.NoError(t, err)

	bringUps, _ := backend.counts()
	assert.Equal(t, 0, bringUps)

	rec, err := repo.GetProject(ctx, "proj-test")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStateRunning, rec.State)
}

func TestConcurrentStartsCoalesce(t *testing.T) {
	backend := &fakeBackend{startDelay: 400 * time.Millisecond}
	ctrl, _ := newControllerForTest(t, backend)

	const callers = 10
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ctrl.Start(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
	}

	bringUps, _ := backend.counts()
	assert.Equal(t, 1, bringUps)
}

func TestStateReportsInflightTransition(t *testing.T) {
	backend := &fakeBackend{startDelay: 600 * time.Millisecond}
	ctrl, _ := newControllerForTest(t, backend)

	done := make(chan error, 1)
	go func() { done <- ctrl.Start(context.Background()) }()

	// Give the leader time to register the transition marker.
	time.Sleep(100 * time.Millisecond)

	state, err := ctrl.State(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, types.ProjectStateStarting, state)

	assert.NoError(t, <-done)
}

func TestStopSignalsProcessGroupAndPersists(t *testing.T) {
	backend := &fakeBackend{running: true}
	ctrl, repo := newControllerForTest(t, backend)
	ctx := context.Background()

	require.NoError(t, ctrl.Start(ctx))

	err := ctrl.Stop(ctx)
	assert.NoError(t, err)

	backend.mu.Lock()
	signals := append([]int(nil), backend.signals...)
	backend.mu.Unlock()
	require.Len(t, signals, 1)
	assert.Equal(t, int(syscall.SIGTERM), signals[0])

	rec, err := repo.GetProject(ctx, "proj-test")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStateOpened, rec.State)
}

func TestStartDuringStopIsDropped(t *testing.T) {
	backend := &fakeBackend{running: true}
	ctrl, _ := newControllerForTest(t, backend)

	// Hold the transition marker on a stop, then issue a start against it.
	tr, leader := ctrl.beginTransition(types.ProjectStateOpened)
	require.True(t, leader)

	err := ctrl.Start(context.Background())
	assert.NoError(t, err)

	bringUps, _ := backend.counts()
	assert.Equal(t, 0, bringUps)

	ctrl.finishTransition(tr, nil)
}

func TestAddressStartsAndReportsCoordinates(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newControllerForTest(t, backend)

	address, err := ctrl.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hub-1", address.Host)
	assert.Equal(t, 34567, address.Port)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", address.SecretToken)
}

func TestAddressReportsMissingHost(t *testing.T) {
	backend := &fakeBackend{running: true}
	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	repo := repository.NewProjectRedisRepositoryForTest(rdb)

	ctrl := NewController(ControllerConfig{
		ProjectId: "proj-test",
		Repo:      repo,
		Backend:   backend,
	})

	_, err = ctrl.Address(context.Background())
	var incomplete *types.ErrProbeIncomplete
	require.ErrorAs(t, err, &incomplete)
	assert.Contains(t, incomplete.Missing, "host")
}

func TestLicenseHookFailureAbortsStart(t *testing.T) {
	backend := &fakeBackend{}
	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	repo := repository.NewProjectRedisRepositoryForTest(rdb)

	denied := errors.New("license check denied")
	ctrl := NewController(ControllerConfig{
		ProjectId: "proj-test",
		Repo:      repo,
		Backend:   backend,
		Host:      "hub-1",
		LicenseHook: func(ctx context.Context, rec *types.ProjectRecord) error {
			return denied
		},
	})

	err = ctrl.Start(context.Background())
	assert.ErrorIs(t, err, denied)

	bringUps, _ := backend.counts()
	assert.Equal(t, 0, bringUps)

	// The finally-probe persisted what is actually observable.
	rec, err := repo.GetProject(context.Background(), "proj-test")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStateOpened, rec.State)
}

func seedRecord(t *testing.T, repo repository.ProjectRepository, state types.ProjectState, lastQuota *types.Quota) {
	t.Helper()
	rec := &types.ProjectRecord{
		Id:           "proj-test",
		State:        state,
		Host:         "hub-1",
		SecretToken:  "0123456789abcdef0123456789abcdef",
		SiteSettings: types.DefaultSiteSettings(),
		LastQuota:    lastQuota,
	}
	require.NoError(t, repo.SaveProject(context.Background(), rec))
}

func TestSetAllQuotasUnchangedDoesNotRestart(t *testing.T) {
	backend := &fakeBackend{running: true}
	ctrl, repo := newControllerForTest(t, backend)

	current := quota.Compute(types.ProjectSettings{}, nil, nil, types.DefaultSiteSettings())
	seedRecord(t, repo, types.ProjectStateRunning, &current)

	assert.NoError(t, ctrl.SetAllQuotas(context.Background()))

	time.Sleep(200 * time.Millisecond)
	bringUps, tearDowns := backend.counts()
	assert.Equal(t, 0, bringUps)
	assert.Equal(t, 0, tearDowns)
}

func TestSetAllQuotasChangedRestartsActiveProject(t *testing.T) {
	backend := &fakeBackend{running: true}
	ctrl, repo := newControllerForTest(t, backend)

	stale := quota.Compute(types.ProjectSettings{}, nil, nil, types.DefaultSiteSettings())
	stale.MemoryLimitMB += 512
	seedRecord(t, repo, types.ProjectStateRunning, &stale)

	assert.NoError(t, ctrl.SetAllQuotas(context.Background()))

	assert.Eventually(t, func() bool {
		bringUps, tearDowns := backend.counts()
		return bringUps == 1 && tearDowns == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSetAllQuotasInactiveDoesNotRestart(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, repo := newControllerForTest(t, backend)

	stale := quota.Compute(types.ProjectSettings{}, nil, nil, types.DefaultSiteSettings())
	stale.MemoryLimitMB += 512
	seedRecord(t, repo, types.ProjectStateOpened, &stale)

	assert.NoError(t, ctrl.SetAllQuotas(context.Background()))

	time.Sleep(200 * time.Millisecond)
	bringUps, tearDowns := backend.counts()
	assert.Equal(t, 0, bringUps)
	assert.Equal(t, 0, tearDowns)
}

func TestSetAllQuotasRestartFailureNotSurfaced(t *testing.T) {
	backend := &fakeBackend{running: true, bringUpErr: errors.New("sandbox exploded")}
	ctrl, repo := newControllerForTest(t, backend)

	stale := quota.Compute(types.ProjectSettings{}, nil, nil, types.DefaultSiteSettings())
	stale.MemoryLimitMB += 512
	seedRecord(t, repo, types.ProjectStateRunning, &stale)

	// The reconciliation call itself never fails on a restart error.
	assert.NoError(t, ctrl.SetAllQuotas(context.Background()))

	assert.Eventually(t, func() bool {
		bringUps, _ := backend.counts()
		return bringUps == 1
	}, 5*time.Second, 50*time.Millisecond)
}
