package project

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/ClaraKoka/cocalc/pkg/common"
	"github.com/ClaraKoka/cocalc/pkg/quota"
	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
	"github.com/rs/zerolog/log"
)

// LicenseHook runs during start pre-flight, before any backend action. A
// non-nil error aborts the start. Entitlement policy lives outside the core.
type LicenseHook func(ctx context.Context, rec *types.ProjectRecord) error

// Controller owns one project's lifecycle state machine. All transitions for
// the project are serialized through a single in-flight transition marker,
// which is authoritative only within this process; other hub replicas
// re-probe the durable record instead of trusting it.
type Controller struct {
	projectId   string
	repo        repository.ProjectRepository
	backend     Backend
	host        string
	licenseHook LicenseHook

	mu       sync.Mutex
	inflight *transition
}

// transition is the in-flight marker. Duplicate callers with the same target
// join it and receive its outcome; callers with a conflicting target return
// immediately without queueing.
type transition struct {
	target types.ProjectState
	done   chan struct{}
	err    error
}

type ControllerConfig struct {
	ProjectId   string
	Repo        repository.ProjectRepository
	Backend     Backend
	Host        string
	LicenseHook LicenseHook
}

func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		projectId:   cfg.ProjectId,
		repo:        cfg.Repo,
		backend:     cfg.Backend,
		host:        cfg.Host,
		licenseHook: cfg.LicenseHook,
	}
}

func (c *Controller) ProjectId() string {
	return c.projectId
}

// State returns the project's lifecycle state. If a transition is in flight
// its target is returned immediately without probing; otherwise the backend
// is probed and the observed state persisted.
func (c *Controller) State(ctx context.Context) (types.ProjectState, error) {
	c.mu.Lock()
	if t := c.inflight; t != nil {
		// Report the transition itself, not its endpoint: a start in flight
		// is "starting", a stop in flight is "stopping".
		target := t.target
		c.mu.Unlock()
		if target == types.ProjectStateRunning {
			return types.ProjectStateStarting, nil
		}
		return types.ProjectStateStopping, nil
	}
	c.mu.Unlock()

	probe, err := c.probeAndPersist(ctx)
	if err != nil {
		return "", err
	}
	return probe.State(), nil
}

// Status probes the backend (more expensive than State), persists the
// result, and returns it.
func (c *Controller) Status(ctx context.Context) (*types.ProjectStatus, error) {
	probe, err := c.backend.Probe(ctx, c.projectId)
	if err != nil {
		return nil, fmt.Errorf("probe project %s: %w", c.projectId, err)
	}

	status := &types.ProjectStatus{
		State:       probe.State(),
		PID:         probe.PID,
		Port:        probe.Port,
		Ports:       probe.Ports,
		SecretToken: probe.SecretToken,
		MemoryRSS:   probe.MemoryRSS,
		CPUPercent:  probe.CPUPercent,
	}
	if probe.Running && !probe.StartedAt.IsZero() {
		status.UptimeSecs = int64(time.Since(probe.StartedAt).Seconds())
	}

	if err := c.repo.SaveStatus(ctx, c.projectId, status); err != nil {
		return nil, fmt.Errorf("persist status: %w", err)
	}
	return status, nil
}

// Start brings the project up. Duplicate concurrent starts coalesce onto one
// bring-up: later callers await the in-flight outcome without touching the
// backend. A start arriving while a stop is in flight returns immediately
// with no action; callers retry.
func (c *Controller) Start(ctx context.Context) error {
	t, leader := c.beginTransition(types.ProjectStateRunning)
	if !leader {
		if t.target != types.ProjectStateRunning {
			log.Debug().Str("project_id", c.projectId).Msg("start dropped: stop in flight")
			return nil
		}
		select {
		case <-t.done:
			return t.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := c.runStart(ctx)
	// Self-healing: whatever happened above, the persisted state reflects a
	// fresh probe before the transition marker clears.
	if _, perr := c.probeAndPersist(context.Background()); perr != nil {
		log.Error().Err(perr).Str("project_id", c.projectId).Msg("post-start probe failed")
	}
	c.finishTransition(t, err)
	return err
}

func (c *Controller) runStart(ctx context.Context) error {
	probe, err := c.backend.Probe(ctx, c.projectId)
	if err != nil {
		return fmt.Errorf("probe project %s: %w", c.projectId, err)
	}
	if probe.Ready() {
		return c.persistProbe(ctx, probe)
	}

	rec, err := c.loadOrInitRecord(ctx)
	if err != nil {
		return err
	}

	if err := c.repo.SaveState(ctx, c.projectId, types.ProjectStateStarting, c.host, rec.Port, rec.PID); err != nil {
		return fmt.Errorf("persist starting: %w", err)
	}

	// Pre-flight: entitlement hook, then recompute and persist the quota the
	// backend will honor.
	if c.licenseHook != nil {
		if err := c.licenseHook(ctx, rec); err != nil {
			return fmt.Errorf("license check: %w", err)
		}
	}
	q := quota.Compute(rec.Settings, rec.Users, rec.Licenses, rec.SiteSettings)
	if err := c.repo.SaveQuota(ctx, c.projectId, &q); err != nil {
		return fmt.Errorf("persist quota: %w", err)
	}

	if err := c.backend.BringUp(ctx, rec); err != nil {
		return fmt.Errorf("bring up project %s: %w", c.projectId, err)
	}

	waitErr := common.Wait(ctx, func() (bool, error) {
		p, err := c.backend.Probe(ctx, c.projectId)
		if err != nil {
			return false, err
		}
		probe = p
		return p.Ready(), nil
	}, common.WaitOptions{MaxTime: types.StartTimeout})
	if waitErr != nil {
		if errors.Is(waitErr, common.ErrWaitTimeout) {
			return &types.ErrProjectTimeout{ProjectId: c.projectId, Op: "start", Limit: types.StartTimeout}
		}
		return waitErr
	}

	log.Info().
		Str("project_id", c.projectId).
		Int("pid", probe.PID).
		Int("port", probe.Port).
		Msg("project running")

	return c.persistProbe(ctx, probe)
}

// Stop tears the project down, mirroring Start with a shorter ceiling. On
// timeout a hard kill is still issued so the sandbox eventually terminates
// even though the caller already observed the failure.
func (c *Controller) Stop(ctx context.Context) error {
	t, leader := c.beginTransition(types.ProjectStateOpened)
	if !leader {
		if t.target != types.ProjectStateOpened {
			log.Debug().Str("project_id", c.projectId).Msg("stop dropped: start in flight")
			return nil
		}
		select {
		case <-t.done:
			return t.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := c.runStop(ctx)
	if _, perr := c.probeAndPersist(context.Background()); perr != nil {
		log.Error().Err(perr).Str("project_id", c.projectId).Msg("post-stop probe failed")
	}
	c.finishTransition(t, err)
	return err
}

func (c *Controller) runStop(ctx context.Context) error {
	probe, err := c.backend.Probe(ctx, c.projectId)
	if err != nil {
		return fmt.Errorf("probe project %s: %w", c.projectId, err)
	}
	if !probe.Running {
		return c.persistProbe(ctx, probe)
	}

	rec, err := c.loadOrInitRecord(ctx)
	if err != nil {
		return err
	}

	if err := c.repo.SaveState(ctx, c.projectId, types.ProjectStateStopping, c.host, probe.Port, probe.PID); err != nil {
		return fmt.Errorf("persist stopping: %w", err)
	}

	if err := c.backend.TearDown(ctx, rec, int(syscall.SIGTERM)); err != nil {
		return fmt.Errorf("tear down project %s: %w", c.projectId, err)
	}

	waitErr := common.Wait(ctx, func() (bool, error) {
		p, err := c.backend.Probe(ctx, c.projectId)
		if err != nil {
			return false, err
		}
		probe = p
		return !p.Running, nil
	}, common.WaitOptions{MaxTime: types.StopTimeout})
	if waitErr != nil {
		if errors.Is(waitErr, common.ErrWaitTimeout) {
			// Guarantee eventual termination.
			if killErr := c.backend.TearDown(context.Background(), rec, int(syscall.SIGKILL)); killErr != nil {
				log.Warn().Err(killErr).Str("project_id", c.projectId).Msg("hard kill failed")
			}
			return &types.ErrProjectTimeout{ProjectId: c.projectId, Op: "stop", Limit: types.StopTimeout}
		}
		return waitErr
	}

	log.Info().Str("project_id", c.projectId).Msg("project stopped")
	return c.persistProbe(ctx, probe)
}

// Restart is a sequential Stop then Start. It is not atomic: a crash between
// the two leaves the project stopped and the caller retries.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

// Address guarantees liveness via Start, then reports how to reach the
// project. It fails naming whichever of host, port, or token could not be
// determined.
func (c *Controller) Address(ctx context.Context) (*types.ProjectAddress, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	probe, err := c.backend.Probe(ctx, c.projectId)
	if err != nil {
		return nil, fmt.Errorf("probe project %s: %w", c.projectId, err)
	}

	var missing []string
	if c.host == "" {
		missing = append(missing, "host")
	}
	if probe.Port == 0 {
		missing = append(missing, "port")
	}
	if probe.SecretToken == "" {
		missing = append(missing, "secret_token")
	}
	if len(missing) > 0 {
		return nil, &types.ErrProbeIncomplete{ProjectId: c.projectId, Missing: missing}
	}

	return &types.ProjectAddress{
		Host:        c.host,
		Port:        probe.Port,
		SecretToken: probe.SecretToken,
	}, nil
}

// CopyPath delegates to the backend's copy mechanism. Permission checks are
// the caller's responsibility.
func (c *Controller) CopyPath(ctx context.Context, opts types.CopyOptions) (string, error) {
	return c.backend.CopyPath(ctx, c.projectId, opts)
}

// SetAllQuotas recomputes the project's quota from its persisted inputs and,
// only when the project is active and the result differs structurally from
// the last-applied value, fires one background best-effort restart. The call
// itself is bounded by one read and one compare; restart failures are
// logged, never surfaced to the caller.
func (c *Controller) SetAllQuotas(ctx context.Context) error {
	rec, err := c.repo.GetProject(ctx, c.projectId)
	if err != nil {
		return err
	}

	computed := quota.Compute(rec.Settings, rec.Users, rec.Licenses, rec.SiteSettings)
	if rec.LastQuota != nil && reflect.DeepEqual(*rec.LastQuota, computed) {
		return nil
	}
	if !rec.State.Active() {
		return nil
	}

	log.Info().
		Str("project_id", c.projectId).
		Interface("quota", computed).
		Msg("quota changed, restarting project")

	go func() {
		// The goroutine keeps a strong reference to the controller for the
		// duration of the restart.
		ctx, cancel := context.WithTimeout(context.Background(), types.StopTimeout+types.StartTimeout)
		defer cancel()
		if err := c.Restart(ctx); err != nil {
			log.Error().Err(err).Str("project_id", c.projectId).Msg("quota-triggered restart failed")
		}
	}()

	return nil
}

func (c *Controller) beginTransition(target types.ProjectState) (*transition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight != nil {
		return c.inflight, false
	}
	t := &transition{target: target, done: make(chan struct{})}
	c.inflight = t
	return t, true
}

func (c *Controller) finishTransition(t *transition, err error) {
	c.mu.Lock()
	t.err = err
	c.inflight = nil
	c.mu.Unlock()
	close(t.done)
}

func (c *Controller) probeAndPersist(ctx context.Context) (*ProbeResult, error) {
	probe, err := c.backend.Probe(ctx, c.projectId)
	if err != nil {
		return nil, fmt.Errorf("probe project %s: %w", c.projectId, err)
	}
	if err := c.persistProbe(ctx, probe); err != nil {
		return nil, err
	}
	return probe, nil
}

func (c *Controller) persistProbe(ctx context.Context, probe *ProbeResult) error {
	if err := c.repo.SaveState(ctx, c.projectId, probe.State(), c.host, probe.Port, probe.PID); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// loadOrInitRecord returns the durable record, creating a fresh one with a
// generated secret token the first time a project is started.
func (c *Controller) loadOrInitRecord(ctx context.Context) (*types.ProjectRecord, error) {
	rec, err := c.repo.GetProject(ctx, c.projectId)
	if err != nil {
		notFound := &types.MetadataNotFoundError{}
		if !errors.As(err, &notFound) {
			return nil, err
		}
		rec = &types.ProjectRecord{
			Id:           c.projectId,
			State:        types.ProjectStateOpened,
			SiteSettings: types.DefaultSiteSettings(),
		}
	}

	if rec.SecretToken == "" {
		rec.SecretToken = common.GenerateSecretToken()
	}
	rec.Host = c.host

	if err := c.repo.SaveProject(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist record: %w", err)
	}
	return rec, nil
}
