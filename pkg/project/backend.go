package project

import (
	"context"
	"time"

	"github.com/ClaraKoka/cocalc/pkg/types"
)

// Backend is how a controller actually brings up, tears down, and probes a
// sandbox. Exactly one concrete variant is selected per deployment at
// construction time. All variants honor the same timeout and failure
// contracts, so the controller's state machine never branches on backend
// kind.
type Backend interface {
	// BringUp launches the project's sandbox. It returns once the launch is
	// initiated; readiness is observed via Probe.
	BringUp(ctx context.Context, rec *types.ProjectRecord) error

	// TearDown delivers the given signal to the sandbox's process group.
	// Termination is observed via Probe.
	TearDown(ctx context.Context, rec *types.ProjectRecord, signal int) error

	// Probe inspects the sandbox and reports what is actually observable
	// right now. A non-running sandbox yields Running=false, not an error.
	Probe(ctx context.Context, projectId string) (*ProbeResult, error)

	// CopyPath copies a path within or between projects. It returns an
	// opaque job id, or the empty string when the copy completed
	// synchronously.
	CopyPath(ctx context.Context, projectId string, opts types.CopyOptions) (string, error)
}

// ProbeResult is a point-in-time observation of one sandbox.
type ProbeResult struct {
	Running     bool
	PID         int
	Port        int
	Ports       map[string]int
	SecretToken string
	MemoryRSS   uint64
	CPUPercent  float64
	StartedAt   time.Time
}

// Ready reports whether the sandbox is running and exposes everything the
// hub needs to connect to it.
func (p *ProbeResult) Ready() bool {
	return p.Running && p.SecretToken != "" && p.Port > 0
}

// State maps an observation onto the persisted state space.
func (p *ProbeResult) State() types.ProjectState {
	if p.Running {
		return types.ProjectStateRunning
	}
	return types.ProjectStateOpened
}
