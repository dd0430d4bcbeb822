package types

import "time"

// ProjectState is the persisted lifecycle state of a project.
type ProjectState string

const (
	ProjectStateOpened   ProjectState = "opened"
	ProjectStateStarting ProjectState = "starting"
	ProjectStateRunning  ProjectState = "running"
	ProjectStateStopping ProjectState = "stopping"
	ProjectStateStopped  ProjectState = "stopped"
	ProjectStateArchived ProjectState = "archived"
)

// Active reports whether a project in this state is eligible for a
// quota-triggered restart.
func (s ProjectState) Active() bool {
	return s == ProjectStateStarting || s == ProjectStateRunning
}

// ProjectRecord is the durable per-project record. It is the only
// cross-process source of truth: multiple hub replicas may run concurrently,
// and each persists every state transition attempt so the record is always
// externally observable and consistent.
type ProjectRecord struct {
	Id          string       `json:"id" redis:"id"`
	State       ProjectState `json:"state" redis:"state"`
	Host        string       `json:"host" redis:"host"`
	Port        int          `json:"port" redis:"port"`
	PID         int          `json:"pid" redis:"pid"`
	SecretToken string       `json:"secret_token" redis:"secret_token"`

	// Desired-quota inputs, maintained by external collaborators (API layer,
	// billing). The controller only reads them.
	Settings     ProjectSettings `json:"settings"`
	Users        []ProjectUser   `json:"users"`
	Licenses     []License       `json:"licenses"`
	SiteSettings SiteSettings    `json:"site_settings"`

	// LastQuota is the last-applied quota, compared structurally on each
	// reconciliation.
	LastQuota *Quota `json:"last_quota,omitempty"`

	StateChangedAt time.Time `json:"state_changed_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// ProjectStatus is the transient view of a running project, recomputed on
// demand by probing the backend. It is persisted for observability but never
// trusted over a fresh probe.
type ProjectStatus struct {
	State       ProjectState   `json:"state"`
	PID         int            `json:"pid,omitempty"`
	Port        int            `json:"port,omitempty"`
	Ports       map[string]int `json:"ports,omitempty"`
	SecretToken string         `json:"secret_token,omitempty"`
	MemoryRSS   uint64         `json:"memory_rss,omitempty"`
	CPUPercent  float64        `json:"cpu_percent,omitempty"`
	UptimeSecs  int64          `json:"uptime_secs,omitempty"`
}

// ProjectAddress locates a running project for the wire protocol.
type ProjectAddress struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	SecretToken string `json:"secret_token"`
}

// CopyOptions parameterizes a path copy between projects or within one.
// Permission checks are the caller's responsibility.
type CopyOptions struct {
	Path            string        `json:"path"`
	TargetProjectId string        `json:"target_project_id,omitempty"`
	TargetPath      string        `json:"target_path,omitempty"`
	Overwrite       bool          `json:"overwrite_newer,omitempty"`
	Delete          bool          `json:"delete_missing,omitempty"`
	Backup          bool          `json:"backup,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// StartTimeout bounds a full project start, stop its mirror.
const (
	StartTimeout = 20 * time.Second
	StopTimeout  = 10 * time.Second

	// MinSecretTokenLength is the handshake floor: shorter secrets are
	// rejected before comparison.
	MinSecretTokenLength = 16
)

// AllowedSignals is the send_signal allow-list: SIGINT, SIGQUIT, SIGKILL.
var AllowedSignals = map[int]bool{2: true, 3: true, 9: true}
