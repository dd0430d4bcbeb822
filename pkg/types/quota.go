package types

// Quota is the computed resource envelope for one project. Values are
// absolute (not deltas); structural equality against the last-applied
// record decides whether a reconciliation restart is needed.
type Quota struct {
	MemoryLimitMB   int64 `json:"memory_limit_mb"`
	MemoryRequestMB int64 `json:"memory_request_mb"`
	CPULimit        int64 `json:"cpu_limit_mcpu"` // millicpu
	CPURequest      int64 `json:"cpu_request_mcpu"`
	DiskQuotaMB     int64 `json:"disk_quota_mb"`
	IdleTimeoutSecs int64 `json:"idle_timeout_secs"`
	MemberHost      bool  `json:"member_host"`
	NetworkAccess   bool  `json:"network_access"`
	AlwaysRunning   bool  `json:"always_running"`
}

// ProjectSettings are per-project admin-set quota overrides. Zero values
// mean "no override".
type ProjectSettings struct {
	MemoryMB        int64 `json:"memory_mb,omitempty"`
	CPUShares       int64 `json:"cpu_shares,omitempty"` // millicpu
	DiskQuotaMB     int64 `json:"disk_quota_mb,omitempty"`
	IdleTimeoutSecs int64 `json:"idle_timeout_secs,omitempty"`
	MemberHost      bool  `json:"member_host,omitempty"`
	NetworkAccess   bool  `json:"network_access,omitempty"`
	AlwaysRunning   bool  `json:"always_running,omitempty"`
}

// ProjectUser is one collaborator's purchased upgrades applied to this
// project.
type ProjectUser struct {
	AccountId string      `json:"account_id"`
	Upgrades  QuotaUpgrade `json:"upgrades"`
}

// QuotaUpgrade is an additive contribution to the project's quota.
type QuotaUpgrade struct {
	MemoryMB        int64 `json:"memory_mb,omitempty"`
	CPUShares       int64 `json:"cpu_shares,omitempty"`
	DiskQuotaMB     int64 `json:"disk_quota_mb,omitempty"`
	IdleTimeoutSecs int64 `json:"idle_timeout_secs,omitempty"`
	MemberHost      bool  `json:"member_host,omitempty"`
	NetworkAccess   bool  `json:"network_access,omitempty"`
	AlwaysRunning   bool  `json:"always_running,omitempty"`
}

// License is a site-license grant applied to the project while active.
type License struct {
	Id       string       `json:"id"`
	Active   bool         `json:"active"`
	Upgrades QuotaUpgrade `json:"upgrades"`
}

// SiteSettings are deployment-wide quota defaults and ceilings.
type SiteSettings struct {
	DefaultMemoryMB        int64 `json:"default_memory_mb"`
	DefaultCPUShares       int64 `json:"default_cpu_shares"`
	DefaultDiskQuotaMB     int64 `json:"default_disk_quota_mb"`
	DefaultIdleTimeoutSecs int64 `json:"default_idle_timeout_secs"`

	MaxMemoryMB        int64 `json:"max_memory_mb"`
	MaxCPUShares       int64 `json:"max_cpu_shares"`
	MaxDiskQuotaMB     int64 `json:"max_disk_quota_mb"`
	MaxIdleTimeoutSecs int64 `json:"max_idle_timeout_secs"`
}

// DefaultSiteSettings mirror a small single-host deployment.
func DefaultSiteSettings() SiteSettings {
	return SiteSettings{
		DefaultMemoryMB:        1000,
		DefaultCPUShares:       1000,
		DefaultDiskQuotaMB:     3000,
		DefaultIdleTimeoutSecs: 1800,
		MaxMemoryMB:            16000,
		MaxCPUShares:           3000,
		MaxDiskQuotaMB:         20000,
		MaxIdleTimeoutSecs:     24 * 3600,
	}
}
