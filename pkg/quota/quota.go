// Package quota computes the resource envelope for a project from its
// settings, collaborator upgrades, and license grants. The computation is
// pure: the controller only calls it and compares the result structurally
// against the last-applied value.
package quota

import "github.com/ClaraKoka/cocalc/pkg/types"

// Compute derives a project's quota. Admin settings override the site
// defaults, user upgrades and active license grants add on top, and
// everything is clamped to the site maxima. Boolean capabilities are
// granted if any contributor grants them.
func Compute(settings types.ProjectSettings, users []types.ProjectUser, licenses []types.License, site types.SiteSettings) types.Quota {
	q := types.Quota{
		MemoryLimitMB:   site.DefaultMemoryMB,
		MemoryRequestMB: site.DefaultMemoryMB / 2,
		CPULimit:        site.DefaultCPUShares,
		CPURequest:      site.DefaultCPUShares / 4,
		DiskQuotaMB:     site.DefaultDiskQuotaMB,
		IdleTimeoutSecs: site.DefaultIdleTimeoutSecs,
	}

	// Admin overrides replace the defaults outright.
	if settings.MemoryMB > 0 {
		q.MemoryLimitMB = settings.MemoryMB
		q.MemoryRequestMB = settings.MemoryMB / 2
	}
	if settings.CPUShares > 0 {
		q.CPULimit = settings.CPUShares
		q.CPURequest = settings.CPUShares / 4
	}
	if settings.DiskQuotaMB > 0 {
		q.DiskQuotaMB = settings.DiskQuotaMB
	}
	if settings.IdleTimeoutSecs > 0 {
		q.IdleTimeoutSecs = settings.IdleTimeoutSecs
	}
	q.MemberHost = settings.MemberHost
	q.NetworkAccess = settings.NetworkAccess
	q.AlwaysRunning = settings.AlwaysRunning

	apply := func(u types.QuotaUpgrade) {
		q.MemoryLimitMB += u.MemoryMB
		q.MemoryRequestMB += u.MemoryMB / 2
		q.CPULimit += u.CPUShares
		q.CPURequest += u.CPUShares / 4
		q.DiskQuotaMB += u.DiskQuotaMB
		q.IdleTimeoutSecs += u.IdleTimeoutSecs
		q.MemberHost = q.MemberHost || u.MemberHost
		q.NetworkAccess = q.NetworkAccess || u.NetworkAccess
		q.AlwaysRunning = q.AlwaysRunning || u.AlwaysRunning
	}

	for _, user := range users {
		apply(user.Upgrades)
	}
	for _, lic := range licenses {
		if lic.Active {
			apply(lic.Upgrades)
		}
	}

	clamp(&q.MemoryLimitMB, site.MaxMemoryMB)
	clamp(&q.MemoryRequestMB, site.MaxMemoryMB)
	clamp(&q.CPULimit, site.MaxCPUShares)
	clamp(&q.CPURequest, site.MaxCPUShares)
	clamp(&q.DiskQuotaMB, site.MaxDiskQuotaMB)
	clamp(&q.IdleTimeoutSecs, site.MaxIdleTimeoutSecs)

	return q
}

func clamp(v *int64, max int64) {
	if max > 0 && *v > max {
		*v = max
	}
}
