package jobs

import (
	"time"

	"github.com/riverqueue/river"
)

// Intervals are the periods of the per-tenant batch jobs. A non-positive
// interval disables that job.
type Intervals struct {
	Qualifiers  time.Duration
	Leaderboard time.Duration
	GlobalStats time.Duration
}

// PeriodicJobs schedules the batch jobs of every tenant. Each also runs once
// on startup so a fresh deployment serves data without waiting a full
// interval.
func PeriodicJobs(tenants []int64, every Intervals) []*river.PeriodicJob {
	out := make([]*river.PeriodicJob, 0, 3*len(tenants))
	add := func(interval time.Duration, args river.JobArgs) {
		if interval <= 0 {
			return
		}
		out = append(out, river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) { return args, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	for _, tenantID := range tenants {
		add(every.Qualifiers, EvaluateQualifiersArgs{TenantID: tenantID})
		add(every.Leaderboard, BuildLeaderboardArgs{TenantID: tenantID})
		add(every.GlobalStats, SyncGlobalStatsArgs{TenantID: tenantID})
	}
	return out
}
