package errors

// Error codes returned by the read API and ingestion hook.
// Backend logs are always in English; clients switch on Code.

// Ingestion error codes.
const (
	CodeInvalidEvent   = "INVALID_EVENT"
	CodeDuplicateEvent = "DUPLICATE_EVENT"
	CodeInvalidTenant  = "INVALID_TENANT"
)

// Stats read error codes.
const (
	CodeReferenceNotFound   = "REFERENCE_NOT_FOUND"
	CodeStatsNotReady       = "STATS_NOT_READY"
	CodeGlobalStatsNotReady = "GLOBAL_STATS_NOT_READY"
	CodeQualifierNotReady   = "QUALIFIER_NOT_READY"
	CodeLeaderboardNotReady = "LEADERBOARD_NOT_READY"
	CodeInternal            = "INTERNAL_ERROR"
	CodeInvalidAccount      = "INVALID_ACCOUNT"
)

// ErrStatsNotReady is returned when a rollup has not been computed yet.
// The caller has already requested an aggregation run.
func ErrStatsNotReady() *AppError {
	return notReady(CodeStatsNotReady, "session stats not available, try again later")
}

// ErrLeaderboardNotReady is returned before the first leaderboard build.
func ErrLeaderboardNotReady() *AppError {
	return notReady(CodeLeaderboardNotReady, "leaderboard not available, try again later")
}

// ErrGlobalStatsNotReady is returned before the first global stats event.
func ErrGlobalStatsNotReady() *AppError {
	return notReady(CodeGlobalStatsNotReady, "global stats not available, try again later")
}

// ErrQualifierNotReady is returned when no verdict exists for the account.
func ErrQualifierNotReady() *AppError {
	return notReady(CodeQualifierNotReady, "qualifier verdict not available, try again later")
}

// ErrReferenceNotFound is returned when a reference is not linked to an account.
func ErrReferenceNotFound() *AppError {
	return NotFound(CodeReferenceNotFound, "invalid reference")
}
