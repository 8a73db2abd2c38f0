package domain

// PersistenceStrategy governs whether a new session artifact overwrites the
// stored one after a run. Wire values match what the automation host expects.
type PersistenceStrategy string

const (
	// StrategyAlways persists the returned artifact after every run.
	StrategyAlways PersistenceStrategy = "always"
	// StrategyOnNewLogin persists only when the automation host signals that
	// a new login happened during the run.
	StrategyOnNewLogin PersistenceStrategy = "on_login"
	// StrategyNever consumes the stored artifact without ever overwriting it.
	StrategyNever PersistenceStrategy = "never"
)

// ResolveStrategy computes the persistence strategy for one launch.
// Administrators always refresh the stored artifact to keep credentials
// current. Regular users persist only on a fresh login, and only when the
// profile has credential sync enabled and the server actually included the
// credential pair. Everyone else consumes without overwriting.
//
// Recomputed on every launch; never stored.
func ResolveStrategy(role Role, syncEnabled, credentialsPresent bool) PersistenceStrategy {
	if role == RoleAdmin {
		return StrategyAlways
	}
	if syncEnabled && credentialsPresent {
		return StrategyOnNewLogin
	}
	return StrategyNever
}
