package services

// NetworkPolicy captures the download constraints in force at submission
// time. It is read once per task submission, not re-read mid-fetch.
type NetworkPolicy struct {
	// UnmeteredOnly restricts downloads to unmetered networks.
	UnmeteredOnly bool

	// MinStorageHeadroom is the free disk space, in bytes, that must remain
	// available for a fetch unit to run. Zero disables the check.
	MinStorageHeadroom int64
}

// SettingsProvider exposes the user's download policy
type SettingsProvider interface {
	NetworkPolicy() NetworkPolicy
}

// StaticSettings is a SettingsProvider with fixed values, typically built
// from the application config
type StaticSettings struct {
	Policy NetworkPolicy
}

// NetworkPolicy returns the configured policy
func (s StaticSettings) NetworkPolicy() NetworkPolicy {
	return s.Policy
}
