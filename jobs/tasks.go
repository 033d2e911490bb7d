package jobs

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsCleanup deactivates user permission overrides whose
	// expiry has passed.
	TaskPermissionsCleanup = "permissions:cleanup_expired"
)
