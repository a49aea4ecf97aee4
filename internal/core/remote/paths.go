package remote

// TasksPath is the collection of an owner's tasks.
func TasksPath(ownerID string) string { return Join("users", ownerID, "tasks") }

// TaskPath is a single task.
func TaskPath(ownerID, taskID string) string { return Join("users", ownerID, "tasks", taskID) }

// AlarmsPath is the collection of an owner's alarm records, keyed by task.
func AlarmsPath(ownerID string) string { return Join("users", ownerID, "alarms") }

// AlarmPath is the alarm record of a task.
func AlarmPath(ownerID, taskID string) string { return Join("users", ownerID, "alarms", taskID) }

// AlarmEventsPath is the owner's append-only alarm event log.
func AlarmEventsPath(ownerID string) string { return Join("users", ownerID, "alarmEvents") }

// OwnerInboxPath holds notifications addressed to the owner.
func OwnerInboxPath(ownerID string) string { return Join("users", ownerID, "notifications") }

// LinkPath holds the owner's supervisor link.
func LinkPath(ownerID string) string { return Join("users", ownerID, "supervisor") }

// LinkedOwnersPath is the supervisor's reverse index of linked owners.
func LinkedOwnersPath(supervisorID string) string {
	return Join("supervisors", supervisorID, "linkedUsers")
}

// LinkedUsersPath is the reverse index entry on the supervisor side.
func LinkedUsersPath(supervisorID, ownerID string) string {
	return Join(LinkedOwnersPath(supervisorID), ownerID)
}

// SupervisorInboxPath holds notifications addressed to the supervisor.
func SupervisorInboxPath(supervisorID string) string {
	return Join("supervisors", supervisorID, "notifications")
}
