package integration

// Integration names as stored in sync_logs and integration_status.
const (
	Jira            = "jira"
	AWSCostExplorer = "aws_cost_explorer"
)

type Status string

const (
	StatusUnknown Status = "unknown"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// Transition returns the status an integration moves to after a sync attempt.
// The previous status does not influence the outcome; it is accepted so the
// caller can detect changes with Changed.
func Transition(previous Status, syncErr error) Status {
	if syncErr != nil {
		return StatusError
	}
	return StatusActive
}

// Changed reports whether moving from prev to next is worth announcing.
// The first successful sync of an unknown integration is not.
func Changed(prev, next Status) bool {
	if prev == next {
		return false
	}
	return !(prev == StatusUnknown && next == StatusActive)
}

func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusActive, StatusError:
		return Status(s)
	default:
		return StatusUnknown
	}
}
