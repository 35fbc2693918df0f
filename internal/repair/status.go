package repair

import "strings"

// Status is a repair job status.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
)

// Statuses lists the valid statuses in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// StatusNames returns the canonical status strings.
func StatusNames() []string {
	out := make([]string, len(Statuses))
	for i, s := range Statuses {
		out[i] = string(s)
	}
	return out
}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// Category is the visual bucket a status badge falls into.
type Category string

const (
	CategoryInfo    Category = "info"
	CategorySuccess Category = "success"
	CategoryWarning Category = "warning"
	CategoryNeutral Category = "neutral"
)

// CategoryOf maps any status string to its badge category. Unknown or
// empty statuses are neutral.
func CategoryOf(status string) Category {
	switch strings.ToLower(status) {
	case "in progress":
		return CategoryInfo
	case "completed":
		return CategorySuccess
	case "pending":
		return CategoryWarning
	}
	return CategoryNeutral
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
}

// CanTransition reports whether a job may move from one status to another
// under the strict lifecycle Pending -> In Progress -> Completed. Keeping
// the same status is always allowed so notes can be edited. An
// unrecognized current status places no constraint.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	next, known := transitions[from]
	if !known {
		return true
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
