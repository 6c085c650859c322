package pipeline

var transitions = map[JobStatus][]JobStatus{
	StatusInsightForgePending:   {StatusInsightForgeCompleted, StatusFailed},
	StatusInsightForgeCompleted: {StatusAnalyticCorePending, StatusFailed},
	StatusAnalyticCorePending:   {StatusAnalyticCoreCompleted, StatusFailed},
	StatusAnalyticCoreCompleted: {StatusAnalyticCorePending, StatusTagOpsHubPending, StatusFailed},
	StatusTagOpsHubPending:      {StatusTagOpsHubCompleted, StatusFailed},
	StatusTagOpsHubCompleted:    {StatusTagOpsHubPending, StatusFailed},
	StatusFailed:                {StatusAnalyticCorePending, StatusTagOpsHubPending},
}

var allStatuses = []JobStatus{
	StatusInsightForgePending,
	StatusInsightForgeCompleted,
	StatusAnalyticCorePending,
	StatusAnalyticCoreCompleted,
	StatusTagOpsHubPending,
	StatusTagOpsHubCompleted,
	StatusFailed,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no stage is running for s.
func (s JobStatus) Terminal() bool {
	return s == StatusTagOpsHubCompleted || s == StatusFailed
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses from which target can be entered.
func SourcesFor(target JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range allStatuses {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}

// DraftEditable reports whether the user may edit the draft while in s.
func DraftEditable(s JobStatus) bool {
	switch s {
	case StatusAnalyticCoreCompleted, StatusTagOpsHubCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// DraftEditableStatuses lists the statuses accepting draft edits.
func DraftEditableStatuses() []JobStatus {
	var out []JobStatus
	for _, s := range allStatuses {
		if DraftEditable(s) {
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether s is one of set.
func Contains(set []JobStatus, s JobStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
