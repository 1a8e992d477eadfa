package task

import "strings"

// Status represents the lifecycle of a task as a whole.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusReviewPending Status = "review_pending"
	StatusReviewActive  Status = "review_active"
	StatusFinalizing    Status = "finalizing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// SubTaskStatus represents the lifecycle of a single language sub-task.
type SubTaskStatus string

const (
	SubTaskPending             SubTaskStatus = "pending"
	SubTaskTranslating         SubTaskStatus = "translating"
	SubTaskTranslationComplete SubTaskStatus = "translation_complete"
	SubTaskLLMVerifying        SubTaskStatus = "llm_verifying"
	SubTaskLLMVerified         SubTaskStatus = "llm_verified"
	SubTaskReviewReady         SubTaskStatus = "review_ready"
	SubTaskReviewQueued        SubTaskStatus = "review_queued"
	SubTaskReviewActive        SubTaskStatus = "review_active"
	SubTaskReviewComplete      SubTaskStatus = "review_complete"
	SubTaskLLMReverifying      SubTaskStatus = "llm_reverifying"
	SubTaskIterationComplete   SubTaskStatus = "iteration_complete"
	SubTaskFinalized           SubTaskStatus = "finalized"
	SubTaskFailed              SubTaskStatus = "failed"
)

// FinalReason records why a sub-task left the review loop.
type FinalReason string

const (
	FinalReasonNone       FinalReason = ""
	FinalThresholdMet     FinalReason = "threshold_met"
	FinalMaxIterationsHit FinalReason = "max_iterations_reached"
	FinalFailed           FinalReason = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusReviewPending,
	StatusReviewActive,
	StatusFinalizing,
	StatusCompleted,
	StatusFailed,
}

var allSubTaskStatuses = []SubTaskStatus{
	SubTaskPending,
	SubTaskTranslating,
	SubTaskTranslationComplete,
	SubTaskLLMVerifying,
	SubTaskLLMVerified,
	SubTaskReviewReady,
	SubTaskReviewQueued,
	SubTaskReviewActive,
	SubTaskReviewComplete,
	SubTaskLLMReverifying,
	SubTaskIterationComplete,
	SubTaskFinalized,
	SubTaskFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var subTaskStatusSet = func() map[SubTaskStatus]struct{} {
	set := make(map[SubTaskStatus]struct{}, len(allSubTaskStatuses))
	for _, status := range allSubTaskStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known task statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// AllSubTaskStatuses returns the ordered list of known sub-task statuses.
func AllSubTaskStatuses() []SubTaskStatus {
	cp := make([]SubTaskStatus, len(allSubTaskStatuses))
	copy(cp, allSubTaskStatuses)
	return cp
}

// ParseStatus converts a string into a known task Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseSubTaskStatus converts a string into a known SubTaskStatus.
func ParseSubTaskStatus(value string) (SubTaskStatus, bool) {
	normalized := SubTaskStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := subTaskStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a task status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsTerminal reports whether a sub-task status admits no further transitions.
func (s SubTaskStatus) IsTerminal() bool {
	return s == SubTaskFinalized || s == SubTaskFailed
}

// InReview reports whether the sub-task is somewhere in the human-review leg.
func (s SubTaskStatus) InReview() bool {
	switch s {
	case SubTaskReviewQueued, SubTaskReviewActive, SubTaskReviewComplete, SubTaskLLMReverifying:
		return true
	default:
		return false
	}
}
