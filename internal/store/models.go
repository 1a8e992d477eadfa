package store

import "time"

// Stage identifies the pipeline step a queue message drives.
type Stage string

const (
	StageTranslate Stage = "translate"
	StageVerify    Stage = "verify"
	StageReview    Stage = "review"
)

// ValidStage reports whether a stage name is one the pipeline dispatches.
func ValidStage(stage Stage) bool {
	switch stage {
	case StageTranslate, StageVerify, StageReview:
		return true
	}
	return false
}

// QueueMessage is one unit of deliverable work. Messages are delivered at
// least once; stage handlers tolerate duplicates through status guards.
type QueueMessage struct {
	ID             int64
	TaskID         string
	Language       string
	Stage          Stage
	Attempt        int
	AvailableAt    time.Time
	ClaimedBy      string
	ClaimExpiresAt *time.Time
	LastError      string
	EnqueuedAt     time.Time
	UpdatedAt      time.Time
}

// DeadLetter is a queue message that exhausted its retry budget.
type DeadLetter struct {
	ID         int64
	TaskID     string
	Language   string
	Stage      Stage
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
	FailedAt   time.Time
}

// WebhookAttempt records one delivery attempt of an outbound event.
type WebhookAttempt struct {
	ID          int64
	EventID     string
	EventType   string
	TaskID      string
	Language    string
	TargetURL   string
	Mode        string
	Attempt     int
	StatusCode  int
	Outcome     string
	ErrorMsg    string
	AttemptedAt time.Time
}

// Webhook attempt outcomes.
const (
	AttemptDelivered = "delivered"
	AttemptFailed    = "failed"
	AttemptRelayed   = "relayed"
)

// BatchStatus is the lifecycle state of a review batch.
type BatchStatus string

const (
	BatchOpen         BatchStatus = "open"
	BatchStudyCreated BatchStatus = "study_created"
	BatchPublished    BatchStatus = "published"
	BatchCompleted    BatchStatus = "completed"
	BatchFailed       BatchStatus = "failed"
)

// BatchMember identifies one sub-task included in a review batch.
type BatchMember struct {
	TaskID    string `json:"task_id"`
	Language  string `json:"language"`
	Iteration int    `json:"iteration"`
}

// ReviewBatch groups compatible sub-tasks into one crowd-review study.
type ReviewBatch struct {
	ID          string
	Language    string
	Fingerprint string
	Iteration   int
	Status      BatchStatus
	StudyID     string
	Members     []BatchMember
	ErrorMsg    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
