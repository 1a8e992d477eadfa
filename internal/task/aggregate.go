package task

// Aggregate folds the sub-task statuses into the parent task status. The
// finalizing status is set explicitly by the stage that assembles the result
// payload and is never produced by the fold.
func (t *Task) Aggregate() Status {
	if len(t.SubTasks) == 0 {
		return StatusPending
	}

	var (
		pending      int
		terminal     int
		finalized    int
		reviewActive bool
		reviewReady  bool
	)
	for _, sub := range t.SubTasks {
		switch sub.Status {
		case SubTaskPending:
			pending++
		case SubTaskFinalized:
			terminal++
			finalized++
		case SubTaskFailed:
			terminal++
		case SubTaskReviewQueued, SubTaskReviewActive, SubTaskReviewComplete, SubTaskLLMReverifying:
			reviewActive = true
		case SubTaskReviewReady:
			reviewReady = true
		}
	}

	switch {
	case pending == len(t.SubTasks):
		return StatusPending
	case terminal == len(t.SubTasks):
		if finalized > 0 {
			return StatusCompleted
		}
		return StatusFailed
	case reviewActive:
		return StatusReviewActive
	case reviewReady:
		return StatusReviewPending
	default:
		return StatusProcessing
	}
}

// AllSubTasksTerminal reports whether every sub-task finished, successfully
// or not.
func (t *Task) AllSubTasksTerminal() bool {
	for _, sub := range t.SubTasks {
		if !sub.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// FailedLanguages lists the languages whose sub-tasks failed, in the task's
// declared language order.
func (t *Task) FailedLanguages() []string {
	var failed []string
	for _, lang := range t.Languages {
		if sub, ok := t.SubTasks[lang]; ok && sub.Status == SubTaskFailed {
			failed = append(failed, lang)
		}
	}
	return failed
}
