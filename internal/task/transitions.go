package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition indicates a transition was requested from a status it
// is not legal in. This is a programming error, not a recoverable runtime
// condition: callers guard with the expected pre-state before invoking.
var ErrIllegalTransition = errors.New("illegal sub-task transition")

// IterationOutcome tells the caller what follow-up work a re-score decided.
type IterationOutcome int

const (
	// OutcomeFinalized means the sub-task reached a terminal finalized state.
	OutcomeFinalized IterationOutcome = iota
	// OutcomeNextIteration means a fresh iteration was opened and the loop
	// re-enters at verification (or translation when re-translating).
	OutcomeNextIteration
)

func (s *LanguageSubTask) guard(op string, allowed ...SubTaskStatus) error {
	for _, status := range allowed {
		if s.Status == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, op, s.Status)
}

func (s *LanguageSubTask) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// BeginTranslation moves a pending sub-task into translation. Re-entry from
// translating is permitted so a reclaimed message can resume after a crash.
func (s *LanguageSubTask) BeginTranslation() error {
	if err := s.guard("begin translation", SubTaskPending, SubTaskTranslating); err != nil {
		return err
	}
	s.Status = SubTaskTranslating
	s.touch()
	return nil
}

// CompleteTranslation stores the translated text and advances the sub-task.
func (s *LanguageSubTask) CompleteTranslation(text string) error {
	if err := s.guard("complete translation", SubTaskTranslating); err != nil {
		return err
	}
	s.TranslatedText = text
	s.Status = SubTaskTranslationComplete
	s.touch()
	return nil
}

// BeginVerification enters the automated scoring stage. Re-entry from
// llm_verifying covers both reclaimed messages and fresh iterations, which
// restart the loop here when translated text is reused.
func (s *LanguageSubTask) BeginVerification() error {
	if err := s.guard("begin verification", SubTaskTranslationComplete, SubTaskLLMVerifying); err != nil {
		return err
	}
	s.Status = SubTaskLLMVerifying
	s.touch()
	return nil
}

// RecordAutomatedScore attaches the automated score to the current iteration.
func (s *LanguageSubTask) RecordAutomatedScore(score AutomatedScore) error {
	if err := s.guard("record automated score", SubTaskLLMVerifying); err != nil {
		return err
	}
	score.Score = NormalizeScore(score.Score)
	iter := s.CurrentIterationRecord()
	iter.Automated = &score
	s.Status = SubTaskLLMVerified
	s.touch()
	return nil
}

// ResolveVerification decides whether the automated score alone finalizes the
// sub-task. Returns true when the sub-task finalized (threshold met with no
// human review); false when it moved to review_ready.
func (s *LanguageSubTask) ResolveVerification() (bool, error) {
	if err := s.guard("resolve verification", SubTaskLLMVerified); err != nil {
		return false, err
	}
	iter := s.CurrentIterationRecord()
	if iter.Automated == nil {
		return false, fmt.Errorf("%w: resolve verification without automated score", ErrIllegalTransition)
	}
	if iter.Automated.Score >= s.ConfidenceThreshold {
		iter.CombinedScore = iter.Automated.Score
		s.completeIteration(FinalThresholdMet)
		return true, nil
	}
	s.Status = SubTaskReviewReady
	s.touch()
	return false, nil
}

// QueueForReview assigns the sub-task to a review batch.
func (s *LanguageSubTask) QueueForReview(batchID string) error {
	if err := s.guard("queue for review", SubTaskReviewReady); err != nil {
		return err
	}
	s.BatchIDs = append(s.BatchIDs, batchID)
	s.Status = SubTaskReviewQueued
	s.touch()
	return nil
}

// ActivateReview marks the sub-task's review batch as published to reviewers.
func (s *LanguageSubTask) ActivateReview() error {
	if err := s.guard("activate review", SubTaskReviewQueued); err != nil {
		return err
	}
	s.Status = SubTaskReviewActive
	s.touch()
	return nil
}

// CompleteHumanReview attaches the crowd-review result to the current
// iteration.
func (s *LanguageSubTask) CompleteHumanReview(review HumanReview) error {
	if err := s.guard("complete human review", SubTaskReviewActive); err != nil {
		return err
	}
	review.Score = NormalizeScore(review.Score)
	iter := s.CurrentIterationRecord()
	iter.Human = &review
	s.Status = SubTaskReviewComplete
	s.touch()
	return nil
}

// BeginReVerification enters the post-human-review scoring stage. Re-entry
// from llm_reverifying covers reclaimed messages.
func (s *LanguageSubTask) BeginReVerification() error {
	if err := s.guard("begin re-verification", SubTaskReviewComplete, SubTaskLLMReverifying); err != nil {
		return err
	}
	s.Status = SubTaskLLMReverifying
	s.touch()
	return nil
}

// RecordReScore attaches the post-human-review automated score, computes the
// combined score, and either finalizes the sub-task or opens the next
// iteration. When retranslate is true a new iteration restarts at
// translation; otherwise it reuses the existing translated text and restarts
// at verification.
func (s *LanguageSubTask) RecordReScore(score AutomatedScore, retranslate bool) (IterationOutcome, error) {
	if err := s.guard("record re-score", SubTaskLLMReverifying); err != nil {
		return OutcomeFinalized, err
	}
	iter := s.CurrentIterationRecord()
	if iter.Human == nil {
		return OutcomeFinalized, fmt.Errorf("%w: re-score without human review", ErrIllegalTransition)
	}

	score.Score = NormalizeScore(score.Score)
	iter.ReScore = &score
	iter.CombinedScore = (score.Score + iter.Human.Score) / 2

	switch {
	case iter.CombinedScore >= s.ConfidenceThreshold:
		s.completeIteration(FinalThresholdMet)
		return OutcomeFinalized, nil
	case s.CurrentIteration >= s.MaxIterations:
		s.completeIteration(FinalMaxIterationsHit)
		return OutcomeFinalized, nil
	}

	now := time.Now().UTC()
	iter.NeedsAnotherIteration = true
	iter.CompletedAt = now
	s.CurrentIteration++
	s.Iterations = append(s.Iterations, ReviewIteration{Number: s.CurrentIteration, StartedAt: now})
	if retranslate {
		s.Status = SubTaskTranslating
	} else {
		s.Status = SubTaskLLMVerifying
	}
	s.touch()
	return OutcomeNextIteration, nil
}

// Fail marks the sub-task permanently failed with a human-readable cause.
// Failing a terminal sub-task is a no-op.
func (s *LanguageSubTask) Fail(message string) {
	if s.Status.IsTerminal() {
		return
	}
	if iter := s.CurrentIterationRecord(); iter != nil && iter.FinalReason == FinalReasonNone {
		iter.FinalReason = FinalFailed
		iter.CompletedAt = time.Now().UTC()
	}
	s.Status = SubTaskFailed
	s.ErrorMessage = message
	s.touch()
}

// completeIteration seals the current iteration with its final reason. The
// sub-task sits in iteration_complete until Finalize moves it to its
// terminal state.
func (s *LanguageSubTask) completeIteration(reason FinalReason) {
	now := time.Now().UTC()
	iter := s.CurrentIterationRecord()
	iter.FinalReason = reason
	iter.NeedsAnotherIteration = false
	iter.CompletedAt = now
	s.Status = SubTaskIterationComplete
	s.UpdatedAt = now
}

// Finalize moves a sub-task whose last iteration completed into the terminal
// finalized state.
func (s *LanguageSubTask) Finalize() error {
	if err := s.guard("finalize", SubTaskIterationComplete); err != nil {
		return err
	}
	s.Status = SubTaskFinalized
	s.touch()
	return nil
}
