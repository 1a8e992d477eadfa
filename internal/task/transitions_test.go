package task

import (
	"errors"
	"testing"
	"time"
)

func newSubTask(t *testing.T, maxIterations int, threshold float64) *LanguageSubTask {
	t.Helper()
	job, err := New("hello world", "en", []string{"de"}, EditorialContext{}, maxIterations, threshold)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return job.SubTasks["de"]
}

func advanceToReverifying(t *testing.T, sub *LanguageSubTask, autoScore float64) {
	t.Helper()
	if err := sub.BeginTranslation(); err != nil {
		t.Fatalf("BeginTranslation: %v", err)
	}
	if err := sub.CompleteTranslation("hallo welt"); err != nil {
		t.Fatalf("CompleteTranslation: %v", err)
	}
	if err := sub.BeginVerification(); err != nil {
		t.Fatalf("BeginVerification: %v", err)
	}
	if err := sub.RecordAutomatedScore(AutomatedScore{Score: autoScore, ScoredAt: time.Now()}); err != nil {
		t.Fatalf("RecordAutomatedScore: %v", err)
	}
	finalized, err := sub.ResolveVerification()
	if err != nil {
		t.Fatalf("ResolveVerification: %v", err)
	}
	if finalized {
		t.Fatalf("expected review path for score %.1f", autoScore)
	}
	if err := sub.QueueForReview("batch-1"); err != nil {
		t.Fatalf("QueueForReview: %v", err)
	}
	if err := sub.ActivateReview(); err != nil {
		t.Fatalf("ActivateReview: %v", err)
	}
	if err := sub.CompleteHumanReview(HumanReview{StudyID: "study-1", Score: 3, ReviewedAt: time.Now()}); err != nil {
		t.Fatalf("CompleteHumanReview: %v", err)
	}
	if err := sub.BeginReVerification(); err != nil {
		t.Fatalf("BeginReVerification: %v", err)
	}
}

func TestHappyPathThresholdMetWithoutReview(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)

	if err := sub.BeginTranslation(); err != nil {
		t.Fatalf("BeginTranslation: %v", err)
	}
	if err := sub.CompleteTranslation("hallo welt"); err != nil {
		t.Fatalf("CompleteTranslation: %v", err)
	}
	if sub.TranslatedText != "hallo welt" {
		t.Fatalf("translated text = %q", sub.TranslatedText)
	}
	if err := sub.BeginVerification(); err != nil {
		t.Fatalf("BeginVerification: %v", err)
	}
	if err := sub.RecordAutomatedScore(AutomatedScore{Score: 4.2}); err != nil {
		t.Fatalf("RecordAutomatedScore: %v", err)
	}
	finalized, err := sub.ResolveVerification()
	if err != nil {
		t.Fatalf("ResolveVerification: %v", err)
	}
	if !finalized {
		t.Fatal("expected finalization at score above threshold")
	}
	if sub.Status != SubTaskIterationComplete {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskIterationComplete)
	}
	if err := sub.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sub.Status != SubTaskFinalized {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskFinalized)
	}
	iter := sub.CurrentIterationRecord()
	if iter.FinalReason != FinalThresholdMet {
		t.Fatalf("final reason = %s, want %s", iter.FinalReason, FinalThresholdMet)
	}
	if iter.CombinedScore != 4.2 {
		t.Fatalf("combined score = %.2f, want 4.2", iter.CombinedScore)
	}
	if iter.CompletedAt.IsZero() {
		t.Fatal("iteration completion time not set")
	}
}

func TestLowScoreEntersReviewPath(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)
	advanceToReverifying(t, sub, 2.8)

	if sub.Status != SubTaskLLMReverifying {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskLLMReverifying)
	}
	if len(sub.BatchIDs) != 1 || sub.BatchIDs[0] != "batch-1" {
		t.Fatalf("batch ids = %v", sub.BatchIDs)
	}
	iter := sub.CurrentIterationRecord()
	if iter.Automated == nil || iter.Human == nil {
		t.Fatal("iteration missing automated or human record")
	}
}

func TestReScoreCombinedMeetsThreshold(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)
	advanceToReverifying(t, sub, 2.8)

	// human score 3, re-score 4.5 gives combined 3.75
	outcome, err := sub.RecordReScore(AutomatedScore{Score: 4.5}, false)
	if err != nil {
		t.Fatalf("RecordReScore: %v", err)
	}
	if outcome != OutcomeFinalized {
		t.Fatalf("outcome = %d, want finalized", outcome)
	}
	if sub.Status != SubTaskIterationComplete {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskIterationComplete)
	}
	iter := sub.CurrentIterationRecord()
	if iter.CombinedScore != 3.75 {
		t.Fatalf("combined score = %.2f, want 3.75", iter.CombinedScore)
	}
	if iter.FinalReason != FinalThresholdMet {
		t.Fatalf("final reason = %s", iter.FinalReason)
	}
	if sub.CurrentIteration != 1 {
		t.Fatalf("current iteration = %d, want 1", sub.CurrentIteration)
	}
	if err := sub.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sub.Status != SubTaskFinalized {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskFinalized)
	}
}

func TestReScoreOpensNextIteration(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)
	advanceToReverifying(t, sub, 2.8)

	outcome, err := sub.RecordReScore(AutomatedScore{Score: 3}, false)
	if err != nil {
		t.Fatalf("RecordReScore: %v", err)
	}
	if outcome != OutcomeNextIteration {
		t.Fatalf("outcome = %d, want next iteration", outcome)
	}
	if sub.Status != SubTaskLLMVerifying {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskLLMVerifying)
	}
	if sub.CurrentIteration != 2 {
		t.Fatalf("current iteration = %d, want 2", sub.CurrentIteration)
	}
	if len(sub.Iterations) != 2 {
		t.Fatalf("iterations = %d, want 2", len(sub.Iterations))
	}
	prev := sub.Iterations[0]
	if !prev.NeedsAnotherIteration {
		t.Fatal("previous iteration not marked as needing another pass")
	}
	if prev.CompletedAt.IsZero() {
		t.Fatal("previous iteration completion time not set")
	}
	if sub.TranslatedText == "" {
		t.Fatal("translated text dropped on re-verify iteration")
	}
}

func TestReScoreRetranslateRestartsAtTranslation(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)
	advanceToReverifying(t, sub, 2.8)

	outcome, err := sub.RecordReScore(AutomatedScore{Score: 3}, true)
	if err != nil {
		t.Fatalf("RecordReScore: %v", err)
	}
	if outcome != OutcomeNextIteration {
		t.Fatalf("outcome = %d, want next iteration", outcome)
	}
	if sub.Status != SubTaskTranslating {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskTranslating)
	}
}

func TestIterationNeverExceedsMax(t *testing.T) {
	sub := newSubTask(t, 2, 4.9)

	for round := 0; round < 2; round++ {
		if round == 0 {
			advanceToReverifying(t, sub, 2)
		} else {
			if err := sub.BeginVerification(); err != nil {
				t.Fatalf("BeginVerification round %d: %v", round, err)
			}
			if err := sub.RecordAutomatedScore(AutomatedScore{Score: 2}); err != nil {
				t.Fatalf("RecordAutomatedScore round %d: %v", round, err)
			}
			if _, err := sub.ResolveVerification(); err != nil {
				t.Fatalf("ResolveVerification round %d: %v", round, err)
			}
			if err := sub.QueueForReview("batch-2"); err != nil {
				t.Fatalf("QueueForReview round %d: %v", round, err)
			}
			if err := sub.ActivateReview(); err != nil {
				t.Fatalf("ActivateReview round %d: %v", round, err)
			}
			if err := sub.CompleteHumanReview(HumanReview{StudyID: "study-2", Score: 2}); err != nil {
				t.Fatalf("CompleteHumanReview round %d: %v", round, err)
			}
			if err := sub.BeginReVerification(); err != nil {
				t.Fatalf("BeginReVerification round %d: %v", round, err)
			}
		}
		outcome, err := sub.RecordReScore(AutomatedScore{Score: 2}, false)
		if err != nil {
			t.Fatalf("RecordReScore round %d: %v", round, err)
		}
		if round == 0 && outcome != OutcomeNextIteration {
			t.Fatalf("round 0 outcome = %d, want next iteration", outcome)
		}
		if round == 1 && outcome != OutcomeFinalized {
			t.Fatalf("round 1 outcome = %d, want finalized", outcome)
		}
	}

	if sub.CurrentIteration != sub.MaxIterations {
		t.Fatalf("current iteration = %d, want %d", sub.CurrentIteration, sub.MaxIterations)
	}
	if sub.CurrentIterationRecord().FinalReason != FinalMaxIterationsHit {
		t.Fatalf("final reason = %s, want %s", sub.CurrentIterationRecord().FinalReason, FinalMaxIterationsHit)
	}
	if sub.Status != SubTaskIterationComplete {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskIterationComplete)
	}
	if err := sub.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sub.Status != SubTaskFinalized {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskFinalized)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)

	cases := []struct {
		name string
		call func() error
	}{
		{"complete translation from pending", func() error { return sub.CompleteTranslation("x") }},
		{"begin verification from pending", func() error { return sub.BeginVerification() }},
		{"record score from pending", func() error { return sub.RecordAutomatedScore(AutomatedScore{Score: 4}) }},
		{"queue for review from pending", func() error { return sub.QueueForReview("b") }},
		{"activate review from pending", func() error { return sub.ActivateReview() }},
		{"complete human review from pending", func() error { return sub.CompleteHumanReview(HumanReview{Score: 3}) }},
		{"begin re-verification from pending", func() error { return sub.BeginReVerification() }},
		{"finalize from pending", func() error { return sub.Finalize() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("err = %v, want ErrIllegalTransition", err)
			}
		})
	}
	if sub.Status != SubTaskPending {
		t.Fatalf("status changed to %s by rejected transitions", sub.Status)
	}
}

func TestDuplicateBeginTranslationIsIdempotent(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)
	if err := sub.BeginTranslation(); err != nil {
		t.Fatalf("first BeginTranslation: %v", err)
	}
	if err := sub.BeginTranslation(); err != nil {
		t.Fatalf("redelivered BeginTranslation: %v", err)
	}
	if sub.Status != SubTaskTranslating {
		t.Fatalf("status = %s", sub.Status)
	}
}

func TestFailFromAnyNonTerminalState(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)
	advanceToReverifying(t, sub, 2.8)

	sub.Fail("provider unavailable after retries")
	if sub.Status != SubTaskFailed {
		t.Fatalf("status = %s, want %s", sub.Status, SubTaskFailed)
	}
	if sub.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	if sub.CurrentIterationRecord().FinalReason != FinalFailed {
		t.Fatalf("final reason = %s", sub.CurrentIterationRecord().FinalReason)
	}

	// failing again must not clobber the terminal record
	sub.Fail("second cause")
	if sub.ErrorMessage != "provider unavailable after retries" {
		t.Fatalf("error message overwritten: %q", sub.ErrorMessage)
	}
}

func TestFinalizedExactlyOnce(t *testing.T) {
	sub := newSubTask(t, 3, 3.5)
	advanceToReverifying(t, sub, 2.8)
	if _, err := sub.RecordReScore(AutomatedScore{Score: 5}, false); err != nil {
		t.Fatalf("RecordReScore: %v", err)
	}
	if _, err := sub.RecordReScore(AutomatedScore{Score: 5}, false); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("second re-score err = %v, want ErrIllegalTransition", err)
	}
	if err := sub.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := sub.Finalize(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("second finalize err = %v, want ErrIllegalTransition", err)
	}
	reasons := 0
	for _, iter := range sub.Iterations {
		if iter.FinalReason != "" {
			reasons++
		}
	}
	if reasons != 1 {
		t.Fatalf("final reasons recorded = %d, want 1", reasons)
	}
}
