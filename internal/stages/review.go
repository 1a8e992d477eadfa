package stages

import (
	"context"

	"glossa/internal/logging"
	"glossa/internal/metrics"
	"glossa/internal/services/score"
	"glossa/internal/stage"
	"glossa/internal/store"
	"glossa/internal/task"
	"glossa/internal/webhook"
)

// reviewHandler re-scores a translation after human review and decides
// whether the sub-task finalizes or enters another iteration.
type reviewHandler struct {
	deps *Deps
}

func (h *reviewHandler) Stage() store.Stage {
	return store.StageReview
}

func (h *reviewHandler) Execute(ctx context.Context, msg *store.QueueMessage) error {
	t, sub, err := h.deps.loadPair(ctx, msg)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, h.deps.Logger)

	switch sub.Status {
	case task.SubTaskReviewComplete, task.SubTaskLLMReverifying:
	default:
		logger.Debug("review message skipped",
			logging.String("status", string(sub.Status)))
		return nil
	}

	if err := sub.BeginReVerification(); err != nil {
		return err
	}
	if err := h.deps.saveSubTask(ctx, "review", sub); err != nil {
		return err
	}

	iter := sub.CurrentIterationRecord()
	var humanFeedback string
	if iter != nil && iter.Human != nil {
		humanFeedback = iter.Human.Feedback
	}
	reScore, err := h.deps.Scorer.Score(ctx, score.Request{
		SourceText:     t.SourceText,
		TranslatedText: sub.TranslatedText,
		SourceLanguage: t.SourceLanguage,
		TargetLanguage: sub.Language,
		Editorial:      t.Editorial,
		HumanFeedback:  humanFeedback,
	})
	if err != nil {
		return err
	}

	outcome, err := sub.RecordReScore(reScore, h.deps.Cfg.Pipeline.RetranslateOnIteration)
	if err != nil {
		return err
	}
	if outcome == task.OutcomeFinalized {
		if err := sub.Finalize(); err != nil {
			return err
		}
	}
	if err := h.deps.saveSubTask(ctx, "review", sub); err != nil {
		return err
	}

	h.deps.publish(webhook.EventReviewCompleted, msg.TaskID, msg.Language, map[string]any{
		"re_score": reScore.Score,
	})

	switch outcome {
	case task.OutcomeFinalized:
		record := sub.CurrentIterationRecord()
		metrics.SubTaskFinalized(string(record.FinalReason))
		h.deps.publish(webhook.EventSubTaskFinalized, msg.TaskID, msg.Language, map[string]any{
			"final_reason":   string(record.FinalReason),
			"combined_score": record.CombinedScore,
		})
		logger.Info("sub-task finalized after review",
			logging.String("final_reason", string(record.FinalReason)),
			logging.Float64("combined_score", record.CombinedScore))
		return h.deps.refreshParent(ctx, t.ID)
	case task.OutcomeNextIteration:
		nextStage := store.StageVerify
		if h.deps.Cfg.Pipeline.RetranslateOnIteration {
			nextStage = store.StageTranslate
		}
		logger.Info("sub-task entering next iteration",
			logging.Int(logging.FieldIteration, sub.CurrentIteration),
			logging.String(logging.FieldStage, string(nextStage)))
		if _, err := h.deps.Store.Enqueue(ctx, msg.TaskID, msg.Language, nextStage, 0); err != nil {
			return err
		}
		return h.deps.refreshParent(ctx, t.ID)
	}
	return nil
}

func (h *reviewHandler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.deps.Scorer.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("review", err.Error())
	}
	return stage.Healthy("review")
}
