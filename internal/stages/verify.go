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

type verifyHandler struct {
	deps *Deps
}

func (h *verifyHandler) Stage() store.Stage {
	return store.StageVerify
}

func (h *verifyHandler) Execute(ctx context.Context, msg *store.QueueMessage) error {
	t, sub, err := h.deps.loadPair(ctx, msg)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, h.deps.Logger)

	switch sub.Status {
	case task.SubTaskTranslationComplete, task.SubTaskLLMVerifying:
	default:
		logger.Debug("verification message skipped",
			logging.String("status", string(sub.Status)))
		return nil
	}

	if err := sub.BeginVerification(); err != nil {
		return err
	}
	if err := h.deps.saveSubTask(ctx, "verify", sub); err != nil {
		return err
	}

	automated, err := h.deps.Scorer.Score(ctx, score.Request{
		SourceText:     t.SourceText,
		TranslatedText: sub.TranslatedText,
		SourceLanguage: t.SourceLanguage,
		TargetLanguage: sub.Language,
		Editorial:      t.Editorial,
	})
	if err != nil {
		return err
	}

	if err := sub.RecordAutomatedScore(automated); err != nil {
		return err
	}
	finalized, err := sub.ResolveVerification()
	if err != nil {
		return err
	}
	if finalized {
		if err := sub.Finalize(); err != nil {
			return err
		}
	}
	if err := h.deps.saveSubTask(ctx, "verify", sub); err != nil {
		return err
	}

	h.deps.publish(webhook.EventVerificationCompleted, msg.TaskID, msg.Language, map[string]any{
		"iteration": sub.CurrentIteration,
		"score":     automated.Score,
		"finalized": finalized,
	})

	if finalized {
		metrics.SubTaskFinalized(string(task.FinalThresholdMet))
		h.deps.publish(webhook.EventSubTaskFinalized, msg.TaskID, msg.Language, map[string]any{
			"final_reason":   string(task.FinalThresholdMet),
			"combined_score": sub.CurrentIterationRecord().CombinedScore,
		})
		logger.Info("sub-task finalized by automated score",
			logging.Float64("score", automated.Score))
	} else {
		logger.Info("sub-task queued for human review",
			logging.Float64("score", automated.Score),
			logging.Float64("threshold", sub.ConfidenceThreshold))
	}
	return h.deps.refreshParent(ctx, t.ID)
}

func (h *verifyHandler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.deps.Scorer.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("verify", err.Error())
	}
	return stage.Healthy("verify")
}
