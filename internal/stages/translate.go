package stages

import (
	"context"

	"glossa/internal/logging"
	"glossa/internal/services/translate"
	"glossa/internal/stage"
	"glossa/internal/store"
	"glossa/internal/task"
	"glossa/internal/webhook"
)

type translateHandler struct {
	deps *Deps
}

func (h *translateHandler) Stage() store.Stage {
	return store.StageTranslate
}

func (h *translateHandler) Execute(ctx context.Context, msg *store.QueueMessage) error {
	t, sub, err := h.deps.loadPair(ctx, msg)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, h.deps.Logger)

	switch sub.Status {
	case task.SubTaskPending, task.SubTaskTranslating:
	default:
		logger.Debug("translation message skipped",
			logging.String("status", string(sub.Status)))
		return nil
	}

	if err := sub.BeginTranslation(); err != nil {
		return err
	}
	if err := h.deps.saveSubTask(ctx, "translate", sub); err != nil {
		return err
	}
	if err := h.deps.refreshParent(ctx, t.ID); err != nil {
		logger.Warn("refresh parent after translation start", logging.Error(err))
	}

	text, err := h.deps.Translator.Translate(ctx, translate.Request{
		SourceText:       t.SourceText,
		SourceLanguage:   t.SourceLanguage,
		TargetLanguage:   sub.Language,
		Editorial:        t.Editorial,
		ReviewerFeedback: reviewerFeedback(sub),
	})
	if err != nil {
		return err
	}

	if err := sub.CompleteTranslation(text); err != nil {
		return err
	}
	if err := h.deps.saveSubTask(ctx, "translate", sub); err != nil {
		return err
	}

	h.deps.publish(webhook.EventTranslationCompleted, msg.TaskID, msg.Language, map[string]any{
		"iteration": sub.CurrentIteration,
	})
	logger.Info("translation completed",
		logging.Int(logging.FieldIteration, sub.CurrentIteration),
		logging.Int("characters", len(text)))

	if _, err := h.deps.Store.Enqueue(ctx, msg.TaskID, msg.Language, store.StageVerify, 0); err != nil {
		return err
	}
	return nil
}

func (h *translateHandler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.deps.Translator.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("translate", err.Error())
	}
	return stage.Healthy("translate")
}
