package review_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"glossa/internal/review"
	"glossa/internal/services/crowd"
	"glossa/internal/store"
	"glossa/internal/task"
	"glossa/internal/testsupport"
	"glossa/internal/webhook"
)

type fakeStudies struct {
	mu        sync.Mutex
	disabled  bool
	createErr error
	created   []crowd.CreateStudyRequest
	published []string
}

func (f *fakeStudies) Enabled() bool { return !f.disabled }

func (f *fakeStudies) CreateStudy(_ context.Context, req crowd.CreateStudyRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return fmt.Sprintf("study-%d", len(f.created)), nil
}

func (f *fakeStudies) PublishStudy(_ context.Context, studyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, studyID)
	return nil
}

type memoryEvents struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (m *memoryEvents) Publish(event webhook.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memoryEvents) byType(eventType string) []webhook.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newManager(t *testing.T, studies review.Studies) (*review.Manager, *store.Store, *memoryEvents) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	events := &memoryEvents{}
	return review.NewManager(st, studies, events, cfg, nil), st, events
}

// makeReviewReadyTask creates a persisted task whose single sub-task failed
// automated verification and awaits human review.
func makeReviewReadyTask(t *testing.T, st *store.Store, lang string, editorial task.EditorialContext) *task.Task {
	t.Helper()
	ctx := context.Background()
	parent, err := task.New("The quick brown fox.", "en", []string{lang}, editorial, 2, 4.5)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := st.CreateTask(ctx, parent); err != nil {
		t.Fatalf("create task: %v", err)
	}
	sub := parent.SubTasks[lang]
	if err := sub.BeginTranslation(); err != nil {
		t.Fatalf("begin translation: %v", err)
	}
	if err := sub.CompleteTranslation("El rapido zorro marron."); err != nil {
		t.Fatalf("complete translation: %v", err)
	}
	if err := sub.BeginVerification(); err != nil {
		t.Fatalf("begin verification: %v", err)
	}
	if err := sub.RecordAutomatedScore(task.AutomatedScore{Score: 3.2, ScoredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("record score: %v", err)
	}
	finalized, err := sub.ResolveVerification()
	if err != nil {
		t.Fatalf("resolve verification: %v", err)
	}
	if finalized {
		t.Fatal("sub-task finalized below threshold")
	}
	if err := st.UpdateSubTask(ctx, sub); err != nil {
		t.Fatalf("persist sub-task: %v", err)
	}
	return parent
}

func TestSweepBatchesCompatibleSubTasks(t *testing.T) {
	studies := &fakeStudies{}
	mgr, st, events := newManager(t, studies)
	editorial := task.EditorialContext{Tone: "formal", Audience: "clinicians"}

	first := makeReviewReadyTask(t, st, "es", editorial)
	second := makeReviewReadyTask(t, st, "es", editorial)

	ctx := context.Background()
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(studies.created) != 1 {
		t.Fatalf("studies created = %d, want both sub-tasks in one study", len(studies.created))
	}
	if len(studies.created[0].Items) != 2 {
		t.Fatalf("study items = %d, want 2", len(studies.created[0].Items))
	}
	if len(studies.published) != 1 {
		t.Fatalf("studies published = %d, want 1", len(studies.published))
	}

	for _, parent := range []*task.Task{first, second} {
		got, err := st.GetTask(ctx, parent.ID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		sub := got.SubTasks["es"]
		if sub.Status != task.SubTaskReviewActive {
			t.Errorf("task %s sub-task status = %s, want review_active", parent.ID, sub.Status)
		}
		if len(sub.BatchIDs) != 1 {
			t.Errorf("task %s batch ids = %v, want one entry", parent.ID, sub.BatchIDs)
		}
		if got.StudyIDs["es"] != "study-1" {
			t.Errorf("task %s study ids = %v, want study-1 for es", parent.ID, got.StudyIDs)
		}
		if got.Status != task.StatusReviewActive {
			t.Errorf("task %s status = %s, want review_active", parent.ID, got.Status)
		}
	}

	if queued := events.byType(webhook.EventReviewQueued); len(queued) != 2 {
		t.Fatalf("review.queued events = %d, want 2", len(queued))
	}

	published, err := st.BatchesByStatus(ctx, store.BatchPublished)
	if err != nil {
		t.Fatalf("batches by status: %v", err)
	}
	if len(published) != 1 || published[0].StudyID != "study-1" {
		t.Fatalf("published batches = %+v, want one with study-1", published)
	}
}

func TestSweepSeparatesDifferingEditorialContext(t *testing.T) {
	studies := &fakeStudies{}
	mgr, st, _ := newManager(t, studies)

	makeReviewReadyTask(t, st, "es", task.EditorialContext{Tone: "formal"})
	makeReviewReadyTask(t, st, "es", task.EditorialContext{Tone: "casual"})

	if err := mgr.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(studies.created) != 2 {
		t.Fatalf("studies created = %d, want separate studies per editorial context", len(studies.created))
	}
	for _, req := range studies.created {
		if len(req.Items) != 1 {
			t.Fatalf("study items = %d, want 1", len(req.Items))
		}
	}
}

func TestSweepWithoutCrowdServiceLeavesBatchOpen(t *testing.T) {
	studies := &fakeStudies{disabled: true}
	mgr, st, _ := newManager(t, studies)
	parent := makeReviewReadyTask(t, st, "fr", task.EditorialContext{})

	ctx := context.Background()
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	open, err := st.BatchesByStatus(ctx, store.BatchOpen)
	if err != nil {
		t.Fatalf("batches by status: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open batches = %d, want 1", len(open))
	}
	got, err := st.GetSubTask(ctx, parent.ID, "fr")
	if err != nil {
		t.Fatalf("get sub-task: %v", err)
	}
	if got.Status != task.SubTaskReviewQueued {
		t.Fatalf("sub-task status = %s, want review_queued", got.Status)
	}
}

func TestSweepRetriesFailedStudySubmission(t *testing.T) {
	studies := &fakeStudies{createErr: errors.New("platform unavailable")}
	mgr, st, _ := newManager(t, studies)
	makeReviewReadyTask(t, st, "de", task.EditorialContext{})

	ctx := context.Background()
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	open, err := st.BatchesByStatus(ctx, store.BatchOpen)
	if err != nil {
		t.Fatalf("batches by status: %v", err)
	}
	if len(open) != 1 || open[0].ErrorMsg == "" {
		t.Fatalf("open batches = %+v, want one with the failure recorded", open)
	}

	studies.createErr = nil
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	published, err := st.BatchesByStatus(ctx, store.BatchPublished)
	if err != nil {
		t.Fatalf("batches by status: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("published batches = %d after retry, want 1", len(published))
	}
	if len(studies.created) != 1 {
		t.Fatalf("studies created = %d, want 1", len(studies.created))
	}
}

func TestRecordResultsFeedsVerdictsBack(t *testing.T) {
	studies := &fakeStudies{}
	mgr, st, _ := newManager(t, studies)
	parent := makeReviewReadyTask(t, st, "es", task.EditorialContext{})

	ctx := context.Background()
	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	results := []review.MemberResult{{
		TaskID:      parent.ID.String(),
		Language:    "es",
		Score:       4.0,
		Feedback:    "Minor word choice issues.",
		ReviewerIDs: []string{"rev-1", "rev-2"},
	}}
	if err := mgr.RecordResults(ctx, "study-1", results); err != nil {
		t.Fatalf("record results: %v", err)
	}

	got, err := st.GetSubTask(ctx, parent.ID, "es")
	if err != nil {
		t.Fatalf("get sub-task: %v", err)
	}
	if got.Status != task.SubTaskReviewComplete {
		t.Fatalf("sub-task status = %s, want review_complete", got.Status)
	}
	iter := got.CurrentIterationRecord()
	if iter == nil || iter.Human == nil {
		t.Fatal("human review was not recorded on the current iteration")
	}
	if iter.Human.Score != 4.0 || iter.Human.StudyID != "study-1" {
		t.Fatalf("human review = %+v, want score 4.0 from study-1", iter.Human)
	}

	claimed, err := st.Claim(ctx, "worker-1", 5, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Stage != store.StageReview {
		t.Fatalf("claimed = %+v, want one re-verification message", claimed)
	}

	completed, err := st.BatchesByStatus(ctx, store.BatchCompleted)
	if err != nil {
		t.Fatalf("batches by status: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("completed batches = %d, want 1", len(completed))
	}
	if completed[0].StudyID != "study-1" {
		t.Fatalf("completed batch study id = %q, want study-1 preserved", completed[0].StudyID)
	}
}

func TestRecordResultsUnknownStudy(t *testing.T) {
	mgr, _, _ := newManager(t, &fakeStudies{})
	err := mgr.RecordResults(context.Background(), "missing", nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}
