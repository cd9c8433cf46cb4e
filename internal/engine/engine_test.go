package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("mkt-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertMarketplaceConfig(ctx, "mkt-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func postJob(t *testing.T, env testEnv) domain.Job {
	t.Helper()
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		ClientID:    "client-1",
		ClientName:  "Carla",
		Title:       "Deep clean apartment",
		Description: "Two bedrooms, one bath",
		JobType:     "cleaning",
		Pay:         120,
		ActorID:     "client-1",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		ClientID: "client-1",
		Title:    "x",
		JobType:  "skydiving",
		Pay:      0,
		ActorID:  "client-1",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// title, job type, pay and description should all be reported at once
	if len(verr.Issues) != 4 {
		t.Fatalf("expected 4 issues, got %d: %v", len(verr.Issues), verr.Issues)
	}
}

func TestCreateJobStartsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	if j.Status != domain.JobStatusActive {
		t.Fatalf("status = %s", j.Status)
	}
	if j.WorkflowPhase == nil || *j.WorkflowPhase != domain.PhaseRequestPosted {
		t.Fatalf("phase = %v", j.WorkflowPhase)
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Title != j.Title || got.Pay != j.Pay {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDraftLifecycle(t *testing.T) {
	env := newTestEnv(t)
	// drafts skip validation entirely
	draft, err := env.Engine.CreateDraft(env.Ctx, engine.JobCreateOptions{
		ClientID: "client-1",
		Title:    "",
		JobType:  "",
		ActorID:  "client-1",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if draft.Status != domain.JobStatusDraft || draft.WorkflowPhase != nil {
		t.Fatalf("draft = %+v", draft)
	}
	// publishing an invalid draft fails with the full issue list
	_, ok, err := env.Engine.PublishDraft(env.Ctx, draft.ID, "client-1")
	var verr engine.ValidationError
	if ok || !errors.As(err, &verr) {
		t.Fatalf("expected validation failure, ok=%v err=%v", ok, err)
	}
	// a valid draft publishes to ACTIVE with the workflow started
	draft2, err := env.Engine.CreateDraft(env.Ctx, engine.JobCreateOptions{
		ClientID:    "client-1",
		Title:       "Move a couch",
		Description: "Third floor walk-up",
		JobType:     "moving",
		Pay:         80,
		ActorID:     "client-1",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	published, ok, err := env.Engine.PublishDraft(env.Ctx, draft2.ID, "client-1")
	if err != nil || !ok {
		t.Fatalf("publish: ok=%v err=%v", ok, err)
	}
	if published.Status != domain.JobStatusActive {
		t.Fatalf("status = %s", published.Status)
	}
	if published.WorkflowPhase == nil || *published.WorkflowPhase != domain.PhaseRequestPosted {
		t.Fatalf("phase = %v", published.WorkflowPhase)
	}
	// publishing twice is a no-op
	if _, ok, err := env.Engine.PublishDraft(env.Ctx, draft2.ID, "client-1"); ok || err != nil {
		t.Fatalf("second publish: ok=%v err=%v", ok, err)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	ok, err := env.Engine.UpdateJobStatus(env.Ctx, j.ID, domain.JobStatusInProgress, "client-1")
	if err != nil || !ok {
		t.Fatalf("to IN_PROGRESS: ok=%v err=%v", ok, err)
	}
	// backwards and same-ordinal moves are refused
	for _, status := range []string{domain.JobStatusActive, domain.JobStatusApplied, domain.JobStatusInProgress} {
		ok, err := env.Engine.UpdateJobStatus(env.Ctx, j.ID, status, "client-1")
		if err != nil {
			t.Fatalf("update to %s: %v", status, err)
		}
		if ok {
			t.Fatalf("regression to %s accepted", status)
		}
	}
	// cancellation is not reachable through the generic path
	if ok, _ := env.Engine.UpdateJobStatus(env.Ctx, j.ID, domain.JobStatusCancelled, "client-1"); ok {
		t.Fatal("generic update reached CANCELLED")
	}
	// unknown values are rejected
	if ok, _ := env.Engine.UpdateJobStatus(env.Ctx, j.ID, "PAUSED", "client-1"); ok {
		t.Fatal("unknown status accepted")
	}
	ok, err = env.Engine.UpdateJobStatus(env.Ctx, j.ID, domain.JobStatusCompleted, "client-1")
	if err != nil || !ok {
		t.Fatalf("to COMPLETED: ok=%v err=%v", ok, err)
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsCompleted || got.CompletedAt == nil {
		t.Fatalf("completion fields not set: %+v", got)
	}
}

func TestCancelJobPenalty(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: "worker-1", WorkerName: "Wes"}); err != nil || !ok {
		t.Fatalf("apply: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.SelectWorker(env.Ctx, j.ID, "worker-1", "client-1"); err != nil || !ok {
		t.Fatalf("select: ok=%v err=%v", ok, err)
	}
	// cancelling from IN_PROGRESS charges the configured rate
	ok, err := env.Engine.CancelJob(env.Ctx, j.ID, "change of plans", "client-1")
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if got.CancelPenalty == nil || *got.CancelPenalty != 12 {
		t.Fatalf("penalty = %v", got.CancelPenalty)
	}
	if got.CancelReason == nil || *got.CancelReason != "change of plans" {
		t.Fatalf("reason = %v", got.CancelReason)
	}
	// cancelling a cancelled job is a no-op
	if ok, err := env.Engine.CancelJob(env.Ctx, j.ID, "again", "client-1"); ok || err != nil {
		t.Fatalf("second cancel: ok=%v err=%v", ok, err)
	}
	// the assigned worker hears about it
	feed, err := env.Engine.Notifications(env.Ctx, "worker-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range feed {
		if n.Type == domain.NotifyJobCancelled {
			found = true
		}
	}
	if !found {
		t.Fatal("worker never notified of cancellation")
	}
}

func TestCancelCompletedJobRefused(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	if ok, err := env.Engine.UpdateJobStatus(env.Ctx, j.ID, domain.JobStatusCompleted, "client-1"); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.CancelJob(env.Ctx, j.ID, "too late", "client-1"); ok || err != nil {
		t.Fatalf("cancel completed: ok=%v err=%v", ok, err)
	}
}

func TestInvoiceIdempotent(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	ok, err := env.Engine.CreateInvoice(env.Ctx, j.ID, "inv-1", "client-1")
	if err != nil || !ok {
		t.Fatalf("invoice: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.CreateInvoice(env.Ctx, j.ID, "inv-2", "client-1"); ok || err != nil {
		t.Fatalf("second invoice: ok=%v err=%v", ok, err)
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.InvoiceID == nil || *got.InvoiceID != "inv-1" {
		t.Fatalf("invoice id = %v", got.InvoiceID)
	}
}

func TestApplicationRound(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	app, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: "worker-1", WorkerName: "Wes", Message: "Can start today"})
	if err != nil || !ok {
		t.Fatalf("apply: ok=%v err=%v", ok, err)
	}
	if app.Status != domain.ApplicationPending {
		t.Fatalf("status = %s", app.Status)
	}
	// first application flips the job to APPLIED / OFFERS_RECEIVED
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobStatusApplied {
		t.Fatalf("job status = %s", got.Status)
	}
	if got.WorkflowPhase == nil || *got.WorkflowPhase != domain.PhaseOffersReceived {
		t.Fatalf("phase = %v", got.WorkflowPhase)
	}
	// duplicate pending applications are refused
	if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: "worker-1"}); ok || err != nil {
		t.Fatalf("duplicate apply: ok=%v err=%v", ok, err)
	}
	// the client got an actionable notification
	feed, err := env.Engine.Notifications(env.Ctx, "client-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].Type != domain.NotifyJobApplication || !feed[0].ActionRequired {
		t.Fatalf("client feed = %+v", feed)
	}
}

func TestSelectWorkerRejectsEveryoneElse(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	for _, w := range []string{"worker-1", "worker-2", "worker-3"} {
		if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: w}); err != nil || !ok {
			t.Fatalf("apply %s: ok=%v err=%v", w, ok, err)
		}
	}
	if ok, err := env.Engine.SelectWorker(env.Ctx, j.ID, "worker-2", "client-1"); err != nil || !ok {
		t.Fatalf("select: ok=%v err=%v", ok, err)
	}
	apps, err := env.Engine.ApplicationsByJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	selected := 0
	for _, a := range apps {
		switch a.WorkerID {
		case "worker-2":
			if a.Status != domain.ApplicationSelected || a.SelectedAt == nil {
				t.Fatalf("winner = %+v", a)
			}
			selected++
		default:
			if a.Status != domain.ApplicationRejected {
				t.Fatalf("loser %s = %s", a.WorkerID, a.Status)
			}
		}
	}
	if selected != 1 {
		t.Fatalf("selected count = %d", selected)
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobStatusInProgress || got.WorkerID == nil || *got.WorkerID != "worker-2" {
		t.Fatalf("job after select = %+v", got)
	}
	// the timeline was seeded at its first stage
	tl, err := env.Engine.GetTimeline(env.Ctx, j.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if tl.CurrentStage != domain.StageJobAccepted || len(tl.Events) != 1 {
		t.Fatalf("timeline = %+v", tl)
	}
	// a second selection is refused outright
	if ok, err := env.Engine.SelectWorker(env.Ctx, j.ID, "worker-3", "client-1"); ok || err != nil {
		t.Fatalf("second select: ok=%v err=%v", ok, err)
	}
	winner, err := env.Engine.IsSelected(env.Ctx, j.ID, "worker-2")
	if err != nil || !winner {
		t.Fatalf("IsSelected winner: %v %v", winner, err)
	}
	loser, err := env.Engine.IsSelected(env.Ctx, j.ID, "worker-1")
	if err != nil || loser {
		t.Fatalf("IsSelected loser: %v %v", loser, err)
	}
	// rejected workers heard the bad news, the winner the good
	for _, tc := range []struct {
		worker string
		want   string
	}{
		{"worker-1", domain.NotifyJobRejected},
		{"worker-2", domain.NotifyJobSelected},
		{"worker-3", domain.NotifyJobRejected},
	} {
		feed, err := env.Engine.NotificationsByType(env.Ctx, tc.worker, tc.want)
		if err != nil {
			t.Fatal(err)
		}
		if len(feed) != 1 {
			t.Fatalf("%s feed for %s = %d entries", tc.worker, tc.want, len(feed))
		}
	}
}

func TestWithdrawOnlyPending(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: "worker-1"}); err != nil || !ok {
		t.Fatalf("apply: ok=%v err=%v", ok, err)
	}
	ok, err := env.Engine.Withdraw(env.Ctx, j.ID, "worker-1")
	if err != nil || !ok {
		t.Fatalf("withdraw: ok=%v err=%v", ok, err)
	}
	// a withdrawn application cannot be withdrawn again or selected
	if ok, err := env.Engine.Withdraw(env.Ctx, j.ID, "worker-1"); ok || err != nil {
		t.Fatalf("second withdraw: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.SelectWorker(env.Ctx, j.ID, "worker-1", "client-1"); ok || err != nil {
		t.Fatalf("select withdrawn: ok=%v err=%v", ok, err)
	}
	open, err := env.Engine.OpenApplications(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("open applications = %d", len(open))
	}
}

func TestRejectWorkerKeepsRoundOpen(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	for _, w := range []string{"worker-1", "worker-2"} {
		if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: w}); err != nil || !ok {
			t.Fatalf("apply %s: ok=%v err=%v", w, ok, err)
		}
	}
	if ok, err := env.Engine.RejectWorker(env.Ctx, j.ID, "worker-1", "client-1"); err != nil || !ok {
		t.Fatalf("reject: ok=%v err=%v", ok, err)
	}
	open, err := env.Engine.OpenApplications(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].WorkerID != "worker-2" {
		t.Fatalf("open = %+v", open)
	}
	// the remaining worker can still win
	if ok, err := env.Engine.SelectWorker(env.Ctx, j.ID, "worker-2", "client-1"); err != nil || !ok {
		t.Fatalf("select survivor: ok=%v err=%v", ok, err)
	}
}

func TestTimelineForwardOnly(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: "worker-1"}); err != nil || !ok {
		t.Fatalf("apply: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.SelectWorker(env.Ctx, j.ID, "worker-1", "client-1"); err != nil || !ok {
		t.Fatalf("select: ok=%v err=%v", ok, err)
	}
	steps := []string{domain.StageWorkerOnTheWay, domain.StageWorkerStarted}
	for _, s := range steps {
		if ok, err := env.Engine.AdvanceStage(env.Ctx, j.ID, s, "", "worker-1", "Wes"); err != nil || !ok {
			t.Fatalf("advance %s: ok=%v err=%v", s, ok, err)
		}
	}
	// moving backwards is refused
	if ok, err := env.Engine.AdvanceStage(env.Ctx, j.ID, domain.StageWorkerOnTheWay, "", "worker-1", "Wes"); ok || err != nil {
		t.Fatalf("backwards advance: ok=%v err=%v", ok, err)
	}
	// unknown stages are refused
	if ok, err := env.Engine.AdvanceStage(env.Ctx, j.ID, "TEA_BREAK", "", "worker-1", "Wes"); ok || err != nil {
		t.Fatalf("unknown stage: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.MarkCompleted(env.Ctx, j.ID, "all done", "worker-1", "Wes"); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobStatusCompleted || !got.IsCompleted {
		t.Fatalf("job after completion = %+v", got)
	}
	if got.TimelineStage == nil || *got.TimelineStage != domain.StageJobCompleted {
		t.Fatalf("timeline stage mirror = %v", got.TimelineStage)
	}
	tl, err := env.Engine.GetTimeline(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tl.CurrentStage != domain.StageJobCompleted {
		t.Fatalf("current stage = %s", tl.CurrentStage)
	}
	// seed event plus three advances
	if len(tl.Events) != 4 {
		t.Fatalf("event count = %d", len(tl.Events))
	}
	// completing twice is a no-op
	if ok, err := env.Engine.MarkCompleted(env.Ctx, j.ID, "again", "worker-1", "Wes"); ok || err != nil {
		t.Fatalf("second complete: ok=%v err=%v", ok, err)
	}
}

func TestTimelineOnePerJob(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	if ok, err := env.Engine.AssignWorker(env.Ctx, j.ID, "worker-1", "Wes", "client-1"); err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}
	// assigning the same worker again must not spawn a second timeline
	if _, err := env.Engine.GetTimeline(env.Ctx, j.ID); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if ok, _ := env.Engine.AssignWorker(env.Ctx, j.ID, "worker-2", "Vic", "client-1"); ok {
		t.Fatal("reassignment to another worker accepted")
	}
}

func TestNotificationsFeed(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.Notify(env.Ctx, domain.Notification{
		RecipientID: "worker-1",
		Type:        domain.NotifyPhaseAdvanced,
		Title:       "hello",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	unread, err := env.Engine.UnreadCount(env.Ctx, "worker-1")
	if err != nil || unread != 1 {
		t.Fatalf("unread = %d err=%v", unread, err)
	}
	ok, err := env.Engine.MarkNotificationRead(env.Ctx, n.ID)
	if err != nil || !ok {
		t.Fatalf("mark read: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.MarkNotificationRead(env.Ctx, "nope"); ok || err != nil {
		t.Fatalf("mark unknown: ok=%v err=%v", ok, err)
	}
	removed, err := env.Engine.ClearNotifications(env.Ctx, "worker-1")
	if err != nil || removed != 1 {
		t.Fatalf("clear = %d err=%v", removed, err)
	}
	feed, err := env.Engine.Notifications(env.Ctx, "worker-1", 0)
	if err != nil || len(feed) != 0 {
		t.Fatalf("feed after clear = %d err=%v", len(feed), err)
	}
}

func TestNotificationFeedOrderStable(t *testing.T) {
	env := newTestEnv(t)
	// The frozen clock stamps every notification with the same created_at,
	// so newest-first has to fall back to insertion order.
	titles := []string{"first", "second", "third"}
	for _, title := range titles {
		if _, err := env.Engine.Notify(env.Ctx, domain.Notification{
			RecipientID: "worker-1",
			Type:        domain.NotifyPhaseAdvanced,
			Title:       title,
		}); err != nil {
			t.Fatalf("notify %q: %v", title, err)
		}
	}
	feed, err := env.Engine.Notifications(env.Ctx, "worker-1", 0)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != len(titles) {
		t.Fatalf("feed length = %d", len(feed))
	}
	for i, n := range feed {
		if want := titles[len(titles)-1-i]; n.Title != want {
			t.Fatalf("feed[%d] = %q, want %q", i, n.Title, want)
		}
	}
}

func TestUnknownJobIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	if ok, err := env.Engine.SelectWorker(env.Ctx, "ghost", "worker-1", "client-1"); ok || err != nil {
		t.Fatalf("select: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.CancelJob(env.Ctx, "ghost", "because", "client-1"); ok || err != nil {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: "ghost", WorkerID: "worker-1"}); ok || err != nil {
		t.Fatalf("apply: ok=%v err=%v", ok, err)
	}
	if _, err := env.Engine.GetJob(env.Ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	if _, err := env.Engine.GetTimeline(env.Ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("timeline: %v", err)
	}
}
