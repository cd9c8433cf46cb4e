package engine_test

import (
	"testing"

	"gigline/internal/domain"
	"gigline/internal/engine"
)

func TestNextPhaseChain(t *testing.T) {
	phases := domain.Phases()
	for i, p := range phases[:len(phases)-1] {
		next, ok := engine.NextPhase(p)
		if !ok || next != phases[i+1] {
			t.Fatalf("NextPhase(%s) = %s, %v", p, next, ok)
		}
	}
	if _, ok := engine.NextPhase(domain.PhaseWorkflowFinalized); ok {
		t.Fatal("terminal phase has a successor")
	}
	if _, ok := engine.NextPhase("LUNCH"); ok {
		t.Fatal("unknown phase has a successor")
	}
}

func TestProgressPercentMonotone(t *testing.T) {
	prev := 0
	for _, p := range domain.Phases() {
		got := engine.ProgressPercent(p)
		if got <= prev {
			t.Fatalf("progress for %s = %d, not above %d", p, got, prev)
		}
		prev = got
	}
	if prev != 100 {
		t.Fatalf("terminal progress = %d", prev)
	}
}

// walks a job from posting to the stage where the workflow payload
// steps begin.
func jobInProgress(t *testing.T, env testEnv) domain.Job {
	t.Helper()
	j := postJob(t, env)
	if _, ok, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{JobID: j.ID, WorkerID: "worker-1", WorkerName: "Wes"}); err != nil || !ok {
		t.Fatalf("apply: ok=%v err=%v", ok, err)
	}
	if ok, err := env.Engine.SelectWorker(env.Ctx, j.ID, "worker-1", "client-1"); err != nil || !ok {
		t.Fatalf("select: ok=%v err=%v", ok, err)
	}
	for _, s := range []string{domain.StageWorkerOnTheWay, domain.StageWorkerStarted} {
		if ok, err := env.Engine.AdvanceStage(env.Ctx, j.ID, s, "", "worker-1", "Wes"); err != nil || !ok {
			t.Fatalf("advance %s: ok=%v err=%v", s, ok, err)
		}
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.WorkflowPhase == nil || *got.WorkflowPhase != domain.PhaseExecutionProgress {
		t.Fatalf("phase = %v", got.WorkflowPhase)
	}
	return got
}

func TestWorkflowHappyPath(t *testing.T) {
	env := newTestEnv(t)
	j := jobInProgress(t, env)

	// evidence must exist before anything moves past execution
	if _, ok, err := env.Engine.SubmitCompletion(env.Ctx, j.ID, "done", "worker-1"); ok || err != nil {
		t.Fatalf("submit before evidence: ok=%v err=%v", ok, err)
	}
	if _, ok, err := env.Engine.UploadEvidence(env.Ctx, j.ID, nil, "worker-1"); ok || err != nil {
		t.Fatalf("empty evidence: ok=%v err=%v", ok, err)
	}
	j2, ok, err := env.Engine.UploadEvidence(env.Ctx, j.ID, []string{"before.jpg", "after.jpg"}, "worker-1")
	if err != nil || !ok {
		t.Fatalf("upload evidence: ok=%v err=%v", ok, err)
	}
	if !j2.EvidenceUploaded || len(j2.EvidenceFiles) != 2 {
		t.Fatalf("evidence = %+v", j2)
	}
	if *j2.WorkflowPhase != domain.PhaseEvidenceUploaded {
		t.Fatalf("phase = %s", *j2.WorkflowPhase)
	}

	j3, ok, err := env.Engine.SubmitCompletion(env.Ctx, j.ID, "spotless", "worker-1")
	if err != nil || !ok {
		t.Fatalf("submit: ok=%v err=%v", ok, err)
	}
	if j3.CompletionNote == nil || *j3.CompletionNote != "spotless" {
		t.Fatalf("note = %v", j3.CompletionNote)
	}

	if _, ok, err := env.Engine.ConfirmCompletion(env.Ctx, j.ID, "client-1"); err != nil || !ok {
		t.Fatalf("confirm: ok=%v err=%v", ok, err)
	}
	j4, ok, err := env.Engine.StartPayment(env.Ctx, j.ID, 0, "client-1")
	if err != nil || !ok {
		t.Fatalf("start payment: ok=%v err=%v", ok, err)
	}
	// zero amount falls back to the job's pay
	if j4.PaymentAmount == nil || *j4.PaymentAmount != j.Pay {
		t.Fatalf("amount = %v", j4.PaymentAmount)
	}
	j5, ok, err := env.Engine.UploadPaymentProof(env.Ctx, j.ID, "https://bank/receipt/1", "client-1")
	if err != nil || !ok {
		t.Fatalf("payment proof: ok=%v err=%v", ok, err)
	}
	if j5.PaymentProofURL == nil || j5.PaymentDate == nil {
		t.Fatalf("proof fields = %+v", j5)
	}
	// the worker hears about the payment
	sent, err := env.Engine.NotificationsByType(env.Ctx, "worker-1", domain.NotifyPaymentSent)
	if err != nil || len(sent) != 1 {
		t.Fatalf("payment notifications = %d err=%v", len(sent), err)
	}
	j6, ok, err := env.Engine.ConfirmReceipt(env.Ctx, j.ID, "worker-1")
	if err != nil || !ok {
		t.Fatalf("receipt: ok=%v err=%v", ok, err)
	}
	if j6.ReceiptConfirmedAt == nil {
		t.Fatal("receipt timestamp missing")
	}
	j7, ok, err := env.Engine.FinalizeWorkflow(env.Ctx, j.ID, "client-1")
	if err != nil || !ok {
		t.Fatalf("finalize: ok=%v err=%v", ok, err)
	}
	if *j7.WorkflowPhase != domain.PhaseWorkflowFinalized || j7.FinalizedAt == nil {
		t.Fatalf("final = %+v", j7)
	}
	// finalization created the invoice exactly once
	if !j7.InvoiceCreated || j7.InvoiceID == nil {
		t.Fatalf("invoice = %+v", j7)
	}
	if _, ok, err := env.Engine.FinalizeWorkflow(env.Ctx, j.ID, "client-1"); ok || err != nil {
		t.Fatalf("second finalize: ok=%v err=%v", ok, err)
	}
	if engine.ProgressPercent(*j7.WorkflowPhase) != 100 {
		t.Fatalf("progress = %d", engine.ProgressPercent(*j7.WorkflowPhase))
	}
}

func TestWorkflowStepsRefuseOutOfOrder(t *testing.T) {
	env := newTestEnv(t)
	j := jobInProgress(t, env)
	// every later step is refused while execution is still running
	if _, ok, err := env.Engine.ConfirmCompletion(env.Ctx, j.ID, "client-1"); ok || err != nil {
		t.Fatalf("confirm early: ok=%v err=%v", ok, err)
	}
	if _, ok, err := env.Engine.StartPayment(env.Ctx, j.ID, 50, "client-1"); ok || err != nil {
		t.Fatalf("payment early: ok=%v err=%v", ok, err)
	}
	if _, ok, err := env.Engine.UploadPaymentProof(env.Ctx, j.ID, "https://x", "client-1"); ok || err != nil {
		t.Fatalf("proof early: ok=%v err=%v", ok, err)
	}
	if _, ok, err := env.Engine.ConfirmReceipt(env.Ctx, j.ID, "worker-1"); ok || err != nil {
		t.Fatalf("receipt early: ok=%v err=%v", ok, err)
	}
	if _, ok, err := env.Engine.FinalizeWorkflow(env.Ctx, j.ID, "client-1"); ok || err != nil {
		t.Fatalf("finalize early: ok=%v err=%v", ok, err)
	}
}

func TestAdvancePhaseGeneric(t *testing.T) {
	env := newTestEnv(t)
	j := postJob(t, env)
	j2, ok, err := env.Engine.AdvancePhase(env.Ctx, j.ID, "client-1")
	if err != nil || !ok {
		t.Fatalf("advance: ok=%v err=%v", ok, err)
	}
	if *j2.WorkflowPhase != domain.PhaseOffersReceived {
		t.Fatalf("phase = %s", *j2.WorkflowPhase)
	}
	// the generic step still honors the evidence gate
	env2 := newTestEnv(t)
	g := jobInProgress(t, env2)
	if _, ok, err := env2.Engine.AdvancePhase(env2.Ctx, g.ID, "client-1"); ok || err != nil {
		t.Fatalf("advance past gate: ok=%v err=%v", ok, err)
	}
	// unknown job is a silent no-op
	if _, ok, err := env.Engine.AdvancePhase(env.Ctx, "ghost", "client-1"); ok || err != nil {
		t.Fatalf("advance ghost: ok=%v err=%v", ok, err)
	}
}

func TestTimelineCompletionWaitsForEvidence(t *testing.T) {
	env := newTestEnv(t)
	j := jobInProgress(t, env)
	// completing the work without evidence finishes the job but leaves
	// the workflow waiting at execution
	if ok, err := env.Engine.MarkCompleted(env.Ctx, j.ID, "", "worker-1", "Wes"); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	got, err := env.Engine.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if *got.WorkflowPhase != domain.PhaseExecutionProgress {
		t.Fatalf("phase = %s", *got.WorkflowPhase)
	}
	// with evidence the same completion submits the workflow too
	env2 := newTestEnv(t)
	k := jobInProgress(t, env2)
	if _, ok, err := env2.Engine.UploadEvidence(env2.Ctx, k.ID, []string{"proof.jpg"}, "worker-1"); err != nil || !ok {
		t.Fatalf("evidence: ok=%v err=%v", ok, err)
	}
	if ok, err := env2.Engine.MarkCompleted(env2.Ctx, k.ID, "", "worker-1", "Wes"); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	got2, err := env2.Engine.GetJob(env2.Ctx, k.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *got2.WorkflowPhase != domain.PhaseCompletionSubmit {
		t.Fatalf("phase = %s", *got2.WorkflowPhase)
	}
}
