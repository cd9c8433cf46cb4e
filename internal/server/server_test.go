package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{AllowLegacyActorHeader: true})
}

func newTestServerWithAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("gigline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.UpsertMarketplaceConfig(context.Background(), cfg.Marketplace.ID, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "client-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func postTestJob(t *testing.T, srv *testServer) domain.Job {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"title":       "Paint the fence",
		"description": "White, two coats",
		"job_type":    "repair",
		"pay":         150,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job status %d: %s", res.StatusCode, string(data))
	}
	var j domain.Job
	if err := json.Unmarshal(data, &j); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	return j
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	j := postTestJob(t, srv)

	// worker applies
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/applications", map[string]any{
		"worker_name": "Wes",
	}, map[string]string{"X-Actor-Id": "worker-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apply status %d: %s", res.StatusCode, string(data))
	}

	// client selects the worker
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/applications/worker-1/select", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("select status %d: %s", res.StatusCode, string(data))
	}
	var selected domain.Job
	if err := json.Unmarshal(data, &selected); err != nil {
		t.Fatalf("unmarshal selected: %v", err)
	}
	if selected.Status != domain.JobStatusInProgress {
		t.Fatalf("status after select = %s", selected.Status)
	}

	// a second selection conflicts
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/applications/worker-1/select", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "selection_closed" {
		t.Fatalf("error envelope = %s (err=%v)", string(data), err)
	}

	// worker walks the timeline
	for _, stage := range []string{domain.StageWorkerOnTheWay, domain.StageWorkerStarted} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/timeline/advance", map[string]any{
			"stage": stage,
		}, map[string]string{"X-Actor-Id": "worker-1"})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("advance %s status %d: %s", stage, res.StatusCode, string(data))
		}
	}

	// evidence, then completion
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/workflow/evidence", map[string]any{
		"files": []string{"fence.jpg"},
	}, map[string]string{"X-Actor-Id": "worker-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evidence status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/workflow/submit", map[string]any{
		"note": "done",
	}, map[string]string{"X-Actor-Id": "worker-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	// client confirms, pays, worker confirms receipt, client finalizes
	steps := []struct {
		path  string
		body  any
		actor string
	}{
		{"/workflow/confirm", nil, "client-1"},
		{"/workflow/payment", map[string]any{"amount": 150}, "client-1"},
		{"/workflow/payment-proof", map[string]any{"proof_url": "https://bank/tx/9"}, "client-1"},
		{"/workflow/receipt", nil, "worker-1"},
		{"/workflow/finalize", nil, "client-1"},
	}
	for _, s := range steps {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+s.path, s.body, map[string]string{"X-Actor-Id": s.actor})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", s.path, res.StatusCode, string(data))
		}
	}
	var wf WorkflowResponse
	if err := json.Unmarshal(data, &wf); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	if wf.Phase == nil || *wf.Phase != domain.PhaseWorkflowFinalized || wf.Progress != 100 {
		t.Fatalf("workflow = %+v", wf)
	}

	// worker was paid and told about it
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?type="+domain.NotifyPaymentSent, nil, map[string]string{"X-Actor-Id": "worker-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	var feed NotificationListResponse
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatalf("unmarshal feed: %v", err)
	}
	if len(feed.Notifications) != 1 {
		t.Fatalf("payment notifications = %d", len(feed.Notifications))
	}
}

func TestValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"title":    "x",
		"job_type": "skydiving",
		"pay":      0,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Issues []string `json:"issues"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" || len(envelope.Error.Details.Issues) < 3 {
		t.Fatalf("envelope = %s", string(data))
	}
}

func TestCancelAndStatusGuards(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	j := postTestJob(t, srv)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/jobs/"+j.ID+"/status", map[string]any{
		"status": domain.JobStatusCompleted,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	// regressions are conflicts
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/jobs/"+j.ID+"/status", map[string]any{
		"status": domain.JobStatusActive,
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d: %s", res.StatusCode, string(data))
	}
	// cancelling a completed job is a conflict
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/cancel", map[string]any{
		"reason": "too late",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d: %s", res.StatusCode, string(data))
	}
}

func TestJobScopedRoutesSeeThePathID(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	j := postTestJob(t, srv)

	// every job-scoped route must resolve the created job, not 404
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/assign", map[string]any{
		"worker_id":   "worker-7",
		"worker_name": "Wanda",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	var assigned domain.Job
	if err := json.Unmarshal(data, &assigned); err != nil {
		t.Fatalf("unmarshal assigned: %v", err)
	}
	if assigned.ID != j.ID || assigned.WorkerID == nil || *assigned.WorkerID != "worker-7" {
		t.Fatalf("assigned = %+v", assigned)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/invoice", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("invoice status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+j.ID+"/invoice", map[string]any{}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second invoice = %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+j.ID+"/applications", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list applications status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnknownJobIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs/ghost", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/jobs", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// health stays open
	hres, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer hres.Body.Close()
	if hres.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", hres.StatusCode)
	}
}

func TestDevLoginRoundTrip(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: "test-secret"})
	defer cleanup()
	client := srv.Client()

	// login path is open
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/auth/dev/login",
		bytes.NewReader([]byte(`{"actor_id":"client-9"}`)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("login response = %s (err=%v)", string(data), err)
	}

	// the minted token authenticates, legacy header does not
	mres, mdata := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if mres.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", mres.StatusCode, string(mdata))
	}
	var me struct {
		ActorID string `json:"actor_id"`
		Source  string `json:"source"`
	}
	if err := json.Unmarshal(mdata, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "client-9" || me.Source != "jwt" {
		t.Fatalf("me = %+v", me)
	}
	lres, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if lres.StatusCode != http.StatusUnauthorized {
		t.Fatalf("legacy header accepted without flag: %d", lres.StatusCode)
	}
}
