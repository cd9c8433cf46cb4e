package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"selection_closed"`
	Message string         `json:"message" example:"a worker was already selected for this job"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gigline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gigline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerApplications(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)
	registerWorkflow(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var verr engine.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"issues": verr.Issues})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func conflict(code, message string) huma.StatusError {
	return newAPIError(http.StatusConflict, code, message, nil)
}

type JobPath struct {
	JobID string `path:"job_id"`
}

type JobWorkerPath struct {
	JobID    string `path:"job_id"`
	WorkerID string `path:"worker_id"`
}

type jobBody struct {
	Body domain.Job `json:"body"`
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gigline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Marketplace status",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.CountJobsByStatus(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		body := map[string]any{
			"marketplace_id": "",
			"job_counts":     counts,
		}
		if e.Config != nil {
			body["marketplace_id"] = e.Config.Marketplace.ID
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Post a job",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		clientID := input.Body.ClientID
		if clientID == "" {
			clientID = actorID
		}
		opts := engine.JobCreateOptions{
			ID:          input.Body.ID,
			ClientID:    clientID,
			ClientName:  input.Body.ClientName,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			JobType:     input.Body.JobType,
			Pay:         input.Body.Pay,
			Draft:       input.Body.Draft,
			ActorID:     actorID,
		}
		j, err := e.CreateJob(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
		WorkerID string `query:"worker_id"`
		Status   string `query:"status"`
		JobType  string `query:"job_type"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body JobListResponse `json:"body"`
	}, error) {
		jobs, err := e.ListJobs(ctx, repo.JobFilters{
			ClientID: input.ClientID,
			WorkerID: input.WorkerID,
			Status:   input.Status,
			JobType:  input.JobType,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if jobs == nil {
			jobs = []domain.Job{}
		}
		return &struct {
			Body JobListResponse `json:"body"`
		}{Body: JobListResponse{Jobs: jobs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *JobPath) (*jobBody, error) {
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/publish",
		Summary:     "Publish a draft job",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *JobPath) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		j, ok, err := e.PublishDraft(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("not_a_draft", "job is not a draft")
		}
		return &jobBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job-status",
		Method:      http.MethodPatch,
		Path:        "/jobs/{job_id}/status",
		Summary:     "Update job status",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobPath
		Body UpdateStatusRequest `json:"body"`
	}) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.UpdateJobStatus(ctx, input.JobID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("status_transition", "status may only move forward")
		}
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/cancel",
		Summary:     "Cancel a job",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobPath
		Body CancelJobRequest `json:"body"`
	}) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.CancelJob(ctx, input.JobID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("not_cancellable", "job can only be cancelled while ACTIVE or IN_PROGRESS")
		}
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-worker",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/assign",
		Summary:     "Assign a worker directly",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobPath
		Body AssignWorkerRequest `json:"body"`
	}) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.WorkerID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "worker_id is required", nil)
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.AssignWorker(ctx, input.JobID, input.Body.WorkerID, input.Body.WorkerName, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("not_assignable", "job already has a worker or is past assignment")
		}
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-invoice",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/invoice",
		Summary:     "Create the job invoice",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobPath
		Body InvoiceRequest `json:"body"`
	}) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.CreateInvoice(ctx, input.JobID, input.Body.InvoiceID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("invoice_exists", "job already has an invoice")
		}
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "apply",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/applications",
		Summary:       "Apply to a job",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobPath
		Body ApplyRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		workerID := input.Body.WorkerID
		if workerID == "" {
			workerID = actorID
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		app, ok, err := e.Apply(ctx, engine.ApplyOptions{
			JobID:      input.JobID,
			WorkerID:   workerID,
			WorkerName: input.Body.WorkerName,
			Message:    input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("not_open", "job is not accepting applications or you already applied")
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/applications",
		Summary:     "List applications for a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobPath
		Status string `query:"status"`
	}) (*struct {
		Body ApplicationListResponse `json:"body"`
	}, error) {
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		apps, err := e.Repo.ListApplicationsByJob(ctx, input.JobID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if apps == nil {
			apps = []domain.Application{}
		}
		return &struct {
			Body ApplicationListResponse `json:"body"`
		}{Body: ApplicationListResponse{Applications: apps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-worker",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/applications/{worker_id}/select",
		Summary:     "Select the winning application",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *JobWorkerPath) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.SelectWorker(ctx, input.JobID, input.WorkerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("selection_closed", "a worker was already selected or the application is not pending")
		}
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-worker",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/applications/{worker_id}/reject",
		Summary:     "Reject one application",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *JobWorkerPath) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.RejectWorker(ctx, input.JobID, input.WorkerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("not_pending", "application is not pending")
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-application",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/applications/{worker_id}/withdraw",
		Summary:     "Withdraw an application",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *JobWorkerPath) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ok, err := e.Withdraw(ctx, input.JobID, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("not_pending", "application is not pending")
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-applications",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/applications",
		Summary:     "List a worker's applications",
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body ApplicationListResponse `json:"body"`
	}, error) {
		apps, err := e.ApplicationsByWorker(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		if apps == nil {
			apps = []domain.Application{}
		}
		return &struct {
			Body ApplicationListResponse `json:"body"`
		}{Body: ApplicationListResponse{Applications: apps}}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-timeline",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/timeline",
		Summary:     "Get the execution timeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *JobPath) (*struct {
		Body domain.Timeline `json:"body"`
	}, error) {
		t, err := e.GetTimeline(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Timeline `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-stage",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/timeline/advance",
		Summary:     "Advance the execution timeline",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobPath
		Body AdvanceStageRequest `json:"body"`
	}) (*struct {
		Body domain.Timeline `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.AdvanceStage(ctx, input.JobID, input.Body.Stage, input.Body.Message, actorID, input.Body.ActorName)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("stage_order", "stage may only move forward along the chain")
		}
		t, err := e.GetTimeline(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Timeline `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-timeline",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/timeline/complete",
		Summary:     "Mark the work finished",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobPath
		Body CompletionRequest `json:"body"`
	}) (*jobBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ok, err := e.MarkCompleted(ctx, input.JobID, input.Body.Note, actorID, "")
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("already_completed", "work is already marked finished")
		}
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobBody{Body: j}, nil
	})
}

func workflowResponse(j domain.Job) WorkflowResponse {
	resp := WorkflowResponse{
		JobID:      j.ID,
		Phase:      j.WorkflowPhase,
		CanAdvance: engine.CanAdvance(j),
	}
	if j.WorkflowPhase != nil {
		resp.Progress = engine.ProgressPercent(*j.WorkflowPhase)
		if next, ok := engine.NextPhase(*j.WorkflowPhase); ok {
			resp.NextPhase = &next
		}
	}
	return resp
}

func registerWorkflow(api huma.API, e engine.Engine) {
	type workflowBody struct {
		Body WorkflowResponse `json:"body"`
	}
	respond := func(j domain.Job) *workflowBody {
		return &workflowBody{Body: workflowResponse(j)}
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/workflow",
		Summary:     "Workflow phase and progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *JobPath) (*workflowBody, error) {
		j, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(j), nil
	})

	// finish resolves the common (job, ok, err) triple from a workflow step.
	finish := func(j domain.Job, ok bool, err error) (*workflowBody, error) {
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, conflict("phase_order", "workflow is not at the step before this one")
		}
		return respond(j), nil
	}
	check := func(ctx context.Context, jobID string) (string, huma.StatusError) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return "", authErr
		}
		if _, err := e.GetJob(ctx, jobID); err != nil {
			return "", handleError(err)
		}
		return actorID, nil
	}
	stepErrors := []int{http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID: "advance-phase",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/advance",
		Summary:     "Advance the workflow one phase",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *JobPath) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		return finish(e.AdvancePhase(ctx, input.JobID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "upload-evidence",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/evidence",
		Summary:     "Upload work evidence",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		JobPath
		Body EvidenceRequest `json:"body"`
	}) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.Body.Files) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "files are required", nil)
		}
		return finish(e.UploadEvidence(ctx, input.JobID, input.Body.Files, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-completion",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/submit",
		Summary:     "Submit completion",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		JobPath
		Body CompletionRequest `json:"body"`
	}) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		return finish(e.SubmitCompletion(ctx, input.JobID, input.Body.Note, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-completion",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/confirm",
		Summary:     "Confirm completion",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *JobPath) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		return finish(e.ConfirmCompletion(ctx, input.JobID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-payment",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/payment",
		Summary:     "Start payment",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		JobPath
		Body PaymentRequest `json:"body"`
	}) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		return finish(e.StartPayment(ctx, input.JobID, input.Body.Amount, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "upload-payment-proof",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/payment-proof",
		Summary:     "Upload payment proof",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		JobPath
		Body PaymentProofRequest `json:"body"`
	}) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ProofURL == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "proof_url is required", nil)
		}
		return finish(e.UploadPaymentProof(ctx, input.JobID, input.Body.ProofURL, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-receipt",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/receipt",
		Summary:     "Confirm payment receipt",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *JobPath) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		return finish(e.ConfirmReceipt(ctx, input.JobID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-workflow",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/workflow/finalize",
		Summary:     "Finalize the workflow",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *JobPath) (*workflowBody, error) {
		actorID, authErr := check(ctx, input.JobID)
		if authErr != nil {
			return nil, authErr
		}
		return finish(e.FinalizeWorkflow(ctx, input.JobID, actorID))
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List my notifications",
	}, func(ctx context.Context, input *struct {
		Type  string `query:"type"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body NotificationListResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var feed []domain.Notification
		var err error
		if input.Type != "" {
			feed, err = e.NotificationsByType(ctx, actorID, input.Type)
		} else {
			feed, err = e.Notifications(ctx, actorID, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := e.UnreadCount(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if feed == nil {
			feed = []domain.Notification{}
		}
		return &struct {
			Body NotificationListResponse `json:"body"`
		}{Body: NotificationListResponse{Notifications: feed, Unread: unread}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark a notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ok, err := e.MarkNotificationRead(ctx, input.NotificationID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "notification not found", nil)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-notifications",
		Method:      http.MethodDelete,
		Path:        "/notifications",
		Summary:     "Clear my notifications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		removed, err := e.ClearNotifications(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: map[string]int64{"removed": removed}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
	}, func(ctx context.Context, input *struct {
		JobID  string `query:"job_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit"`
		Cursor int64  `query:"cursor"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evts, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.JobID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: evts}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"actor_id": p.ActorID,
			"roles":    p.Roles,
			"source":   p.Source,
		}}, nil
	})
}
