package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/repository"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// JobHandler handles encode job API endpoints.
type JobHandler struct {
	svc EncodeService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(svc EncodeService) *JobHandler {
	return &JobHandler{svc: svc}
}

// SubmitJobInput is the input for submitting a job.
type SubmitJobInput struct {
	Body encode.Request
}

// JobOutput is the output for single-job endpoints.
type JobOutput struct {
	Body RunResponse
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Status string `query:"status" enum:"pending,running,succeeded,failed,cancelled" doc:"Filter by status"`
	Active bool   `query:"active" doc:"Only runs active in this process, oldest first"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of runs"`
}

// ListJobsBody is the response body for listing jobs.
type ListJobsBody struct {
	Jobs []RunResponse `json:"jobs"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body ListJobsBody
}

// JobIDInput addresses one job.
type JobIDInput struct {
	ID string `path:"id" doc:"Run ID (ULID)"`
}

// ControlJobBody is the response body for cancel and kill.
type ControlJobBody struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// ControlJobOutput is the output for cancel and kill.
type ControlJobOutput struct {
	Body ControlJobBody
}

// JobStatsOutput is the output for the stats endpoint.
type JobStatsOutput struct {
	Body handbrake.ProcessStats
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submitJob",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs",
		Summary:       "Submit job",
		Description:   "Starts an encode. The run waits as pending when the concurrency limit is reached.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusAccepted,
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns recorded runs, newest first",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a run by ID",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Interrupts HandBrakeCLI, letting it finalize the output",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "killJob",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/kill",
		Summary:     "Kill job",
		Description: "Terminates HandBrakeCLI immediately",
		Tags:        []string{"Jobs"},
	}, h.Kill)

	huma.Register(api, huma.Operation{
		OperationID: "getJobStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}/stats",
		Summary:     "Get job process stats",
		Description: "Samples CPU and memory usage of a running HandBrakeCLI",
		Tags:        []string{"Jobs"},
	}, h.Stats)
}

// Submit starts a new run.
func (h *JobHandler) Submit(ctx context.Context, input *SubmitJobInput) (*JobOutput, error) {
	run, err := h.svc.Submit(ctx, input.Body)
	if err != nil {
		return nil, serviceError(err)
	}
	return &JobOutput{Body: RunFromModel(run)}, nil
}

// List returns runs.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	var runs []*models.EncodeRun
	if input.Active {
		runs = h.svc.Active()
		if input.Status != "" {
			filtered := runs[:0]
			for _, r := range runs {
				if string(r.Status) == input.Status {
					filtered = append(filtered, r)
				}
			}
			runs = filtered
		}
		if input.Limit > 0 && len(runs) > input.Limit {
			runs = runs[:input.Limit]
		}
	} else {
		var err error
		runs, err = h.svc.List(ctx, repository.RunFilter{
			Status: models.RunStatus(input.Status),
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, serviceError(err)
		}
	}

	out := &ListJobsOutput{Body: ListJobsBody{Jobs: make([]RunResponse, 0, len(runs))}}
	for _, r := range runs {
		out.Body.Jobs = append(out.Body.Jobs, RunFromModel(r))
	}
	return out, nil
}

// GetByID returns one run.
func (h *JobHandler) GetByID(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	id, err := parseRunID(input.ID)
	if err != nil {
		return nil, err
	}
	run, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, serviceError(err)
	}
	return &JobOutput{Body: RunFromModel(run)}, nil
}

// Cancel interrupts a run.
func (h *JobHandler) Cancel(ctx context.Context, input *JobIDInput) (*ControlJobOutput, error) {
	return h.control(ctx, input.ID, handbrake.ActionCancel, h.svc.Cancel)
}

// Kill terminates a run.
func (h *JobHandler) Kill(ctx context.Context, input *JobIDInput) (*ControlJobOutput, error) {
	return h.control(ctx, input.ID, handbrake.ActionKill, h.svc.Kill)
}

func (h *JobHandler) control(ctx context.Context, rawID, action string, fn func(context.Context, models.ULID) error) (*ControlJobOutput, error) {
	id, err := parseRunID(rawID)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, id); err != nil {
		return nil, serviceError(err)
	}
	return &ControlJobOutput{Body: ControlJobBody{ID: id.String(), Action: action}}, nil
}

// Stats samples a running process.
func (h *JobHandler) Stats(ctx context.Context, input *JobIDInput) (*JobStatsOutput, error) {
	id, err := parseRunID(input.ID)
	if err != nil {
		return nil, err
	}
	stats, err := h.svc.Stats(ctx, id)
	if err != nil {
		return nil, serviceError(err)
	}
	return &JobStatsOutput{Body: stats}, nil
}
