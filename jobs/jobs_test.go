package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	"github.com/webprice/webprice-analyzer/internal/workspace"
)

type fakeRunner struct {
	sessions []string
	state    workspace.State
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, sessionID string) (workspace.State, error) {
	f.sessions = append(f.sessions, sessionID)
	return f.state, f.err
}

func TestNewAnalysisRunTask(t *testing.T) {
	task, err := NewAnalysisRunTask("abc")
	require.NoError(t, err)
	assert.Equal(t, "analysis:run", task.Type())

	var payload AnalysisRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "abc", payload.SessionID)

	_, err = NewAnalysisRunTask(" ")
	assert.Error(t, err)
}

func TestAnalysisRunJobRunsSession(t *testing.T) {
	runner := &fakeRunner{state: workspace.State{Phase: workspace.PhaseDisplaying}}
	job := NewAnalysisRunJob(runner, nil)

	task, err := NewAnalysisRunTask("abc")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []string{"abc"}, runner.sessions)
}

func TestAnalysisRunJobSkipsBadPayload(t *testing.T) {
	runner := &fakeRunner{}
	job := NewAnalysisRunJob(runner, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskAnalysisRun, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskAnalysisRun, []byte(`{"session_id":""}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.sessions)
}

func TestAnalysisRunJobOutcomes(t *testing.T) {
	cases := map[string]struct {
		err     error
		wantErr bool
	}{
		"stale run":    {err: workspace.ErrNotSubmitting},
		"missing file": {err: workspace.ErrNoFileSelected},
		"backend 500":  {err: &analysis.StatusError{StatusCode: 500}},
		"unreachable":  {err: &analysis.UnreachableError{Err: errors.New("refused")}},
		"malformed":    {err: analysis.ErrMalformedResult},
		"redis down":   {err: errors.New("dial tcp: connection refused"), wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			job := NewAnalysisRunJob(&fakeRunner{err: tc.err}, nil)
			task, err := NewAnalysisRunTask("abc")
			require.NoError(t, err)
			err = job.Handle(context.Background(), task)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAnalysisRunJobNotConfigured(t *testing.T) {
	var job *AnalysisRunJob
	task, err := NewAnalysisRunTask("abc")
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

func TestNewWorkerRegistersHandlers(t *testing.T) {
	job := NewAnalysisRunJob(&fakeRunner{}, nil)
	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers: []TaskHandler{
			{Type: TaskAnalysisRun, Handler: job.Handle},
			{Type: "", Handler: job.Handle},
		},
	})
	require.NoError(t, err)

	task, err := NewAnalysisRunTask("abc")
	require.NoError(t, err)
	_, pattern := worker.mux.Handler(task)
	assert.Equal(t, TaskAnalysisRun, pattern)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0}`, rr.Body.String())
}
