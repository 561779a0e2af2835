package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/webprice/webprice-analyzer/internal/workspace"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAnalysisRun runs the pending analysis of one session.
	TaskAnalysisRun = workspace.RunJob
)

// AnalysisRunPayload identifies the session whose file is analysed.
type AnalysisRunPayload struct {
	SessionID string `json:"session_id"`
}

// NewAnalysisRunTask constructs an Asynq task. Runs are never retried: a
// failed run leaves the session idle with an error the user can act on.
func NewAnalysisRunTask(sessionID string) (*asynq.Task, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("jobs: session id required")
	}
	data, err := json.Marshal(AnalysisRunPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnalysisRun, data, asynq.MaxRetry(0), asynq.Queue(QueueDefault)), nil
}
