package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	"github.com/webprice/webprice-analyzer/internal/workspace"
)

// Runner performs a session's pending analysis.
type Runner interface {
	Run(ctx context.Context, sessionID string) (workspace.State, error)
}

// AnalysisRunJob processes TaskAnalysisRun tasks on the worker.
type AnalysisRunJob struct {
	Runner Runner
	Logger *slog.Logger
}

// NewAnalysisRunJob wires dependencies for the analysis handler.
func NewAnalysisRunJob(runner Runner, logger *slog.Logger) *AnalysisRunJob {
	return &AnalysisRunJob{Runner: runner, Logger: logger}
}

// Handle runs the analysis named by the task payload.
func (j *AnalysisRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("analysis run: handler not configured")
	}
	var payload AnalysisRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger().Warn("invalid analysis payload", slog.Any("error", err))
		return fmt.Errorf("analysis run: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.SessionID) == "" {
		return fmt.Errorf("analysis run: empty session id: %w", asynq.SkipRetry)
	}

	state, err := j.Runner.Run(ctx, payload.SessionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, workspace.ErrNotSubmitting):
		// Reset or already finished by another delivery.
		j.logger().Info("analysis run skipped", slog.String("phase", string(state.Phase)))
		return nil
	case workspace.IsInputError(err), isBackendFailure(err):
		// The outcome is stored on the session; nothing left to retry.
		return nil
	default:
		return err
	}
}

func (j *AnalysisRunJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func isBackendFailure(err error) bool {
	var status *analysis.StatusError
	var unreachable *analysis.UnreachableError
	return errors.As(err, &status) || errors.As(err, &unreachable) || analysis.IsMalformed(err)
}
