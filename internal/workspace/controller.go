package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	jobmetrics "github.com/webprice/webprice-analyzer/internal/jobs"
)

// Dispatch selects where Submit runs the analysis.
type Dispatch string

const (
	DispatchInline Dispatch = "inline"
	DispatchQueue  Dispatch = "queue"
)

// DefaultMaxUploadBytes caps the size of a selected file.
const DefaultMaxUploadBytes = 10 << 20

// DefaultStaleAfter bounds how long a run may stay submitting before it is
// considered lost.
const DefaultStaleAfter = 10 * time.Minute

// RunJob names analysis runs in job metrics and logs.
const RunJob = "analysis:run"

// Analyzer submits a file to the analysis backend.
type Analyzer interface {
	Analyze(ctx context.Context, upload analysis.Upload) (analysis.Report, error)
}

// Enqueuer hands a session's analysis to the background worker.
type Enqueuer interface {
	EnqueueAnalysis(ctx context.Context, sessionID string) error
}

// Config wires a Controller.
type Config struct {
	Store          *Store   `validate:"required"`
	Analyzer       Analyzer `validate:"required"`
	Enqueuer       Enqueuer
	Dispatch       Dispatch      `validate:"omitempty,oneof=inline queue"`
	MaxUploadBytes int64         `validate:"gte=0"`
	StaleAfter     time.Duration `validate:"gte=0"`
	Logger         *slog.Logger
	Metrics        *jobmetrics.Metrics
	Clock          func() time.Time
}

// Controller is the only writer of workspace state.
type Controller struct {
	store    *Store
	analyzer Analyzer
	enqueuer Enqueuer
	dispatch Dispatch
	maxBytes int64
	stale    time.Duration
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	clock    func() time.Time
	runs     singleflight.Group
	validate *validator.Validate
}

// NewController validates cfg and constructs a Controller.
func NewController(cfg Config) (*Controller, error) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("workspace: invalid config: %w", err)
	}
	if cfg.Dispatch == "" {
		cfg.Dispatch = DispatchInline
	}
	if cfg.Dispatch == DispatchQueue && cfg.Enqueuer == nil {
		return nil, errors.New("workspace: queue dispatch requires an enqueuer")
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		store:    cfg.Store,
		analyzer: cfg.Analyzer,
		enqueuer: cfg.Enqueuer,
		dispatch: cfg.Dispatch,
		maxBytes: cfg.MaxUploadBytes,
		stale:    cfg.StaleAfter,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		validate: v,
	}, nil
}

// Dispatch reports the configured dispatch mode.
func (c *Controller) Dispatch() Dispatch {
	return c.dispatch
}

// MaxUploadBytes reports the largest accepted file.
func (c *Controller) MaxUploadBytes() int64 {
	return c.maxBytes
}

// State returns the session's current state. A run that has been submitting
// for longer than the staleness bound is failed first.
func (c *Controller) State(ctx context.Context, sessionID string) (State, error) {
	if err := requireSession(sessionID); err != nil {
		return State{}, err
	}
	state, err := c.store.Load(ctx, sessionID)
	if err != nil || !c.isStale(state) {
		return state, err
	}
	c.sessionLogger(sessionID).Warn("abandoning stale analysis run",
		slog.String("run_id", state.RunID), slog.Time("started_at", state.StartedAt))
	failed, err := c.finish(ctx, sessionID, state.RunID, analysis.Report{}, ErrRunAbandoned)
	if errors.Is(err, ErrRunAbandoned) {
		return failed, nil
	}
	return failed, err
}

// SelectFile stores upload as the session's selected file.
func (c *Controller) SelectFile(ctx context.Context, sessionID string, upload analysis.Upload) (State, error) {
	if err := requireSession(sessionID); err != nil {
		return State{}, err
	}
	invalid := c.checkUpload(upload)
	state, err := c.store.Update(ctx, sessionID, func(current State) (Mutation, error) {
		switch current.Phase {
		case PhaseSubmitting:
			if !c.isStale(current) {
				return Mutation{}, ErrBusy
			}
		case PhaseDisplaying:
			return Mutation{}, ErrAlreadyDisplaying
		}
		if invalid != nil {
			return Mutation{
				State:    State{Phase: PhaseIdle, Error: InputErrorMessage, UpdatedAt: c.clock()},
				DropFile: true,
			}, nil
		}
		return Mutation{
			State: State{
				Phase:     PhaseIdle,
				FileName:  strings.TrimSpace(upload.Name),
				FileSize:  len(upload.Content),
				UpdatedAt: c.clock(),
			},
			File: upload.Content,
		}, nil
	})
	if err != nil {
		return state, err
	}
	if invalid != nil {
		c.sessionLogger(sessionID).Info("rejected upload", slog.String("file", upload.Name), slog.Any("error", invalid))
		return state, invalid
	}
	return state, nil
}

// Submit starts the analysis of the selected file. Inline dispatch returns
// once the run finished; queue dispatch returns the submitting state.
func (c *Controller) Submit(ctx context.Context, sessionID string) (State, error) {
	if err := requireSession(sessionID); err != nil {
		return State{}, err
	}
	var outcome error
	state, err := c.store.Update(ctx, sessionID, func(current State) (Mutation, error) {
		switch current.Phase {
		case PhaseSubmitting:
			if !c.isStale(current) {
				return Mutation{}, ErrBusy
			}
		case PhaseDisplaying:
			return Mutation{}, ErrAlreadyDisplaying
		}
		if !current.HasFile() {
			outcome = ErrNoFileSelected
			next := idleState()
			next.Error = InputErrorMessage
			next.UpdatedAt = c.clock()
			return Mutation{State: next, DropFile: true}, nil
		}
		outcome = nil
		next := current
		next.Phase = PhaseSubmitting
		next.Error = ""
		next.Report = nil
		next.RunID = uuid.NewString()
		next.StartedAt = c.clock()
		next.UpdatedAt = next.StartedAt
		return Mutation{State: next}, nil
	})
	if err != nil {
		return state, err
	}
	if outcome != nil {
		return state, outcome
	}

	if c.dispatch == DispatchQueue {
		if err := c.enqueuer.EnqueueAnalysis(ctx, sessionID); err != nil {
			c.sessionLogger(sessionID).Error("enqueue analysis", slog.Any("error", err))
			failed, ferr := c.finish(ctx, sessionID, state.RunID, analysis.Report{}, err)
			if ferr != nil && !errors.Is(ferr, err) {
				return state, errors.Join(err, ferr)
			}
			return failed, fmt.Errorf("%w: %w", ErrEnqueue, err)
		}
		return state, nil
	}
	// The run outlives the request so a closed browser tab does not abort it.
	return c.Run(context.WithoutCancel(ctx), sessionID)
}

// Run performs the pending analysis of a session. Concurrent calls for the
// same session share one backend call.
func (c *Controller) Run(ctx context.Context, sessionID string) (State, error) {
	if err := requireSession(sessionID); err != nil {
		return State{}, err
	}
	result, err, _ := c.runs.Do(sessionID, func() (interface{}, error) {
		return c.run(ctx, sessionID)
	})
	state, _ := result.(State)
	return state, err
}

func (c *Controller) run(ctx context.Context, sessionID string) (State, error) {
	current, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	if !current.Submitting() {
		return current, ErrNotSubmitting
	}
	logger := c.sessionLogger(sessionID).With(slog.String("run_id", current.RunID), slog.String("file", current.FileName))

	tracker := c.metrics.Track(RunJob)
	content, err := c.store.File(ctx, sessionID)
	if err != nil {
		_ = tracker.End(err)
		logger.Warn("selected file unavailable", slog.Any("error", err))
		return c.finish(ctx, sessionID, current.RunID, analysis.Report{}, err)
	}

	started := c.clock()
	report, err := c.analyzer.Analyze(ctx, analysis.Upload{Name: current.FileName, Content: content})
	_ = tracker.End(err)
	if err != nil {
		logger.Error("analysis failed", slog.Any("error", err), slog.Duration("duration", c.clock().Sub(started)))
		return c.finish(ctx, sessionID, current.RunID, analysis.Report{}, err)
	}
	if report.Source == "" {
		report.Source = current.FileName
	}
	c.metrics.ObserveRows(string(report.Shape), len(report.Rows))
	logger.Info("analysis completed", slog.String("shape", string(report.Shape)), slog.Int("rows", len(report.Rows)))
	return c.finish(ctx, sessionID, current.RunID, report, nil)
}

// finish applies a run outcome unless the session moved on (reset or a newer run).
func (c *Controller) finish(ctx context.Context, sessionID, runID string, report analysis.Report, runErr error) (State, error) {
	state, err := c.store.Update(ctx, sessionID, func(current State) (Mutation, error) {
		if !current.Submitting() || current.RunID != runID {
			return Mutation{}, ErrNotSubmitting
		}
		if runErr != nil {
			next := current
			next.Phase = PhaseIdle
			next.RunID = ""
			next.StartedAt = time.Time{}
			next.UpdatedAt = c.clock()
			if errors.Is(runErr, ErrFileMissing) {
				next.FileName = ""
				next.FileSize = 0
				next.Error = InputErrorMessage
				return Mutation{State: next, DropFile: true}, nil
			}
			next.Error = BackendErrorMessage
			return Mutation{State: next}, nil
		}
		return Mutation{
			State: State{
				Phase:     PhaseDisplaying,
				Report:    &report,
				UpdatedAt: c.clock(),
			},
			DropFile: true,
		}, nil
	})
	if errors.Is(err, ErrNotSubmitting) {
		c.sessionLogger(sessionID).Info("discarding analysis outcome", slog.String("run_id", runID))
		current, lerr := c.store.Load(ctx, sessionID)
		if lerr != nil {
			return State{}, lerr
		}
		return current, runErr
	}
	if err != nil {
		return state, err
	}
	if errors.Is(runErr, ErrFileMissing) {
		return state, ErrNoFileSelected
	}
	return state, runErr
}

// Reset clears the file, result and error of a session.
func (c *Controller) Reset(ctx context.Context, sessionID string) (State, error) {
	if err := requireSession(sessionID); err != nil {
		return State{}, err
	}
	if err := c.store.Clear(ctx, sessionID); err != nil {
		return State{}, err
	}
	return idleState(), nil
}

func (c *Controller) isStale(s State) bool {
	if !s.Submitting() || c.stale <= 0 {
		return false
	}
	started := s.StartedAt
	if started.IsZero() {
		started = s.UpdatedAt
	}
	return c.clock().Sub(started) > c.stale
}

func (c *Controller) checkUpload(upload analysis.Upload) error {
	name := strings.TrimSpace(upload.Name)
	if err := c.validate.Var(name, "required"); err != nil {
		return fmt.Errorf("%w: name required", ErrInvalidFile)
	}
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return fmt.Errorf("%w: %q is not a .csv file", ErrInvalidFile, name)
	}
	if err := c.validate.Var(len(upload.Content), fmt.Sprintf("gt=0,lte=%d", c.maxBytes)); err != nil {
		return fmt.Errorf("%w: size %d outside 1..%d bytes", ErrInvalidFile, len(upload.Content), c.maxBytes)
	}
	return nil
}

func (c *Controller) sessionLogger(sessionID string) *slog.Logger {
	return c.logger.With(slog.String("job", RunJob), slog.String("session", shortID(sessionID)))
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("workspace: session id required")
	}
	return nil
}

// shortID keeps session ids out of logs in full.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
