// Package workspace owns the per-session UI state of the analyzer: the
// selected CSV, whether an analysis is in flight, the inline error and the
// decoded report.
package workspace

import (
	"errors"
	"time"

	"github.com/webprice/webprice-analyzer/internal/analysis"
)

// Phase is the step of the upload/analysis cycle a session is in.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseDisplaying Phase = "displaying"
)

const (
	// InputErrorMessage is shown when no usable CSV was selected.
	InputErrorMessage = "Por favor, selecione um arquivo CSV."
	// BackendErrorMessage is shown for every failed backend call.
	BackendErrorMessage = "Ocorreu um erro ao analisar o arquivo. Verifique se o backend está rodando."
)

var (
	// ErrNoFileSelected is returned by Submit when no file is stored.
	ErrNoFileSelected = errors.New("workspace: no file selected")
	// ErrInvalidFile is returned by SelectFile for unusable uploads.
	ErrInvalidFile = errors.New("workspace: invalid file")
	// ErrBusy is returned while an analysis is in flight.
	ErrBusy = errors.New("workspace: analysis in progress")
	// ErrAlreadyDisplaying is returned when a result is shown and must be reset first.
	ErrAlreadyDisplaying = errors.New("workspace: result already displayed")
	// ErrNotSubmitting is returned by Run when there is nothing to run.
	ErrNotSubmitting = errors.New("workspace: no analysis pending")
	// ErrEnqueue wraps failures to hand a run to the worker queue.
	ErrEnqueue = errors.New("workspace: enqueue analysis")
	// ErrRunAbandoned marks a run that stayed submitting past the staleness bound.
	ErrRunAbandoned = errors.New("workspace: analysis run abandoned")
)

// State is the UI state of one session. Report is set only while displaying.
type State struct {
	Phase     Phase            `json:"phase"`
	FileName  string           `json:"file_name,omitempty"`
	FileSize  int              `json:"file_size,omitempty"`
	Error     string           `json:"error,omitempty"`
	Report    *analysis.Report `json:"report,omitempty"`
	RunID     string           `json:"run_id,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// HasFile reports whether a file is selected.
func (s State) HasFile() bool {
	return s.FileName != ""
}

// Submitting reports whether an analysis is in flight.
func (s State) Submitting() bool {
	return s.Phase == PhaseSubmitting
}

// Displaying reports whether a report is available.
func (s State) Displaying() bool {
	return s.Phase == PhaseDisplaying && s.Report != nil
}

// CanSubmit mirrors the enabled state of the submit button.
func (s State) CanSubmit() bool {
	return s.Phase == PhaseIdle && s.HasFile()
}

// IsInputError reports whether err is a user input problem rather than a backend failure.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNoFileSelected) || errors.Is(err, ErrInvalidFile)
}

func idleState() State {
	return State{Phase: PhaseIdle}
}
