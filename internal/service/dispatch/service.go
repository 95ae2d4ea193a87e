// Package dispatch turns deployment requests into external runner jobs
// while keeping the ledger consistent: every request that records
// "received" and reaches the runner also records exactly one terminal
// initiation row, success or not.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"log/slog"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/runner"
	"github.com/outpostd/outpost/internal/service/identity"
	"github.com/outpostd/outpost/internal/service/ledger"
	"github.com/outpostd/outpost/internal/service/registry"
)

// ErrInvalidEvent rejects events outside {apply, destroy}.
var ErrInvalidEvent = errors.New("dispatch: invalid event type")

// DispatchError wraps a runner launch rejection. The ledger already
// holds the initiation_failed row when this is returned.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: runner rejected launch: %v", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Result is the successful outcome of a dispatch.
type Result struct {
	DeploymentID string `json:"deployment_id"`
	Message      string `json:"message"`
	JobID        string `json:"-"`
}

// Service orchestrates the dispatch flow.
type Service struct {
	registry registry.Service
	identity identity.Service
	ledger   ledger.Service
	runner   runner.Runner
	logger   *slog.Logger
}

// New returns a dispatch service.
func New(reg registry.Service, ident identity.Service, led ledger.Service, run runner.Runner, logger *slog.Logger) Service {
	return Service{registry: reg, identity: ident, ledger: led, runner: run, logger: logger}
}

// Dispatch validates the request, records "received", resolves the
// module manifest, launches the runner job, and records the terminal
// initiation row. Identity and manifest lookup failures surface before
// any runner interaction; a runner rejection still leaves an
// initiation_failed row behind.
func (s Service) Dispatch(ctx context.Context, req domain.DeploymentRequest) (Result, error) {
	if !req.Event.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidEvent, req.Event)
	}

	deploymentID, existing, err := s.identity.ResolveOrCreate(ctx, req.Module, req.Name, req.DeploymentID)
	if err != nil {
		// Bad caller-supplied id: no ledger row is written.
		return Result{}, err
	}
	req.DeploymentID = deploymentID

	received := s.ledger.NewEvent(deploymentID, req.Event, domain.StatusReceived, req.Module, req.Name)
	received.Metadata = map[string]any{"input": requestMetadata(req)}
	if err := s.ledger.Record(ctx, received); err != nil {
		return Result{}, err
	}

	manifest, err := s.resolveManifest(ctx, req)
	if err != nil {
		// No dispatch was attempted, so no terminal row is written.
		return Result{}, err
	}

	job := runner.Job{
		DeploymentID: deploymentID,
		Event:        string(req.Event),
		Module:       req.Module,
		Env:          s.jobEnv(req, manifest),
	}

	jobID, launchErr := s.runner.Launch(ctx, job)
	if launchErr != nil {
		failed := s.ledger.NewEvent(deploymentID, req.Event, domain.StatusInitiationFailed, req.Module, req.Name)
		failed.JobID = domain.NoJobID
		failed.Metadata = map[string]any{
			"input": requestMetadata(req),
			"error": launchErr.Error(),
		}
		if err := s.ledger.Record(ctx, failed); err != nil {
			s.logger.Error("failed to record initiation_failed", "deployment_id", deploymentID, "error", err)
		}
		return Result{}, &DispatchError{Err: launchErr}
	}

	initiated := s.ledger.NewEvent(deploymentID, req.Event, domain.StatusInitiated, req.Module, req.Name)
	initiated.JobID = jobID
	initiated.Metadata = map[string]any{
		"input":  requestMetadata(req),
		"job_id": jobID,
	}
	if err := s.ledger.Record(ctx, initiated); err != nil {
		return Result{}, err
	}

	s.logger.Info("deployment dispatched", "deployment_id", deploymentID, "event", req.Event, "job_id", jobID)
	return Result{
		DeploymentID: deploymentID,
		Message:      resultMessage(req.Event, existing),
		JobID:        jobID,
	}, nil
}

func (s Service) resolveManifest(ctx context.Context, req domain.DeploymentRequest) (*domain.ModuleManifest, error) {
	if req.ModuleVersion == "" {
		return s.registry.Latest(ctx, req.Module, req.Environment)
	}
	return s.registry.Get(ctx, req.Module, req.ModuleVersion)
}

// jobEnv builds the runner environment bag: identity variables plus the
// caller's variables converted to the runner's snake_case convention.
func (s Service) jobEnv(req domain.DeploymentRequest, manifest *domain.ModuleManifest) map[string]string {
	signal := s.ledger.NewEvent(req.DeploymentID, req.Event, "TBD", req.Module, req.Name)
	signalJSON, err := json.Marshal(signal)
	if err != nil {
		s.logger.Warn("failed to serialize signal", "deployment_id", req.DeploymentID, "error", err)
	}

	variables := make(map[string]any, len(req.Variables))
	for key, value := range req.Variables {
		variables[CamelToSnake(key)] = value
	}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		s.logger.Warn("failed to serialize variables", "deployment_id", req.DeploymentID, "error", err)
	}

	return map[string]string{
		"DEPLOYMENT_ID":   req.DeploymentID,
		"EVENT":           string(req.Event),
		"MODULE_NAME":     req.Module,
		"MODULE_VERSION":  manifest.Version,
		"SIGNAL":          string(signalJSON),
		"SOURCE_LOCATION": manifest.Source,
		"TF_JSON_VARS":    string(variablesJSON),
	}
}

func requestMetadata(req domain.DeploymentRequest) map[string]any {
	return map[string]any{
		"event":          string(req.Event),
		"module":         req.Module,
		"name":           req.Name,
		"environment":    req.Environment,
		"deployment_id":  req.DeploymentID,
		"module_version": req.ModuleVersion,
		"variables":      req.Variables,
	}
}

func resultMessage(event domain.Event, existing bool) string {
	switch {
	case event == domain.EventDestroy:
		return "Destroyed deployment successfully"
	case existing:
		return "Applied existing deployment successfully"
	default:
		return "Created new deployment successfully"
	}
}

// CamelToSnake converts a camelCase variable name to the snake_case
// convention the runner expects.
func CamelToSnake(name string) string {
	out := make([]rune, 0, len(name)+4)
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}
