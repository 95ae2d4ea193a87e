// Package runner abstracts the external execution engine that applies
// or destroys infrastructure. Launch is fire-and-forget: the job
// reference comes back synchronously, completion is reported later
// through ledger appends outside this service.
package runner

import "context"

// Job is the launch request handed to the execution engine.
type Job struct {
	DeploymentID string
	Event        string
	Module       string
	// Env is the flattened environment-variable bag for the job.
	Env map[string]string
}

// Runner launches external jobs.
type Runner interface {
	// Launch starts one job and returns its reference. An error means
	// the runner rejected the launch; the job is then known not to run.
	Launch(ctx context.Context, job Job) (jobID string, err error)
}
