// Package backend implements the Backend Selector and the driver contract
// every quantum execution substrate (classical simulator, emulator, QPU)
// must satisfy.
package backend

import (
	"context"
	"time"

	"github.com/qam-project/qam/pkg/domain"
)

// ExecutionHandle identifies one submitted circuit run with a driver.
type ExecutionHandle string

// RunStatus is the driver-reported lifecycle of a submitted circuit.
type RunStatus string

const (
	RunQueued  RunStatus = "QUEUED"
	RunRunning RunStatus = "RUNNING"
	RunDone    RunStatus = "DONE"
	RunFailed  RunStatus = "FAILED"
)

// SubmitOptions carries the per-execution knobs the Execution Runner may
// set independent of the circuit itself.
type SubmitOptions struct {
	Shots             int
	OptimizationLevel int
	ErrorMitigation   bool
	Deadline          time.Time
}

// PollResult is what poll(handle) returns: the run's current status and,
// once DONE, its raw measurement outcomes.
type PollResult struct {
	Status         RunStatus
	PartialResults []domain.MeasurementOutcome
}

// Description is what describe() returns: the static and slowly-changing
// facts the Backend Selector needs without ever submitting a circuit.
type Description struct {
	Kind            domain.BackendKind
	Provider        string
	Region          string
	Availability    float64 // in [0,1]
	CostPerShot     float64
	CoherenceTimeUs float64
	GateErrorRate   float64
}

// Driver is the full backend driver contract (spec §6): submit/poll/cancel
// for the Execution Runner, describe for the Backend Selector. A driver
// implementation talks to one concrete backend (a specific simulator
// process, emulator service, or QPU provider API).
type Driver interface {
	Submit(ctx context.Context, circuit string, shots int, opts SubmitOptions) (ExecutionHandle, error)
	Poll(ctx context.Context, handle ExecutionHandle) (PollResult, error)
	Cancel(ctx context.Context, handle ExecutionHandle) error
	Describe(ctx context.Context) (Description, error)
}
