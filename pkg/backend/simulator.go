package backend

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// ClassicalSimulator is the one Driver this repo implements itself: a
// classical stand-in that splits shots between two fixed bitstrings rather
// than executing on quantum hardware. Emulator and QPU drivers are external
// collaborators (spec §1) reached through the same Driver contract; nothing
// in this package talks to a real provider API.
type ClassicalSimulator struct {
	provider string
	region   string
	costPerShot float64

	mu      sync.Mutex
	handles map[ExecutionHandle]domain.ExecutionResults
	seq     uint64
}

func NewClassicalSimulator(provider, region string, costPerShot float64) *ClassicalSimulator {
	return &ClassicalSimulator{
		provider:    provider,
		region:      region,
		costPerShot: costPerShot,
		handles:     make(map[ExecutionHandle]domain.ExecutionResults),
	}
}

func (c *ClassicalSimulator) Submit(_ context.Context, circuit string, shots int, _ SubmitOptions) (ExecutionHandle, error) {
	if shots <= 0 {
		return "", qamerrors.New(qamerrors.ErrorTypeBackendMalformedResult, "shots must be positive")
	}

	c.mu.Lock()
	c.seq++
	handle := ExecutionHandle(fmt.Sprintf("sim-%s-%d", c.provider, c.seq))
	c.mu.Unlock()

	outcomes := sampleUniform(circuit, shots)

	c.mu.Lock()
	c.handles[handle] = domain.ExecutionResults{Outcomes: outcomes, Shots: shots}
	c.mu.Unlock()

	return handle, nil
}

func (c *ClassicalSimulator) Poll(_ context.Context, handle ExecutionHandle) (PollResult, error) {
	c.mu.Lock()
	results, ok := c.handles[handle]
	c.mu.Unlock()
	if !ok {
		return PollResult{}, qamerrors.New(qamerrors.ErrorTypeBackendMalformedResult, "unknown execution handle")
	}
	return PollResult{Status: RunDone, PartialResults: results.Outcomes}, nil
}

func (c *ClassicalSimulator) Cancel(_ context.Context, handle ExecutionHandle) error {
	c.mu.Lock()
	delete(c.handles, handle)
	c.mu.Unlock()
	return nil
}

func (c *ClassicalSimulator) Describe(_ context.Context) (Description, error) {
	return Description{
		Kind:            domain.BackendClassical,
		Provider:        c.provider,
		Region:          c.region,
		Availability:    1.0,
		CostPerShot:     c.costPerShot,
		CoherenceTimeUs: math.Inf(1),
		GateErrorRate:   0,
	}, nil
}

// sampleUniform fabricates two measurement outcomes, the all-zeros and
// all-ones bitstrings of a width derived from circuit's length, splitting
// shots between them so downstream correctness scoring has a non-trivial
// distribution to grade.
func sampleUniform(circuit string, shots int) []domain.MeasurementOutcome {
	width := len(circuit)%8 + 1
	zero := make([]byte, width)
	one := make([]byte, width)
	for i := range one {
		one[i] = '1'
	}
	for i := range zero {
		zero[i] = '0'
	}

	majority := shots/2 + shots%2 + randomSkew(shots)
	if majority > shots {
		majority = shots
	}
	if majority < 0 {
		majority = 0
	}

	return []domain.MeasurementOutcome{
		{Bitstring: string(zero), Count: majority, Confidence: float64(majority) / float64(shots)},
		{Bitstring: string(one), Count: shots - majority, Confidence: float64(shots-majority) / float64(shots)},
	}
}

// randomSkew nudges the 50/50 split by up to 10% of shots so repeated runs
// of the same circuit don't all land on an identical count.
func randomSkew(shots int) int {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	v := int64(binary.BigEndian.Uint64(b[:]) >> 1)
	span := shots / 10
	if span == 0 {
		return 0
	}
	return int(v % int64(span))
}
