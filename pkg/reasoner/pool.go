package reasoner

import (
	"context"
	"fmt"
	"time"

	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/epi-checker/checker/pkg/reasoner/backend"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
)

// Pool bounds how many Programs run concurrently against a reasoner
// backend and trips a circuit breaker when that backend starts failing,
// so one unhealthy reasoner can't exhaust every deliberation request's
// timeout budget queued behind it.
//
// This replaces a fire-and-forget job queue: deliberation is a
// synchronous request/response call, so the pool's job is purely to cap
// concurrency and fail fast, never to persist or retry work later.
type Pool struct {
	connector *Connector
	sem       *semaphore.Weighted
	breakers  map[backend.Name]*gobreaker.CircuitBreaker
}

// PoolConfig bounds concurrency and circuit-breaker sensitivity per pool.
type PoolConfig struct {
	MaxConcurrent int64
	// ConsecutiveFailures trips the breaker open for a backend.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConcurrent:       16,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

func NewPool(connector *Connector, registry *backend.Registry, cfg PoolConfig, names []backend.Name) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultPoolConfig().MaxConcurrent
	}
	breakers := make(map[backend.Name]*gobreaker.CircuitBreaker, len(names))
	for _, name := range names {
		n := name
		breakers[n] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: string(n),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			Timeout: cfg.OpenTimeout,
		})
	}
	return &Pool{
		connector: connector,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		breakers:  breakers,
	}
}

// Compile delegates straight to the pool's connector: compilation is a
// pure, local operation (concatenating a policy's matching fragments),
// never touches the backend, and so needs neither the concurrency cap
// nor the circuit breaker that guard Dispatch.
func (p *Pool) Compile(policy policystore.Policy, facts []string, question string) (*Program, error) {
	return p.connector.Compile(policy, facts, question)
}

// Dispatch runs a Program under the pool's concurrency cap and circuit
// breaker, honoring ctx's deadline for both the semaphore acquire and the
// backend round-trip (spec: Deny(Timeout) when the deadline is exceeded
// before a backend classifies the outcome).
func (p *Pool) Dispatch(ctx context.Context, program *Program) (Verdict, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Verdict{}, fmt.Errorf("reasoner: pool saturated: %w", err)
	}
	defer p.sem.Release(1)

	breaker, ok := p.breakers[program.Backend]
	if !ok {
		return p.connector.Run(ctx, program)
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		v, err := p.connector.Run(ctx, program)
		if err != nil {
			return Verdict{}, err
		}
		return v, nil
	})
	if err != nil {
		return Verdict{}, err
	}
	return result.(Verdict), nil
}
