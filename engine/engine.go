// Package engine implements ordered fallback provisioning: given a
// priority-ordered list of machine flavors, it tries each one against a
// Provisioner until one succeeds or the list is exhausted, and reports a
// single terminal result with the full attempt history.
package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

type Config struct {
	// Logger receives structured attempt logs. Nil disables logging.
	Logger *slog.Logger
}

// Engine walks candidate flavors in order, one synchronous provisioning
// attempt per flavor, stopping at the first success. Each flavor is tried
// exactly once, with no delay between attempts. Any provisioning error,
// whatever its cause, triggers fallback to the next flavor; the engine
// deliberately does not classify failures, it preserves each diagnostic
// verbatim so the caller can tell capacity shortfalls from bad requests.
type Engine struct {
	provisioner Provisioner
	log         *slog.Logger

	mu          sync.Mutex
	subscribers []chan Event
}

func New(provisioner Provisioner, config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		provisioner: provisioner,
		log:         logger,
	}
}

// Run attempts to provision the pool described by spec, trying candidates
// in order. It returns the terminal result along with a ConfigurationError
// (invalid input, nothing attempted) or an ExhaustionError (every flavor
// failed). On success the error is nil. Result.Attempts always holds the
// full log. The context is passed through to the provisioner; cancelling
// it aborts the attempt in flight, which is recorded as a failure like any
// other.
func (e *Engine) Run(ctx context.Context, spec Spec, candidates []Candidate) (Result, error) {
	var result Result

	if err := spec.Validate(); err != nil {
		return result, err
	}
	if len(candidates) == 0 {
		return result, ConfigurationError{Reason: "no candidate flavors"}
	}

	for _, candidate := range candidates {
		request := spec.request(candidate)

		e.emit(EventAttemptStarted{Pool: spec.Pool, Flavor: candidate.Flavor, Rank: candidate.Rank, Total: len(candidates)})
		e.log.Info("Provisioning pool", "pool", spec.Pool, "flavor", candidate.Flavor, "rank", candidate.Rank, "count", spec.Count)

		receipt, err := e.provisioner.Provision(ctx, request)
		if err != nil {
			result.Attempts = append(result.Attempts, Attempt{
				Candidate:  candidate,
				Diagnostic: err.Error(),
			})

			e.emit(EventAttemptFailed{Pool: spec.Pool, Flavor: candidate.Flavor, Rank: candidate.Rank, Diagnostic: err.Error()})
			e.log.Warn("Provisioning attempt failed", "pool", spec.Pool, "flavor", candidate.Flavor, "error", err)
			continue
		}

		result.Attempts = append(result.Attempts, Attempt{
			Candidate: candidate,
			Success:   true,
			Receipt:   receipt,
		})
		result.Provisioned = true
		result.Candidate = candidate
		result.Receipt = receipt

		e.emit(EventAttemptSucceeded{Pool: spec.Pool, Flavor: candidate.Flavor, Rank: candidate.Rank, Message: receipt.Message})
		e.log.Info("Pool provisioned", "pool", spec.Pool, "flavor", candidate.Flavor, "rank", candidate.Rank)

		// First success wins, remaining candidates are never tried
		return result, nil
	}

	e.emit(EventExhausted{Pool: spec.Pool, Attempts: len(result.Attempts)})
	e.log.Error("All flavors failed", "pool", spec.Pool, "attempts", len(result.Attempts))

	return result, ExhaustionError{Attempts: result.Attempts}
}
