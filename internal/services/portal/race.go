package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/certflow/internal/models"
)

// branch identifies one side of the post-submit race
type branch int

const (
	branchNotFound branch = iota // A: the not-found modal appears
	branchAccepted               // B: the request button appears and is clicked
)

func (b branch) String() string {
	if b == branchNotFound {
		return "not_found"
	}
	return "download_accepted"
}

// probe waits for one branch's condition. It returns (true, nil) when the
// condition was met, (false, nil) when its wait timed out, and a non-nil
// error for anything else.
type probe func(ctx context.Context) (bool, error)

type branchResult struct {
	branch branch
	hit    bool
	err    error
}

// runBranches starts both probes, each under its own timeout derived from
// runCtx. The returned channel is buffered for both results so a branch that
// finishes after the race is decided never blocks; nothing cancels it early.
func runBranches(runCtx context.Context, timeout time.Duration, notFound, accepted probe) <-chan branchResult {
	results := make(chan branchResult, 2)

	start := func(b branch, p probe) {
		go func() {
			branchCtx, cancel := context.WithTimeout(runCtx, timeout)
			defer cancel()

			hit, err := p(branchCtx)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && runCtx.Err() == nil {
				// Own timeout, not the caller's
				hit, err = false, nil
			}
			results <- branchResult{branch: b, hit: hit, err: err}
		}()
	}

	start(branchNotFound, notFound)
	start(branchAccepted, accepted)
	return results
}

// resolveRace turns branch results into an outcome.
//
//	A hit first            -> NotFound
//	B hit first            -> DownloadAccepted
//	A timed out            -> wait for B: hit = DownloadAccepted, else AmbiguousAccepted
//	B missed first         -> wait for A: hit = NotFound, miss = AmbiguousAccepted
//	A errored and B missed -> QueryRaceError
//
// The second result is only awaited when the first is inconclusive; once an
// outcome is decided any later result is discarded.
func resolveRace(ctx context.Context, results <-chan branchResult) (models.QueryOutcome, error) {
	receive := func() (branchResult, error) {
		select {
		case r := <-results:
			return r, nil
		case <-ctx.Done():
			return branchResult{}, ctx.Err()
		}
	}

	first, err := receive()
	if err != nil {
		return models.OutcomeUnknown, err
	}
	if first.hit && first.err == nil {
		if first.branch == branchNotFound {
			return models.OutcomeNotFound, nil
		}
		return models.OutcomeDownloadAccepted, nil
	}

	second, err := receive()
	if err != nil {
		return models.OutcomeUnknown, err
	}

	var notFound, accepted branchResult
	if first.branch == branchNotFound {
		notFound, accepted = first, second
	} else {
		notFound, accepted = second, first
	}

	switch {
	case accepted.hit && accepted.err == nil:
		return models.OutcomeDownloadAccepted, nil
	case notFound.hit && notFound.err == nil:
		return models.OutcomeNotFound, nil
	case notFound.err != nil:
		return models.OutcomeUnknown, models.NewWorkflowError(models.KindQueryRace, "resolve race",
			fmt.Errorf("not-found branch failed: %w (download branch: %v)", notFound.err, describe(accepted)))
	}
	return models.OutcomeAmbiguousAccepted, nil
}

func describe(r branchResult) string {
	switch {
	case r.err != nil:
		return r.err.Error()
	case r.hit:
		return "hit"
	}
	return "timed out"
}

// race runs both probes on runCtx and resolves the outcome. Cancelling ctx
// stops waiting for a decision but leaves the probes to their own timeouts.
func race(ctx, runCtx context.Context, timeout time.Duration, notFound, accepted probe) (models.QueryOutcome, error) {
	return resolveRace(ctx, runBranches(runCtx, timeout, notFound, accepted))
}
