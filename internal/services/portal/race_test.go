package portal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/certflow/internal/models"
)

// after builds a probe that settles after d with the given result. A probe
// whose d exceeds its branch timeout behaves like a real wait and times out.
func after(d time.Duration, hit bool, err error) probe {
	return func(ctx context.Context) (bool, error) {
		select {
		case <-time.After(d):
			return hit, err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func never() probe {
	return func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}
}

func TestRace_Outcomes(t *testing.T) {
	errBoom := errors.New("target closed")
	const timeout = 200 * time.Millisecond

	tests := []struct {
		name     string
		notFound probe
		accepted probe
		want     models.QueryOutcome
		wantErr  error
	}{
		{
			name:     "not found wins",
			notFound: after(10*time.Millisecond, true, nil),
			accepted: never(),
			want:     models.OutcomeNotFound,
		},
		{
			name:     "download accepted wins",
			notFound: never(),
			accepted: after(10*time.Millisecond, true, nil),
			want:     models.OutcomeDownloadAccepted,
		},
		{
			name:     "not found misses then accepted hits",
			notFound: after(10*time.Millisecond, false, nil),
			accepted: after(50*time.Millisecond, true, nil),
			want:     models.OutcomeDownloadAccepted,
		},
		{
			name:     "accepted slower than its timeout",
			notFound: never(),
			accepted: after(timeout+50*time.Millisecond, true, nil),
			want:     models.OutcomeAmbiguousAccepted,
		},
		{
			name:     "both time out",
			notFound: never(),
			accepted: never(),
			want:     models.OutcomeAmbiguousAccepted,
		},
		{
			name:     "accepted misses first then not found hits",
			notFound: after(60*time.Millisecond, true, nil),
			accepted: after(10*time.Millisecond, false, nil),
			want:     models.OutcomeNotFound,
		},
		{
			name:     "not found errors and accepted hits",
			notFound: after(5*time.Millisecond, false, errBoom),
			accepted: after(30*time.Millisecond, true, nil),
			want:     models.OutcomeDownloadAccepted,
		},
		{
			name:     "not found errors and accepted misses",
			notFound: after(5*time.Millisecond, false, errBoom),
			accepted: never(),
			wantErr:  models.ErrQueryRace,
		},
		{
			name:     "accepted errors and not found times out",
			notFound: never(),
			accepted: after(5*time.Millisecond, false, errBoom),
			want:     models.OutcomeAmbiguousAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := race(context.Background(), context.Background(), timeout, tt.notFound, tt.accepted)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRace_NotFoundFirstIgnoresLateAccepted(t *testing.T) {
	var lateAccepted atomic.Bool
	accepted := func(ctx context.Context) (bool, error) {
		select {
		case <-time.After(80 * time.Millisecond):
			lateAccepted.Store(true)
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	start := time.Now()
	got, err := race(context.Background(), context.Background(), time.Second, after(10*time.Millisecond, true, nil), accepted)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNotFound, got)
	assert.Less(t, time.Since(start), 80*time.Millisecond, "decision must not wait for the loser")

	// The loser is abandoned, not cancelled: it still runs to completion
	assert.Eventually(t, lateAccepted.Load, time.Second, 10*time.Millisecond)
}

func TestRace_AcceptedFirstDoesNotWaitForNotFound(t *testing.T) {
	start := time.Now()
	got, err := race(context.Background(), context.Background(), time.Second, never(), after(10*time.Millisecond, true, nil))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDownloadAccepted, got)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRace_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := race(ctx, context.Background(), 500*time.Millisecond, never(), never())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveRace_OrderIndependentWhenInconclusive(t *testing.T) {
	results := make(chan branchResult, 2)
	results <- branchResult{branch: branchAccepted}
	results <- branchResult{branch: branchNotFound}

	got, err := resolveRace(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAmbiguousAccepted, got)
}
