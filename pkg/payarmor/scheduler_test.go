package payarmor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
	"github.com/mihaimyh/payarmor/storage/memory"
)

type schedulerFixture struct {
	store    *memory.Store
	clock    *fakeClock
	attempts *atomic.Int64
	events   *eventCollector
	sched    *payarmor.Scheduler
}

// newSchedulerFixture builds a scheduler over the in-memory store with a
// controllable clock. attemptErr is returned by every attempt; nil means
// every attempt succeeds.
func newSchedulerFixture(t *testing.T, classifierConfig payarmor.ClassifierConfig, attemptErr error) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		store:    memory.New(),
		clock:    newFakeClock(),
		attempts: &atomic.Int64{},
		events:   &eventCollector{},
	}

	sched, err := payarmor.NewScheduler(f.store, payarmor.SchedulerConfig{
		Classifier: payarmor.NewClassifier(classifierConfig),
		Attempt: func(context.Context, *payarmor.RetryEntry) error {
			f.attempts.Add(1)
			return attemptErr
		},
		Audit: f.store,
		Now:   f.clock.Now,
	})
	require.NoError(t, err)
	f.sched = sched
	f.sched.Emitter().Subscribe(f.events.handle)
	return f
}

func (f *schedulerFixture) flushEvents() {
	f.sched.Emitter().Close()
}

func netErr() *payarmor.PaymentError {
	return &payarmor.PaymentError{Code: payarmor.CodeNetworkError, Message: "connection reset"}
}

func TestQueueRetryIsIdempotent(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)
	ctx := context.Background()

	queued, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, queued)

	again, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, again, "second enqueue for a live transaction is a no-op")

	f.flushEvents()
	assert.Len(t, f.events.byType(payarmor.EventQueued), 1)
}

func TestQueueRetryNonRetryableReturnsFalse(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)
	ctx := context.Background()

	queued, err := f.sched.QueueRetry(ctx, "txn-1", &payarmor.PaymentError{Code: payarmor.CodeFraudBlocked}, payarmor.Metadata{})
	require.NoError(t, err)
	assert.False(t, queued)

	entry, err := f.sched.GetRetryStatus(ctx, "txn-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestQueueRetryDeclinedWithZeroAttemptsConfigured(t *testing.T) {
	zero := 0
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{DeclineAttempts: &zero}, nil)
	ctx := context.Background()

	queued, err := f.sched.QueueRetry(ctx, "txn-1",
		&payarmor.PaymentError{Code: payarmor.CodeCardDeclined}, payarmor.Metadata{})
	require.NoError(t, err)
	assert.False(t, queued)

	entry, err := f.sched.GetRetryStatus(ctx, "txn-1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	f.flushEvents()
	assert.Empty(t, f.events.all())
}

func TestProcessRetryQueueHonorsNextRetryAt(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)
	ctx := context.Background()

	queued, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{})
	require.NoError(t, err)
	require.True(t, queued)

	// network_error has a 2s base delay, so nothing is due yet.
	require.NoError(t, f.sched.ProcessRetryQueue(ctx))
	assert.Equal(t, int64(0), f.attempts.Load())

	f.clock.Advance(3 * time.Second)

	require.NoError(t, f.sched.ProcessRetryQueue(ctx))
	assert.Equal(t, int64(1), f.attempts.Load())
}

func TestRateLimitedRetriesImmediately(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)
	ctx := context.Background()

	queued, err := f.sched.QueueRetry(ctx, "txn-1",
		&payarmor.PaymentError{Code: payarmor.CodeRateLimited}, payarmor.Metadata{})
	require.NoError(t, err)
	require.True(t, queued)

	require.NoError(t, f.sched.ProcessRetryQueue(ctx))
	assert.Equal(t, int64(1), f.attempts.Load(), "immediate strategy is due without advancing the clock")
}

func TestSuccessfulRetryIsTerminal(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)
	ctx := context.Background()

	_, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{UserID: "user-1"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.ProcessRetryQueue(ctx))

	entry, err := f.sched.GetRetryStatus(ctx, "txn-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "terminal entries are removed from the queue")

	f.flushEvents()
	succeeded := f.events.byType(payarmor.EventSucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal(t, "txn-1", succeeded[0].TransactionID)
	assert.Equal(t, "user-1", succeeded[0].UserID)
	assert.Equal(t, payarmor.StatusSucceeded, succeeded[0].Status)

	outcomes := f.store.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, payarmor.StatusSucceeded, outcomes[0].Status)
}

func TestFailedAttemptReschedulesWithBackoff(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, netErr())
	ctx := context.Background()

	_, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.ProcessRetryQueue(ctx))

	entry, err := f.sched.GetRetryStatus(ctx, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, payarmor.StatusQueued, entry.Status)
	assert.Equal(t, 1, entry.AttemptCount)
	// First consumed attempt doubles the 2s base delay once.
	assert.Equal(t, f.clock.Now().Add(4*time.Second), entry.NextRetryAt)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.sched.ProcessRetryQueue(ctx))

	entry, err = f.sched.GetRetryStatus(ctx, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.AttemptCount)
	assert.Equal(t, f.clock.Now().Add(8*time.Second), entry.NextRetryAt)

	f.flushEvents()
	retrying := f.events.byType(payarmor.EventRetrying)
	require.Len(t, retrying, 2)
	require.NotNil(t, retrying[0].NextRetryAt)
}

func TestExhaustionEmitsExactlyOneTerminalEvent(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, netErr())
	ctx := context.Background()

	_, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{})
	require.NoError(t, err)

	// More passes than attempts: once exhausted, later passes see nothing.
	for i := 0; i < 10; i++ {
		f.clock.Advance(time.Minute)
		require.NoError(t, f.sched.ProcessRetryQueue(ctx))
	}

	assert.Equal(t, int64(4), f.attempts.Load(), "network_error allows 4 attempts")

	entry, err := f.sched.GetRetryStatus(ctx, "txn-1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	f.flushEvents()
	exhausted := f.events.byType(payarmor.EventExhausted)
	require.Len(t, exhausted, 1)
	assert.Equal(t, payarmor.StatusExhausted, exhausted[0].Status)
	assert.Equal(t, 4, exhausted[0].AttemptCount)
	assert.Empty(t, f.events.byType(payarmor.EventSucceeded))

	outcomes := f.store.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, payarmor.StatusExhausted, outcomes[0].Status)
}

func TestReclassifiedPermanentFailureEndsChainEarly(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{},
		&payarmor.PaymentError{Code: payarmor.CodeInvalidCard, Message: "card number fails luhn"})
	ctx := context.Background()

	_, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.ProcessRetryQueue(ctx))

	assert.Equal(t, int64(1), f.attempts.Load())

	f.flushEvents()
	exhausted := f.events.byType(payarmor.EventExhausted)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 1, exhausted[0].AttemptCount)
}

func TestCancelRetry(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)
	ctx := context.Background()

	_, err := f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{})
	require.NoError(t, err)

	cancelled, err := f.sched.CancelRetry(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = f.sched.CancelRetry(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, cancelled, "cancelling twice is a defined no-op")

	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.ProcessRetryQueue(ctx))
	assert.Equal(t, int64(0), f.attempts.Load(), "cancelled entries are never re-invoked")

	f.flushEvents()
	assert.Len(t, f.events.byType(payarmor.EventCancelled), 1)
}

func TestCancelUnknownTransaction(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)

	cancelled, err := f.sched.CancelRetry(context.Background(), "no-such-txn")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestPanickingAttemptIsIsolated(t *testing.T) {
	f := &schedulerFixture{
		store:  memory.New(),
		clock:  newFakeClock(),
		events: &eventCollector{},
	}
	sched, err := payarmor.NewScheduler(f.store, payarmor.SchedulerConfig{
		Classifier: payarmor.NewClassifier(payarmor.ClassifierConfig{}),
		Attempt: func(context.Context, *payarmor.RetryEntry) error {
			panic("gateway client bug")
		},
		Now: f.clock.Now,
	})
	require.NoError(t, err)
	f.sched = sched

	ctx := context.Background()
	_, err = f.sched.QueueRetry(ctx, "txn-1", netErr(), payarmor.Metadata{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.ProcessRetryQueue(ctx))

	entry, err := f.sched.GetRetryStatus(ctx, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, entry, "a panicking attempt counts as a processing failure")
	assert.Equal(t, payarmor.StatusQueued, entry.Status)
	assert.Equal(t, 1, entry.AttemptCount)
	assert.Equal(t, payarmor.CodeProcessingError, entry.ErrorCode)
}

func TestShutdownStopsEnqueueing(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)

	f.sched.Start()
	require.NoError(t, f.sched.Shutdown(context.Background()))

	_, err := f.sched.QueueRetry(context.Background(), "txn-1", netErr(), payarmor.Metadata{})
	assert.ErrorIs(t, err, payarmor.ErrSchedulerStopped)
}

func TestShutdownWithoutStart(t *testing.T) {
	f := newSchedulerFixture(t, payarmor.ClassifierConfig{}, nil)
	assert.NoError(t, f.sched.Shutdown(context.Background()))
}
