package payarmor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AttemptFunc re-invokes the wrapped payment operation for one entry. A nil
// return means the payment went through; a *PaymentError return is classified
// for further scheduling; any other error is treated as a processing error.
// The gateway integration is responsible for its own upstream timeout.
type AttemptFunc func(ctx context.Context, e *RetryEntry) error

// SchedulerConfig configures the retry queue and its scanning loop.
type SchedulerConfig struct {
	// Classifier decides per error code whether and how to retry (required).
	Classifier *Classifier

	// Attempt re-invokes the payment operation (required).
	Attempt AttemptFunc

	// Emitter publishes lifecycle events (default: a fresh emitter).
	Emitter *Emitter

	// Audit optionally mirrors terminal entries to durable storage.
	Audit AuditSink

	// TickInterval is the period of the scanning loop (default 30s). It is
	// independent of any gateway timeout.
	TickInterval time.Duration

	// MaxConcurrent bounds parallel re-attempts within one scan pass
	// (default 8). Entries are independent, so a slow re-attempt must not
	// stall the scan of the others.
	MaxConcurrent int

	// BatchLimit caps how many due entries one pass claims (default 256).
	BatchLimit int

	// MaxDelay caps the exponential backoff (default 10m).
	MaxDelay time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks attempts and outcomes (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the time source, for tests.
	Now func() time.Time
}

// Scheduler owns the retry queue: idempotent enqueue of failed transactions,
// a periodic scan that re-invokes due entries, and the queued -> retrying ->
// {succeeded | queued | exhausted} state machine. Cancellation is possible
// from any non-terminal state.
type Scheduler struct {
	store   RetryStore
	config  SchedulerConfig
	logger  Logger
	metrics Metrics
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewScheduler creates a retry scheduler over the given store.
func NewScheduler(store RetryStore, config SchedulerConfig) (*Scheduler, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if config.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if config.Attempt == nil {
		return nil, errors.New("attempt func is required")
	}
	if config.Emitter == nil {
		config.Emitter = NewEmitter(config.Logger)
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 256
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Scheduler{
		store:   store,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Emitter returns the emitter lifecycle events are published on.
func (s *Scheduler) Emitter() *Emitter {
	return s.config.Emitter
}

// QueueRetry classifies the failure and, when the class is retryable,
// idempotently inserts a retry entry for the transaction. Returns false when
// the class is not retryable or a live entry already exists; a duplicate call
// is a defined no-op, not an error.
func (s *Scheduler) QueueRetry(ctx context.Context, transactionID string, perr *PaymentError, meta Metadata) (bool, error) {
	if perr == nil {
		return false, errors.New("payment error is required")
	}
	select {
	case <-s.stopCh:
		return false, ErrSchedulerStopped
	default:
	}

	strat := s.config.Classifier.Classify(perr.Code)
	if !strat.ShouldRetry {
		return false, nil
	}

	now := s.now()
	next := now.Add(strat.BaseDelay)
	if strat.Immediate {
		next = now
	}

	entry := &RetryEntry{
		TransactionID: transactionID,
		ErrorCode:     perr.Code,
		AttemptCount:  0,
		MaxAttempts:   strat.MaxAttempts,
		BaseDelay:     strat.BaseDelay,
		Immediate:     strat.Immediate,
		NextRetryAt:   next,
		Status:        StatusQueued,
		Metadata:      meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inserted, err := s.store.Insert(ctx, entry)
	if err != nil {
		// Losing a scheduled retry silently is the one failure this
		// design must avoid.
		s.logger.Error("failed to enqueue payment retry",
			TxnField(transactionID),
			Field{Key: "error_code", Value: perr.Code},
			ErrField(err))
		return false, fmt.Errorf("queue retry: %w", err)
	}
	if !inserted {
		return false, nil
	}

	s.emit(EventQueued, entry, "payment retry scheduled")
	return true, nil
}

// ProcessRetryQueue runs one scan pass: claims all due entries and re-invokes
// them with bounded concurrency. A failing entry never halts the scan of the
// others. Safe to call concurrently with itself and with CancelRetry; the
// per-entry claim is atomic, so no entry is re-invoked twice.
func (s *Scheduler) ProcessRetryQueue(ctx context.Context) error {
	due, err := s.store.Due(ctx, s.now(), s.config.BatchLimit)
	if err != nil {
		s.logger.Error("retry queue scan failed", ErrField(err))
		return fmt.Errorf("scan retry queue: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)
	for _, entry := range due {
		transactionID := entry.TransactionID
		g.Go(func() error {
			s.processEntry(gctx, transactionID)
			return nil
		})
	}
	return g.Wait()
}

// GetRetryStatus returns a copy of the live entry for a transaction, or nil
// for unknown or already-terminal-and-purged transactions.
func (s *Scheduler) GetRetryStatus(ctx context.Context, transactionID string) (*RetryEntry, error) {
	return s.store.Get(ctx, transactionID)
}

// CancelRetry transitions a live entry to cancelled and removes it from
// scheduling. Returns whether a live entry was found. Safe to call
// concurrently with ProcessRetryQueue: a racing scan detects the
// cancellation before re-invoking.
func (s *Scheduler) CancelRetry(ctx context.Context, transactionID string) (bool, error) {
	entry, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return false, err
	}

	ok, err := s.store.Cancel(ctx, transactionID, s.now())
	if err != nil || !ok {
		return false, err
	}

	if entry != nil {
		entry.Status = StatusCancelled
		s.audit(ctx, entry)
		s.emit(EventCancelled, entry, "payment retry cancelled")
	}
	return true, nil
}

// Start launches the periodic scanning loop. Idempotent.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.loop()
	})
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.ProcessRetryQueue(context.Background()); err != nil {
				s.logger.Error("retry queue pass failed", ErrField(err))
			}
		}
	}
}

// Shutdown stops the periodic scan and waits for the in-flight pass to
// drain, then for pending event deliveries.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started {
		select {
		case <-s.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.config.Emitter.Close()
	return nil
}

// processEntry drives one due entry through a single attempt.
func (s *Scheduler) processEntry(ctx context.Context, transactionID string) {
	entry, claimed, err := s.store.BeginAttempt(ctx, transactionID, s.now())
	if err != nil {
		s.logger.Error("failed to claim retry entry",
			TxnField(transactionID),
			ErrField(err))
		return
	}
	if !claimed {
		// Cancelled, or claimed by a concurrent pass.
		s.metrics.RecordRetryAttempt("", "skipped")
		return
	}

	attemptErr := s.safeAttempt(ctx, entry.Clone())
	now := s.now()

	if attemptErr == nil {
		entry.Status = StatusSucceeded
		entry.UpdatedAt = now
		s.finish(ctx, entry, EventSucceeded, "payment recovered")
		s.metrics.RecordRetryAttempt(entry.ErrorCode, "succeeded")
		return
	}

	code := CodeProcessingError
	var perr *PaymentError
	if errors.As(attemptErr, &perr) {
		code = perr.Code
	}
	strat := s.config.Classifier.Classify(code)

	entry.AttemptCount++
	entry.ErrorCode = code
	entry.UpdatedAt = now

	// A failure that reclassifies as permanent ends the chain early;
	// further attempts cannot succeed.
	if !strat.ShouldRetry || entry.AttemptCount >= entry.MaxAttempts {
		entry.Status = StatusExhausted
		msg := fmt.Sprintf("payment could not be completed after %d attempts", entry.AttemptCount)
		s.finish(ctx, entry, EventExhausted, msg)
		s.metrics.RecordRetryAttempt(code, "exhausted")
		return
	}

	entry.Status = StatusQueued
	entry.NextRetryAt = now.Add(s.backoff(entry.BaseDelay, entry.AttemptCount))
	if err := s.store.Requeue(ctx, entry); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			// Cancelled while the attempt was in flight.
			s.metrics.RecordRetryAttempt(code, "skipped")
			return
		}
		s.logger.Error("failed to requeue retry entry",
			TxnField(entry.TransactionID),
			ErrField(err))
		return
	}

	s.emit(EventRetrying, entry, "payment retry attempt failed, rescheduled")
	s.metrics.RecordRetryAttempt(code, "requeued")
}

// finish removes a terminal entry from scheduling, mirrors it for audit and
// emits exactly one terminal notification.
func (s *Scheduler) finish(ctx context.Context, entry *RetryEntry, event EventType, msg string) {
	if err := s.store.Remove(ctx, entry.TransactionID); err != nil {
		s.logger.Error("failed to remove terminal retry entry",
			TxnField(entry.TransactionID),
			ErrField(err))
	}
	s.audit(ctx, entry)
	s.emit(event, entry, msg)
}

func (s *Scheduler) audit(ctx context.Context, entry *RetryEntry) {
	if s.config.Audit == nil {
		return
	}
	if err := s.config.Audit.RecordRetryOutcome(ctx, entry); err != nil {
		s.logger.Warn("failed to mirror retry outcome",
			TxnField(entry.TransactionID),
			ErrField(err))
	}
}

// safeAttempt isolates a panicking payment operation to its own entry so one
// bad entry cannot halt the scan.
func (s *Scheduler) safeAttempt(ctx context.Context, entry *RetryEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("payment attempt panicked",
				TxnField(entry.TransactionID),
				Field{Key: "panic", Value: r})
			err = &PaymentError{Code: CodeProcessingError, Message: fmt.Sprintf("attempt panicked: %v", r)}
		}
	}()
	return s.config.Attempt(ctx, entry)
}

// backoff doubles the delay per consumed attempt, bounded by MaxDelay.
func (s *Scheduler) backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.MaxDelay {
			return s.config.MaxDelay
		}
	}
	if delay <= 0 {
		delay = time.Second
	}
	return delay
}

func (s *Scheduler) emit(event EventType, entry *RetryEntry, msg string) {
	e := Event{
		Type:          event,
		TransactionID: entry.TransactionID,
		UserID:        entry.Metadata.UserID,
		Status:        entry.Status,
		Message:       msg,
		AttemptCount:  entry.AttemptCount,
	}
	if entry.Status == StatusQueued {
		next := entry.NextRetryAt
		e.NextRetryAt = &next
	}
	s.config.Emitter.Emit(e)
}
