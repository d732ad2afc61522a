package bank

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mysverse/worker-bank/pkg/commons"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry/metrics"
	"github.com/mysverse/worker-bank/pkg/commons/runtime"
)

// DefaultNotifyTimeout bounds the fire-and-forget notification publish.
const DefaultNotifyTimeout = 5 * time.Second

// Service orchestrates the transaction protocol against the balance store,
// the audit log and the downstream notifier.
type Service struct {
	store         BalanceStore
	ledger        Ledger
	notifier      Notifier
	notifyTimeout time.Duration
}

// NewService wires the orchestrator. A nil notifier disables downstream
// notifications; store and ledger are required.
func NewService(store BalanceStore, ledger Ledger, notifier Notifier) *Service {
	return &Service{
		store:         store,
		ledger:        ledger,
		notifier:      notifier,
		notifyTimeout: DefaultNotifyTimeout,
	}
}

// WithNotifyTimeout overrides the notification publish timeout.
func (s *Service) WithNotifyTimeout(timeout time.Duration) *Service {
	if timeout > 0 {
		s.notifyTimeout = timeout
	}

	return s
}

// Execute runs one transaction end to end: audit append, versioned balance
// read, delta application and conditional write. Any failure after the
// append removes the audit entry again before the error is returned. The
// balance store is written at most once per call; a version conflict is
// returned to the caller, never retried.
func (s *Service) Execute(ctx context.Context, input Input) (Result, error) {
	logger, tracer, _, metricsFactory := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "bank.execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("app.transaction.bank", input.Account.Bank),
		attribute.String("app.transaction.type", string(input.Type)),
	)

	tx := newTransaction(input.Account)

	delta, err := input.Type.Delta(input.Amount)
	if err != nil {
		opentelemetry.HandleSpanBusinessErrorEvent(&span, "transaction.rejected", err)
		tx.to(ctx, logger, StateFailed)

		return Result{}, err
	}

	entryID, err := s.ledger.Append(ctx, LedgerEntry{
		UserID:    input.Account.UserID,
		Amount:    delta,
		Bank:      input.Account.Bank,
		DiscordID: input.DiscordID,
	})
	if err != nil {
		opentelemetry.HandleSpanError(&span, "append audit entry", err)
		tx.to(ctx, logger, StateFailed)

		return Result{}, fmt.Errorf("%w: %v", constant.ErrAuditAppendFailed, err)
	}

	opentelemetry.HandleSpanEvent(&span, "audit.appended", attribute.Int64("app.transaction.entry_id", entryID))
	tx.to(ctx, logger, StateLogged)

	version, err := s.store.LatestVersion(ctx, input.Account)
	if err != nil {
		return Result{}, s.rollback(ctx, &span, tx, entryID, fmt.Errorf("resolve latest version: %w", err))
	}

	record, err := s.store.ReadBalance(ctx, input.Account, version)
	if err != nil {
		return Result{}, s.rollback(ctx, &span, tx, entryID, fmt.Errorf("read balance: %w", err))
	}

	result, next, err := ApplyDelta(record, delta)
	if err != nil {
		return Result{}, s.rollback(ctx, &span, tx, entryID, err)
	}

	if err := s.store.CompareAndWrite(ctx, input.Account, version, next); err != nil {
		return Result{}, s.rollback(ctx, &span, tx, entryID, fmt.Errorf("commit balance: %w", err))
	}

	tx.to(ctx, logger, StateCommitted)
	s.count(ctx, logger, metricsFactory, metrics.MetricTransactionsCommitted, input.Account.Bank)

	s.notifyAsync(ctx, Notification{
		UserID:      input.Account.UserID,
		Bank:        input.Account.Bank,
		Type:        input.Type,
		Amount:      input.Amount,
		Before:      result.Before,
		After:       result.After,
		DiscordID:   input.DiscordID,
		CommittedAt: time.Now().UTC(),
	})

	return result, nil
}

// rollback removes the audit entry of a transaction that did not commit.
// The cause is returned untouched when compensation succeeds. When the
// remove itself fails the transaction stays LOGGED with its entry orphaned,
// and ErrAuditCompensationFailed supersedes the cause: the returned error
// does not match the cause under errors.Is, the cause survives only in the
// log line.
func (s *Service) rollback(ctx context.Context, span *trace.Span, tx *transaction, entryID int64, cause error) error {
	logger, _, _, metricsFactory := commons.NewTrackingFromContext(ctx)

	opentelemetry.HandleSpanBusinessErrorEvent(span, "transaction.rollback", cause)

	if err := s.ledger.Remove(ctx, entryID); err != nil {
		opentelemetry.HandleSpanError(span, "remove audit entry", err)
		logger.Log(ctx, log.LevelError, "audit compensation failed, entry is orphaned",
			log.Int64("entry_id", entryID),
			log.String("account", tx.account.String()),
			log.String("remove_error", err.Error()),
			log.Err(cause),
		)

		return fmt.Errorf("%w: entry %d: %v", constant.ErrAuditCompensationFailed, entryID, err)
	}

	logger.Log(ctx, log.LevelWarn, "transaction rolled back",
		log.Int64("entry_id", entryID),
		log.String("account", tx.account.String()),
		log.Err(cause),
	)

	tx.to(ctx, logger, StateRolledBack)
	s.count(ctx, logger, metricsFactory, metrics.MetricTransactionsRolledBack, tx.account.Bank)

	return cause
}

// notifyAsync publishes the committed-transaction event without holding up
// the caller. The goroutine detaches from request cancellation and runs
// under its own timeout; a publish failure is logged and counted, never
// returned and never retried.
func (s *Service) notifyAsync(ctx context.Context, notification Notification) {
	if s.notifier == nil {
		return
	}

	logger, _, _, metricsFactory := commons.NewTrackingFromContext(ctx)
	detached := context.WithoutCancel(ctx)

	runtime.SafeGoWithContextAndComponent(detached, logger, "bank", "notify_transaction", runtime.KeepRunning, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()

		if err := s.notifier.Publish(ctx, notification); err != nil {
			logger.Log(ctx, log.LevelWarn, "transaction notification failed",
				log.String("user_id", notification.UserID),
				log.String("bank", notification.Bank),
				log.Err(err),
			)

			s.count(ctx, logger, metricsFactory, metrics.MetricNotificationsFailed, notification.Bank)
		}
	})
}

// count increments a bank-labelled counter, logging instrument failures
// instead of surfacing them.
func (s *Service) count(ctx context.Context, logger log.Logger, factory *metrics.MetricsFactory, m metrics.Metric, bank string) {
	counter, err := factory.Counter(m)
	if err != nil {
		logger.Log(ctx, log.LevelWarn, "create counter", log.String("metric", m.Name), log.Err(err))

		return
	}

	if err := counter.WithLabels(map[string]string{"bank": bank}).AddOne(ctx); err != nil {
		logger.Log(ctx, log.LevelWarn, "record counter", log.String("metric", m.Name), log.Err(err))
	}
}

// transaction tracks the lifecycle of a single Execute call.
type transaction struct {
	account Account
	state   State
	started time.Time
}

func newTransaction(account Account) *transaction {
	return &transaction{
		account: account,
		state:   StateInitiated,
		started: time.Now(),
	}
}

// to advances the lifecycle following the transition table in state.go.
// Execute only requests legal moves; a rejected move is logged and the
// state left unchanged.
func (t *transaction) to(ctx context.Context, logger log.Logger, next State) {
	state, err := t.state.Transition(next)
	if err != nil {
		logger.Log(ctx, log.LevelError, "transaction lifecycle violation", log.Err(err))

		return
	}

	t.state = state

	if state.Terminal() {
		logger.Log(ctx, log.LevelInfo, "transaction finished",
			log.String("account", t.account.String()),
			log.String("state", string(state)),
			log.String("duration", time.Since(t.started).String()),
		)
	}
}
