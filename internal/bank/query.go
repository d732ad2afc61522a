package bank

import (
	"context"
	"fmt"

	"github.com/mysverse/worker-bank/pkg/commons"
	"github.com/mysverse/worker-bank/pkg/commons/errgroup"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
)

// ListTransactions returns the account's transaction history, most recent
// first, together with the most recently recorded Discord id. The two
// ledger reads are independent and run concurrently under one cancellation
// scope.
func (s *Service) ListTransactions(ctx context.Context, account Account) (History, error) {
	logger, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "bank.list_transactions")
	defer span.End()

	var (
		entries   []LedgerEntry
		discordID *string
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLogger(logger)

	group.Go(func() error {
		listed, err := s.ledger.ListByAccount(groupCtx, account)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}

		entries = listed

		return nil
	})

	group.Go(func() error {
		latest, err := s.ledger.LatestDiscordID(groupCtx, account)
		if err != nil {
			return fmt.Errorf("resolve discord id: %w", err)
		}

		discordID = latest

		return nil
	})

	if err := group.Wait(); err != nil {
		opentelemetry.HandleSpanError(&span, "load transaction history", err)

		return History{}, err
	}

	return History{Entries: entries, DiscordID: discordID}, nil
}

// Balance reads the account's current balance: latest version marker, then
// the record stored at it. Nothing is written.
func (s *Service) Balance(ctx context.Context, account Account) (BalanceRecord, error) {
	_, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "bank.balance")
	defer span.End()

	version, err := s.store.LatestVersion(ctx, account)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "resolve latest version", err)

		return BalanceRecord{}, fmt.Errorf("resolve latest version: %w", err)
	}

	record, err := s.store.ReadBalance(ctx, account, version)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "read balance", err)

		return BalanceRecord{}, fmt.Errorf("read balance: %w", err)
	}

	return record, nil
}
