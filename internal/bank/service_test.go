//go:build unit

package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

var testAccount = Account{UserID: "4632941", Bank: "central"}

// newTestService builds a service over fresh fakes.
func newTestService() (*Service, *fakeStore, *fakeLedger, *fakeNotifier) {
	store := newFakeStore()
	ledger := newFakeLedger()
	notifier := newFakeNotifier()

	return NewService(store, ledger, notifier), store, ledger, notifier
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewService_Defaults(t *testing.T) {
	t.Parallel()

	service, _, _, _ := newTestService()
	assert.Equal(t, DefaultNotifyTimeout, service.notifyTimeout)

	service.WithNotifyTimeout(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, service.notifyTimeout)

	service.WithNotifyTimeout(0)
	assert.Equal(t, 250*time.Millisecond, service.notifyTimeout, "non-positive timeout must be ignored")
}

// ---------------------------------------------------------------------------
// Execute -- commits
// ---------------------------------------------------------------------------

func TestExecute_DebitCommits(t *testing.T) {
	t.Parallel()

	service, store, ledger, notifier := newTestService()
	store.seed(t, testAccount, "100")

	discordID := "discord-551"
	result, err := service.Execute(context.Background(), Input{
		Account:   testAccount,
		Type:      TypeDebit,
		Amount:    decimal.NewFromInt(30),
		DiscordID: &discordID,
	})
	require.NoError(t, err)

	assert.True(t, result.Before.Equal(decimal.NewFromInt(100)), "before: got %s", result.Before)
	assert.True(t, result.After.Equal(decimal.NewFromInt(70)), "after: got %s", result.After)
	assert.True(t, store.latest(t, testAccount).Equal(decimal.NewFromInt(70)))
	assert.Equal(t, 1, store.writes())

	// Exactly one audit row, carrying the signed amount.
	require.Equal(t, 1, ledger.rows(testAccount))

	entries, err := ledger.ListByAccount(context.Background(), testAccount)
	require.NoError(t, err)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(-30)), "audit amount: got %s", entries[0].Amount)
	require.NotNil(t, entries[0].DiscordID)
	assert.Equal(t, discordID, *entries[0].DiscordID)

	notifier.waitPublished(t)

	notifications := notifier.notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, testAccount.UserID, notifications[0].UserID)
	assert.Equal(t, TypeDebit, notifications[0].Type)
	assert.True(t, notifications[0].Amount.Equal(decimal.NewFromInt(30)))
	assert.True(t, notifications[0].Before.Equal(decimal.NewFromInt(100)))
	assert.True(t, notifications[0].After.Equal(decimal.NewFromInt(70)))
	assert.False(t, notifications[0].CommittedAt.IsZero())
}

func TestExecute_CreditCommits(t *testing.T) {
	t.Parallel()

	service, store, ledger, _ := newTestService()
	store.seed(t, testAccount, "100")

	result, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeCredit,
		Amount:  decimal.NewFromInt(25),
	})
	require.NoError(t, err)

	assert.True(t, result.Before.Equal(decimal.NewFromInt(100)))
	assert.True(t, result.After.Equal(decimal.NewFromInt(125)))
	assert.True(t, store.latest(t, testAccount).Equal(decimal.NewFromInt(125)))

	entries, err := ledger.ListByAccount(context.Background(), testAccount)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(25)), "credit audit amount stays positive")
	assert.Nil(t, entries[0].DiscordID)
}

func TestExecute_DebitToExactlyZeroCommits(t *testing.T) {
	t.Parallel()

	service, store, _, _ := newTestService()
	store.seed(t, testAccount, "42")

	result, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(42),
	})
	require.NoError(t, err)
	assert.True(t, result.After.IsZero(), "after: got %s", result.After)
	assert.True(t, store.latest(t, testAccount).IsZero())
}

func TestExecute_NilNotifierCommits(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ledger := newFakeLedger()
	store.seed(t, testAccount, "100")

	service := NewService(store, ledger, nil)

	result, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.True(t, result.After.Equal(decimal.NewFromInt(90)))
}

// ---------------------------------------------------------------------------
// Execute -- input rejection before anything is recorded
// ---------------------------------------------------------------------------

func TestExecute_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		typ    TransactionType
		amount decimal.Decimal
	}{
		{name: "zero amount", typ: TypeDebit, amount: decimal.Zero},
		{name: "negative amount", typ: TypeCredit, amount: decimal.NewFromInt(-5)},
		{name: "unknown type", typ: TransactionType("transfer"), amount: decimal.NewFromInt(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service, store, ledger, _ := newTestService()
			store.seed(t, testAccount, "100")

			_, err := service.Execute(context.Background(), Input{
				Account: testAccount,
				Type:    tt.typ,
				Amount:  tt.amount,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, constant.ErrBadRequest)

			// Rejected before the append: no audit row, store untouched.
			assert.Equal(t, 0, ledger.rows(testAccount))
			assert.Equal(t, 0, store.reads())
			assert.Equal(t, 0, store.writes())
		})
	}
}

// ---------------------------------------------------------------------------
// Execute -- rollback paths
// ---------------------------------------------------------------------------

func TestExecute_InsufficientFundsRollsBack(t *testing.T) {
	t.Parallel()

	service, store, ledger, notifier := newTestService()
	store.seed(t, testAccount, "10")

	_, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(50),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrInsufficientFunds)

	// Net effect: no audit row, no store write, balance unchanged.
	assert.Equal(t, 0, ledger.rows(testAccount))
	assert.Equal(t, 0, store.writes())
	assert.True(t, store.latest(t, testAccount).Equal(decimal.NewFromInt(10)))
	assert.Empty(t, notifier.notifications())
}

func TestExecute_UnprovisionedAccountRollsBack(t *testing.T) {
	t.Parallel()

	service, store, ledger, _ := newTestService()

	_, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeCredit,
		Amount:  decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrAccountNotProvisioned)

	assert.Equal(t, 0, ledger.rows(testAccount))
	assert.Equal(t, 0, store.writes())
}

func TestExecute_StoreReadFailureRollsBack(t *testing.T) {
	t.Parallel()

	service, store, ledger, _ := newTestService()
	store.seed(t, testAccount, "100")
	store.readErr = fmt.Errorf("get balance: status 500: %w", constant.ErrBalanceStoreUnavailable)

	_, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(30),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)

	assert.Equal(t, 0, ledger.rows(testAccount))
	assert.Equal(t, 0, store.writes())
}

func TestExecute_VersionConflictRollsBack(t *testing.T) {
	t.Parallel()

	service, store, ledger, notifier := newTestService()
	store.seed(t, testAccount, "100")
	store.writeErr = fmt.Errorf("put balance: status 412: %w", constant.ErrBalanceVersionConflict)

	_, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(30),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrBalanceVersionConflict)

	// One attempt only, then rollback. No retry loop.
	assert.Equal(t, 1, store.writes())
	assert.Equal(t, 0, ledger.rows(testAccount))
	assert.True(t, store.latest(t, testAccount).Equal(decimal.NewFromInt(100)))
	assert.Empty(t, notifier.notifications())
}

func TestExecute_AppendFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	service, store, ledger, _ := newTestService()
	store.seed(t, testAccount, "100")
	ledger.appendErr = errors.New("insert failed")

	_, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(30),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrAuditAppendFailed)

	// Failed before the balance store was ever contacted.
	assert.Equal(t, 0, store.reads())
	assert.Equal(t, 0, store.writes())
	assert.Empty(t, ledger.removed, "nothing to compensate")
}

func TestExecute_CompensationFailureSupersedesCause(t *testing.T) {
	t.Parallel()

	service, store, ledger, _ := newTestService()
	store.seed(t, testAccount, "10")
	ledger.removeErr = errors.New("connection reset")

	_, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(50),
	})
	require.Error(t, err)

	// The compensation failure replaces the insufficient-funds cause: the
	// caller sees only the orphaned-entry condition.
	assert.ErrorIs(t, err, constant.ErrAuditCompensationFailed)
	assert.False(t, errors.Is(err, constant.ErrInsufficientFunds), "cause must not survive in the chain")

	// The orphaned entry is still there for reconciliation.
	assert.Equal(t, 1, ledger.rows(testAccount))
}

// ---------------------------------------------------------------------------
// Execute -- notification isolation
// ---------------------------------------------------------------------------

func TestExecute_NotificationFailureDoesNotAffectResult(t *testing.T) {
	t.Parallel()

	service, store, ledger, notifier := newTestService()
	store.seed(t, testAccount, "100")
	notifier.err = errors.New("broker down")

	result, err := service.Execute(context.Background(), Input{
		Account: testAccount,
		Type:    TypeDebit,
		Amount:  decimal.NewFromInt(30),
	})
	require.NoError(t, err)
	assert.True(t, result.After.Equal(decimal.NewFromInt(70)))

	notifier.waitPublished(t)

	// Exactly one attempt: failures are not retried and the committed state
	// is left alone.
	assert.Len(t, notifier.notifications(), 1)
	assert.True(t, store.latest(t, testAccount).Equal(decimal.NewFromInt(70)))
	assert.Equal(t, 1, ledger.rows(testAccount))
}

// ---------------------------------------------------------------------------
// Execute -- concurrent same-account transactions
// ---------------------------------------------------------------------------

func TestExecute_ConcurrentDebitsConflictOnVersion(t *testing.T) {
	t.Parallel()

	service, store, ledger, _ := newTestService()
	store.seed(t, testAccount, "100")

	// Both calls must read the same version before either writes.
	var barrier sync.WaitGroup

	barrier.Add(2)
	store.readBarrier = &barrier

	input := Input{Account: testAccount, Type: TypeDebit, Amount: decimal.NewFromInt(30)}
	results := make([]error, 2)

	var wg sync.WaitGroup

	wg.Add(2)

	for i := 0; i < 2; i++ {
		go func(idx int) {
			defer wg.Done()

			_, results[idx] = service.Execute(context.Background(), input)
		}(i)
	}

	wg.Wait()

	var commits, conflicts int

	for _, err := range results {
		switch {
		case err == nil:
			commits++
		case errors.Is(err, constant.ErrBalanceVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, commits, "exactly one transaction wins the version race")
	assert.Equal(t, 1, conflicts, "the loser surfaces the conflict instead of retrying")

	// The winner's effect, and only the winner's, is visible.
	assert.True(t, store.latest(t, testAccount).Equal(decimal.NewFromInt(70)),
		"balance: got %s", store.latest(t, testAccount))
	assert.Equal(t, 1, ledger.rows(testAccount))
	assert.Equal(t, 2, store.writes(), "both attempted exactly one write each")
}
