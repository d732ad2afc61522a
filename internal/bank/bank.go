package bank

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

// TransactionType selects the direction a transaction moves funds.
type TransactionType string

const (
	// TypeDebit removes funds from the account.
	TypeDebit TransactionType = "debit"
	// TypeCredit adds funds to the account.
	TypeCredit TransactionType = "credit"
)

// Delta converts a positive magnitude into the signed amount applied to the
// balance: negative for debits, positive for credits.
func (t TransactionType) Delta(magnitude decimal.Decimal) (decimal.Decimal, error) {
	if !magnitude.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be greater than zero, got %s", constant.ErrBadRequest, magnitude)
	}

	switch t {
	case TypeDebit:
		return magnitude.Neg(), nil
	case TypeCredit:
		return magnitude, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown transaction type %q", constant.ErrBadRequest, t)
	}
}

// Account identifies a balance held by a user at a named bank.
type Account struct {
	UserID string
	Bank   string
}

// String renders the account as bank/userID for logs and error context.
func (a Account) String() string {
	return a.Bank + "/" + a.UserID
}

// Version is the opaque marker the balance store assigns to each balance
// revision. It is never interpreted locally, only echoed back on reads and
// conditional writes.
type Version string

// BalanceRecord is the balance document stored for an account at a single
// version.
type BalanceRecord struct {
	Balance decimal.Decimal
}

// LedgerEntry is one signed movement recorded in the audit log. Amount is
// negative for debits and positive for credits.
type LedgerEntry struct {
	ID        int64
	UserID    string
	Amount    decimal.Decimal
	Bank      string
	Timestamp time.Time
	DiscordID *string
}

// Result reports the balance around a committed transaction.
type Result struct {
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

// Input is one shape-validated transaction request. Amount is the positive
// magnitude; the sign is derived from Type.
type Input struct {
	Account   Account
	Type      TransactionType
	Amount    decimal.Decimal
	DiscordID *string
}

// Notification describes a committed transaction for downstream consumers.
type Notification struct {
	UserID      string
	Bank        string
	Type        TransactionType
	Amount      decimal.Decimal
	Before      decimal.Decimal
	After       decimal.Decimal
	DiscordID   *string
	CommittedAt time.Time
}

// History is the transaction history of one account: audit entries most
// recent first plus the most recently recorded Discord id, when any.
type History struct {
	Entries   []LedgerEntry
	DiscordID *string
}

// BalanceStore is the versioned remote store holding account balances.
// Implementations map their transport failures onto the business sentinels:
// a missing index is ErrAccountNotProvisioned, a rejected precondition is
// ErrBalanceVersionConflict, anything else is ErrBalanceStoreUnavailable.
type BalanceStore interface {
	// LatestVersion returns the most recent version marker for the account.
	LatestVersion(ctx context.Context, account Account) (Version, error)
	// ReadBalance returns the balance document stored at the given version.
	ReadBalance(ctx context.Context, account Account, version Version) (BalanceRecord, error)
	// CompareAndWrite stores record if and only if the account's latest
	// version still equals version.
	CompareAndWrite(ctx context.Context, account Account, version Version, record BalanceRecord) error
}

// Ledger is the durable audit log of signed balance movements.
type Ledger interface {
	// Append records an entry and returns its assigned id.
	Append(ctx context.Context, entry LedgerEntry) (int64, error)
	// Remove deletes the entry with the given id. Removing an entry that no
	// longer exists is a success: the net effect is the same.
	Remove(ctx context.Context, id int64) error
	// ListByAccount returns the account's entries most recent first.
	ListByAccount(ctx context.Context, account Account) ([]LedgerEntry, error)
	// LatestDiscordID returns the most recently recorded non-null Discord id
	// for the account, or nil when none exists.
	LatestDiscordID(ctx context.Context, account Account) (*string, error)
}

// Notifier publishes committed-transaction events downstream.
type Notifier interface {
	Publish(ctx context.Context, notification Notification) error
}
