package bank

import (
	"fmt"

	"github.com/shopspring/decimal"

	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

// ApplyDelta applies a signed delta to a balance record and returns the
// before/after pair together with the record to write back. Pure: the input
// record is never mutated and nothing partial escapes on failure. A result
// of exactly zero is allowed; anything below zero is ErrInsufficientFunds.
func ApplyDelta(record BalanceRecord, delta decimal.Decimal) (Result, BalanceRecord, error) {
	after := record.Balance.Add(delta)
	if after.IsNegative() {
		return Result{}, BalanceRecord{}, fmt.Errorf(
			"%w: delta %s would drive balance %s negative",
			constant.ErrInsufficientFunds, delta, record.Balance,
		)
	}

	next := record
	next.Balance = after

	return Result{Before: record.Balance, After: after}, next, nil
}
