//go:build unit

package bank

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

// dec parses a decimal literal, failing the test on bad input.
func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()

	d, err := decimal.NewFromString(s)
	require.NoError(t, err)

	return d
}

func TestApplyDelta(t *testing.T) {
	tests := []struct {
		name       string
		balance    string
		delta      string
		wantBefore string
		wantAfter  string
	}{
		{name: "debit leaves funds", balance: "100", delta: "-30", wantBefore: "100", wantAfter: "70"},
		{name: "debit to exactly zero", balance: "42", delta: "-42", wantBefore: "42", wantAfter: "0"},
		{name: "credit", balance: "100", delta: "25", wantBefore: "100", wantAfter: "125"},
		{name: "credit from zero", balance: "0", delta: "25", wantBefore: "0", wantAfter: "25"},
		{name: "fractional precision", balance: "100.005", delta: "-0.001", wantBefore: "100.005", wantAfter: "100.004"},
		{name: "eighteen decimal places", balance: "0.000000000000000002", delta: "-0.000000000000000001", wantBefore: "0.000000000000000002", wantAfter: "0.000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			record := BalanceRecord{Balance: dec(t, tt.balance)}

			result, next, err := ApplyDelta(record, dec(t, tt.delta))
			require.NoError(t, err)

			assert.True(t, result.Before.Equal(dec(t, tt.wantBefore)), "before: got %s", result.Before)
			assert.True(t, result.After.Equal(dec(t, tt.wantAfter)), "after: got %s", result.After)
			assert.True(t, next.Balance.Equal(result.After), "written record must carry the after balance")
		})
	}
}

func TestApplyDelta_InsufficientFunds(t *testing.T) {
	t.Parallel()

	record := BalanceRecord{Balance: decimal.NewFromInt(10)}

	_, _, err := ApplyDelta(record, decimal.NewFromInt(-50))
	require.Error(t, err)
	assert.ErrorIs(t, err, constant.ErrInsufficientFunds)
}

func TestApplyDelta_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	record := BalanceRecord{Balance: decimal.NewFromInt(100)}

	_, next, err := ApplyDelta(record, decimal.NewFromInt(-30))
	require.NoError(t, err)

	assert.True(t, record.Balance.Equal(decimal.NewFromInt(100)), "input record mutated to %s", record.Balance)
	assert.True(t, next.Balance.Equal(decimal.NewFromInt(70)))
}

func TestApplyDelta_DoesNotMutateInputOnError(t *testing.T) {
	t.Parallel()

	record := BalanceRecord{Balance: decimal.NewFromInt(10)}

	_, _, err := ApplyDelta(record, decimal.NewFromInt(-50))
	require.Error(t, err)
	assert.True(t, record.Balance.Equal(decimal.NewFromInt(10)), "input record mutated to %s", record.Balance)
}
