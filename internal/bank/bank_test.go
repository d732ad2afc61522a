//go:build unit

package bank

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

func TestTransactionType_Delta(t *testing.T) {
	tests := []struct {
		name      string
		typ       TransactionType
		magnitude string
		want      string
		wantErr   bool
	}{
		{name: "debit negates", typ: TypeDebit, magnitude: "30", want: "-30"},
		{name: "credit keeps sign", typ: TypeCredit, magnitude: "30", want: "30"},
		{name: "debit fractional", typ: TypeDebit, magnitude: "0.005", want: "-0.005"},
		{name: "zero magnitude rejected", typ: TypeDebit, magnitude: "0", wantErr: true},
		{name: "negative magnitude rejected", typ: TypeCredit, magnitude: "-5", wantErr: true},
		{name: "unknown type rejected", typ: TransactionType("transfer"), magnitude: "10", wantErr: true},
		{name: "empty type rejected", typ: TransactionType(""), magnitude: "10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.typ.Delta(dec(t, tt.magnitude))

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, constant.ErrBadRequest)

				return
			}

			require.NoError(t, err)
			assert.True(t, got.Equal(dec(t, tt.want)), "delta: want %s got %s", tt.want, got)
		})
	}
}

func TestAccount_String(t *testing.T) {
	t.Parallel()

	account := Account{UserID: "4632941", Bank: "central"}
	assert.Equal(t, "central/4632941", account.String())
}

func TestApplyDelta_RoundTripsThroughType(t *testing.T) {
	t.Parallel()

	// The signed delta derived from a type applies cleanly to a record.
	delta, err := TypeDebit.Delta(decimal.NewFromInt(30))
	require.NoError(t, err)

	result, _, err := ApplyDelta(BalanceRecord{Balance: decimal.NewFromInt(100)}, delta)
	require.NoError(t, err)
	assert.True(t, result.After.Equal(decimal.NewFromInt(70)))
}
