package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestDeltasRuleTable(t *testing.T) {
	amt := decimal.RequireFromString("150.25")
	cases := []struct {
		name string
		tx   Transaction
		want []Delta
	}{
		{"income", Transaction{Type: TypeIncome, Amount: amt, AccountID: ptr(1)}, []Delta{{1, amt}}},
		{"debt taken", Transaction{Type: TypeDebtTaken, Amount: amt, AccountID: ptr(1)}, []Delta{{1, amt}}},
		{"other signed", Transaction{Type: TypeOther, Amount: amt.Neg(), AccountID: ptr(1)}, []Delta{{1, amt.Neg()}}},
		{"expense stored negative", Transaction{Type: TypeExpense, Amount: amt.Neg(), AccountID: ptr(1)}, []Delta{{1, amt.Neg()}}},
		{"expense positive legacy", Transaction{Type: TypeExpense, Amount: amt, AccountID: ptr(1)}, []Delta{{1, amt.Neg()}}},
		{"debt repaid", Transaction{Type: TypeDebtRepaid, Amount: amt, AccountID: ptr(1)}, []Delta{{1, amt.Neg()}}},
		{"transfer out", Transaction{Type: TypeTransferOut, Amount: amt, FromAccountID: ptr(1), ToAccountID: ptr(2)}, []Delta{{1, amt.Neg()}, {2, amt}}},
		{"transfer in", Transaction{Type: TypeTransferIn, Amount: amt, FromAccountID: ptr(1), ToAccountID: ptr(2)}, []Delta{{1, amt.Neg()}, {2, amt}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Deltas(tc.tx)
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range got {
				require.Equal(t, tc.want[i].AccountID, got[i].AccountID)
				require.True(t, tc.want[i].Amount.Equal(got[i].Amount), "delta %d: want %s got %s", i, tc.want[i].Amount, got[i].Amount)
			}
		})
	}
}

func TestDeltasRejectsIncompleteRows(t *testing.T) {
	_, err := Deltas(Transaction{Type: TypeIncome, Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	_, err = Deltas(Transaction{Type: TypeTransferIn, Amount: decimal.NewFromInt(1), FromAccountID: ptr(1)})
	require.Error(t, err)
	_, err = Deltas(Transaction{Type: "BOGUS", Amount: decimal.NewFromInt(1), AccountID: ptr(1)})
	require.Error(t, err)
}

func TestInverseCancelsDeltas(t *testing.T) {
	deltas, err := Deltas(Transaction{Type: TypeTransferOut, Amount: decimal.NewFromInt(40), FromAccountID: ptr(3), ToAccountID: ptr(4)})
	require.NoError(t, err)
	sum := map[int64]decimal.Decimal{}
	for _, d := range append(deltas, Inverse(deltas)...) {
		sum[d.AccountID] = sum[d.AccountID].Add(d.Amount)
	}
	for id, v := range sum {
		require.True(t, v.IsZero(), "account %d left with %s", id, v)
	}
}

func TestStoredAmount(t *testing.T) {
	require.Equal(t, "-20", storedAmount(TypeExpense, decimal.NewFromInt(20)).String())
	require.Equal(t, "-20", storedAmount(TypeExpense, decimal.NewFromInt(-20)).String())
	require.Equal(t, "-20", storedAmount(TypeOther, decimal.NewFromInt(-20)).String())
	require.Equal(t, "20", storedAmount(TypeIncome, decimal.NewFromInt(20)).String())
}
