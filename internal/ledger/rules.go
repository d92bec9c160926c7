package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Delta is a signed change to one account balance.
type Delta struct {
	AccountID int64
	Amount    decimal.Decimal
}

// storedAmount returns the signed amount persisted on the transaction row.
func storedAmount(t TransactionType, amount decimal.Decimal) decimal.Decimal {
	if t == TypeExpense {
		return amount.Abs().Neg()
	}
	return amount
}

// Deltas derives the balance effect of a persisted transaction.
//
//	INCOME, DEBT_TAKEN, OTHER   primary += amount
//	EXPENSE                     primary -= abs(amount)
//	DEBT_REPAID                 primary -= amount
//	TRANSFER_IN, TRANSFER_OUT   source -= amount, destination += amount
//
// Both transfer types share one effect; they differ only in which side
// initiated the movement.
func Deltas(t Transaction) ([]Delta, error) {
	switch t.Type {
	case TypeIncome, TypeDebtTaken, TypeOther:
		if t.AccountID == nil {
			return nil, fmt.Errorf("ledger: %s transaction %d has no account", t.Type, t.ID)
		}
		return []Delta{{AccountID: *t.AccountID, Amount: t.Amount}}, nil
	case TypeExpense:
		if t.AccountID == nil {
			return nil, fmt.Errorf("ledger: %s transaction %d has no account", t.Type, t.ID)
		}
		return []Delta{{AccountID: *t.AccountID, Amount: t.Amount.Abs().Neg()}}, nil
	case TypeDebtRepaid:
		if t.AccountID == nil {
			return nil, fmt.Errorf("ledger: %s transaction %d has no account", t.Type, t.ID)
		}
		return []Delta{{AccountID: *t.AccountID, Amount: t.Amount.Neg()}}, nil
	case TypeTransferIn, TypeTransferOut:
		if t.FromAccountID == nil || t.ToAccountID == nil {
			return nil, fmt.Errorf("ledger: %s transaction %d is missing a side", t.Type, t.ID)
		}
		return []Delta{
			{AccountID: *t.FromAccountID, Amount: t.Amount.Neg()},
			{AccountID: *t.ToAccountID, Amount: t.Amount},
		}, nil
	}
	return nil, fmt.Errorf("ledger: unknown transaction type %q", t.Type)
}

// Inverse negates every delta.
func Inverse(deltas []Delta) []Delta {
	out := make([]Delta, len(deltas))
	for i, d := range deltas {
		out[i] = Delta{AccountID: d.AccountID, Amount: d.Amount.Neg()}
	}
	return out
}
