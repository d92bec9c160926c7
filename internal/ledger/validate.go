package ledger

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// maxScale is the number of fractional digits balances are stored with.
const maxScale = 2

var maxAmount = decimal.New(1, 15)

// validatePosting checks a transaction intent before any storage access.
func validatePosting(v *validator.Validate, in PostingInput) error {
	if err := v.Struct(in); err != nil {
		return fieldError(err)
	}
	if !in.Type.Valid() {
		return Validation("unknown transaction type %q", in.Type)
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	if in.Type.IsTransfer() {
		if in.AccountID != nil {
			return Validation("%s uses fromAccountId and toAccountId, not accountId", in.Type)
		}
		if in.FromAccountID == nil || in.ToAccountID == nil {
			return Validation("%s requires fromAccountId and toAccountId", in.Type)
		}
		if *in.FromAccountID == *in.ToAccountID {
			return Validation("fromAccountId and toAccountId must differ")
		}
		if in.Amount.IsNegative() {
			return Validation("transfer amount must be positive")
		}
		return nil
	}
	if in.FromAccountID != nil || in.ToAccountID != nil {
		return Validation("%s uses accountId, not fromAccountId/toAccountId", in.Type)
	}
	if in.AccountID == nil {
		return Validation("%s requires accountId", in.Type)
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsZero() {
		return Validation("amount must not be zero")
	}
	if !amount.Equal(amount.Round(maxScale)) {
		return Validation("amount supports at most %d decimal places", maxScale)
	}
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return Validation("amount is out of range")
	}
	return nil
}

func validateAccountInput(v *validator.Validate, in CreateAccountInput) error {
	if err := v.Struct(in); err != nil {
		return fieldError(err)
	}
	if !in.Type.Valid() {
		return Validation("unknown account type %q", in.Type)
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return Validation("unknown currency %q", in.Currency)
	}
	if !in.OpeningBalance.Equal(in.OpeningBalance.Round(maxScale)) {
		return Validation("opening balance supports at most %d decimal places", maxScale)
	}
	return nil
}

// fieldError condenses validator output into one ValidationError.
func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Validation("%s", err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return Validation("%s", strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	name := fe.Field()
	if name != "" {
		name = strings.ToLower(name[:1]) + name[1:]
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "max":
		return name + " is too long"
	case "len":
		return name + " must be " + fe.Param() + " characters"
	case "gt":
		return name + " must be a positive id"
	}
	return name + " is invalid"
}
