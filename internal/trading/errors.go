package trading

import "errors"

// Rejection and validation errors surfaced to users. Handlers map these to
// 400 responses with the error text as the reason; anything else is treated
// as an internal fault.
var (
	// ErrInvalidQuantity rejects trades for less than one whole share.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidSymbol rejects trades for symbols the quote source cannot
	// resolve. Quote source failures are reported the same way.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInsufficientFunds rejects buys that would overdraw cash.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares rejects sells for more shares than held,
	// including the case of no holdings at all.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrNegativeBalance rejects cash adjustments that would leave the
	// balance below zero.
	ErrNegativeBalance = errors.New("balance cannot go negative")
)

// IsRejection reports whether err is a business-rule refusal or input
// validation failure rather than a system fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrNegativeBalance)
}
