// Package trading derives holdings and portfolio value from the transaction
// ledger and gatekeeps trade admissibility.
package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/cameronalberg/stock-trader/internal/quote"
)

// Holding is the net share count for one symbol, summed over the ledger.
type Holding struct {
	Symbol string `db:"symbol" json:"symbol"`
	Shares int64  `db:"shares" json:"shares"`
}

// Trade describes a committed buy or sell. Shares is signed: positive for
// buys, negative for sells.
type Trade struct {
	ID     int64           `json:"id"`
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Total  decimal.Decimal `json:"total"`
}

// Position is one row of a valued portfolio.
type Position struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

// Portfolio is the full valued state of an account.
type Portfolio struct {
	Positions []Position      `json:"positions"`
	Cash      decimal.Decimal `json:"cash"`
	Total     decimal.Decimal `json:"total"`
}

// Ledger is the durable transaction log the valuator reads from and commits
// to. RecordTrade must be atomic: it re-checks cash and holdings under the
// user's row lock and returns ErrInsufficientFunds or ErrInsufficientShares
// if the trade is no longer admissible, committing the transaction row and
// the cash update together or not at all.
type Ledger interface {
	RecordTrade(ctx context.Context, userID int64, symbol string, shares int64, price decimal.Decimal) (int64, error)
	CashBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Holdings(ctx context.Context, userID int64) ([]Holding, error)
}

// Valuator computes holdings and asset value and validates trades before
// handing them to the ledger.
type Valuator struct {
	ledger Ledger
	quotes quote.Source
	log    *logrus.Logger
}

func NewValuator(ledger Ledger, quotes quote.Source, log *logrus.Logger) *Valuator {
	return &Valuator{ledger: ledger, quotes: quotes, log: log}
}

// lookup resolves a quote, collapsing every failure of the external source
// into ErrInvalidSymbol. Callers never see a raw quote error.
func (v *Valuator) lookup(ctx context.Context, symbol string) (*quote.Quote, error) {
	q, err := v.quotes.Lookup(ctx, symbol)
	if err != nil {
		if !errors.Is(err, quote.ErrNotFound) {
			v.log.Warnf("quote lookup %s failed: %v", symbol, err)
		}
		return nil, ErrInvalidSymbol
	}
	return q, nil
}

// Quote resolves the current price and name for a symbol.
func (v *Valuator) Quote(ctx context.Context, symbol string) (*quote.Quote, error) {
	return v.lookup(ctx, symbol)
}

// Holdings returns net shares per symbol, excluding symbols the user has
// fully sold out of. The zero-share history stays in the ledger.
func (v *Valuator) Holdings(ctx context.Context, userID int64) (map[string]int64, error) {
	rows, err := v.ledger.Holdings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	res := map[string]int64{}
	for _, h := range rows {
		if h.Shares != 0 {
			res[h.Symbol] = h.Shares
		}
	}
	return res, nil
}

// ValidateBuy checks that a buy of shares of symbol is admissible right now
// and returns the quote it was priced against.
func (v *Valuator) ValidateBuy(ctx context.Context, userID int64, symbol string, shares int64) (*quote.Quote, error) {
	if shares < 1 {
		return nil, ErrInvalidQuantity
	}
	q, err := v.lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	cost := q.Price.Mul(decimal.NewFromInt(shares))
	cash, err := v.ledger.CashBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cash balance: %w", err)
	}
	if cash.LessThan(cost) {
		return nil, ErrInsufficientFunds
	}
	return q, nil
}

// ValidateSell checks that a sell of shares of symbol is admissible right
// now and returns the quote it was priced against. Holding no shares and
// holding too few are the same rejection.
func (v *Valuator) ValidateSell(ctx context.Context, userID int64, symbol string, shares int64) (*quote.Quote, error) {
	if shares < 1 {
		return nil, ErrInvalidQuantity
	}
	q, err := v.lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	held, err := v.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if shares > held[q.Symbol] {
		return nil, ErrInsufficientShares
	}
	return q, nil
}

// Buy purchases shares of symbol at the current quoted price. The quote is
// resolved up front so no lock is held across the network call; the ledger
// re-checks funds at commit time, so two racing buys can never both drain
// the same cash.
func (v *Valuator) Buy(ctx context.Context, userID int64, symbol string, shares int64) (*Trade, error) {
	q, err := v.ValidateBuy(ctx, userID, symbol, shares)
	if err != nil {
		return nil, err
	}
	id, err := v.ledger.RecordTrade(ctx, userID, q.Symbol, shares, q.Price)
	if err != nil {
		return nil, err
	}
	return &Trade{
		ID:     id,
		Symbol: q.Symbol,
		Name:   q.Name,
		Shares: shares,
		Price:  q.Price,
		Total:  q.Price.Mul(decimal.NewFromInt(shares)),
	}, nil
}

// Sell sells shares of symbol at the current quoted price, recorded as a
// negative share count. The ledger re-checks holdings at commit time.
func (v *Valuator) Sell(ctx context.Context, userID int64, symbol string, shares int64) (*Trade, error) {
	q, err := v.ValidateSell(ctx, userID, symbol, shares)
	if err != nil {
		return nil, err
	}
	id, err := v.ledger.RecordTrade(ctx, userID, q.Symbol, -shares, q.Price)
	if err != nil {
		return nil, err
	}
	return &Trade{
		ID:     id,
		Symbol: q.Symbol,
		Name:   q.Name,
		Shares: -shares,
		Price:  q.Price,
		Total:  q.Price.Mul(decimal.NewFromInt(shares)),
	}, nil
}

// Portfolio values every open position at its current quoted price and
// returns positions, cash and total assets. A failed quote for a held
// symbol is an error; a position is never silently valued at zero.
func (v *Valuator) Portfolio(ctx context.Context, userID int64) (*Portfolio, error) {
	cash, err := v.ledger.CashBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cash balance: %w", err)
	}
	rows, err := v.ledger.Holdings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}

	p := &Portfolio{Positions: []Position{}, Cash: cash, Total: cash}
	for _, h := range rows {
		if h.Shares == 0 {
			continue
		}
		q, err := v.quotes.Lookup(ctx, h.Symbol)
		if err != nil {
			return nil, fmt.Errorf("value holding %s: %w", h.Symbol, err)
		}
		value := q.Price.Mul(decimal.NewFromInt(h.Shares))
		p.Positions = append(p.Positions, Position{
			Symbol: h.Symbol,
			Name:   q.Name,
			Shares: h.Shares,
			Price:  q.Price,
			Value:  value,
		})
		p.Total = p.Total.Add(value)
	}
	return p, nil
}

// TotalAssets is cash plus the current market value of all holdings.
func (v *Valuator) TotalAssets(ctx context.Context, userID int64) (decimal.Decimal, error) {
	p, err := v.Portfolio(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Total, nil
}
