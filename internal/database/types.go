package database

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID       int64           `db:"id" json:"id"`
	Username string          `db:"username" json:"username"`
	Hash     string          `db:"hash" json:"-"`
	Cash     decimal.Decimal `db:"cash" json:"cash"`
}

type Transaction struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"-"`
	Symbol    string          `db:"symbol" json:"symbol"`
	Shares    int64           `db:"shares" json:"shares"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"timestamp"`
}
