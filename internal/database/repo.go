// Package database is the durable ledger store: users, cash, and the
// append-only transaction log they are derived from.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/cameronalberg/stock-trader/internal/trading"
)

var (
	ErrDuplicateUsername = errors.New("username already taken")
	ErrUserNotFound      = errors.New("user not found")
)

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

var _ trading.Ledger = (*Repo)(nil)

// CreateUser inserts a new user with a hashed password and starting cash.
func (r *Repo) CreateUser(ctx context.Context, username, hash string, startCash decimal.Decimal) (int64, error) {
	var id int64
	q := `INSERT INTO users (username, hash, cash) VALUES ($1, $2, $3::numeric) RETURNING id`
	if err := r.db.QueryRowContext(ctx, q, username, hash, startCash.StringFixed(4)).Scan(&id); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, ErrDuplicateUsername
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

func (r *Repo) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT id, username, hash, cash FROM users WHERE username = $1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &u, nil
}

func (r *Repo) UserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT id, username, hash, cash FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

func (r *Repo) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CashBalance returns the user's current cash. Committed trades are always
// visible: the balance row is the same row RecordTrade updates.
func (r *Repo) CashBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var cashStr string
	err := r.db.QueryRowContext(ctx, `SELECT cash::text FROM users WHERE id = $1`, userID).Scan(&cashStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("get cash: %w", err)
	}
	cash, err := decimal.NewFromString(cashStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse cash: %w", err)
	}
	return cash, nil
}

// ListTransactions returns the user's full trade history in insertion order.
func (r *Repo) ListTransactions(ctx context.Context, userID int64) ([]Transaction, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, user_id, symbol, shares, price, created_at FROM transactions WHERE user_id = $1 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	res := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.StructScan(&t); err != nil {
			r.log.Warnf("scan transaction failed: %v", err)
			continue
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// Holdings sums signed share counts per symbol over the transaction log.
// Symbols the user has fully exited come back with zero shares; callers
// decide whether to show them.
func (r *Repo) Holdings(ctx context.Context, userID int64) ([]trading.Holding, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT symbol, COALESCE(SUM(shares), 0) AS shares FROM transactions WHERE user_id = $1 GROUP BY symbol ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	defer rows.Close()
	res := []trading.Holding{}
	for rows.Next() {
		var h trading.Holding
		if err := rows.StructScan(&h); err != nil {
			r.log.Warnf("scan holding failed: %v", err)
			continue
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// RecordTrade appends a transaction and updates the user's cash in one
// database transaction. The user row is locked first, and admissibility is
// re-checked under that lock, so concurrent trades for the same user
// serialize and can never jointly overdraw cash or oversell a position.
// Trades for different users do not contend.
//
// Shares is signed: positive buys reduce cash, negative sells increase it.
func (r *Repo) RecordTrade(ctx context.Context, userID int64, symbol string, shares int64, price decimal.Decimal) (int64, error) {
	if shares == 0 {
		return 0, trading.ErrInvalidQuantity
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin trade: %w", err)
	}
	defer tx.Rollback()

	cash, err := lockCash(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	newCash := cash.Sub(price.Mul(decimal.NewFromInt(shares)))
	if shares > 0 && newCash.IsNegative() {
		return 0, trading.ErrInsufficientFunds
	}
	if shares < 0 {
		var held int64
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(shares), 0) FROM transactions WHERE user_id = $1 AND symbol = $2`, userID, symbol).Scan(&held)
		if err != nil {
			return 0, fmt.Errorf("sum holdings: %w", err)
		}
		if held < -shares {
			return 0, trading.ErrInsufficientShares
		}
	}

	var txID int64
	q := `INSERT INTO transactions (user_id, symbol, shares, price) VALUES ($1, $2, $3, $4::numeric) RETURNING id`
	if err := tx.QueryRowContext(ctx, q, userID, symbol, shares, price.StringFixed(4)).Scan(&txID); err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET cash = $1::numeric WHERE id = $2`, newCash.StringFixed(4), userID); err != nil {
		return 0, fmt.Errorf("update cash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit trade: %w", err)
	}
	return txID, nil
}

// AdjustCash applies an out-of-band cash delta (a deposit) atomically and
// returns the new balance. A delta that would leave the balance negative is
// rejected and nothing changes.
func (r *Repo) AdjustCash(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin adjust: %w", err)
	}
	defer tx.Rollback()

	cash, err := lockCash(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	newCash := cash.Add(delta)
	if newCash.IsNegative() {
		return decimal.Zero, trading.ErrNegativeBalance
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET cash = $1::numeric WHERE id = $2`, newCash.StringFixed(4), userID); err != nil {
		return decimal.Zero, fmt.Errorf("update cash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit adjust: %w", err)
	}
	return newCash, nil
}

// lockCash takes the user's row lock and returns the current balance. Every
// per-user mutation goes through this lock.
func lockCash(ctx context.Context, tx *sqlx.Tx, userID int64) (decimal.Decimal, error) {
	var cashStr string
	err := tx.QueryRowContext(ctx, `SELECT cash::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&cashStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("lock user row: %w", err)
	}
	cash, err := decimal.NewFromString(cashStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse cash: %w", err)
	}
	return cash, nil
}
