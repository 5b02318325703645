package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameronalberg/stock-trader/internal/auth"
	"github.com/cameronalberg/stock-trader/internal/database"
	"github.com/cameronalberg/stock-trader/internal/quote"
	"github.com/cameronalberg/stock-trader/internal/trading"
)

// memStore backs the whole API in memory with the same commit-time checks
// as the real ledger store.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]*database.User
	byName   map[string]int64
	txs      []database.Transaction
	nextUser int64
	nextTx   int64
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]*database.User{}, byName: map[string]int64{}}
}

func (m *memStore) CreateUser(ctx context.Context, username, hash string, startCash decimal.Decimal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; ok {
		return 0, database.ErrDuplicateUsername
	}
	m.nextUser++
	m.users[m.nextUser] = &database.User{ID: m.nextUser, Username: username, Hash: hash, Cash: startCash}
	m.byName[username] = m.nextUser
	return m.nextUser, nil
}

func (m *memStore) UserByUsername(ctx context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[username]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *memStore) UserByID(ctx context.Context, id int64) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	u.Hash = hash
	return nil
}

func (m *memStore) ListTransactions(ctx context.Context, userID int64) ([]database.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := []database.Transaction{}
	for _, t := range m.txs {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	return res, nil
}

func (m *memStore) CashBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return decimal.Zero, database.ErrUserNotFound
	}
	return u.Cash, nil
}

func (m *memStore) AdjustCash(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return decimal.Zero, database.ErrUserNotFound
	}
	newCash := u.Cash.Add(delta)
	if newCash.IsNegative() {
		return decimal.Zero, trading.ErrNegativeBalance
	}
	u.Cash = newCash
	return newCash, nil
}

func (m *memStore) Holdings(ctx context.Context, userID int64) ([]trading.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := map[string]int64{}
	order := []string{}
	for _, t := range m.txs {
		if t.UserID != userID {
			continue
		}
		if _, ok := sums[t.Symbol]; !ok {
			order = append(order, t.Symbol)
		}
		sums[t.Symbol] += t.Shares
	}
	res := []trading.Holding{}
	for _, sym := range order {
		res = append(res, trading.Holding{Symbol: sym, Shares: sums[sym]})
	}
	return res, nil
}

func (m *memStore) RecordTrade(ctx context.Context, userID int64, symbol string, shares int64, price decimal.Decimal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shares == 0 {
		return 0, trading.ErrInvalidQuantity
	}
	u, ok := m.users[userID]
	if !ok {
		return 0, database.ErrUserNotFound
	}
	newCash := u.Cash.Sub(price.Mul(decimal.NewFromInt(shares)))
	if shares > 0 && newCash.IsNegative() {
		return 0, trading.ErrInsufficientFunds
	}
	if shares < 0 {
		var held int64
		for _, t := range m.txs {
			if t.UserID == userID && t.Symbol == symbol {
				held += t.Shares
			}
		}
		if held < -shares {
			return 0, trading.ErrInsufficientShares
		}
	}
	m.nextTx++
	m.txs = append(m.txs, database.Transaction{
		ID: m.nextTx, UserID: userID, Symbol: symbol, Shares: shares, Price: price, CreatedAt: time.Now(),
	})
	u.Cash = newCash
	return m.nextTx, nil
}

type stubQuotes struct {
	quotes map[string]*quote.Quote
}

func (s *stubQuotes) Lookup(ctx context.Context, symbol string) (*quote.Quote, error) {
	if q, ok := s.quotes[symbol]; ok {
		return q, nil
	}
	return nil, quote.ErrNotFound
}

func newTestRouter(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	quotes := &stubQuotes{quotes: map[string]*quote.Quote{
		"AAPL": {Symbol: "AAPL", Name: "Apple Inc", Price: decimal.NewFromInt(100)},
	}}
	logger := logrus.New()

	valuator := trading.NewValuator(store, quotes, logger)
	authSvc := auth.NewService(store, []byte("test-secret"), decimal.NewFromInt(10000))
	h := NewHandler(store, valuator, authSvc, logger)

	r := gin.New()
	h.Register(r)
	return r, store
}

func doJSON(r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewBuffer(b)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func registerAndLogin(t *testing.T, r *gin.Engine, username string) string {
	t.Helper()
	w := doJSON(r, "POST", "/register", "", map[string]string{"username": username, "password": "pw123456"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, "POST", "/login", "", map[string]string{"username": username, "password": "pw123456"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res["token"])
	return res["token"]
}

func TestTradeFlow(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(r, "POST", "/buy", token, map[string]interface{}{"symbol": "AAPL", "shares": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, "GET", "/portfolio", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p struct {
		Positions []struct {
			Symbol string `json:"symbol"`
			Shares int64  `json:"shares"`
		} `json:"positions"`
		Cash  string `json:"cash"`
		Total string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	require.Len(t, p.Positions, 1)
	assert.Equal(t, int64(10), p.Positions[0].Shares)
	assert.Equal(t, "9000", p.Cash)
	assert.Equal(t, "10000", p.Total)

	w = doJSON(r, "POST", "/sell", token, map[string]interface{}{"symbol": "AAPL", "shares": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, "GET", "/history", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []struct {
		Symbol string `json:"symbol"`
		Shares int64  `json:"shares"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, int64(10), history[0].Shares)
	assert.Equal(t, int64(-10), history[1].Shares)

	w = doJSON(r, "GET", "/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "10000.00")
}

func TestBuyRejections(t *testing.T) {
	r, store := newTestRouter(t)
	token := registerAndLogin(t, r, "alice")

	tests := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{"unknown symbol", map[string]interface{}{"symbol": "NOPE", "shares": 1}, "invalid symbol"},
		{"zero shares", map[string]interface{}{"symbol": "AAPL", "shares": 0}, "invalid quantity"},
		{"fractional shares", map[string]interface{}{"symbol": "AAPL", "shares": 1.5}, "invalid quantity"},
		{"non-numeric shares", map[string]interface{}{"symbol": "AAPL", "shares": "ten"}, "invalid quantity"},
		{"too expensive", map[string]interface{}{"symbol": "AAPL", "shares": 101}, "insufficient funds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, "POST", "/buy", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}

	assert.Empty(t, store.txs, "rejected buys must not reach the ledger")
	cash, err := store.CashBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(10000)), "cash unchanged after rejections")
}

func TestSellWithoutHoldings(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(r, "POST", "/sell", token, map[string]interface{}{"symbol": "AAPL", "shares": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient shares")
}

func TestDeposit(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(r, "POST", "/deposit", token, map[string]string{"amount": "250.50"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "10250.50")

	w = doJSON(r, "POST", "/deposit", token, map[string]string{"amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "value must be greater than 0")

	w = doJSON(r, "POST", "/deposit", token, map[string]string{"amount": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPasswordChange(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(r, "POST", "/password", token, map[string]string{
		"current_password": "pw123456", "password": "newpass1", "confirmation": "other",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "passwords do not match")

	w = doJSON(r, "POST", "/password", token, map[string]string{
		"current_password": "wrong", "password": "newpass1", "confirmation": "newpass1",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(r, "POST", "/password", token, map[string]string{
		"current_password": "pw123456", "password": "newpass1", "confirmation": "newpass1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, "POST", "/login", "", map[string]string{"username": "alice", "password": "newpass1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, path := range []string{"/portfolio", "/history", "/me"} {
		w := doJSON(r, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := doJSON(r, "POST", "/buy", "garbage-token", map[string]interface{}{"symbol": "AAPL", "shares": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, "POST", "/register", "", map[string]string{"username": "", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, "POST", "/register", "", map[string]string{"username": "bob", "password": "pw123456"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(r, "POST", "/register", "", map[string]string{"username": "bob", "password": "pw123456"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "username already taken")
}

func TestQuoteEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(r, "GET", "/quote/AAPL", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Apple Inc")

	w = doJSON(r, "GET", fmt.Sprintf("/quote/%s", "NOPE"), token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid symbol")
}
