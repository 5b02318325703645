// Package handlers exposes the trading service as a JSON API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/cameronalberg/stock-trader/internal/auth"
	"github.com/cameronalberg/stock-trader/internal/database"
	"github.com/cameronalberg/stock-trader/internal/trading"
)

// Store is the slice of the ledger store the handlers use directly; trades
// themselves go through the valuator.
type Store interface {
	ListTransactions(ctx context.Context, userID int64) ([]database.Transaction, error)
	AdjustCash(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error)
	UserByID(ctx context.Context, id int64) (*database.User, error)
}

type Handler struct {
	store    Store
	valuator *trading.Valuator
	auth     *auth.Service
	log      *logrus.Logger
}

func NewHandler(store Store, valuator *trading.Valuator, authSvc *auth.Service, log *logrus.Logger) *Handler {
	return &Handler{store: store, valuator: valuator, auth: authSvc, log: log}
}

// Register attaches all routes to the engine. Everything below the auth
// middleware requires a bearer token.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/register", h.PostRegister)
	r.POST("/login", h.PostLogin)

	priv := r.Group("/", auth.Middleware(h.auth))
	priv.GET("/quote/:symbol", h.GetQuote)
	priv.POST("/buy", h.PostBuy)
	priv.POST("/sell", h.PostSell)
	priv.GET("/history", h.GetHistory)
	priv.GET("/portfolio", h.GetPortfolio)
	priv.POST("/deposit", h.PostDeposit)
	priv.POST("/password", h.PostPassword)
	priv.GET("/me", h.GetMe)
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) PostRegister(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid register body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmptyField), errors.Is(err, auth.ErrUsernameTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.log.Errorf("register failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) PostLogin(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid login body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmptyField):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.log.Errorf("login failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) GetQuote(c *gin.Context) {
	q, err := h.valuator.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type TradeRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Shares int64  `json:"shares"`
}

func (h *Handler) PostBuy(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// covers non-numeric and fractional share counts
		h.log.Warnf("invalid buy body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": trading.ErrInvalidQuantity.Error()})
		return
	}
	trade, err := h.valuator.Buy(c.Request.Context(), auth.UserID(c), req.Symbol, req.Shares)
	if err != nil {
		h.tradeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (h *Handler) PostSell(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid sell body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": trading.ErrInvalidQuantity.Error()})
		return
	}
	trade, err := h.valuator.Sell(c.Request.Context(), auth.UserID(c), req.Symbol, req.Shares)
	if err != nil {
		h.tradeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (h *Handler) GetHistory(c *gin.Context) {
	rows, err := h.store.ListTransactions(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.log.Errorf("list transactions failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	p, err := h.valuator.Portfolio(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.log.Errorf("get portfolio failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, p)
}

type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) PostDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid deposit body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount format"})
		return
	}
	if !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be greater than 0"})
		return
	}
	cash, err := h.store.AdjustCash(c.Request.Context(), auth.UserID(c), amount)
	if err != nil {
		h.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash": cash.StringFixed(2)})
}

type PasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
	Confirmation    string `json:"confirmation"`
}

func (h *Handler) PostPassword(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid password body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password != req.Confirmation {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passwords do not match"})
		return
	}
	err := h.auth.ChangePassword(c.Request.Context(), auth.UserID(c), req.CurrentPassword, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmptyField):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusForbidden, gin.H{"error": "current password is incorrect"})
		default:
			h.log.Errorf("change password failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.store.UserByID(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.log.Errorf("get user failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "cash": user.Cash.StringFixed(2)})
}

// tradeError maps rejections to 400 with the reason text and everything
// else to a generic 500.
func (h *Handler) tradeError(c *gin.Context, err error) {
	if trading.IsRejection(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.log.Errorf("request failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
}
