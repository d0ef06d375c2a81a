package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/wowcoin/internal/ledger/domain"
)

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

func (s *Server) GetBalance(c *gin.Context) {
	userID := userIDFrom(c)
	balance, err := s.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledger.History(c.Request.Context(), ledgerdomain.HistoryRequest{
		UserID: userIDFrom(c),
		Limit:  limit,
		Before: strings.TrimSpace(c.Query("before")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type initAccountRequest struct {
	UserID         string `json:"user_id"`
	InitialBalance *int64 `json:"initial_balance"`
}

func (s *Server) InitAccount(c *gin.Context) {
	var req initAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledger.InitAccount(c.Request.Context(), ledgerdomain.InitAccountRequest{
		UserID:         req.UserID,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

type creditRequest struct {
	UserID   string         `json:"user_id"`
	Amount   int64          `json:"amount"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) Credit(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledger.Credit(c.Request.Context(), ledgerdomain.CreditRequest{
		UserID:   req.UserID,
		Amount:   req.Amount,
		Reason:   ledgerdomain.ParseReason(req.Reason),
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type deductRequest struct {
	UserID      string         `json:"user_id"`
	Amount      int64          `json:"amount"`
	Reason      string         `json:"reason"`
	ContactName string         `json:"contact_name"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) Deduct(c *gin.Context) {
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledger.Deduct(c.Request.Context(), ledgerdomain.DeductRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Reason:      ledgerdomain.ParseReason(req.Reason),
		ContactName: req.ContactName,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) Reconcile(c *gin.Context) {
	report, err := s.ledger.Reconcile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
