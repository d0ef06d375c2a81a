package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/usagegate"
)

func (s *Server) ListFeatures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"features": s.gate.Features()})
}

func (s *Server) QuoteFeature(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	c.Set("feature_key", key)

	quote, err := s.gate.Quote(c.Request.Context(), userIDFrom(c), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

type useFeatureRequest struct {
	Confirmed   *bool  `json:"confirmed"`
	ContactName string `json:"contact_name"`
}

// UseFeature runs one paid feature invocation through the usage gate. A missing
// confirmation for a feature that needs one answers with the quote to show the user.
func (s *Server) UseFeature(c *gin.Context) {
	req, ok := bindFeatureRequest(c)
	if !ok {
		return
	}
	decision, err := s.gate.RequestFeature(c.Request.Context(), req)
	respondDecision(c, decision, err)
}

// ReserveFeature holds the cost of a feature the client runs itself. The client
// settles the returned reservation through the reservation routes.
func (s *Server) ReserveFeature(c *gin.Context) {
	req, ok := bindFeatureRequest(c)
	if !ok {
		return
	}
	decision, err := s.gate.Hold(c.Request.Context(), req)
	respondDecision(c, decision, err)
}

func bindFeatureRequest(c *gin.Context) (usagegate.Request, bool) {
	key := strings.TrimSpace(c.Param("key"))
	c.Set("feature_key", key)

	var body useFeatureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, invalidRequestError())
			return usagegate.Request{}, false
		}
	}
	if body.Confirmed == nil {
		confirmed, err := queryBool(c, "confirmed")
		if err != nil {
			AbortWithError(c, err)
			return usagegate.Request{}, false
		}
		body.Confirmed = confirmed
	}

	return usagegate.Request{
		UserID:       userIDFrom(c),
		FeatureKey:   key,
		ContactName:  body.ContactName,
		Confirmation: body.Confirmed,
	}, true
}

func respondDecision(c *gin.Context, decision usagegate.Decision, err error) {
	if errors.Is(err, usagegate.ErrRateLimited) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch decision.State {
	case usagegate.StateDenied:
		// Recorded so the request log treats the denial as expected.
		_ = c.Error(ledgerdomain.ErrInsufficientBalance)
		c.JSON(http.StatusPaymentRequired, decision)
	case usagegate.StateAllowed, usagegate.StateHeld:
		c.JSON(http.StatusCreated, decision)
	default:
		c.JSON(http.StatusOK, decision)
	}
}
