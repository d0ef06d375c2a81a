package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/wowcoin/internal/ledger/domain"
)

type reservationsResponse struct {
	Reservations []ledgerdomain.Reservation `json:"reservations"`
}

// ListReservations returns the caller's pending reservations.
func (s *Server) ListReservations(c *gin.Context) {
	s.listReservations(c, userIDFrom(c))
}

func (s *Server) CommitReservation(c *gin.Context) {
	s.settleReservation(c, true)
}

func (s *Server) ReleaseReservation(c *gin.Context) {
	s.settleReservation(c, false)
}

func (s *Server) settleReservation(c *gin.Context, completed bool) {
	id, err := reservationIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.gate.Settle(c.Request.Context(), userIDFrom(c), id, completed)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// AccountReservations lists a user's pending reservations for operators.
func (s *Server) AccountReservations(c *gin.Context) {
	s.listReservations(c, c.Param("user_id"))
}

func (s *Server) CommitAccountReservation(c *gin.Context) {
	id, err := reservationIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledger.Commit(c.Request.Context(), c.Param("user_id"), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ReleaseAccountReservation(c *gin.Context) {
	id, err := reservationIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reservation, err := s.ledger.Release(c.Request.Context(), c.Param("user_id"), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (s *Server) listReservations(c *gin.Context, userID string) {
	items, err := s.ledger.Reservations(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []ledgerdomain.Reservation{}
	}
	c.JSON(http.StatusOK, reservationsResponse{Reservations: items})
}

func reservationIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		return 0, ledgerdomain.ErrInvalidReservation
	}
	return id, nil
}
