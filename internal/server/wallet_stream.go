package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/wowcoin/internal/ledger/events"
)

const streamHeartbeat = 15 * time.Second

// StreamBalance pushes balance changes of the calling user as server-sent events. The
// first event carries the current balance so clients never start from a stale value.
func (s *Server) StreamBalance(c *gin.Context) {
	if s.balances == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	userID := userIDFrom(c)
	ctx := c.Request.Context()

	subscription, err := s.balances.Subscribe(userID)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	snapshot := events.BalanceChanged{UserID: userID, Balance: balance, OccurredAt: time.Now().UTC()}
	if err := writeBalanceEvent(writer, snapshot); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			if err := writeBalanceEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeBalanceEvent(w io.Writer, event events.BalanceChanged) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: balance\ndata: %s\n\n", data)
	return err
}
