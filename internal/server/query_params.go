package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// queryBool reads an optional boolean query parameter. Absent means nil.
func queryBool(c *gin.Context, key string) (*bool, error) {
	raw, ok := c.GetQuery(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return nil, newValidationError(key, "invalid_"+key, key+" must be true or false")
	}
	return &value, nil
}

// queryInt reads an optional integer query parameter. Absent means 0.
func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newValidationError(key, "invalid_"+key, key+" must be a whole number")
	}
	return value, nil
}
