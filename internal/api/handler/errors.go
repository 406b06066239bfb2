package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/logger"
)

// statusFor maps the domain error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrImportFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRefreshFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": ...}. Internal errors are logged and not echoed.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var ve *domain.ValidationError
	if errors.As(err, &ve) && len(ve.Missing) > 0 {
		body["missing"] = ve.Missing
	}
	if status == http.StatusInternalServerError {
		logger.CtxError(c.Request.Context(), "Request failed: path=%s, error=%v", c.Request.URL.Path, err)
		body["error"] = "internal server error"
	}
	c.JSON(status, body)
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Reason: name + " must be an integer"}
	}
	return v, nil
}

// queryFloat reads an optional float query parameter, returning def when absent.
func queryFloat(c *gin.Context, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &domain.ValidationError{Reason: name + " must be a number"}
	}
	return v, nil
}

// requiredFloat reads a mandatory float query parameter.
func requiredFloat(c *gin.Context, name string) (float64, error) {
	if strings.TrimSpace(c.Query(name)) == "" {
		return 0, &domain.ValidationError{Reason: name + " is required"}
	}
	return queryFloat(c, name, 0)
}

// splitList parses a comma separated list, dropping empty items.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
