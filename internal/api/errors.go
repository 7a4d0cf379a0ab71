package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/observability"
)

// statusForKind maps error kinds to HTTP status codes
func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidInput, errors.KindInvalidTransition:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindUnauthenticated:
		return http.StatusUnauthorized
	case errors.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error response for err. Client errors carry the
// error message; server errors carry a fixed body so internals never leak.
func respondError(c *gin.Context, logger observability.Logger, err error) {
	kind := errors.KindOf(err)
	status := statusForKind(kind)

	fields := map[string]interface{}{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"kind":   string(kind),
	}
	if tc, ok := tenantFromContext(c); ok {
		fields["org_id"] = tc.OrgID()
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}

	if kind == errors.KindInvalidInput {
		logger.Debug("Request rejected", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
	} else {
		logger.Info("Request rejected", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
	}
	c.JSON(status, gin.H{"error": errors.Message(err)})
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
