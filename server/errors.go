package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"webforge/generator"
	"webforge/projects"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Upstream is the status returned by the generation service.
	Upstream int `json:"upstream_status,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status, body := classify(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func classify(err error) (int, APIError) {
	var ge *generator.GenerationError
	if errors.As(err, &ge) {
		body := APIError{Code: string(ge.Kind), Message: ge.Error(), Upstream: ge.StatusCode}
		switch ge.Kind {
		case generator.KindEmptyPrompt:
			return http.StatusBadRequest, body
		case generator.KindBusy, generator.KindNoResult:
			return http.StatusConflict, body
		default:
			return http.StatusBadGateway, body
		}
	}
	switch {
	case errors.Is(err, generator.ErrNotFound), errors.Is(err, projects.ErrNotFound):
		return http.StatusNotFound, APIError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, generator.ErrSavedFull):
		return http.StatusConflict, APIError{Code: "saved_full", Message: err.Error()}
	case errors.Is(err, projects.ErrDeleteNotConfirmed):
		return http.StatusBadRequest, APIError{Code: "delete_not_confirmed", Message: err.Error()}
	case errors.Is(err, projects.ErrStoreWrite):
		return http.StatusServiceUnavailable, APIError{Code: "store_write_failure", Message: err.Error()}
	default:
		return http.StatusInternalServerError, APIError{Code: "internal", Message: err.Error()}
	}
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": APIError{Code: "bad_request", Message: err.Error()}})
}
