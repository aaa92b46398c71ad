package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"threadgraph/api/internal/graph"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// classify maps query-path errors onto HTTP responses. Anything that is not
// a known not-found is a store failure.
func classify(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, graph.ErrNotFound) {
		return domainError(http.StatusNotFound, "THREAD_NOT_FOUND", "Thread not found", nil)
	}
	return domainError(http.StatusInternalServerError, "STORE_FAILURE", "Could not load thread", nil)
}

func writeError(c *gin.Context, de *DomainError) {
	response := gin.H{
		"code":  de.Code,
		"error": de.Message,
	}
	if de.Details != nil {
		response["details"] = de.Details
	}
	c.AbortWithStatusJSON(de.Status, response)
}
