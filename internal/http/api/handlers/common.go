package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reportdesk/reportdesk/internal/models"
	"github.com/reportdesk/reportdesk/internal/store"
)

// taxIDPattern matches the 11-digit tax identifiers companies are keyed by.
var taxIDPattern = regexp.MustCompile(`^\d{11}$`)

// currentUserID reads the authenticated user id set by the auth middleware.
func currentUserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// writeStoreError translates store sentinels into HTTP responses.
func writeStoreError(c *gin.Context, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, store.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// companyJSON renders a company row for API responses.
func companyJSON(company *models.Company) gin.H {
	if company == nil {
		return nil
	}
	return gin.H{
		"id":        company.ID,
		"taxId":     company.TaxID,
		"name":      company.Name,
		"email":     company.Email,
		"phone":     company.Phone,
		"createdAt": company.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// timePtrJSON formats an optional timestamp, null when absent.
func timePtrJSON(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
