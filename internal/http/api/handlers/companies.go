package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dbutil "github.com/reportdesk/reportdesk/internal/db"
	"github.com/reportdesk/reportdesk/internal/models"
	"github.com/reportdesk/reportdesk/internal/store"
)

// CompanyHandler manages the company registry endpoints.
type CompanyHandler struct {
	db    *gorm.DB
	store *store.Store
}

// NewCompanyHandler constructs a CompanyHandler.
func NewCompanyHandler(db *gorm.DB, st *store.Store) *CompanyHandler {
	return &CompanyHandler{db: db, store: st}
}

// createCompanyRequest defines the request body for company registration.
type createCompanyRequest struct {
	TaxID string `json:"taxId"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Create registers a company keyed by its tax id.
func (h *CompanyHandler) Create(c *gin.Context) {
	userID, _ := currentUserID(c)

	var body createCompanyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	taxID := strings.TrimSpace(body.TaxID)
	if !taxIDPattern.MatchString(taxID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tax id must be exactly 11 digits"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	company, errCreate := h.store.CreateCompany(c.Request.Context(), store.CompanyInput{
		TaxID:     taxID,
		Name:      name,
		Email:     strings.TrimSpace(body.Email),
		Phone:     strings.TrimSpace(body.Phone),
		CreatedBy: userID,
	})
	if errCreate != nil {
		if errors.Is(errCreate, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "tax id already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create company failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"company": companyJSON(company)})
}

// companyListLimit caps list responses.
const companyListLimit = 50

// List returns companies with optional exact tax-id or substring filters.
func (h *CompanyHandler) List(c *gin.Context) {
	var (
		taxIDQ  = strings.TrimSpace(c.Query("taxId"))
		searchQ = strings.TrimSpace(c.Query("search"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.Company{})
	if taxIDQ != "" {
		q = q.Where("tax_id = ?", taxIDQ)
	}
	if searchQ != "" {
		pattern := "%" + searchQ + "%"
		ciPattern := dbutil.NormalizeLikePattern(h.db, pattern)
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(h.db, "name")+" OR tax_id LIKE ?",
			ciPattern,
			pattern,
		)
	}

	var rows []models.Company
	if errFind := q.Order("created_at DESC").Limit(companyListLimit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list companies failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, companyJSON(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"companies": out, "total": len(out)})
}

// autocompleteLimit caps suggestion responses.
const autocompleteLimit = 10

// Autocomplete suggests companies by tax id prefix or name substring.
func (h *CompanyHandler) Autocomplete(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if len(q) < 2 {
		c.JSON(http.StatusOK, gin.H{"companies": []gin.H{}})
		return
	}

	ciPattern := dbutil.NormalizeLikePattern(h.db, "%"+q+"%")
	var rows []models.Company
	errFind := h.db.WithContext(c.Request.Context()).Model(&models.Company{}).
		Where(dbutil.CaseInsensitiveLikeExpr(h.db, "name")+" OR tax_id LIKE ?", ciPattern, q+"%").
		Order("name ASC").
		Limit(autocompleteLimit).
		Find(&rows).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "autocomplete failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, gin.H{
			"id":    rows[i].ID,
			"taxId": rows[i].TaxID,
			"name":  rows[i].Name,
		})
	}
	c.JSON(http.StatusOK, gin.H{"companies": out})
}

// Get returns one company by id.
func (h *CompanyHandler) Get(c *gin.Context) {
	id := c.Param("id")

	var company models.Company
	errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&company).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "find company failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"company": companyJSON(&company)})
}

// Reports returns a company together with its report history.
func (h *CompanyHandler) Reports(c *gin.Context) {
	id := c.Param("id")

	var company models.Company
	errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&company).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "find company failed"})
		return
	}

	var reports []models.Report
	errReports := h.db.WithContext(c.Request.Context()).
		Where("company_id = ?", company.ID).
		Order("created_at DESC").
		Find(&reports).Error
	if errReports != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list reports failed"})
		return
	}

	out := make([]gin.H, 0, len(reports))
	for i := range reports {
		r := &reports[i]
		out = append(out, gin.H{
			"reportId":    r.ID,
			"status":      r.Status,
			"createdAt":   r.CreatedAt.UTC().Format(time.RFC3339),
			"completedAt": timePtrJSON(r.CompletedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"company": companyJSON(&company),
		"reports": out,
		"total":   len(out),
	})
}
